package gue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLinearBackoff(t *testing.T) {
	bo := LinearBackoff(time.Minute)
	assert.Equal(t, time.Minute, bo(0))
	assert.Equal(t, 2*time.Minute, bo(1))
	assert.Equal(t, 5*time.Minute, bo(4))
}

func TestExponentialBackoff(t *testing.T) {
	bo := ExponentialBackoff(time.Second, time.Minute)
	assert.Equal(t, time.Second, bo(0))
	assert.Equal(t, 2*time.Second, bo(1))
	assert.Equal(t, 8*time.Second, bo(3))
	assert.Equal(t, time.Minute, bo(10))
}
