package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carvalhoven/dque/adapter/adaptertest"
)

func TestCollectorRefreshSetsGauges(t *testing.T) {
	pool := adaptertest.NewPool()
	now := time.Now().UTC()
	pool.Seed(adaptertest.Row{WorkType: "metrics_test.render", Priority: 1, Weight: 1, NotBefore: now.Add(-time.Minute), Failed: 2})
	pool.Seed(adaptertest.Row{WorkType: "metrics_test.render", Priority: 1, Weight: 1, NotBefore: now.Add(time.Hour)})

	registry := prometheus.NewRegistry()
	c := NewCollector(registry, pool)

	require.NoError(t, c.Refresh(context.Background()))

	assert.Equal(t, 2.0, testutil.ToFloat64(c.queued.WithLabelValues("metrics_test.render")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.late.WithLabelValues("metrics_test.render")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.failed.WithLabelValues("metrics_test.render")))
}

func TestCollectorRefreshAddsCounterDeltasOnly(t *testing.T) {
	pool := adaptertest.NewPool()
	now := time.Now().UTC()
	pool.Seed(adaptertest.Row{WorkType: "metrics_test.delta", Priority: 1, Weight: 1, NotBefore: now.Add(-time.Minute), Failed: 3})

	registry := prometheus.NewRegistry()
	c := NewCollector(registry, pool)

	require.NoError(t, c.Refresh(context.Background()))
	require.NoError(t, c.Refresh(context.Background()))

	// A second refresh with unchanged totals must not double-count.
	assert.Equal(t, 3.0, testutil.ToFloat64(c.failed.WithLabelValues("metrics_test.delta")))
}
