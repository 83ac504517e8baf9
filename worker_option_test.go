package gue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/carvalhoven/dque/adapter"
	"github.com/carvalhoven/dque/adapter/adaptertest"
)

type mockLogger struct {
	mock.Mock
}

func (m *mockLogger) Debug(msg string, fields ...adapter.Field) {
	m.Called(msg, fields)
}

func (m *mockLogger) Info(msg string, fields ...adapter.Field) {
	m.Called(msg, fields)
}

func (m *mockLogger) Error(msg string, fields ...adapter.Field) {
	m.Called(msg, fields)
}

func (m *mockLogger) With(fields ...adapter.Field) adapter.Logger {
	args := m.Called(fields)
	return args.Get(0).(adapter.Logger)
}

func TestWithWorkerPollInterval(t *testing.T) {
	w := NewWorker(adaptertest.NewPool())
	assert.Equal(t, defaultPollInterval, w.interval)

	custom := 12345 * time.Millisecond
	w = NewWorker(adaptertest.NewPool(), WithWorkerPollInterval(custom))
	assert.Equal(t, custom, w.interval)
}

func TestWithWorkerMinPriority(t *testing.T) {
	w := NewWorker(adaptertest.NewPool())
	assert.Equal(t, defaultMinPriority, w.minPriority)

	w = NewWorker(adaptertest.NewPool(), WithWorkerMinPriority(7))
	assert.Equal(t, int16(7), w.minPriority)
}

func TestWithWorkerID(t *testing.T) {
	w := NewWorker(adaptertest.NewPool())
	assert.NotEmpty(t, w.id)

	w = NewWorker(adaptertest.NewPool(), WithWorkerID("some-meaningful-id"))
	assert.Equal(t, "some-meaningful-id", w.id)
}

func TestWithWorkerLogger(t *testing.T) {
	w := NewWorker(adaptertest.NewPool())
	assert.IsType(t, adapter.NewNoopLogger(), w.logger)

	logMessage := "hello"
	l := new(mockLogger)
	l.On("Info", logMessage, mock.Anything)
	l.On("With", mock.Anything).Return(l)

	w = NewWorker(adaptertest.NewPool(), WithWorkerLogger(l))
	w.logger.Info(logMessage)

	l.AssertExpectations(t)
}

func TestWithWorkerOverdueAfter(t *testing.T) {
	w := NewWorker(adaptertest.NewPool())
	assert.Equal(t, defaultOverdueAfter, w.overdueAfter)

	w = NewWorker(adaptertest.NewPool(), WithWorkerOverdueAfter(time.Minute))
	assert.Equal(t, time.Minute, w.overdueAfter)
}

func TestWithWorkerBackoff(t *testing.T) {
	w := NewWorker(adaptertest.NewPool())
	assert.Nil(t, w.backoff)

	bo := LinearBackoff(time.Second)
	w = NewWorker(adaptertest.NewPool(), WithWorkerBackoff(bo))
	require.NotNil(t, w.backoff)
	assert.Equal(t, time.Second, w.backoff(0))
}

func TestWithWorkerPreserveCompletedJobs(t *testing.T) {
	w := NewWorker(adaptertest.NewPool())
	assert.False(t, w.preserveCompletedJobs)

	w = NewWorker(adaptertest.NewPool(), WithWorkerPreserveCompletedJobs(true))
	assert.True(t, w.preserveCompletedJobs)
}

func TestWithWorkerPollStrategy(t *testing.T) {
	w := NewWorker(adaptertest.NewPool(), WithWorkerPollStrategy(RunAtPollStrategy))
	assert.Equal(t, RunAtPollStrategy, w.pollStrategy)
}

func TestWithPoolPollInterval(t *testing.T) {
	p := NewWorkerPool(adaptertest.NewPool(), 2)
	for _, w := range p.workers {
		assert.Equal(t, defaultPollInterval, w.interval)
	}

	custom := 12345 * time.Millisecond
	p = NewWorkerPool(adaptertest.NewPool(), 2, WithPoolPollInterval(custom))
	for _, w := range p.workers {
		assert.Equal(t, custom, w.interval)
	}
}

func TestWithPoolMinPriority(t *testing.T) {
	p := NewWorkerPool(adaptertest.NewPool(), 2, WithPoolMinPriority(3))
	for _, w := range p.workers {
		assert.Equal(t, int16(3), w.minPriority)
	}
}

func TestWithPoolID(t *testing.T) {
	p := NewWorkerPool(adaptertest.NewPool(), 2)
	assert.NotEmpty(t, p.id)

	p = NewWorkerPool(adaptertest.NewPool(), 2, WithPoolID("some-meaningful-id"))
	assert.Equal(t, "some-meaningful-id", p.id)
}

func TestWithPoolLogger(t *testing.T) {
	p := NewWorkerPool(adaptertest.NewPool(), 2)
	assert.IsType(t, adapter.NewNoopLogger(), p.logger)

	logMessage := "hello"
	l := new(mockLogger)
	l.On("Info", logMessage, mock.Anything)
	l.On("With", mock.Anything).Return(l).Maybe()

	p = NewWorkerPool(adaptertest.NewPool(), 2, WithPoolLogger(l))
	for _, w := range p.workers {
		assert.IsType(t, l, w.logger)
	}
	p.logger.Info(logMessage)

	l.AssertExpectations(t)
}

func TestWithPoolPreserveCompletedJobs(t *testing.T) {
	p := NewWorkerPool(adaptertest.NewPool(), 3, WithPoolPreserveCompletedJobs(true))
	for _, w := range p.workers {
		assert.True(t, w.preserveCompletedJobs)
	}
}

func TestWithPoolPollStrategy(t *testing.T) {
	p := NewWorkerPool(adaptertest.NewPool(), 2, WithPoolPollStrategy(RunAtPollStrategy))
	for _, w := range p.workers {
		assert.Equal(t, RunAtPollStrategy, w.pollStrategy)
	}
}

type dummyHook struct {
	counter int
}

func (h *dummyHook) handler(context.Context, *Job, error) {
	h.counter++
}

func TestWithWorkerHooksJobLocked(t *testing.T) {
	ctx := context.Background()
	hook := new(dummyHook)

	w := NewWorker(adaptertest.NewPool())
	for _, h := range w.hooksJobLocked {
		h(ctx, nil, nil)
	}
	require.Equal(t, 0, hook.counter)

	w = NewWorker(adaptertest.NewPool(), WithWorkerHooksJobLocked(hook.handler, hook.handler, hook.handler))
	for _, h := range w.hooksJobLocked {
		h(ctx, nil, nil)
	}
	require.Equal(t, 3, hook.counter)
}

func TestWithWorkerHooksUnknownJobType(t *testing.T) {
	ctx := context.Background()
	hook := new(dummyHook)

	w := NewWorker(adaptertest.NewPool())
	for _, h := range w.hooksUnknownJobType {
		h(ctx, nil, nil)
	}
	require.Equal(t, 0, hook.counter)

	w = NewWorker(adaptertest.NewPool(), WithWorkerHooksUnknownJobType(hook.handler, hook.handler, hook.handler))
	for _, h := range w.hooksUnknownJobType {
		h(ctx, nil, nil)
	}
	require.Equal(t, 3, hook.counter)
}

func TestWithWorkerHooksJobDone(t *testing.T) {
	ctx := context.Background()
	hook := new(dummyHook)

	w := NewWorker(adaptertest.NewPool())
	for _, h := range w.hooksJobDone {
		h(ctx, nil, nil)
	}
	require.Equal(t, 0, hook.counter)

	w = NewWorker(adaptertest.NewPool(), WithWorkerHooksJobDone(hook.handler, hook.handler, hook.handler))
	for _, h := range w.hooksJobDone {
		h(ctx, nil, nil)
	}
	require.Equal(t, 3, hook.counter)
}

func TestWithPoolHooksJobLocked(t *testing.T) {
	ctx := context.Background()
	hook := new(dummyHook)

	p := NewWorkerPool(adaptertest.NewPool(), 3)
	for _, w := range p.workers {
		for _, h := range w.hooksJobLocked {
			h(ctx, nil, nil)
		}
	}
	require.Equal(t, 0, hook.counter)

	p = NewWorkerPool(adaptertest.NewPool(), 3, WithPoolHooksJobLocked(hook.handler, hook.handler, hook.handler))
	for _, w := range p.workers {
		for _, h := range w.hooksJobLocked {
			h(ctx, nil, nil)
		}
	}
	require.Equal(t, 9, hook.counter)
}

func TestWithPoolHooksUnknownJobType(t *testing.T) {
	ctx := context.Background()
	hook := new(dummyHook)

	p := NewWorkerPool(adaptertest.NewPool(), 3)
	for _, w := range p.workers {
		for _, h := range w.hooksUnknownJobType {
			h(ctx, nil, nil)
		}
	}
	require.Equal(t, 0, hook.counter)

	p = NewWorkerPool(adaptertest.NewPool(), 3, WithPoolHooksUnknownJobType(hook.handler, hook.handler, hook.handler))
	for _, w := range p.workers {
		for _, h := range w.hooksUnknownJobType {
			h(ctx, nil, nil)
		}
	}
	require.Equal(t, 9, hook.counter)
}

func TestWithPoolHooksJobDone(t *testing.T) {
	ctx := context.Background()
	hook := new(dummyHook)

	p := NewWorkerPool(adaptertest.NewPool(), 3)
	for _, w := range p.workers {
		for _, h := range w.hooksJobDone {
			h(ctx, nil, nil)
		}
	}
	require.Equal(t, 0, hook.counter)

	p = NewWorkerPool(adaptertest.NewPool(), 3, WithPoolHooksJobDone(hook.handler, hook.handler, hook.handler))
	for _, w := range p.workers {
		for _, h := range w.hooksJobDone {
			h(ctx, nil, nil)
		}
	}
	require.Equal(t, 9, hook.counter)
}

func TestWithClientLoggerAndID(t *testing.T) {
	c := NewClient(adaptertest.NewPool())
	assert.Empty(t, c.id)

	l := new(mockLogger)
	l.On("Debug", mock.Anything, mock.Anything).Maybe()
	l.On("With", mock.Anything).Return(l)

	c = NewClient(adaptertest.NewPool(), WithClientLogger(l), WithClientID("client-1"))
	assert.Equal(t, "client-1", c.id)
}
