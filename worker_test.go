package gue

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carvalhoven/dque/adapter/adaptertest"
)

func TestWorkerWorkOneDispatchesEligibleJob(t *testing.T) {
	defer resetRegistry()
	defer resetCounters()

	wt := newFakeWorkItemType("worker_test.dispatch")
	RegisterWorkType(wt)

	pool := adaptertest.NewPool()
	now := time.Now().UTC().Add(-time.Minute)
	jobID := pool.Seed(adaptertest.Row{WorkType: wt.name, Priority: 1, Weight: 1, NotBefore: now})
	wt.seed(jobID, &fakeWorkRow{id: 1})

	w := NewWorker(pool)
	worked, _, err := w.workOne(context.Background())
	require.NoError(t, err)
	assert.True(t, worked)
	assert.Equal(t, 0, pool.JobRowCount())
}

func TestWorkerWorkOneNoEligibleJobReturnsFalse(t *testing.T) {
	pool := adaptertest.NewPool()
	w := NewWorker(pool)

	worked, _, err := w.workOne(context.Background())
	require.NoError(t, err)
	assert.False(t, worked)
}

func TestWorkerWorkOneUnknownWorkTypeCallsHookAndLeavesJob(t *testing.T) {
	pool := adaptertest.NewPool()
	now := time.Now().UTC().Add(-time.Minute)
	pool.Seed(adaptertest.Row{WorkType: "worker_test.unregistered", Priority: 1, Weight: 1, NotBefore: now})

	var hookErr error
	w := NewWorker(pool, WithWorkerHooksUnknownJobType(func(ctx context.Context, j *Job, err error) {
		hookErr = err
	}))

	worked, _, err := w.workOne(context.Background())
	require.NoError(t, err)
	assert.True(t, worked)
	assert.ErrorIs(t, hookErr, ErrUnknownWorkType)
	assert.Equal(t, 1, pool.JobRowCount())
}

func TestWorkerSweepOverdueReclaimsOrphan(t *testing.T) {
	defer resetRegistry()
	defer resetCounters()

	wt := newFakeWorkItemType("worker_test.orphan")
	RegisterWorkType(wt)

	pool := adaptertest.NewPool()
	now := time.Now().UTC()
	jobID := pool.Seed(adaptertest.Row{
		WorkType: wt.name, Priority: 1, Weight: 1, NotBefore: now.Add(-time.Hour), Failed: 0,
		Assigned: sql.NullTime{Time: now.Add(-time.Hour), Valid: true},
		Overdue:  sql.NullTime{Time: now.Add(-time.Minute), Valid: true},
	})
	// locked=false: the payload's lock is free, meaning the previous
	// worker crashed before releasing it.
	wt.seed(jobID, &fakeWorkRow{id: 1, locked: false})

	w := NewWorker(pool, WithWorkerOverdueAfter(5*time.Minute))
	require.NoError(t, w.sweepOverdue(context.Background()))

	tx, err := pool.Begin(context.Background())
	require.NoError(t, err)
	j, err := loadJob(context.Background(), tx, jobID)
	require.NoError(t, err)
	assert.Equal(t, int32(1), j.Failed)
	assert.False(t, j.Assigned.Valid)

	stats, err := Histogram(context.Background(), tx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats[wt.name].Orphaned)
}

func TestWorkerSweepOverdueStillRunningBumpsDeadline(t *testing.T) {
	defer resetRegistry()
	defer resetCounters()

	wt := newFakeWorkItemType("worker_test.stillrunning")
	RegisterWorkType(wt)

	pool := adaptertest.NewPool()
	now := time.Now().UTC()
	oldOverdue := now.Add(-time.Minute)
	jobID := pool.Seed(adaptertest.Row{
		WorkType: wt.name, Priority: 1, Weight: 1, NotBefore: now.Add(-time.Hour),
		Assigned: sql.NullTime{Time: now.Add(-time.Hour), Valid: true},
		Overdue:  sql.NullTime{Time: oldOverdue, Valid: true},
	})
	// locked=true: the previous worker is still genuinely running.
	wt.seed(jobID, &fakeWorkRow{id: 1, locked: true})

	w := NewWorker(pool, WithWorkerOverdueAfter(5*time.Minute))
	require.NoError(t, w.sweepOverdue(context.Background()))

	tx, err := pool.Begin(context.Background())
	require.NoError(t, err)
	j, err := loadJob(context.Background(), tx, jobID)
	require.NoError(t, err)
	assert.True(t, j.Overdue.Time.After(oldOverdue))
	assert.Equal(t, int32(0), j.Failed)
}

func TestWorkerPerformPreserveCompletedJobsMovesRowToFinished(t *testing.T) {
	defer resetRegistry()
	defer resetCounters()

	wt := newFakeWorkItemType("worker_test.preserve")
	RegisterWorkType(wt)

	pool := adaptertest.NewPool()
	now := time.Now().UTC()
	jobID := pool.Seed(adaptertest.Row{WorkType: wt.name, Priority: 1, Weight: 1, NotBefore: now})
	wt.seed(jobID, &fakeWorkRow{id: 1})

	w := NewWorker(pool, WithWorkerPreserveCompletedJobs(true))
	require.NoError(t, w.perform(context.Background(), jobID))

	assert.Equal(t, 0, pool.JobRowCount())
	assert.Equal(t, 1, pool.FinishedRowCount())
}
