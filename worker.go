package gue

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/carvalhoven/dque/adapter"
)

const (
	defaultPollInterval         = 5 * time.Second
	defaultOverdueAfter         = 5 * time.Minute
	defaultOverdueSweepInterval = 30 * time.Second
	defaultMinPriority          = int16(0)
)

// Worker is one dispatcher loop: it polls NextJob, assigns the winning
// row, and hands its descriptor to UltimatelyPerform. A Worker also runs
// its own overdue sweep on a separate ticker to reclaim jobs whose
// worker died.
type Worker struct {
	pool   adapter.ConnPool
	logger adapter.Logger
	id     string

	interval             time.Duration
	minPriority          int16
	overdueAfter         time.Duration
	overdueSweepInterval time.Duration
	backoff              Backoff

	preserveCompletedJobs bool

	pollStrategy PollStrategy

	hooksJobLocked      []HookFunc
	hooksUnknownJobType []HookFunc
	hooksJobDone        []HookFunc
}

// NewWorker builds a Worker around an already-configured adapter.ConnPool.
func NewWorker(pool adapter.ConnPool, opts ...WorkerOption) *Worker {
	w := &Worker{
		pool:                 pool,
		logger:               adapter.NewNoopLogger(),
		id:                   fmt.Sprintf("worker-%d", rand.Int63()),
		interval:             defaultPollInterval,
		minPriority:          defaultMinPriority,
		overdueAfter:         defaultOverdueAfter,
		overdueSweepInterval: defaultOverdueSweepInterval,
		pollStrategy:         DefaultPollStrategy,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(adapter.F("worker_id", w.id))
	return w
}

// txFactory adapts the worker's pool into an adapter.TxFactory so
// UltimatelyPerform can open however many follow-up transactions the
// protocol needs without the worker threading connections through by
// hand.
func (w *Worker) txFactory() adapter.TxFactory {
	return func(ctx context.Context, _ string) (adapter.Tx, error) {
		return w.pool.Begin(ctx)
	}
}

// Run polls for and performs jobs until ctx is cancelled. It runs the
// overdue sweep concurrently on its own ticker.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker starting")
	defer w.logger.Info("worker stopped")

	sweepTicker := time.NewTicker(w.overdueSweepInterval)
	defer sweepTicker.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-sweepTicker.C:
				if err := w.sweepOverdue(ctx); err != nil {
					w.logger.Error("overdue sweep failed", adapter.F("error", err.Error()))
				}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		worked, nextNotBefore, err := w.workOne(ctx)
		if err != nil {
			w.logger.Error("work cycle failed", adapter.F("error", err.Error()))
		}
		if worked {
			continue
		}
		if err := w.sleep(ctx, nextNotBefore); err != nil {
			return err
		}
	}
}

// sleep waits out one empty poll cycle. Under RunAtPollStrategy it wakes
// early if nextNotBefore names a job that will become eligible sooner
// than a full interval away.
func (w *Worker) sleep(ctx context.Context, nextNotBefore *time.Time) error {
	d := w.interval
	if w.pollStrategy == RunAtPollStrategy && nextNotBefore != nil {
		if until := time.Until(*nextNotBefore); until > 0 && until < d {
			d = until
		}
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// workOne runs one selection+assignment+dispatch cycle. It reports
// whether a job was dispatched, and (when not, and only relevant to
// RunAtPollStrategy) the earliest not_before of a not-yet-eligible row so
// Run can shorten its sleep.
func (w *Worker) workOne(ctx context.Context) (worked bool, nextNotBefore *time.Time, err error) {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return false, nil, err
	}

	job, err := NextJob(ctx, tx, time.Now().UTC(), w.minPriority)
	if err != nil {
		_ = tx.Rollback(ctx)
		return false, nil, err
	}
	if job == nil {
		nb := w.nextNotBefore(ctx)
		_ = tx.Rollback(ctx)
		return false, nb, nil
	}

	if _, ok := LookupWorkType(job.WorkType); !ok {
		_ = tx.Rollback(ctx)
		w.runHooks(w.hooksUnknownJobType, ctx, job, ErrUnknownWorkType)
		return true, nil, nil
	}

	if err := job.Assign(ctx, time.Now().UTC(), w.overdueAfter); err != nil {
		_ = tx.Rollback(ctx)
		return false, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, nil, err
	}

	w.runHooks(w.hooksJobLocked, ctx, job, nil)

	performErr := w.perform(ctx, job.ID)
	w.runHooks(w.hooksJobDone, ctx, job, performErr)
	return true, nil, performErr
}

// perform wraps UltimatelyPerform, additionally routing a successful
// completion through the preserve-completed-jobs audit path when enabled.
func (w *Worker) perform(ctx context.Context, jobID int64) error {
	if !w.preserveCompletedJobs {
		return UltimatelyPerform(ctx, w.txFactory(), jobID, w.backoff, w.logger)
	}
	return ultimatelyPerformPreserving(ctx, w.txFactory(), jobID, w.backoff, w.logger)
}

// nextNotBefore looks up the soonest not_before among rows that are not
// yet eligible, for RunAtPollStrategy. Best-effort: any error is treated
// as "don't know", falling back to the full poll interval.
func (w *Worker) nextNotBefore(ctx context.Context) *time.Time {
	if w.pollStrategy != RunAtPollStrategy {
		return nil
	}
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return nil
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `SELECT min(not_before) FROM job WHERE pause = false AND assigned IS NULL AND not_before > $1`, time.Now().UTC())
	var nb *time.Time
	if err := row.Scan(&nb); err != nil {
		return nil
	}
	return nb
}

// sweepOverdue is the orphan-detection pass: for every row
// whose overdue deadline has passed, try the work payload's non-blocking
// lock. Success means the previous worker is gone, so the job is
// requeued; failure means the work is still actually running, so the
// deadline is pushed out instead.
func (w *Worker) sweepOverdue(ctx context.Context) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	rows, err := tx.Query(ctx, `
		SELECT job_id, work_type, priority, weight, not_before, assigned, overdue, failed, pause
		  FROM job
		 WHERE assigned IS NOT NULL AND overdue < $1
		 FOR UPDATE NOWAIT`, now)
	if err != nil {
		if errors.Is(err, adapter.ErrLockNotAvailable) {
			return nil
		}
		return err
	}
	jobs, err := scanJobs(rows, tx)
	rows.Close()
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return nil
	}

	for _, job := range jobs {
		if err := w.reclaimOrphan(ctx, job); err != nil {
			w.logger.Error("orphan reclaim failed", adapter.F("job_id", job.ID), adapter.F("error", err.Error()))
		}
	}

	return tx.Commit(ctx)
}

func (w *Worker) reclaimOrphan(ctx context.Context, job *Job) error {
	item, err := job.workItem(ctx)
	if err != nil {
		return err
	}
	if item == nil {
		return job.FailedToRun(ctx, false, nil)
	}

	locked, err := item.TryLock(ctx)
	if err != nil {
		return err
	}
	if locked {
		// Previous worker is gone: requeue. A reclaim counts against
		// Failed like any other failure (locked=false is "not a lock
		// conflict"), with Orphaned tracked alongside for operators who
		// want to distinguish a crash from an ordinary work failure.
		if err := job.FailedToRun(ctx, false, nil); err != nil {
			return err
		}
		recordOrphaned(job.WorkType)
		return nil
	}

	// Still running: extend the deadline.
	return job.BumpOverdue(ctx, w.overdueAfter)
}

func (w *Worker) runHooks(hooks []HookFunc, ctx context.Context, j *Job, err error) {
	for _, h := range hooks {
		h(ctx, j, err)
	}
}
