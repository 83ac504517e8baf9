// Package gue implements a database-backed durable job queue: a single
// `job` table plus per-work-type child tables coordinate a cluster of
// dispatchers through row-level locks instead of a central broker.
package gue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/carvalhoven/dque/adapter"
)

// JobDescriptor is the lightweight triple that crosses the process
// boundary from dispatcher to worker. The worker re-loads the full Job
// under its own transaction; nothing else is shared.
type JobDescriptor struct {
	JobID    int64
	Weight   int16
	WorkType string
}

// String renders the descriptor as "jobID,weight,workType" - a fixed
// wire format, kept for interop with existing workers.
func (d JobDescriptor) String() string {
	return fmt.Sprintf("%d,%d,%s", d.JobID, d.Weight, d.WorkType)
}

// ParseJobDescriptor decodes the "jobID,weight,workType" wire format
// produced by JobDescriptor.String.
func ParseJobDescriptor(s string) (JobDescriptor, error) {
	parts := strings.SplitN(s, ",", 3)
	if len(parts) != 3 {
		return JobDescriptor{}, fmt.Errorf("gue: malformed job descriptor %q", s)
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return JobDescriptor{}, fmt.Errorf("gue: malformed job descriptor %q: %w", s, err)
	}
	weight, err := strconv.ParseInt(parts[1], 10, 16)
	if err != nil {
		return JobDescriptor{}, fmt.Errorf("gue: malformed job descriptor %q: %w", s, err)
	}
	return JobDescriptor{JobID: id, Weight: int16(weight), WorkType: parts[2]}, nil
}

// Client is the enqueue-side handle: it owns no dispatch loop, only the
// connection pool used to insert new job rows.
type Client struct {
	pool   adapter.ConnPool
	logger adapter.Logger
	id     string
}

// NewClient builds a Client around an already-configured adapter.ConnPool.
func NewClient(pool adapter.ConnPool, opts ...ClientOption) *Client {
	c := &Client{
		pool:   pool,
		logger: adapter.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(adapter.F("client_id", c.id))
	return c
}

// Enqueue inserts a new job row and its work-type row in one transaction.
// insertWork is handed the jobID so it can populate the work-type table's
// foreign-key column; it runs inside the same tx as the job insert, so
// the job row and its payload row become visible together or not at all.
func (c *Client) Enqueue(
	ctx context.Context,
	tx adapter.Tx,
	workType string,
	priority, weight int16,
	notBefore time.Time,
	insertWork func(ctx context.Context, tx adapter.Tx, jobID int64) error,
) (int64, error) {
	row := tx.QueryRow(
		ctx,
		`INSERT INTO job (job_id, work_type, priority, weight, not_before, failed, pause)
		 VALUES (nextval('job_job_id_seq'), $1, $2, $3, $4, 0, false)
		 RETURNING job_id`,
		workType, priority, weight, notBefore.UTC(),
	)

	var jobID int64
	if err := row.Scan(&jobID); err != nil {
		return 0, err
	}

	if insertWork != nil {
		if err := insertWork(ctx, tx, jobID); err != nil {
			return 0, err
		}
	}

	c.logger.Debug("enqueued job", adapter.F("job_id", jobID), adapter.F("work_type", workType))
	return jobID, nil
}

// Purge deletes paused jobs whose not_before is older than cutoff - the
// administrative cleanup path for rows parked indefinitely.
func (c *Client) Purge(ctx context.Context, tx adapter.Tx, cutoff time.Time) (int64, error) {
	tag, err := tx.Exec(ctx, `DELETE FROM job WHERE pause = true AND not_before < $1`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// PurgeIDs deletes the given job IDs unconditionally, regardless of their
// pause state - for operator-driven cleanup of jobs known to be dead.
func (c *Client) PurgeIDs(ctx context.Context, tx adapter.Tx, jobIDs []int64) (int64, error) {
	if len(jobIDs) == 0 {
		return 0, nil
	}
	tag, err := tx.Exec(ctx, `DELETE FROM job WHERE job_id = ANY($1)`, jobIDs)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const nextJobsSelectColumns = `job_id, work_type, priority, weight, not_before, assigned, overdue, failed, pause`

// NextJobs selects and locks up to limit eligible job rows.
// Eligibility: not_before <= now, priority >= minPriority, pause = false,
// and either unassigned or overdue. Ordering puts orphaned
// (assigned-but-overdue) rows first, then higher priority first. Lock
// contention is not an error: SKIP LOCKED passes over rows another
// dispatcher already holds, so contending dispatchers each walk away
// with distinct jobs instead of serializing behind one another.
func NextJobs(ctx context.Context, tx adapter.Tx, now time.Time, minPriority int16, limit int) ([]*Job, error) {
	if tx.Dialect() == adapter.DialectOracle {
		return nextJobsOracle(ctx, tx, now, minPriority, limit)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM job
		 WHERE not_before <= $1
		   AND priority >= $2
		   AND pause = false
		   AND (assigned IS NULL OR overdue < $1)
		 ORDER BY assigned DESC, priority DESC
		 LIMIT $3
		   FOR UPDATE SKIP LOCKED`, nextJobsSelectColumns)

	rows, err := tx.Query(ctx, query, now.UTC(), minPriority, limit)
	if err != nil {
		if errors.Is(err, adapter.ErrLockNotAvailable) {
			return nil, nil
		}
		return nil, err
	}
	defer rows.Close()

	return scanJobs(rows, tx)
}

// nextJobsOracle is the two-step variant for engines that forbid
// combining ORDER BY with FOR UPDATE: the candidate IDs are picked
// unlocked first and then re-selected with FOR UPDATE NOWAIT. Rows that
// vanish between the two queries are dropped silently - another
// dispatcher got there first.
func nextJobsOracle(ctx context.Context, tx adapter.Tx, now time.Time, minPriority int16, limit int) ([]*Job, error) {
	candidateQuery := `
		SELECT job_id FROM job
		 WHERE not_before <= $1
		   AND priority >= $2
		   AND pause = false
		   AND (assigned IS NULL OR overdue < $1)
		 ORDER BY assigned DESC, priority DESC
		 LIMIT $3`

	candRows, err := tx.Query(ctx, candidateQuery, now.UTC(), minPriority, limit)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, limit)
	for candRows.Next() {
		var id int64
		if err := candRows.Scan(&id); err != nil {
			candRows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	closeErr := candRows.Err()
	candRows.Close()
	if closeErr != nil {
		return nil, closeErr
	}
	if len(ids) == 0 {
		return nil, nil
	}

	lockQuery := fmt.Sprintf(`SELECT %s FROM job WHERE job_id = ANY($1) FOR UPDATE NOWAIT`, nextJobsSelectColumns)
	rows, err := tx.Query(ctx, lockQuery, ids)
	if err != nil {
		if errors.Is(err, adapter.ErrLockNotAvailable) {
			return nil, nil
		}
		return nil, err
	}
	defer rows.Close()

	return scanJobs(rows, tx)
}

func scanJobs(rows adapter.Rows, tx adapter.Tx) ([]*Job, error) {
	var out []*Job
	for rows.Next() {
		j := &Job{tx: tx}
		if err := rows.Scan(&j.ID, &j.WorkType, &j.Priority, &j.Weight, &j.NotBefore, &j.Assigned, &j.Overdue, &j.Failed, &j.Pause); err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// NextJob is NextJobs with limit=1. Returning more than one row is an
// internal invariant violation, so it panics rather than silently
// truncating.
func NextJob(ctx context.Context, tx adapter.Tx, now time.Time, minPriority int16) (*Job, error) {
	jobs, err := NextJobs(ctx, tx, now, minPriority, 1)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	if len(jobs) > 1 {
		panic(&assertionError{msg: "NextJob: limit=1 query returned more than one row"})
	}
	return jobs[0], nil
}

// UltimatelyPerform executes exactly one job with full accounting.
// txFactory opens a fresh transaction for each attempt; jobID is all
// that's needed because the worker reloads the full record itself. Classified failures (temporary, permanent, busy)
// are recovered locally via a follow-up transaction and never surface to
// the caller; an unclassified error is rolled back and returned so the
// dispatcher can log it, leaving the row to be retried once Overdue
// fires.
func UltimatelyPerform(ctx context.Context, txFactory adapter.TxFactory, jobID int64, bo Backoff, logger adapter.Logger) error {
	return ultimatelyPerform(ctx, txFactory, jobID, bo, logger, (*Job).Delete)
}

// ultimatelyPerform is the shared core behind UltimatelyPerform and the
// preserve-completed-jobs variant in preserve.go: finish is invoked only
// after the hook sequence has succeeded on a present work item, and
// decides how the JobItem row's completion is persisted.
func ultimatelyPerform(
	ctx context.Context,
	txFactory adapter.TxFactory,
	jobID int64,
	bo Backoff,
	logger adapter.Logger,
	finish func(*Job, context.Context) error,
) error {
	if logger == nil {
		logger = adapter.NewNoopLogger()
	}
	start := time.Now()

	t1, err := txFactory(ctx, "ultimately-perform")
	if err != nil {
		return err
	}

	job, err := loadJob(ctx, t1, jobID)
	if err != nil {
		if errors.Is(err, ErrNoSuchJob) {
			_ = t1.Commit(ctx)
			logger.Debug("job already removed", adapter.F("job_id", jobID))
			return nil
		}
		_ = t1.Rollback(ctx)
		return err
	}

	runErr := job.run(ctx, func(ctx context.Context) error { return finish(job, ctx) })
	if runErr == nil {
		if err := t1.Commit(ctx); err != nil {
			return err
		}
		elapsed := time.Since(start)
		recordCompletion(job.WorkType, elapsed)
		logger.Debug("job completed",
			adapter.F("job_id", jobID),
			adapter.F("work_type", job.WorkType),
			adapter.F("elapsed_ms", elapsed.Milliseconds()),
			adapter.F("lateness_ms", time.Since(job.NotBefore).Milliseconds()),
		)
		return nil
	}

	if err := t1.Rollback(ctx); err != nil {
		logger.Error("rollback after failed job also failed", adapter.F("job_id", jobID), adapter.F("error", err.Error()))
	}

	var temp *JobTemporaryError
	var failed *JobFailedError
	var running *JobRunningError

	switch {
	case errors.As(runErr, &temp):
		return requeue(ctx, txFactory, jobID, logger, "temporary failure", runErr, func(j *Job) error {
			delay := temp.Delay * time.Duration(j.Failed+1)
			return j.FailedToRun(ctx, false, &delay)
		})
	case errors.As(runErr, &failed):
		return requeue(ctx, txFactory, jobID, logger, "job failed", runErr, func(j *Job) error {
			var delay *time.Duration
			if bo != nil {
				d := bo(int(j.Failed))
				delay = &d
			}
			return j.FailedToRun(ctx, false, delay)
		})
	case errors.As(runErr, &running):
		return requeue(ctx, txFactory, jobID, logger, "job already running elsewhere", runErr, func(j *Job) error {
			return j.FailedToRun(ctx, true, nil)
		})
	default:
		logger.Error("unclassified job error", adapter.F("job_id", jobID), adapter.F("error", runErr.Error()))
		return runErr
	}
}

// requeue opens the follow-up transaction that records a failure: the
// row lock on the work payload held inside the failed transaction must
// be released before the job's scheduling columns can be updated, so
// the transaction that failed is never the one recording the failure.
func requeue(
	ctx context.Context,
	txFactory adapter.TxFactory,
	jobID int64,
	logger adapter.Logger,
	reason string,
	cause error,
	apply func(*Job) error,
) error {
	t2, err := txFactory(ctx, "ultimately-perform-requeue")
	if err != nil {
		return err
	}

	job2, err := loadJob(ctx, t2, jobID)
	if err != nil {
		_ = t2.Rollback(ctx)
		if errors.Is(err, ErrNoSuchJob) {
			return nil
		}
		return err
	}

	if err := apply(job2); err != nil {
		_ = t2.Rollback(ctx)
		return err
	}

	if err := t2.Commit(ctx); err != nil {
		return err
	}

	logger.Debug(reason, adapter.F("job_id", jobID), adapter.F("cause", cause.Error()))
	return nil
}

