package gue

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/carvalhoven/dque/adapter"
)

// Job is the in-process projection of a row in table `job`: the
// scheduling record pointing at a type-specific work payload. It is
// mutated only by whichever transaction currently holds it - the
// dispatcher while selecting/requeuing, or the worker goroutine that
// loaded it inside UltimatelyPerform.
type Job struct {
	ID        int64
	WorkType  string
	Priority  int16
	Weight    int16
	NotBefore time.Time
	Assigned  sql.NullTime
	Overdue   sql.NullTime
	Failed    int32
	Pause     bool

	mu sync.Mutex
	tx adapter.Tx
}

// Descriptor returns the lightweight triple that crosses the process
// boundary to a worker.
func (j *Job) Descriptor() JobDescriptor {
	return JobDescriptor{JobID: j.ID, Weight: j.Weight, WorkType: j.WorkType}
}

// Tx returns the transaction this Job is currently locked to.
func (j *Job) Tx() adapter.Tx {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.tx
}

// Assign marks this job as claimed by a worker: assigned is set to when,
// overdue to when+overdue. Both columns change together, preserving the
// assigned<=>overdue invariant.
func (j *Job) Assign(ctx context.Context, when time.Time, overdue time.Duration) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	newOverdue := when.Add(overdue)
	_, err := j.tx.Exec(ctx, `UPDATE job SET assigned = $1, overdue = $2 WHERE job_id = $3`, when, newOverdue, j.ID)
	if err != nil {
		return err
	}
	j.Assigned = sql.NullTime{Time: when, Valid: true}
	j.Overdue = sql.NullTime{Time: newOverdue, Valid: true}
	return nil
}

// BumpOverdue pushes the overdue deadline further into the future. Used by
// the overdue sweep when trylock finds the work payload still locked -
// the previous worker is still alive, so give it more time.
func (j *Job) BumpOverdue(ctx context.Context, bump time.Duration) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.Overdue.Valid {
		return &assertionError{msg: "BumpOverdue called on a job with no overdue deadline"}
	}
	newOverdue := j.Overdue.Time.Add(bump)
	_, err := j.tx.Exec(ctx, `UPDATE job SET overdue = $1 WHERE job_id = $2`, newOverdue, j.ID)
	if err != nil {
		return err
	}
	j.Overdue = sql.NullTime{Time: newOverdue, Valid: true}
	return nil
}

// FailedToRun clears the assignment, advances failed (unless the failure
// was merely a lock conflict), and reschedules not_before. delay, when
// non-nil, overrides the default backoff; the default is
// base*(failed+1), base being defaultLockInterval for a lock conflict and
// defaultFailureInterval otherwise.
func (j *Job) FailedToRun(ctx context.Context, locked bool, delay *time.Duration) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	var chosen time.Duration
	if delay != nil {
		chosen = *delay
	} else {
		base := defaultFailureInterval
		if locked {
			base = defaultLockInterval
		}
		chosen = base * time.Duration(j.Failed+1)
	}

	newFailed := j.Failed
	if !locked {
		newFailed++
	}
	notBefore := time.Now().UTC().Add(chosen)

	_, err := j.tx.Exec(
		ctx,
		`UPDATE job SET assigned = NULL, overdue = NULL, failed = $1, not_before = $2 WHERE job_id = $3`,
		newFailed, notBefore, j.ID,
	)
	if err != nil {
		return err
	}
	j.Assigned = sql.NullTime{}
	j.Overdue = sql.NullTime{}
	j.Failed = newFailed
	j.NotBefore = notBefore
	return nil
}

// PauseIt sets or clears the pause flag. The dispatcher's selection query
// skips paused rows entirely.
func (j *Job) PauseIt(ctx context.Context, pause bool) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.tx.Exec(ctx, `UPDATE job SET pause = $1 WHERE job_id = $2`, pause, j.ID)
	if err != nil {
		return err
	}
	j.Pause = pause
	return nil
}

// Delete removes the job row. Must be the last action of a successful run
// so the row isn't held open any longer than necessary. Deleting an
// already-gone row is not an error.
func (j *Job) Delete(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.tx.Exec(ctx, `DELETE FROM job WHERE job_id = $1`, j.ID)
	return err
}

// IsRunning reports whether the job's work payload is currently locked by
// another transaction - i.e. whether a worker is actively executing it.
func (j *Job) IsRunning(ctx context.Context) (bool, error) {
	item, err := j.workItem(ctx)
	if err != nil {
		return false, err
	}
	if item == nil {
		return false, nil
	}
	locked, err := item.TryLock(ctx)
	if err != nil {
		return false, err
	}
	return !locked, nil
}

// workItem resolves and loads the single WorkItem row for this Job,
// returning nil if there are zero or more than one matches - both are
// treated as "no work present" by the caller.
func (j *Job) workItem(ctx context.Context) (WorkItem, error) {
	wt, ok := LookupWorkType(j.WorkType)
	if !ok {
		return nil, ErrUnknownWorkType
	}
	items, err := wt.LoadForJob(ctx, j.tx, j.ID)
	if err != nil {
		return nil, err
	}
	if len(items) != 1 {
		return nil, nil
	}
	return items[0], nil
}

// run executes this job's work payload end to end: lock, the
// before/do/after hook sequence, then delete. The transaction
// bookkeeping and failure classification around this call live in
// UltimatelyPerform.
func (j *Job) run(ctx context.Context, finish func(context.Context) error) error {
	item, err := j.workItem(ctx)
	if err != nil {
		return err
	}
	if item == nil {
		// Zero or more than one matching work row: nothing to execute.
		// Not a failure - the scheduling row is discarded, since a job
		// whose payload is gone can never run.
		return j.Delete(ctx)
	}

	locked, err := item.RunLock(ctx)
	if err != nil {
		return err
	}
	if !locked {
		return &JobRunningError{}
	}

	if err := j.runHooks(ctx, item); err != nil {
		return err
	}

	return finish(ctx)
}

func (j *Job) runHooks(ctx context.Context, item WorkItem) error {
	okToGo, err := item.BeforeWork(ctx)
	if err != nil {
		return classifyWorkError(err)
	}
	if !okToGo {
		return nil
	}

	if err := item.DoWork(ctx); err != nil {
		return classifyWorkError(err)
	}

	return classifyWorkError(item.AfterWork(ctx))
}

// classifyWorkError preserves JobTemporaryError as-is (it carries its own
// retry policy) and wraps anything else as JobFailedError. A nil error
// passes through.
func classifyWorkError(err error) error {
	if err == nil {
		return nil
	}
	if te, ok := err.(*JobTemporaryError); ok {
		return te
	}
	return &JobFailedError{Err: err}
}

// loadJob fetches a Job row by ID and binds it to tx for subsequent
// mutations. Returns ErrNoSuchJob if the row is gone.
func loadJob(ctx context.Context, tx adapter.Tx, jobID int64) (*Job, error) {
	row := tx.QueryRow(
		ctx,
		`SELECT job_id, work_type, priority, weight, not_before, assigned, overdue, failed, pause
		   FROM job WHERE job_id = $1`,
		jobID,
	)

	j := &Job{tx: tx}
	err := row.Scan(&j.ID, &j.WorkType, &j.Priority, &j.Weight, &j.NotBefore, &j.Assigned, &j.Overdue, &j.Failed, &j.Pause)
	if err != nil {
		if errors.Is(err, adapter.ErrNoRows) {
			return nil, ErrNoSuchJob
		}
		return nil, err
	}
	return j, nil
}
