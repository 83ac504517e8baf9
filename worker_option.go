package gue

import (
	"context"
	"time"

	"github.com/carvalhoven/dque/adapter"
)

// HookFunc is called at the lifecycle points a Worker/WorkerPool exposes:
// after a job is polled and locked, when a job references an unregistered
// work type, and when a job has finished (successfully or not). j is
// always the job in question; whether err is set depends on which hook
// fires - see the doc comment on each With*Hooks option below.
type HookFunc func(ctx context.Context, j *Job, err error)

// PollStrategy controls how long a Worker sleeps after a poll that found
// no eligible job.
type PollStrategy int

const (
	// DefaultPollStrategy always sleeps the configured poll interval.
	DefaultPollStrategy PollStrategy = iota
	// RunAtPollStrategy looks at the next not_before in the table (if
	// any job is merely not-yet-eligible rather than the table being
	// empty) and sleeps no longer than the time remaining until it,
	// capped by the configured poll interval - so a worker idling ahead
	// of a single near-future job wakes promptly instead of waiting out
	// a full interval unnecessarily.
	RunAtPollStrategy
)

// WorkerOption configures a Worker at construction time.
type WorkerOption func(*Worker)

// WorkerPoolOption configures a WorkerPool at construction time.
type WorkerPoolOption func(*WorkerPool)

// ClientOption configures a Client at construction time.
type ClientOption func(*Client)

// WithWorkerPollInterval overrides the default poll interval - the sleep
// duration after a poll that found no eligible job.
func WithWorkerPollInterval(d time.Duration) WorkerOption {
	return func(w *Worker) { w.interval = d }
}

// WithWorkerMinPriority overrides the default priority floor NextJob
// applies - jobs with a lower priority are invisible to this worker. The
// job table carries no queue/partition column, so the priority floor is
// this queue's partitioning knob.
func WithWorkerMinPriority(minPriority int16) WorkerOption {
	return func(w *Worker) { w.minPriority = minPriority }
}

// WithWorkerID sets the worker's ID for easier identification in logs.
func WithWorkerID(id string) WorkerOption {
	return func(w *Worker) { w.id = id }
}

// WithWorkerLogger sets the Logger implementation used by a Worker.
func WithWorkerLogger(logger adapter.Logger) WorkerOption {
	return func(w *Worker) { w.logger = logger }
}

// WithWorkerOverdueAfter overrides the duration added to "now" when a job
// is assigned, i.e. how long a worker gets before the overdue sweep
// considers it an orphan candidate.
func WithWorkerOverdueAfter(d time.Duration) WorkerOption {
	return func(w *Worker) { w.overdueAfter = d }
}

// WithWorkerBackoff overrides the default linear backoff applied to
// ordinary (non-temporary, non-lock) job failures.
func WithWorkerBackoff(bo Backoff) WorkerOption {
	return func(w *Worker) { w.backoff = bo }
}

// WithWorkerPreserveCompletedJobs moves a successfully completed job's
// row into the job_finished audit table instead of deleting it.
func WithWorkerPreserveCompletedJobs(preserve bool) WorkerOption {
	return func(w *Worker) { w.preserveCompletedJobs = preserve }
}

// WithWorkerHooksJobLocked sets hooks called right after a job is polled,
// locked and assigned. err is always nil; a failed poll does not call
// them, and an unregistered work type calls the UnknownJobType hooks
// instead.
func WithWorkerHooksJobLocked(hooks ...HookFunc) WorkerOption {
	return func(w *Worker) { w.hooksJobLocked = hooks }
}

// WithWorkerHooksUnknownJobType sets hooks called when a polled job names
// a work type with no registered WorkItemType. err is always set.
func WithWorkerHooksUnknownJobType(hooks ...HookFunc) WorkerOption {
	return func(w *Worker) { w.hooksUnknownJobType = hooks }
}

// WithWorkerHooksJobDone sets hooks called once UltimatelyPerform returns
// for a job this worker dispatched. err is set when the job was worked
// with an unclassified failure.
func WithWorkerHooksJobDone(hooks ...HookFunc) WorkerOption {
	return func(w *Worker) { w.hooksJobDone = hooks }
}

// WithWorkerPollStrategy overrides the default poll strategy.
func WithWorkerPollStrategy(s PollStrategy) WorkerOption {
	return func(w *Worker) { w.pollStrategy = s }
}

// WithWorkerOverdueSweepInterval overrides how often this worker runs
// the orphan-detection pass.
func WithWorkerOverdueSweepInterval(d time.Duration) WorkerOption {
	return func(w *Worker) { w.overdueSweepInterval = d }
}

// WithPoolSize is the WorkerPool constructor's own sizing argument, not a
// WorkerPoolOption - see NewWorkerPool.

// WithPoolPollInterval calls WithWorkerPollInterval for every worker in
// the pool.
func WithPoolPollInterval(d time.Duration) WorkerPoolOption {
	return func(p *WorkerPool) { p.apply(WithWorkerPollInterval(d)) }
}

// WithPoolMinPriority calls WithWorkerMinPriority for every worker in the
// pool.
func WithPoolMinPriority(minPriority int16) WorkerPoolOption {
	return func(p *WorkerPool) { p.apply(WithWorkerMinPriority(minPriority)) }
}

// WithPoolID sets the pool's own ID for easier identification in logs.
// Worker IDs are derived from the pool's generated ID when NewWorkerPool
// builds the workers and are not changed by this option.
func WithPoolID(id string) WorkerPoolOption {
	return func(p *WorkerPool) { p.id = id }
}

// WithPoolLogger calls WithWorkerLogger for every worker in the pool.
func WithPoolLogger(logger adapter.Logger) WorkerPoolOption {
	return func(p *WorkerPool) { p.logger = logger; p.apply(WithWorkerLogger(logger)) }
}

// WithPoolBackoff calls WithWorkerBackoff for every worker in the pool.
func WithPoolBackoff(bo Backoff) WorkerPoolOption {
	return func(p *WorkerPool) { p.apply(WithWorkerBackoff(bo)) }
}

// WithPoolPreserveCompletedJobs calls WithWorkerPreserveCompletedJobs for
// every worker in the pool.
func WithPoolPreserveCompletedJobs(preserve bool) WorkerPoolOption {
	return func(p *WorkerPool) { p.apply(WithWorkerPreserveCompletedJobs(preserve)) }
}

// WithPoolPollStrategy calls WithWorkerPollStrategy for every worker in
// the pool.
func WithPoolPollStrategy(s PollStrategy) WorkerPoolOption {
	return func(p *WorkerPool) { p.apply(WithWorkerPollStrategy(s)) }
}

// WithPoolHooksJobLocked calls WithWorkerHooksJobLocked for every worker
// in the pool.
func WithPoolHooksJobLocked(hooks ...HookFunc) WorkerPoolOption {
	return func(p *WorkerPool) { p.apply(WithWorkerHooksJobLocked(hooks...)) }
}

// WithPoolHooksUnknownJobType calls WithWorkerHooksUnknownJobType for
// every worker in the pool.
func WithPoolHooksUnknownJobType(hooks ...HookFunc) WorkerPoolOption {
	return func(p *WorkerPool) { p.apply(WithWorkerHooksUnknownJobType(hooks...)) }
}

// WithPoolHooksJobDone calls WithWorkerHooksJobDone for every worker in
// the pool.
func WithPoolHooksJobDone(hooks ...HookFunc) WorkerPoolOption {
	return func(p *WorkerPool) { p.apply(WithWorkerHooksJobDone(hooks...)) }
}

// WithClientLogger sets the Logger implementation used by a Client.
func WithClientLogger(logger adapter.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// WithClientID sets the client's ID for easier identification in logs.
func WithClientID(id string) ClientOption {
	return func(c *Client) { c.id = id }
}
