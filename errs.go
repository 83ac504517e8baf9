package gue

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoSuchJob is returned when a Job row was deleted or never existed for
// the requested ID - the "already removed" path of UltimatelyPerform.
var ErrNoSuchJob = errors.New("gue: no such job")

// ErrUnknownWorkType is returned when a job names a work type that was
// never registered (LookupWorkType itself reports this as ok == false).
// Fatal for the job that referenced it.
var ErrUnknownWorkType = errors.New("gue: unknown work type")

// JobTemporaryError signals that the hook sequence failed in a way that is
// expected to clear up on its own. Delay overrides the default backoff; it
// is still scaled by (failed+1) in UltimatelyPerform's follow-up
// transaction.
type JobTemporaryError struct {
	Delay time.Duration
}

func (e *JobTemporaryError) Error() string {
	return fmt.Sprintf("gue: temporary failure, retry after %s", e.Delay)
}

// JobFailedError wraps any non-classified error raised from the work
// payload's hook sequence.
type JobFailedError struct {
	Err error
}

func (e *JobFailedError) Error() string { return fmt.Sprintf("gue: job failed: %v", e.Err) }
func (e *JobFailedError) Unwrap() error { return e.Err }

// JobRunningError is raised when RunLock could not acquire the work
// payload's row lock - another process is already executing it.
type JobRunningError struct{}

func (e *JobRunningError) Error() string { return "gue: job is already running" }

// assertionError marks an internal invariant violation - e.g. NextJob
// returning more than one row, or a work type registered twice. These
// are meant to crash the process fast so supervision notices.
type assertionError struct{ msg string }

func (e *assertionError) Error() string { return "gue: assertion failed: " + e.msg }
