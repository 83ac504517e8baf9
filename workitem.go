package gue

import (
	"context"
	"sync"

	"github.com/carvalhoven/dque/adapter"
)

// WorkItem is the capability set every work payload type must implement:
// RunLock/TryLock for the row-lock discipline that keeps two dispatchers
// off the same payload, and the three-step hook sequence
// UltimatelyPerform drives in order and aborts on first failure.
type WorkItem interface {
	// WorkID is the payload row's own primary key, used only for logging.
	WorkID() int64

	// RunLock blocks until it acquires an exclusive lock on the work
	// payload row, or returns false if it determines the lock cannot be
	// obtained at all (most adapters simply block and this never returns
	// false; it exists so adapters may implement a bounded wait).
	RunLock(ctx context.Context) (bool, error)

	// TryLock acquires the lock without blocking. true means no one else
	// was holding it.
	TryLock(ctx context.Context) (bool, error)

	// BeforeWork may short-circuit the remaining hooks by returning
	// false.
	BeforeWork(ctx context.Context) (bool, error)
	DoWork(ctx context.Context) error
	AfterWork(ctx context.Context) error
}

// WorkItemType is the static, per-type half of the contract: the table
// name used as the registry key, and the loader that resolves the single
// WorkItem row for a given job.
type WorkItemType interface {
	// WorkType returns the name of this work type's table - also the
	// JobItem.WorkType value that routes a Job to this type.
	WorkType() string

	// LoadForJob returns the WorkItem row(s) matching jobID. Zero or one
	// is the expected result; more than one is treated the same as zero
	// (no-work-present) by UltimatelyPerform.
	LoadForJob(ctx context.Context, tx adapter.Tx, jobID int64) ([]WorkItem, error)
}

var registry sync.Map // workType string -> WorkItemType

// RegisterWorkType adds a work type to the process-wide registry. Call it
// from each work type's init() (or explicitly before starting any
// dispatcher). Concurrent calls are safe; registering the same WorkType()
// twice is a programming error and panics.
func RegisterWorkType(t WorkItemType) {
	if _, dup := registry.LoadOrStore(t.WorkType(), t); dup {
		panic(&assertionError{msg: "work type " + t.WorkType() + " registered twice"})
	}
}

// LookupWorkType resolves a previously-registered WorkItemType by table
// name.
func LookupWorkType(workType string) (WorkItemType, bool) {
	v, ok := registry.Load(workType)
	if !ok {
		return nil, false
	}
	return v.(WorkItemType), true
}

// resetRegistry clears the registry. Test-support only.
func resetRegistry() {
	registry = sync.Map{}
}
