package gue

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carvalhoven/dque/adapter"
)

// fakeWorkRow is a minimal WorkItem used across this package's tests - it
// stands in for a per-work-type payload row without needing a real child
// table.
type fakeWorkRow struct {
	id    int64
	jobID int64

	mu     sync.Mutex
	locked bool

	before func(ctx context.Context) (bool, error)
	do     func(ctx context.Context) error
	after  func(ctx context.Context) error
}

func (r *fakeWorkRow) WorkID() int64 { return r.id }

func (r *fakeWorkRow) RunLock(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.locked {
		return false, nil
	}
	r.locked = true
	return true, nil
}

func (r *fakeWorkRow) TryLock(ctx context.Context) (bool, error) {
	return r.RunLock(ctx)
}

func (r *fakeWorkRow) unlock() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.locked = false
}

func (r *fakeWorkRow) BeforeWork(ctx context.Context) (bool, error) {
	if r.before != nil {
		return r.before(ctx)
	}
	return true, nil
}

func (r *fakeWorkRow) DoWork(ctx context.Context) error {
	if r.do != nil {
		return r.do(ctx)
	}
	return nil
}

func (r *fakeWorkRow) AfterWork(ctx context.Context) error {
	if r.after != nil {
		return r.after(ctx)
	}
	return nil
}

// fakeWorkItemType is a minimal WorkItemType: one row per jobID, seeded
// directly by a test rather than loaded from a real child table.
type fakeWorkItemType struct {
	name string

	mu   sync.Mutex
	rows map[int64]*fakeWorkRow
}

func newFakeWorkItemType(name string) *fakeWorkItemType {
	return &fakeWorkItemType{name: name, rows: make(map[int64]*fakeWorkRow)}
}

func (t *fakeWorkItemType) WorkType() string { return t.name }

func (t *fakeWorkItemType) LoadForJob(ctx context.Context, tx adapter.Tx, jobID int64) ([]WorkItem, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.rows[jobID]
	if !ok {
		return nil, nil
	}
	return []WorkItem{r}, nil
}

func (t *fakeWorkItemType) seed(jobID int64, row *fakeWorkRow) {
	t.mu.Lock()
	defer t.mu.Unlock()
	row.jobID = jobID
	t.rows[jobID] = row
}

func TestRegisterWorkTypeAndLookup(t *testing.T) {
	defer resetRegistry()

	wt := newFakeWorkItemType("registry_test.basic")
	RegisterWorkType(wt)

	got, ok := LookupWorkType("registry_test.basic")
	require.True(t, ok)
	assert.Equal(t, wt, got)

	_, ok = LookupWorkType("registry_test.missing")
	assert.False(t, ok)
}

func TestRegisterWorkTypeTwicePanics(t *testing.T) {
	defer resetRegistry()

	RegisterWorkType(newFakeWorkItemType("registry_test.dup"))
	assert.Panics(t, func() {
		RegisterWorkType(newFakeWorkItemType("registry_test.dup"))
	})
}
