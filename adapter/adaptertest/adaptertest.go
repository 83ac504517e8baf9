// Package adaptertest is an in-memory adapter.ConnPool/adapter.Tx fake for
// unit tests that exercise the job table's semantics without a live
// Postgres. It understands exactly the SQL statements the gue package
// itself issues (matched by characteristic substrings, not a real SQL
// parser) and keeps one lock table per Pool so FOR UPDATE NOWAIT and
// SKIP LOCKED contention between concurrent goroutines sharing that Pool
// behaves like the real thing.
package adaptertest

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"github.com/carvalhoven/dque/adapter"
)

type Row struct {
	ID        int64
	WorkType  string
	Priority  int16
	Weight    int16
	NotBefore time.Time
	Assigned  sql.NullTime
	Overdue   sql.NullTime
	Failed    int32
	Pause     bool
}

func (r *Row) clone() *Row {
	c := *r
	return &c
}

// Pool is the fake connection pool. The zero value is not usable; build
// one with NewPool.
type Pool struct {
	mu       sync.Mutex
	jobs     map[int64]*Row
	finished []*Row
	lockedBy map[int64]int64
	seq      int64
	txSeq    int64
}

// NewPool returns an empty fake pool.
func NewPool() *Pool {
	return &Pool{
		jobs:     make(map[int64]*Row),
		lockedBy: make(map[int64]int64),
	}
}

// Seed inserts a job row directly, bypassing Client.Enqueue - for test
// setup.
func (p *Pool) Seed(row Row) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if row.ID == 0 {
		p.seq++
		row.ID = p.seq
	} else if row.ID > p.seq {
		p.seq = row.ID
	}
	p.jobs[row.ID] = row.clone()
	return row.ID
}

// JobRowCount reports how many rows remain in the fake job table.
func (p *Pool) JobRowCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.jobs)
}

// FinishedRowCount reports how many rows have been migrated to the fake
// job_finished table by the preserve-completed-jobs path.
func (p *Pool) FinishedRowCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.finished)
}

func (p *Pool) Begin(context.Context) (adapter.Tx, error) {
	p.mu.Lock()
	p.txSeq++
	id := p.txSeq
	p.mu.Unlock()
	return &tx{pool: p, id: id, locked: make(map[int64]bool)}, nil
}

func (p *Pool) Exec(ctx context.Context, sqlText string, args ...any) (adapter.CommandTag, error) {
	t, err := p.Begin(ctx)
	if err != nil {
		return nil, err
	}
	tag, err := t.Exec(ctx, sqlText, args...)
	if err != nil {
		_ = t.Rollback(ctx)
		return nil, err
	}
	return tag, t.Commit(ctx)
}

func (p *Pool) QueryRow(ctx context.Context, sqlText string, args ...any) adapter.Row {
	t, err := p.Begin(ctx)
	if err != nil {
		return errRow{err}
	}
	row := t.QueryRow(ctx, sqlText, args...)
	_ = t.Commit(ctx)
	return row
}

func (p *Pool) Query(ctx context.Context, sqlText string, args ...any) (adapter.Rows, error) {
	t, err := p.Begin(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := t.Query(ctx, sqlText, args...)
	if err != nil {
		_ = t.Rollback(ctx)
		return nil, err
	}
	_ = t.Commit(ctx)
	return rows, nil
}

func (p *Pool) Close() {}

type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }

// tx is one in-flight fake transaction. Row locks it acquired are
// released on Commit or Rollback.
type tx struct {
	pool   *Pool
	id     int64
	locked map[int64]bool
	done   bool
}

func (t *tx) Dialect() adapter.Dialect { return adapter.DialectGeneric }

func (t *tx) PostRollback(fn func(context.Context)) {
	// Not exercised by the core, which opens its own follow-up
	// transaction instead of relying on a post-abort callback - see
	// gue.go's requeue.
	_ = fn
}

func (t *tx) Commit(context.Context) error {
	t.release()
	return nil
}

func (t *tx) Rollback(context.Context) error {
	t.release()
	return nil
}

func (t *tx) release() {
	if t.done {
		return
	}
	t.done = true
	t.pool.mu.Lock()
	for id := range t.locked {
		if t.pool.lockedBy[id] == t.id {
			delete(t.pool.lockedBy, id)
		}
	}
	t.pool.mu.Unlock()
}

// tryLock attempts to mark jobID as locked by this tx. Returns false if
// another tx already holds it.
func (t *tx) tryLock(jobID int64) bool {
	if owner, ok := t.pool.lockedBy[jobID]; ok && owner != t.id {
		return false
	}
	t.pool.lockedBy[jobID] = t.id
	t.locked[jobID] = true
	return true
}

func (t *tx) Exec(ctx context.Context, sqlText string, args ...any) (adapter.CommandTag, error) {
	t.pool.mu.Lock()
	defer t.pool.mu.Unlock()

	switch {
	case contains(sqlText, "UPDATE job SET assigned = $1, overdue = $2"):
		id := args[2].(int64)
		row := t.pool.jobs[id]
		if row == nil {
			return tag(0), nil
		}
		row.Assigned = sql.NullTime{Time: args[0].(time.Time), Valid: true}
		row.Overdue = sql.NullTime{Time: args[1].(time.Time), Valid: true}
		return tag(1), nil

	case contains(sqlText, "UPDATE job SET overdue = $1 WHERE job_id = $2"):
		id := args[1].(int64)
		row := t.pool.jobs[id]
		if row == nil {
			return tag(0), nil
		}
		row.Overdue = sql.NullTime{Time: args[0].(time.Time), Valid: true}
		return tag(1), nil

	case contains(sqlText, "UPDATE job SET assigned = NULL, overdue = NULL"):
		id := args[2].(int64)
		row := t.pool.jobs[id]
		if row == nil {
			return tag(0), nil
		}
		row.Assigned = sql.NullTime{}
		row.Overdue = sql.NullTime{}
		row.Failed = args[0].(int32)
		row.NotBefore = args[1].(time.Time)
		return tag(1), nil

	case contains(sqlText, "UPDATE job SET pause = $1"):
		id := args[1].(int64)
		row := t.pool.jobs[id]
		if row == nil {
			return tag(0), nil
		}
		row.Pause = args[0].(bool)
		return tag(1), nil

	case contains(sqlText, "DELETE FROM job WHERE pause = true"):
		cutoff := args[0].(time.Time)
		var n int64
		for id, row := range t.pool.jobs {
			if row.Pause && row.NotBefore.Before(cutoff) {
				delete(t.pool.jobs, id)
				n++
			}
		}
		return tag(n), nil

	case contains(sqlText, "DELETE FROM job WHERE job_id = ANY($1)"):
		ids := args[0].([]int64)
		var n int64
		for _, id := range ids {
			if _, ok := t.pool.jobs[id]; ok {
				delete(t.pool.jobs, id)
				n++
			}
		}
		return tag(n), nil

	case contains(sqlText, "DELETE FROM job WHERE job_id = $1"):
		id := args[0].(int64)
		if _, ok := t.pool.jobs[id]; ok {
			delete(t.pool.jobs, id)
			return tag(1), nil
		}
		return tag(0), nil

	case contains(sqlText, "INSERT INTO job_finished"):
		row := &Row{
			ID:        args[0].(int64),
			WorkType:  args[1].(string),
			Priority:  args[2].(int16),
			Weight:    args[3].(int16),
			NotBefore: args[4].(time.Time),
			Failed:    args[5].(int32),
		}
		t.pool.finished = append(t.pool.finished, row)
		return tag(1), nil
	}

	return tag(0), nil
}

func (t *tx) QueryRow(ctx context.Context, sqlText string, args ...any) adapter.Row {
	t.pool.mu.Lock()
	defer t.pool.mu.Unlock()

	switch {
	case contains(sqlText, "INSERT INTO job ") && contains(sqlText, "RETURNING job_id"):
		t.pool.seq++
		id := t.pool.seq
		t.pool.jobs[id] = &Row{
			ID:        id,
			WorkType:  args[0].(string),
			Priority:  args[1].(int16),
			Weight:    args[2].(int16),
			NotBefore: args[3].(time.Time),
		}
		return scalarRow{id}

	case contains(sqlText, "SELECT job_id, work_type, priority, weight, not_before, assigned, overdue, failed, pause") && contains(sqlText, "WHERE job_id = $1"):
		id := args[0].(int64)
		row, ok := t.pool.jobs[id]
		if !ok {
			return errRow{adapter.ErrNoRows}
		}
		return jobRowScanner{row}

	case contains(sqlText, "count(*)") && contains(sqlText, "WHERE job_id = $1"):
		id := args[0].(int64)
		_, ok := t.pool.jobs[id]
		if ok {
			return scalarRow{int64(1)}
		}
		return scalarRow{int64(0)}

	case contains(sqlText, "count(*)") && contains(sqlText, "work_type = ANY($1)"):
		types := toStringSet(args[0].([]string))
		var n int64
		for _, row := range t.pool.jobs {
			if types[row.WorkType] {
				n++
			}
		}
		return scalarRow{n}

	case contains(sqlText, "count(*)"):
		return scalarRow{int64(len(t.pool.jobs))}

	case contains(sqlText, "SELECT min(not_before) FROM job"):
		var best *time.Time
		for _, row := range t.pool.jobs {
			if row.Pause || row.Assigned.Valid {
				continue
			}
			nb := row.NotBefore
			if best == nil || nb.Before(*best) {
				best = &nb
			}
		}
		return scalarRow{best}
	}

	return errRow{adapter.ErrNoRows}
}

func (t *tx) Query(ctx context.Context, sqlText string, args ...any) (adapter.Rows, error) {
	t.pool.mu.Lock()
	defer t.pool.mu.Unlock()

	switch {
	case contains(sqlText, "ORDER BY assigned DESC, priority DESC") && !contains(sqlText, "job_id = ANY"):
		now := args[0].(time.Time)
		minPriority := args[1].(int16)
		limit := args[2].(int)
		rows := eligibleSorted(t.pool.jobs, now, minPriority)
		if contains(sqlText, "SKIP LOCKED") {
			return t.lockSkipBuild(rows, limit), nil
		}
		wantsLock := contains(sqlText, "FOR UPDATE")
		return t.lockAndBuild(rows, limit, wantsLock)

	case contains(sqlText, "job_id = ANY($1)") && contains(sqlText, "FOR UPDATE NOWAIT"):
		ids := args[0].([]int64)
		var rows []*Row
		for _, id := range ids {
			if r, ok := t.pool.jobs[id]; ok {
				rows = append(rows, r)
			}
		}
		return t.lockAndBuild(rows, len(rows), true)

	case contains(sqlText, "assigned IS NOT NULL AND overdue <"):
		now := args[0].(time.Time)
		var rows []*Row
		for _, row := range t.pool.jobs {
			if row.Assigned.Valid && row.Overdue.Valid && row.Overdue.Time.Before(now) {
				rows = append(rows, row)
			}
		}
		return t.lockAndBuild(rows, len(rows), true)

	case contains(sqlText, "work_type, assigned, not_before, failed FROM job"):
		var out []*Row
		for _, row := range t.pool.jobs {
			out = append(out, row)
		}
		return &jobRows{rows: out, mode: modeHistogram}, nil
	}

	return &jobRows{}, nil
}

// lockSkipBuild models FOR UPDATE SKIP LOCKED: rows another tx holds
// are passed over and the limit applies to the rows actually locked.
func (t *tx) lockSkipBuild(rows []*Row, limit int) adapter.Rows {
	var out []*Row
	for _, r := range rows {
		if limit >= 0 && len(out) == limit {
			break
		}
		if t.tryLock(r.ID) {
			out = append(out, r)
		}
	}
	return &jobRows{rows: out, mode: modeFull}
}

func (t *tx) lockAndBuild(rows []*Row, limit int, wantsLock bool) (adapter.Rows, error) {
	if limit >= 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	if wantsLock {
		for _, r := range rows {
			if !t.tryLock(r.ID) {
				return nil, adapter.ErrLockNotAvailable
			}
		}
	}
	return &jobRows{rows: rows, mode: modeFull}, nil
}

func eligibleSorted(jobs map[int64]*Row, now time.Time, minPriority int16) []*Row {
	var out []*Row
	for _, row := range jobs {
		if row.NotBefore.After(now) {
			continue
		}
		if row.Priority < minPriority {
			continue
		}
		if row.Pause {
			continue
		}
		if row.Assigned.Valid && !row.Overdue.Time.Before(now) {
			continue
		}
		out = append(out, row)
	}

	// assigned DESC (non-null/orphaned first), then priority DESC.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0; j-- {
			a, b := out[j-1], out[j]
			if less(a, b) {
				out[j-1], out[j] = out[j], out[j-1]
			} else {
				break
			}
		}
	}
	return out
}

// less reports whether a should sort after b under "assigned DESC,
// priority DESC" (true means swap needed when a precedes b).
func less(a, b *Row) bool {
	aAssigned, bAssigned := a.Assigned.Valid, b.Assigned.Valid
	if aAssigned != bAssigned {
		return bAssigned && !aAssigned
	}
	return a.Priority < b.Priority
}

func toStringSet(ss []string) map[string]bool {
	m := make(map[string]bool, len(ss))
	for _, s := range ss {
		m[s] = true
	}
	return m
}

func tag(n int64) adapter.CommandTag { return cmdTag(n) }

type cmdTag int64

func (c cmdTag) RowsAffected() int64 { return int64(c) }

type scalarRow struct{ v any }

func (r scalarRow) Scan(dest ...any) error {
	switch d := dest[0].(type) {
	case *int64:
		*d = r.v.(int64)
	case **time.Time:
		*d, _ = r.v.(*time.Time)
	}
	return nil
}

type jobRowScanner struct{ row *Row }

func (s jobRowScanner) Scan(dest ...any) error {
	*dest[0].(*int64) = s.row.ID
	*dest[1].(*string) = s.row.WorkType
	*dest[2].(*int16) = s.row.Priority
	*dest[3].(*int16) = s.row.Weight
	*dest[4].(*time.Time) = s.row.NotBefore
	*dest[5].(*sql.NullTime) = s.row.Assigned
	*dest[6].(*sql.NullTime) = s.row.Overdue
	*dest[7].(*int32) = s.row.Failed
	*dest[8].(*bool) = s.row.Pause
	return nil
}

type scanMode int

const (
	modeFull scanMode = iota
	modeHistogram
)

type jobRows struct {
	rows []*Row
	mode scanMode
	pos  int
}

func (r *jobRows) Next() bool {
	if r.pos >= len(r.rows) {
		return false
	}
	r.pos++
	return true
}

func (r *jobRows) Scan(dest ...any) error {
	row := r.rows[r.pos-1]
	switch r.mode {
	case modeHistogram:
		*dest[0].(*string) = row.WorkType
		*dest[1].(*sql.NullTime) = row.Assigned
		*dest[2].(*time.Time) = row.NotBefore
		*dest[3].(*int32) = row.Failed
	default:
		*dest[0].(*int64) = row.ID
		*dest[1].(*string) = row.WorkType
		*dest[2].(*int16) = row.Priority
		*dest[3].(*int16) = row.Weight
		*dest[4].(*time.Time) = row.NotBefore
		*dest[5].(*sql.NullTime) = row.Assigned
		*dest[6].(*sql.NullTime) = row.Overdue
		*dest[7].(*int32) = row.Failed
		*dest[8].(*bool) = row.Pause
	}
	return nil
}

func (r *jobRows) Close()     {}
func (r *jobRows) Err() error { return nil }

func contains(s, substr string) bool { return strings.Contains(s, substr) }
