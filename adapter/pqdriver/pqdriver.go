// Package pqdriver implements adapter.ConnPool and adapter.Tx on top of
// database/sql with github.com/lib/pq registered as the driver, for
// hosts that would rather not take a pgx dependency.
package pqdriver

import (
	"context"
	"database/sql"
	stderrors "errors"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/carvalhoven/dque/adapter"
)

// lockNotAvailableSQLState is Postgres' SQLSTATE for a FOR UPDATE NOWAIT
// conflict, same translation the pgx-based adapters perform against
// lib/pq's own error type.
const lockNotAvailableSQLState = "55P03"

func translateErr(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) && string(pqErr.Code) == lockNotAvailableSQLState {
		return &lockError{cause: err}
	}
	return err
}

type lockError struct{ cause error }

func (e *lockError) Error() string        { return e.cause.Error() }
func (e *lockError) Unwrap() error        { return e.cause }
func (e *lockError) Is(target error) bool { return target == adapter.ErrLockNotAvailable }

// row translates database/sql's no-rows sentinel on Scan.
type row struct {
	row *sql.Row
}

func (r row) Scan(dest ...any) error {
	err := r.row.Scan(dest...)
	if stderrors.Is(err, sql.ErrNoRows) {
		return adapter.ErrNoRows
	}
	return translateErr(err)
}

type pool struct {
	db *sql.DB
}

// NewConnPool wraps an already-opened *sql.DB (driver "postgres", from
// github.com/lib/pq).
func NewConnPool(db *sql.DB) adapter.ConnPool {
	return &pool{db: db}
}

func (p *pool) Exec(ctx context.Context, query string, args ...any) (adapter.CommandTag, error) {
	res, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		if translated := translateErr(err); stderrors.As(translated, new(*lockError)) {
			return nil, translated
		}
		return nil, errors.Wrap(err, "pqdriver: exec")
	}
	return commandTag{res}, nil
}

func (p *pool) QueryRow(ctx context.Context, query string, args ...any) adapter.Row {
	return row{row: p.db.QueryRowContext(ctx, query, args...)}
}

func (p *pool) Query(ctx context.Context, query string, args ...any) (adapter.Rows, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		if translated := translateErr(err); stderrors.As(translated, new(*lockError)) {
			return nil, translated
		}
		return nil, errors.Wrap(err, "pqdriver: query")
	}
	return &rowsAdapter{rows}, nil
}

func (p *pool) Begin(ctx context.Context) (adapter.Tx, error) {
	t, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "pqdriver: begin")
	}
	return &tx{tx: t}, nil
}

func (p *pool) Close() { _ = p.db.Close() }

type commandTag struct {
	res sql.Result
}

func (c commandTag) RowsAffected() int64 {
	n, err := c.res.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}

// rowsAdapter reconciles database/sql's Close() error with adapter.Rows'
// Close(), matching the no-return-value shape pgx uses.
type rowsAdapter struct {
	rows *sql.Rows
}

func (r *rowsAdapter) Next() bool            { return r.rows.Next() }
func (r *rowsAdapter) Scan(dest ...any) error { return r.rows.Scan(dest...) }
func (r *rowsAdapter) Close()                 { _ = r.rows.Close() }
func (r *rowsAdapter) Err() error             { return r.rows.Err() }

type tx struct {
	tx           *sql.Tx
	postRollback []func(context.Context)
}

func (t *tx) Exec(ctx context.Context, query string, args ...any) (adapter.CommandTag, error) {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, translateErr(err)
	}
	return commandTag{res}, nil
}

func (t *tx) QueryRow(ctx context.Context, query string, args ...any) adapter.Row {
	return row{row: t.tx.QueryRowContext(ctx, query, args...)}
}

func (t *tx) Query(ctx context.Context, query string, args ...any) (adapter.Rows, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translateErr(err)
	}
	return &rowsAdapter{rows}, nil
}

func (t *tx) Commit(ctx context.Context) error {
	return t.tx.Commit()
}

func (t *tx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback()
	for _, fn := range t.postRollback {
		fn(context.WithoutCancel(ctx))
	}
	return err
}

func (t *tx) PostRollback(fn func(context.Context)) {
	t.postRollback = append(t.postRollback, fn)
}

func (t *tx) Dialect() adapter.Dialect { return adapter.DialectGeneric }
