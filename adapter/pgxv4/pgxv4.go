// Package pgxv4 implements adapter.ConnPool and adapter.Tx on top of
// github.com/jackc/pgx/v4, kept alongside pgxv5 for hosts pinned to the
// older major version. Lock-conflict translation is against
// github.com/jackc/pgconn's v1 PgError, the version pgx/v4 pairs with.
package pgxv4

import (
	"context"
	"errors"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/carvalhoven/dque/adapter"
)

// lockNotAvailableSQLState is Postgres' SQLSTATE for a FOR UPDATE NOWAIT
// conflict - same translation pgxv5 does, against the v1 pgconn.PgError
// this older driver major version carries.
const lockNotAvailableSQLState = "55P03"

func translateErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == lockNotAvailableSQLState {
		return &lockError{cause: err}
	}
	return err
}

type lockError struct{ cause error }

func (e *lockError) Error() string        { return e.cause.Error() }
func (e *lockError) Unwrap() error        { return e.cause }
func (e *lockError) Is(target error) bool { return target == adapter.ErrLockNotAvailable }

// row defers pgx's no-rows sentinel translation until Scan, where it
// actually surfaces.
type row struct {
	row pgx.Row
}

func (r row) Scan(dest ...any) error {
	err := r.row.Scan(dest...)
	if errors.Is(err, pgx.ErrNoRows) {
		return adapter.ErrNoRows
	}
	return translateErr(err)
}

type pool struct {
	pool *pgxpool.Pool
}

// NewConnPool wraps an already-configured *pgxpool.Pool.
func NewConnPool(p *pgxpool.Pool) adapter.ConnPool {
	return &pool{pool: p}
}

func (p *pool) Exec(ctx context.Context, sql string, args ...any) (adapter.CommandTag, error) {
	tag, err := p.pool.Exec(ctx, sql, args...)
	return tag, translateErr(err)
}

func (p *pool) QueryRow(ctx context.Context, sql string, args ...any) adapter.Row {
	return row{row: p.pool.QueryRow(ctx, sql, args...)}
}

func (p *pool) Query(ctx context.Context, sql string, args ...any) (adapter.Rows, error) {
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, translateErr(err)
	}
	return rows, nil
}

func (p *pool) Begin(ctx context.Context) (adapter.Tx, error) {
	t, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &tx{tx: t}, nil
}

func (p *pool) Close() { p.pool.Close() }

type tx struct {
	tx           pgx.Tx
	postRollback []func(context.Context)
}

func (t *tx) Exec(ctx context.Context, sql string, args ...any) (adapter.CommandTag, error) {
	tag, err := t.tx.Exec(ctx, sql, args...)
	return tag, translateErr(err)
}

func (t *tx) QueryRow(ctx context.Context, sql string, args ...any) adapter.Row {
	return row{row: t.tx.QueryRow(ctx, sql, args...)}
}

func (t *tx) Query(ctx context.Context, sql string, args ...any) (adapter.Rows, error) {
	rows, err := t.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, translateErr(err)
	}
	return rows, nil
}

func (t *tx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *tx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	for _, fn := range t.postRollback {
		fn(context.WithoutCancel(ctx))
	}
	return err
}

func (t *tx) PostRollback(fn func(context.Context)) {
	t.postRollback = append(t.postRollback, fn)
}

func (t *tx) Dialect() adapter.Dialect { return adapter.DialectGeneric }
