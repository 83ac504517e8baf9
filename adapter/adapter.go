// Package adapter decouples the gue core from any specific SQL driver or
// logging library. Everything the dispatcher and the job record need from
// the database and from the host's logging setup is expressed here as an
// interface; concrete implementations live in the adapter subpackages
// (pgxv5, pgxv4, pqdriver, zaplog, adaptertest).
package adapter

import (
	"context"
	"errors"
)

// Dialect discriminates SQL engines whose locking syntax differs enough to
// change how NextJobs is built. Everything that is not Oracle is assumed to
// support "SELECT ... ORDER BY ... FOR UPDATE" directly.
type Dialect int

const (
	DialectGeneric Dialect = iota
	DialectOracle
)

// ErrLockNotAvailable is the adapter-agnostic translation of a
// FOR UPDATE NOWAIT conflict (Postgres SQLSTATE 55P03, and the
// equivalent on other engines). Each adapter implementation is
// responsible for recognizing its driver's lock-conflict error and
// wrapping it so this sentinel is found by errors.Is.
var ErrLockNotAvailable = errors.New("adapter: lock not available")

// ErrNoRows is the adapter-agnostic translation of a QueryRow that
// matched nothing. database/sql, pgx/v4 and pgx/v5 each carry their own
// no-rows sentinel; adapter implementations map theirs to this one so
// callers can test with a single errors.Is.
var ErrNoRows = errors.New("adapter: no rows in result set")

// CommandTag reports the outcome of a non-query statement.
type CommandTag interface {
	RowsAffected() int64
}

// Row is the result of QueryRow - at most one row, scanned on demand.
type Row interface {
	Scan(dest ...any) error
}

// Rows is the result of a multi-row Query.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Close()
	Err() error
}

// Queryable is the subset of operations shared by a pool and a transaction.
type Queryable interface {
	Exec(ctx context.Context, sql string, args ...any) (CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) Row
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
}

// Tx is a single database transaction. PostRollback fires a callback after
// Rollback has completed, in a context independent of the one the
// transaction itself ran under - this is the contract's answer to the
// source's postAbort hook, but the core dispatcher does not rely on it: it
// opens its own follow-up transaction once Rollback returns instead of
// threading a closure through the lock boundary. Hosts that want the
// callback style may still use it.
type Tx interface {
	Queryable
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	PostRollback(fn func(context.Context))
	Dialect() Dialect
}

// ConnPool hands out transactions and serves un-transacted statements.
type ConnPool interface {
	Queryable
	Begin(ctx context.Context) (Tx, error)
	Close()
}

// TxFactory opens a new, uncommitted transaction, labelled for logging.
type TxFactory func(ctx context.Context, label string) (Tx, error)

// Field is a single structured logging attribute.
type Field struct {
	Key   string
	Value any
}

// F builds a Field - shorthand used throughout the core.
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Logger is the structured logger contract. zaplog.New wraps a *zap.Logger;
// NewNoopLogger is the default when a caller configures none.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	With(fields ...Field) Logger
}

type noopLogger struct{}

// NewNoopLogger returns a Logger that discards everything. This is the
// default logger for Worker/WorkerPool/Client so the library stays silent
// unless a caller opts in.
func NewNoopLogger() Logger { return noopLogger{} }

func (noopLogger) Debug(string, ...Field) {}
func (noopLogger) Info(string, ...Field)  {}
func (noopLogger) Error(string, ...Field) {}
func (l noopLogger) With(...Field) Logger { return l }
