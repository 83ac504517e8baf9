package gue

import (
	"context"
	"fmt"
	"time"

	"github.com/carvalhoven/dque/adapter"
)

// drainPollInterval is the fixed poll cadence of the Wait helpers -
// they exist for tests, not production dispatch, so a tight sleep loop
// is fine.
const drainPollInterval = 100 * time.Millisecond

// WaitEmpty blocks until the job table has no rows at all, returning an
// error once timeout elapses first. Context cancellation is an additional
// exit path beyond the literal timeout.
func WaitEmpty(ctx context.Context, txFactory adapter.TxFactory, timeout time.Duration) error {
	return pollUntil(ctx, timeout, func(ctx context.Context) (bool, error) {
		tx, err := txFactory(ctx, "wait-empty")
		if err != nil {
			return false, err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		row := tx.QueryRow(ctx, `SELECT count(*) FROM job`)
		var n int64
		if err := row.Scan(&n); err != nil {
			return false, err
		}
		return n == 0, nil
	})
}

// WaitJobDone blocks until the given jobID no longer has a row in job.
func WaitJobDone(ctx context.Context, txFactory adapter.TxFactory, timeout time.Duration, jobID int64) error {
	return pollUntil(ctx, timeout, func(ctx context.Context) (bool, error) {
		tx, err := txFactory(ctx, "wait-job-done")
		if err != nil {
			return false, err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		row := tx.QueryRow(ctx, `SELECT count(*) FROM job WHERE job_id = $1`, jobID)
		var n int64
		if err := row.Scan(&n); err != nil {
			return false, err
		}
		return n == 0, nil
	})
}

// WaitWorkDone blocks until no job row references any of the given work
// types.
func WaitWorkDone(ctx context.Context, txFactory adapter.TxFactory, timeout time.Duration, workTypes []string) error {
	return pollUntil(ctx, timeout, func(ctx context.Context) (bool, error) {
		tx, err := txFactory(ctx, "wait-work-done")
		if err != nil {
			return false, err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		row := tx.QueryRow(ctx, `SELECT count(*) FROM job WHERE work_type = ANY($1)`, workTypes)
		var n int64
		if err := row.Scan(&n); err != nil {
			return false, err
		}
		return n == 0, nil
	})
}

func pollUntil(ctx context.Context, timeout time.Duration, check func(context.Context) (bool, error)) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()

	for {
		done, err := check(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("gue: timed out after %s waiting for condition", timeout)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
