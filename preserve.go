package gue

import (
	"context"

	"github.com/carvalhoven/dque/adapter"
)

// ultimatelyPerformPreserving is UltimatelyPerform in
// preserve-completed-jobs mode: instead of deleting the job row on
// success, it is copied into job_finished and then removed from job,
// leaving an audit trail of completed work.
func ultimatelyPerformPreserving(ctx context.Context, txFactory adapter.TxFactory, jobID int64, bo Backoff, logger adapter.Logger) error {
	return ultimatelyPerform(ctx, txFactory, jobID, bo, logger, finishPreserving)
}

func finishPreserving(j *Job, ctx context.Context) error {
	tx := j.Tx()
	_, err := tx.Exec(ctx, `
		INSERT INTO job_finished (job_id, work_type, priority, weight, not_before, failed, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())`,
		j.ID, j.WorkType, j.Priority, j.Weight, j.NotBefore, j.Failed,
	)
	if err != nil {
		return err
	}
	return j.Delete(ctx)
}
