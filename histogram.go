package gue

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
	"time"

	"github.com/carvalhoven/dque/adapter"
)

// WorkTypeStats is one work type's row in the histogram: queue-depth
// figures read live from the database, plus the process-local completion
// counters that only this process's workers have observed.
type WorkTypeStats struct {
	Queued    int64
	Assigned  int64
	Late      int64
	Failed    int64
	Orphaned  int64
	Completed int64
	Time      time.Duration
}

// counters holds the per-work-type, process-local completion figures: a
// monotonic count and an aggregate duration. Orphaned tracks
// crashed-worker reclaims separately from ordinary failures.
type counters struct {
	completed atomic.Int64
	nanos     atomic.Int64
	orphaned  atomic.Int64
}

var processCounters sync.Map // work type string -> *counters

func countersFor(workType string) *counters {
	v, _ := processCounters.LoadOrStore(workType, &counters{})
	return v.(*counters)
}

func recordCompletion(workType string, elapsed time.Duration) {
	c := countersFor(workType)
	c.completed.Add(1)
	c.nanos.Add(int64(elapsed))
}

func recordOrphaned(workType string) {
	countersFor(workType).orphaned.Add(1)
}

// resetCounters clears the process-local histogram counters. Test-support
// only, mirroring resetRegistry.
func resetCounters() {
	processCounters = sync.Map{}
}

// Histogram returns, for every known work type, queued/assigned/late/failed
// counts read live from the job table plus this process's local
// completed/time/orphaned counters. Every registered work type
// appears even with zero queued rows, so a quiet work type is still
// visible in the result rather than silently absent.
func Histogram(ctx context.Context, tx adapter.Tx) (map[string]WorkTypeStats, error) {
	out := make(map[string]WorkTypeStats)

	registry.Range(func(key, _ any) bool {
		out[key.(string)] = WorkTypeStats{}
		return true
	})

	now := time.Now().UTC()
	rows, err := tx.Query(ctx, `SELECT work_type, assigned, not_before, failed FROM job`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			workType  string
			assigned  sql.NullTime
			notBefore time.Time
			failed    int32
		)
		if err := rows.Scan(&workType, &assigned, &notBefore, &failed); err != nil {
			return nil, err
		}

		stats := out[workType]
		stats.Queued++
		if assigned.Valid {
			stats.Assigned++
		} else if notBefore.Before(now) {
			stats.Late++
		}
		stats.Failed += int64(failed)
		out[workType] = stats
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for workType, stats := range out {
		c := countersFor(workType)
		stats.Completed = c.completed.Load()
		stats.Time = time.Duration(c.nanos.Load())
		stats.Orphaned = c.orphaned.Load()
		out[workType] = stats
	}

	return out, nil
}
