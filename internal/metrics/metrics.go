// Package metrics exposes the queue's live histogram as Prometheus
// collectors. A caller supplies its own prometheus.Registerer rather
// than relying on the global default, so tests can use an isolated
// prometheus.Registry.
package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	gue "github.com/carvalhoven/dque"
	"github.com/carvalhoven/dque/adapter"
)

// Collector refreshes a fixed set of per-work-type gauges/counters from
// gue.Histogram on a timer. It does not itself dispatch jobs - wire it
// up alongside a WorkerPool, not inside one.
type Collector struct {
	txFactory adapter.TxFactory

	queued    *prometheus.GaugeVec
	assigned  *prometheus.GaugeVec
	late      *prometheus.GaugeVec
	orphaned  *prometheus.CounterVec
	completed *prometheus.CounterVec
	failed    *prometheus.CounterVec
	duration  *prometheus.CounterVec

	mu   sync.Mutex
	seen map[string]gue.WorkTypeStats // last cumulative totals observed, for counter deltas
}

// NewCollector builds and registers the queue's collectors against
// registerer. pool is used to open a short read-only transaction on
// each refresh.
func NewCollector(registerer prometheus.Registerer, pool adapter.ConnPool) *Collector {
	c := &Collector{
		txFactory: func(ctx context.Context, _ string) (adapter.Tx, error) { return pool.Begin(ctx) },
		seen:      make(map[string]gue.WorkTypeStats),

		queued: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gue", Name: "jobs_queued", Help: "Current number of job rows for this work type.",
		}, []string{"work_type"}),
		assigned: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gue", Name: "jobs_assigned", Help: "Current number of assigned (in-flight) job rows.",
		}, []string{"work_type"}),
		late: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gue", Name: "jobs_late", Help: "Current number of eligible-but-unassigned job rows past not_before.",
		}, []string{"work_type"}),
		orphaned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gue", Name: "jobs_orphaned_total", Help: "Jobs reclaimed from a crashed worker, cumulative since process start.",
		}, []string{"work_type"}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gue", Name: "jobs_completed_total", Help: "Jobs completed successfully, cumulative since process start.",
		}, []string{"work_type"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gue", Name: "jobs_failed_total", Help: "Job failures, cumulative since process start.",
		}, []string{"work_type"}),
		duration: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gue", Name: "job_duration_seconds_total", Help: "Cumulative time spent executing completed jobs, in seconds.",
		}, []string{"work_type"}),
	}

	registerer.MustRegister(c.queued, c.assigned, c.late, c.orphaned, c.completed, c.failed, c.duration)
	return c
}

// Run refreshes the collectors every interval until ctx is cancelled.
func (c *Collector) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil {
				return err
			}
		}
	}
}

// Refresh reads the current histogram once and updates every collector.
// Queued/Assigned/Late are instantaneous, so they become gauges directly.
// Failed/Orphaned/Completed/Time are cumulative totals gue.Histogram
// already tracks (on the job rows or in process-local atomics), so each
// refresh adds only the delta since the previous refresh to the
// Prometheus counter - counters only ever increase, so the raw totals
// can't be set directly without risking a decrease if a row's failed
// count resets.
func (c *Collector) Refresh(ctx context.Context) error {
	tx, err := c.txFactory(ctx, "metrics-refresh")
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	stats, err := gue.Histogram(ctx, tx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for workType, s := range stats {
		c.queued.WithLabelValues(workType).Set(float64(s.Queued))
		c.assigned.WithLabelValues(workType).Set(float64(s.Assigned))
		c.late.WithLabelValues(workType).Set(float64(s.Late))

		prev := c.seen[workType]
		addDelta(c.failed.WithLabelValues(workType), prev.Failed, s.Failed)
		addDelta(c.orphaned.WithLabelValues(workType), prev.Orphaned, s.Orphaned)
		addDelta(c.completed.WithLabelValues(workType), prev.Completed, s.Completed)
		if d := s.Time - prev.Time; d > 0 {
			c.duration.WithLabelValues(workType).Add(d.Seconds())
		}

		c.seen[workType] = s
	}
	return nil
}

// addDelta advances counter by next-prev when the total grew, ignoring a
// decrease (a process restart resetting the process-local figures back
// to zero) rather than pushing the Prometheus counter backwards.
func addDelta(counter prometheus.Counter, prev, next int64) {
	if d := next - prev; d > 0 {
		counter.Add(float64(d))
	}
}
