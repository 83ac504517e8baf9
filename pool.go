package gue

import (
	"context"
	"fmt"
	"math/rand"

	"golang.org/x/sync/errgroup"

	"github.com/carvalhoven/dque/adapter"
)

// WorkerPool runs a fixed number of Workers against the same pool,
// sharing its configuration. Pool-level options are plain sugar that
// apply the matching WorkerOption to every member - see worker_option.go.
type WorkerPool struct {
	id     string
	logger adapter.Logger

	workers []*Worker
}

// NewWorkerPool builds size Workers sharing pool, applying every option
// to each of them.
func NewWorkerPool(pool adapter.ConnPool, size int, opts ...WorkerPoolOption) *WorkerPool {
	p := &WorkerPool{
		id:     fmt.Sprintf("pool-%d", rand.Int63()),
		logger: adapter.NewNoopLogger(),
	}

	p.workers = make([]*Worker, size)
	for i := range p.workers {
		p.workers[i] = NewWorker(pool, WithWorkerID(fmt.Sprintf("%s-worker-%d", p.id, i)))
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// apply runs a WorkerOption against every worker currently in the pool.
func (p *WorkerPool) apply(opt WorkerOption) {
	for _, w := range p.workers {
		opt(w)
	}
}

// Run starts every worker and blocks until ctx is cancelled or any
// worker returns a non-context error, in which case the rest are
// cancelled too.
func (p *WorkerPool) Run(ctx context.Context) error {
	p.logger.Info("worker pool starting", adapter.F("size", len(p.workers)))
	defer p.logger.Info("worker pool stopped")

	g, ctx := errgroup.WithContext(ctx)
	for _, w := range p.workers {
		w := w
		g.Go(func() error {
			err := w.Run(ctx)
			if ctx.Err() != nil {
				return nil
			}
			return err
		})
	}
	return g.Wait()
}
