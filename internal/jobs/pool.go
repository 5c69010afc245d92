package jobs

import (
	"context"
	"fmt"
	"log/slog"
)

// Pool supervises a fixed set of workers sharing one handler. All workers
// claim from the same queue, so the pool scales throughput without any
// coordination beyond the queue's row locks.
type Pool struct {
	name    string
	workers []*Worker
}

// NewPool creates size workers configured from the template config. Worker
// names get a numeric suffix for log attribution.
func NewPool(config WorkerConfig, size int, q Queue, handler Handler, log *slog.Logger) *Pool {
	if size < 1 {
		size = 1
	}

	workers := make([]*Worker, 0, size)
	for i := 0; i < size; i++ {
		wc := config
		wc.Name = fmt.Sprintf("%s-%d", config.Name, i+1)
		workers = append(workers, NewWorker(wc, q, handler, log))
	}

	return &Pool{name: config.Name, workers: workers}
}

// Name returns the pool's base name
func (p *Pool) Name() string {
	return p.name
}

// Size returns the number of workers in the pool
func (p *Pool) Size() int {
	return len(p.workers)
}

// Start starts every worker in the pool
func (p *Pool) Start(ctx context.Context) error {
	for _, w := range p.workers {
		if err := w.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Stop stops every worker, sharing the context's deadline across them
func (p *Pool) Stop(ctx context.Context) error {
	for _, w := range p.workers {
		if err := w.Stop(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Metrics aggregates counters across the pool's workers
func (p *Pool) Metrics() WorkerMetrics {
	var total WorkerMetrics
	for _, w := range p.workers {
		m := w.Metrics()
		total.Processed += m.Processed
		total.Succeeded += m.Succeeded
		total.Failed += m.Failed
	}
	return total
}
