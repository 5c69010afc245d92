package conductor

import (
	"context"
	"log/slog"
	"time"

	"github.com/engagic/engagic/domain/processing"
	"github.com/engagic/engagic/domain/queue"
	"github.com/engagic/engagic/domain/sync"
	"github.com/engagic/engagic/internal/config"
	"github.com/engagic/engagic/internal/jobs"
)

// Pools holds the two worker pools. Fetchers stay few to keep vendor
// traffic polite; processors scale with the LLM budget.
type Pools struct {
	Fetchers   *jobs.Pool
	Processors *jobs.Pool

	drain time.Duration
}

// NewPools builds the fetcher and processor pools from config
func NewPools(cfg *config.Config, q *queue.Repository, fetcher *sync.Fetcher, processor *processing.Processor, log *slog.Logger) *Pools {
	fetcherCfg := jobs.WorkerConfig{
		Name:         "fetcher",
		PollInterval: cfg.Workers.PollInterval,
		MaxAttempts:  cfg.Queue.MaxAttempts,
	}
	processorCfg := jobs.WorkerConfig{
		Name:         "processor",
		PollInterval: cfg.Workers.PollInterval,
		MaxAttempts:  cfg.Queue.MaxAttempts,
	}

	return &Pools{
		Fetchers:   jobs.NewPool(fetcherCfg, cfg.Workers.Fetchers, q, fetcher, log),
		Processors: jobs.NewPool(processorCfg, cfg.Workers.Processors, q, processor, log),
		drain:      cfg.Workers.DrainTimeout,
	}
}

// Start starts both pools
func (p *Pools) Start(ctx context.Context) error {
	if err := p.Fetchers.Start(ctx); err != nil {
		return err
	}
	return p.Processors.Start(ctx)
}

// Stop drains both pools within the configured drain timeout
func (p *Pools) Stop(ctx context.Context) error {
	drainCtx, cancel := context.WithTimeout(ctx, p.drain)
	defer cancel()

	if err := p.Fetchers.Stop(drainCtx); err != nil {
		return err
	}
	return p.Processors.Stop(drainCtx)
}

// Metrics returns per-pool worker metrics keyed by pool name
func (p *Pools) Metrics() map[string]jobs.WorkerMetrics {
	return map[string]jobs.WorkerMetrics{
		p.Fetchers.Name():   p.Fetchers.Metrics(),
		p.Processors.Name(): p.Processors.Metrics(),
	}
}
