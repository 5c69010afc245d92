package conductor

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/engagic/engagic/domain/cities"
	"github.com/engagic/engagic/domain/processing"
	"github.com/engagic/engagic/domain/queue"
	"github.com/engagic/engagic/internal/config"
)

// Module provides the scheduler and worker pools
var Module = fx.Module("conductor",
	fx.Provide(
		NewScheduler,
		NewPools,
	),
	fx.Invoke(
		RegisterTasks,
		RegisterConductorLifecycle,
	),
)

// TaskParams contains dependencies for creating scheduled tasks
type TaskParams struct {
	fx.In
	Scheduler *Scheduler
	Cities    *cities.Repository
	Queue     *queue.Repository
	Cache     *processing.CacheRepository
	Cfg       *config.Config
	Log       *slog.Logger
}

// RegisterTasks registers all scheduled tasks
func RegisterTasks(p TaskParams) error {
	syncSweep := NewSyncSweepTask(p.Cities, p.Queue, p.Cfg.Scheduler.SyncInterval(), p.Log)
	if err := p.Scheduler.AddIntervalTask("sync_sweep",
		p.Cfg.Scheduler.SyncInterval(), syncSweep.Run); err != nil {
		return err
	}

	stuckSweep := NewStuckSweepTask(p.Queue, p.Cfg.Queue.Lease(), p.Log)
	if err := p.Scheduler.AddIntervalTask("stuck_sweep",
		p.Cfg.Scheduler.RetrySweepInterval(), stuckSweep.Run); err != nil {
		return err
	}

	maintenance := NewMaintenanceTask(p.Queue, p.Cache, p.Log)
	if err := p.Scheduler.AddCronTask("maintenance", "0 0 3 * * *", maintenance.Run); err != nil {
		return err
	}

	p.Log.Info("registered scheduled tasks",
		slog.Any("tasks", p.Scheduler.ListTasks()))

	return nil
}

// LifecycleParams contains the components started with the fx app
type LifecycleParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	Scheduler *Scheduler
	Pools     *Pools
	Cities    *cities.Repository
	Queue     *queue.Repository
	Cfg       *config.Config
	Log       *slog.Logger
}

// RegisterConductorLifecycle starts the scheduler and worker pools with the
// app and drains them on shutdown. An immediate sync sweep runs at startup
// so a fresh deploy does not wait a full interval for its first crawl.
func RegisterConductorLifecycle(p LifecycleParams) {
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := p.Pools.Start(ctx); err != nil {
				return err
			}
			if err := p.Scheduler.Start(ctx); err != nil {
				return err
			}

			sweep := NewSyncSweepTask(p.Cities, p.Queue, p.Cfg.Scheduler.SyncInterval(), p.Log)
			go func() {
				if err := sweep.Run(context.Background()); err != nil {
					p.Log.Warn("startup sync sweep failed", slog.String("error", err.Error()))
				}
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := p.Scheduler.Stop(ctx); err != nil {
				return err
			}
			return p.Pools.Stop(ctx)
		},
	})
}
