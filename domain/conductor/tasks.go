package conductor

import (
	"context"
	"log/slog"
	"time"

	"github.com/engagic/engagic/domain/cities"
	"github.com/engagic/engagic/domain/processing"
	"github.com/engagic/engagic/domain/queue"
	"github.com/engagic/engagic/pkg/logger"
)

// Retention windows for the daily maintenance task. Completed jobs are only
// useful for short-term debugging; cache entries stay until nothing has
// reused them for a season.
const (
	completedJobRetention = 7 * 24 * time.Hour
	cacheRetention        = 90 * 24 * time.Hour
	deadLetterReportLimit = 20
)

// SyncSweepTask enqueues sync jobs for every active city whose last
// successful sync is older than the configured interval. The queue's dedupe
// index makes repeated sweeps idempotent while a sync is still pending.
type SyncSweepTask struct {
	cities   *cities.Repository
	queue    *queue.Repository
	interval time.Duration
	log      *slog.Logger
}

// NewSyncSweepTask creates a new sync sweep task
func NewSyncSweepTask(c *cities.Repository, q *queue.Repository, interval time.Duration, log *slog.Logger) *SyncSweepTask {
	return &SyncSweepTask{
		cities:   c,
		queue:    q,
		interval: interval,
		log:      log.With(logger.Scope("conductor.sync_sweep")),
	}
}

// Run enqueues sync jobs for stale cities
func (t *SyncSweepTask) Run(ctx context.Context) error {
	start := time.Now()
	cutoff := start.Add(-t.interval)

	stale, err := t.cities.ListStale(ctx, cutoff)
	if err != nil {
		return err
	}

	enqueued := 0
	for _, city := range stale {
		inserted, err := t.queue.Enqueue(ctx, queue.NewSyncCityJob(city.Banana))
		if err != nil {
			t.log.Warn("failed to enqueue sync",
				slog.String("banana", city.Banana),
				logger.Error(err))
			continue
		}
		if inserted {
			enqueued++
		}
	}

	if enqueued > 0 {
		t.log.Info("sync sweep completed",
			slog.Int("stale_cities", len(stale)),
			slog.Int("enqueued", enqueued),
			slog.Duration("duration", time.Since(start)))
	} else {
		t.log.Debug("sync sweep found nothing to do",
			slog.Int("stale_cities", len(stale)),
			slog.Duration("duration", time.Since(start)))
	}

	return nil
}

// StuckSweepTask recovers jobs whose lease expired with a dead worker and
// reports the dead-letter backlog.
type StuckSweepTask struct {
	queue *queue.Repository
	lease time.Duration
	log   *slog.Logger
}

// NewStuckSweepTask creates a new stuck job sweep task
func NewStuckSweepTask(q *queue.Repository, lease time.Duration, log *slog.Logger) *StuckSweepTask {
	return &StuckSweepTask{
		queue: q,
		lease: lease,
		log:   log.With(logger.Scope("conductor.stuck_sweep")),
	}
}

// Run resets stuck jobs and logs the dead-letter backlog
func (t *StuckSweepTask) Run(ctx context.Context) error {
	recovered, err := t.queue.ResetStuck(ctx, t.lease)
	if err != nil {
		return err
	}
	if recovered > 0 {
		t.log.Info("recovered stuck jobs", slog.Int64("count", recovered))
	}

	dead, err := t.queue.ListDeadLetters(ctx, deadLetterReportLimit)
	if err != nil {
		return err
	}
	if len(dead) == 0 {
		return nil
	}

	// Operators watch for this line; each entry carries enough to retry
	// manually via RetryDeadLetter.
	for _, job := range dead {
		t.log.Warn("dead-lettered job awaiting operator attention",
			slog.Int64("job_id", job.ID),
			slog.String("kind", job.Kind),
			slog.Int("attempts", job.Attempts),
			slog.String("last_error", job.LastError))
	}

	return nil
}

// MaintenanceTask prunes completed jobs and cold cache entries. Runs daily.
type MaintenanceTask struct {
	queue *queue.Repository
	cache *processing.CacheRepository
	log   *slog.Logger
}

// NewMaintenanceTask creates a new queue and cache maintenance task
func NewMaintenanceTask(q *queue.Repository, cache *processing.CacheRepository, log *slog.Logger) *MaintenanceTask {
	return &MaintenanceTask{
		queue: q,
		cache: cache,
		log:   log.With(logger.Scope("conductor.maintenance")),
	}
}

// Run purges old completed jobs and stale cache entries
func (t *MaintenanceTask) Run(ctx context.Context) error {
	start := time.Now()

	jobsPurged, err := t.queue.PurgeCompleted(ctx, completedJobRetention)
	if err != nil {
		return err
	}

	cachePurged, err := t.cache.Purge(ctx, start.Add(-cacheRetention))
	if err != nil {
		return err
	}

	t.log.Info("maintenance completed",
		slog.Int64("jobs_purged", jobsPurged),
		slog.Int64("cache_purged", cachePurged),
		slog.Duration("duration", time.Since(start)))

	return nil
}
