package queue

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/uptrace/bun"

	"github.com/engagic/engagic/pkg/apperror"
	"github.com/engagic/engagic/pkg/logger"
	"github.com/engagic/engagic/pkg/mathutil"
	"github.com/engagic/engagic/pkg/pgutils"
)

// retryBaseSeconds is the first retry delay; each further attempt doubles it.
const retryBaseSeconds = 10

const (
	defaultDeadLetterLimit = 50
	maxDeadLetterLimit     = 500
)

// Repository is the durable job queue over queue_jobs. All hand-off between
// the conductor and the worker pools goes through it; claims are protected
// with FOR UPDATE SKIP LOCKED so any number of workers can pull concurrently.
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

// NewRepository creates a new queue repository
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("queue.repo")),
	}
}

// Enqueue adds a job unless an identical one is already waiting. A duplicate
// enqueue keeps the waiting job but lets it win priority races and never
// pushes its schedule later. Returns whether a new row was created.
func (r *Repository) Enqueue(ctx context.Context, params EnqueueParams) (bool, error) {
	job := &Job{
		Kind:     params.Kind,
		Payload:  params.Payload,
		Priority: params.Priority,
	}
	if params.RunAt != nil {
		job.ScheduledAt = *params.RunAt
	}

	var inserted bool
	_, err := r.db.NewInsert().
		Model(job).
		On("CONFLICT (kind, payload) WHERE status = ? DO UPDATE", StatusPending).
		Set("priority = GREATEST(qj.priority, EXCLUDED.priority)").
		Set("scheduled_at = LEAST(qj.scheduled_at, EXCLUDED.scheduled_at)").
		Returning("(xmax = 0)").
		Exec(ctx, &inserted)

	if err != nil {
		r.log.Error("failed to enqueue job", logger.Error(err), slog.String("kind", params.Kind))
		return false, apperror.ErrDatabase.WithInternal(err)
	}

	return inserted, nil
}

// NextJob claims the highest-priority due job of the given kinds and marks it
// processing. Returns nil when nothing is due. The claim and the status flip
// happen in one statement, so two workers can never hold the same job.
func (r *Repository) NextJob(ctx context.Context, kinds ...string) (*Job, error) {
	if len(kinds) == 0 {
		return nil, apperror.ErrBadRequest.WithMessage("next job requires at least one kind")
	}

	var job Job
	err := r.db.NewRaw(`
		WITH next AS (
			SELECT id FROM queue_jobs
			WHERE status = ? AND kind IN (?) AND scheduled_at <= now()
			ORDER BY priority DESC, id ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE queue_jobs AS qj
		SET status = ?, started_at = now(), attempts = qj.attempts + 1
		FROM next
		WHERE qj.id = next.id
		RETURNING qj.*`,
		StatusPending, bun.In(kinds), StatusProcessing).
		Scan(ctx, &job)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.log.Error("failed to claim job", logger.Error(err))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	return &job, nil
}

// MarkComplete finishes a held job. Only a job still in processing can be
// completed; a worker that lost its lease gets ErrNotFound instead of
// overwriting whoever re-claimed the work.
func (r *Repository) MarkComplete(ctx context.Context, id int64) error {
	res, err := r.db.NewUpdate().
		Model((*Job)(nil)).
		Set("status = ?", StatusCompleted).
		Set("completed_at = now()").
		Set("last_error = NULL").
		Where("qj.id = ?", id).
		Where("qj.status = ?", StatusProcessing).
		Exec(ctx)

	if err != nil {
		r.log.Error("failed to complete job", logger.Error(err), slog.Int64("id", id))
		return apperror.ErrDatabase.WithInternal(err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return apperror.ErrNotFound.WithMessagef("job %d is not processing", id)
	}

	return nil
}

// MarkFailed records the error and schedules a retry with exponential backoff
// (10s, 20s, 40s, ...), or parks the job in dead_letter once attempts reach
// maxAttempts. Returns whether the job went dead.
func (r *Repository) MarkFailed(ctx context.Context, id int64, jobErr string, maxAttempts int) (bool, error) {
	var status string
	err := r.db.NewRaw(`
		UPDATE queue_jobs SET
			status = CASE WHEN attempts >= ? THEN ? ELSE ? END,
			last_error = ?,
			scheduled_at = CASE WHEN attempts >= ? THEN scheduled_at
				ELSE now() + make_interval(secs => ? * power(2, attempts)) END,
			started_at = NULL,
			completed_at = CASE WHEN attempts >= ? THEN now() ELSE NULL END
		WHERE id = ? AND status = ?
		RETURNING status`,
		maxAttempts, StatusDeadLetter, StatusPending,
		jobErr,
		maxAttempts, retryBaseSeconds,
		maxAttempts,
		id, StatusProcessing).
		Scan(ctx, &status)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, apperror.ErrNotFound.WithMessagef("job %d is not processing", id)
		}
		r.log.Error("failed to mark job failed", logger.Error(err), slog.Int64("id", id))
		return false, apperror.ErrDatabase.WithInternal(err)
	}

	dead := status == StatusDeadLetter
	if dead {
		r.log.Warn("job moved to dead letter", slog.Int64("id", id), slog.String("error", jobErr))
	}

	return dead, nil
}

// MarkFailedPermanent fails a job without retries: the error is one more
// attempts cannot fix (undecodable payload, referenced row gone).
func (r *Repository) MarkFailedPermanent(ctx context.Context, id int64, jobErr string) error {
	res, err := r.db.NewUpdate().
		Model((*Job)(nil)).
		Set("status = ?", StatusFailed).
		Set("last_error = ?", jobErr).
		Set("started_at = NULL").
		Set("completed_at = now()").
		Where("qj.id = ?", id).
		Where("qj.status = ?", StatusProcessing).
		Exec(ctx)

	if err != nil {
		r.log.Error("failed to mark job permanently failed", logger.Error(err), slog.Int64("id", id))
		return apperror.ErrDatabase.WithInternal(err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return apperror.ErrNotFound.WithMessagef("job %d is not processing", id)
	}

	return nil
}

// ResetStuck returns lease-expired processing jobs to the queue. A job whose
// identical twin was enqueued while the dead worker held it cannot go back to
// pending (the dedupe index forbids two pending twins), so it is failed as
// superseded instead.
func (r *Repository) ResetStuck(ctx context.Context, lease time.Duration) (int64, error) {
	twin := `SELECT 1 FROM queue_jobs p
		WHERE p.kind = qj.kind AND p.payload = qj.payload AND p.status = 'pending'`

	res, err := r.db.NewUpdate().
		Model((*Job)(nil)).
		Set("status = ?", StatusPending).
		Set("started_at = NULL").
		Set("scheduled_at = now()").
		Where("qj.status = ?", StatusProcessing).
		Where("qj.started_at < now() - make_interval(secs => ?)", lease.Seconds()).
		Where("NOT EXISTS ("+twin+")").
		Exec(ctx)
	if err != nil {
		r.log.Error("failed to reset stuck jobs", logger.Error(err))
		return 0, apperror.ErrDatabase.WithInternal(err)
	}
	reset, _ := res.RowsAffected()

	res, err = r.db.NewUpdate().
		Model((*Job)(nil)).
		Set("status = ?", StatusFailed).
		Set("started_at = NULL").
		Set("completed_at = now()").
		Set("last_error = 'lease expired; superseded by a newer job'").
		Where("qj.status = ?", StatusProcessing).
		Where("qj.started_at < now() - make_interval(secs => ?)", lease.Seconds()).
		Where("EXISTS ("+twin+")").
		Exec(ctx)
	if err != nil {
		r.log.Error("failed to fail superseded stuck jobs", logger.Error(err))
		return reset, apperror.ErrDatabase.WithInternal(err)
	}
	superseded, _ := res.RowsAffected()

	if reset+superseded > 0 {
		r.log.Warn("recovered stuck jobs",
			slog.Int64("reset", reset),
			slog.Int64("superseded", superseded),
			slog.Duration("lease", lease))
	}

	return reset + superseded, nil
}

// Stats is a point-in-time snapshot of queue health.
type Stats struct {
	Pending              int     `json:"pending"`
	Processing           int     `json:"processing"`
	Completed            int     `json:"completed"`
	Failed               int     `json:"failed"`
	DeadLetter           int     `json:"dead_letter"`
	OldestPendingSeconds float64 `json:"oldest_pending_seconds"`
}

// Stats counts jobs by status and measures how long the oldest due job has
// been waiting.
func (r *Repository) Stats(ctx context.Context) (*Stats, error) {
	var rows []struct {
		Status string `bun:"status"`
		Count  int    `bun:"count"`
	}

	err := r.db.NewSelect().
		Model((*Job)(nil)).
		ColumnExpr("qj.status").
		ColumnExpr("count(*)::int AS count").
		GroupExpr("qj.status").
		Scan(ctx, &rows)
	if err != nil {
		r.log.Error("failed to load queue stats", logger.Error(err))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	stats := &Stats{}
	for _, row := range rows {
		switch row.Status {
		case StatusPending:
			stats.Pending = row.Count
		case StatusProcessing:
			stats.Processing = row.Count
		case StatusCompleted:
			stats.Completed = row.Count
		case StatusFailed:
			stats.Failed = row.Count
		case StatusDeadLetter:
			stats.DeadLetter = row.Count
		}
	}

	err = r.db.NewRaw(`
		SELECT coalesce(extract(epoch FROM now() - min(created_at)), 0)
		FROM queue_jobs
		WHERE status = ? AND scheduled_at <= now()`,
		StatusPending).
		Scan(ctx, &stats.OldestPendingSeconds)
	if err != nil {
		r.log.Error("failed to measure queue age", logger.Error(err))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	return stats, nil
}

// ListDeadLetters returns recently parked jobs, newest first.
func (r *Repository) ListDeadLetters(ctx context.Context, limit int) ([]Job, error) {
	var list []Job

	err := r.db.NewSelect().
		Model(&list).
		Where("qj.status = ?", StatusDeadLetter).
		OrderExpr("qj.completed_at DESC NULLS LAST, qj.id DESC").
		Limit(mathutil.ClampLimit(limit, defaultDeadLetterLimit, maxDeadLetterLimit)).
		Scan(ctx)

	if err != nil {
		r.log.Error("failed to list dead letters", logger.Error(err))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	return list, nil
}

// RetryDeadLetter requeues a dead-letter job with a fresh attempt budget.
// The last error stays on the row until the retry overwrites it.
func (r *Repository) RetryDeadLetter(ctx context.Context, id int64) error {
	res, err := r.db.NewUpdate().
		Model((*Job)(nil)).
		Set("status = ?", StatusPending).
		Set("attempts = 0").
		Set("scheduled_at = now()").
		Set("started_at = NULL").
		Set("completed_at = NULL").
		Where("qj.id = ?", id).
		Where("qj.status = ?", StatusDeadLetter).
		Exec(ctx)

	if err != nil {
		if pgutils.IsUniqueViolation(err) {
			return apperror.ErrConflict.WithMessage("an identical job is already pending")
		}
		r.log.Error("failed to retry dead letter", logger.Error(err), slog.Int64("id", id))
		return apperror.ErrDatabase.WithInternal(err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return apperror.ErrNotFound.WithMessagef("dead-letter job %d not found", id)
	}

	return nil
}

// PurgeCompleted deletes completed and permanently failed jobs older than
// the retention window. Dead letters are kept for operator requeue.
func (r *Repository) PurgeCompleted(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := r.db.NewDelete().
		Model((*Job)(nil)).
		Where("status IN (?, ?)", StatusCompleted, StatusFailed).
		Where("completed_at < now() - make_interval(secs => ?)", olderThan.Seconds()).
		Exec(ctx)

	if err != nil {
		r.log.Error("failed to purge completed jobs", logger.Error(err))
		return 0, apperror.ErrDatabase.WithInternal(err)
	}

	purged, _ := res.RowsAffected()
	return purged, nil
}
