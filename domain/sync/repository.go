// Package sync drives city sync jobs: pulling a city's agendas through its
// vendor adapter, persisting the results, and enqueueing processing work.
package sync

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/engagic/engagic/pkg/apperror"
	"github.com/engagic/engagic/pkg/logger"
)

// Record is one row of the sync_log: a single run of one city's sync.
type Record struct {
	bun.BaseModel `bun:"table:sync_log,alias:sl"`

	ID              int64      `bun:"id,pk,autoincrement"`
	RunID           uuid.UUID  `bun:"run_id,type:uuid,notnull"`
	Banana          string     `bun:"banana,notnull"`
	StartedAt       time.Time  `bun:"started_at,nullzero,notnull,default:now()"`
	CompletedAt     *time.Time `bun:"completed_at"`
	MeetingsFound   int        `bun:"meetings_found,notnull"`
	MeetingsChanged int        `bun:"meetings_changed,notnull"`
	Error           string     `bun:"error,nullzero"`
}

// Repository handles database operations for the sync log
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

// NewRepository creates a new sync log repository
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("sync.repo")),
	}
}

// Begin opens a sync log entry for one city run.
func (r *Repository) Begin(ctx context.Context, runID uuid.UUID, banana string) (*Record, error) {
	record := &Record{RunID: runID, Banana: banana}

	_, err := r.db.NewInsert().
		Model(record).
		Returning("*").
		Exec(ctx)

	if err != nil {
		r.log.Error("failed to open sync log entry", logger.Error(err), slog.String("banana", banana))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	return record, nil
}

// Complete closes a run as successful with its counts.
func (r *Repository) Complete(ctx context.Context, id int64, found, changed int) error {
	_, err := r.db.NewUpdate().
		Model((*Record)(nil)).
		Set("completed_at = now()").
		Set("meetings_found = ?", found).
		Set("meetings_changed = ?", changed).
		Where("id = ?", id).
		Exec(ctx)

	if err != nil {
		r.log.Error("failed to close sync log entry", logger.Error(err))
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// Fail closes a run with its error. A failed run does not refresh the city's
// staleness clock.
func (r *Repository) Fail(ctx context.Context, id int64, runErr string) error {
	_, err := r.db.NewUpdate().
		Model((*Record)(nil)).
		Set("completed_at = now()").
		Set("error = ?", runErr).
		Where("id = ?", id).
		Exec(ctx)

	if err != nil {
		r.log.Error("failed to record sync failure", logger.Error(err))
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// History returns a city's recent runs, newest first.
func (r *Repository) History(ctx context.Context, banana string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}

	var records []Record
	err := r.db.NewSelect().
		Model(&records).
		Where("sl.banana = ?", banana).
		Order("sl.started_at DESC").
		Limit(limit).
		Scan(ctx)

	if err != nil {
		r.log.Error("failed to list sync history", logger.Error(err), slog.String("banana", banana))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	return records, nil
}
