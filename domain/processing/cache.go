package processing

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/uptrace/bun"

	"github.com/engagic/engagic/pkg/apperror"
	"github.com/engagic/engagic/pkg/logger"
)

// CacheEntry is a stored summarisation result keyed by the sha256 of the
// exact text that was summarised. Identical packet text across meetings
// (common for recurring boards) costs one LLM call instead of many.
type CacheEntry struct {
	bun.BaseModel `bun:"table:processing_cache,alias:pc"`

	ContentHash  string    `bun:"content_hash,pk"`
	Summary      string    `bun:"summary,notnull"`
	Topics       []string  `bun:"topics,type:jsonb"`
	Method       string    `bun:"method,nullzero"`
	CostCents    int       `bun:"cost_cents,notnull"`
	Hits         int       `bun:"hits,notnull"`
	CreatedAt    time.Time `bun:"created_at,nullzero,notnull,default:now()"`
	LastAccessed time.Time `bun:"last_accessed,nullzero,notnull,default:now()"`
}

// CacheRepository handles database operations for the summary cache
type CacheRepository struct {
	db  bun.IDB
	log *slog.Logger
}

// NewCacheRepository creates a new cache repository
func NewCacheRepository(db bun.IDB, log *slog.Logger) *CacheRepository {
	return &CacheRepository{
		db:  db,
		log: log.With(logger.Scope("processing.cache")),
	}
}

// Lookup returns the cached summary for a content hash, or nil on a miss.
// Hits bump the access counter so purging can be usage-aware.
func (r *CacheRepository) Lookup(ctx context.Context, contentHash string) (*CacheEntry, error) {
	var entry CacheEntry

	err := r.db.NewUpdate().
		Model(&entry).
		Set("hits = pc.hits + 1").
		Set("last_accessed = now()").
		Where("content_hash = ?", contentHash).
		Returning("*").
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.log.Error("failed to look up cache entry", logger.Error(err))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	return &entry, nil
}

// Store records a fresh summarisation result. A concurrent writer of the
// same hash wins quietly; the summaries are equivalent.
func (r *CacheRepository) Store(ctx context.Context, entry *CacheEntry) error {
	_, err := r.db.NewInsert().
		Model(entry).
		On("CONFLICT (content_hash) DO NOTHING").
		Exec(ctx)

	if err != nil {
		r.log.Error("failed to store cache entry", logger.Error(err))
		return apperror.ErrDatabase.WithInternal(err)
	}

	return nil
}

// Purge drops entries not accessed since the cutoff, returning the count.
func (r *CacheRepository) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.NewDelete().
		Model((*CacheEntry)(nil)).
		Where("last_accessed < ?", olderThan).
		Exec(ctx)

	if err != nil {
		r.log.Error("failed to purge cache", logger.Error(err))
		return 0, apperror.ErrDatabase.WithInternal(err)
	}

	n, _ := res.RowsAffected()
	return n, nil
}
