package matters

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/uptrace/bun"

	"github.com/engagic/engagic/domain/topics"
	"github.com/engagic/engagic/pkg/apperror"
	"github.com/engagic/engagic/pkg/logger"
)

// matterTopic is the matter_topics link table
type matterTopic struct {
	bun.BaseModel `bun:"table:matter_topics,alias:mt"`

	MatterID string `bun:"matter_id,pk"`
	Topic    string `bun:"topic,pk"`
}

// Repository handles database operations for tracked matters
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

// NewRepository creates a new matter repository
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("matters.repo")),
	}
}

// Upsert inserts a matter or refreshes its vendor-supplied display fields.
// Tracking fields (first_seen, appearance_count) and the canonical summary
// are never touched on conflict. Returns whether a new row was created.
func (r *Repository) Upsert(ctx context.Context, matter *Matter) (bool, error) {
	var inserted bool

	_, err := r.db.NewInsert().
		Model(matter).
		On("CONFLICT (id) DO UPDATE").
		Set("matter_file = COALESCE(NULLIF(EXCLUDED.matter_file, ''), cm.matter_file)").
		Set("matter_id = COALESCE(NULLIF(EXCLUDED.matter_id, ''), cm.matter_id)").
		Set("title = COALESCE(NULLIF(cm.title, ''), EXCLUDED.title)").
		Returning("(xmax = 0)").
		Exec(ctx, &inserted)

	if err != nil {
		r.log.Error("failed to upsert matter", logger.Error(err), slog.String("id", matter.ID))
		return false, apperror.ErrDatabase.WithInternal(err)
	}

	return inserted, nil
}

// Get returns one matter with its topics, or nil when the id is unknown.
func (r *Repository) Get(ctx context.Context, id string) (*Matter, error) {
	var matter Matter

	err := r.db.NewSelect().
		Model(&matter).
		Where("cm.id = ?", id).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.log.Error("failed to get matter", logger.Error(err), slog.String("id", id))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	if err := r.loadTopics(ctx, []*Matter{&matter}); err != nil {
		return nil, err
	}

	return &matter, nil
}

// ListParams defines filters for listing a city's matters
type ListParams struct {
	Status string
	Limit  int
}

// ListForCity returns a city's matters, most recently seen first.
func (r *Repository) ListForCity(ctx context.Context, banana string, params ListParams) ([]Matter, error) {
	var list []Matter

	query := r.db.NewSelect().
		Model(&list).
		Where("cm.banana = ?", banana).
		OrderExpr("cm.last_seen DESC, cm.id ASC")

	if params.Status != "" {
		query = query.Where("cm.status = ?", params.Status)
	}
	if params.Limit > 0 {
		query = query.Limit(params.Limit)
	}

	if err := query.Scan(ctx); err != nil {
		r.log.Error("failed to list matters", logger.Error(err), slog.String("banana", banana))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	refs := make([]*Matter, len(list))
	for i := range list {
		refs[i] = &list[i]
	}
	if err := r.loadTopics(ctx, refs); err != nil {
		return nil, err
	}

	return list, nil
}

// UpsertAppearance records a matter appearing on a meeting's agenda. A
// reprocessed meeting refreshes vote data without creating a second row.
// Returns whether this was a previously unseen (matter, meeting) pair.
func (r *Repository) UpsertAppearance(ctx context.Context, appearance *Appearance) (bool, error) {
	var inserted bool

	_, err := r.db.NewInsert().
		Model(appearance).
		On("CONFLICT (matter_id, meeting_id) DO UPDATE").
		Set("appeared_at = EXCLUDED.appeared_at").
		Set("vote_outcome = COALESCE(NULLIF(EXCLUDED.vote_outcome, ''), ma.vote_outcome)").
		Set("vote_tally = COALESCE(EXCLUDED.vote_tally, ma.vote_tally)").
		Returning("(xmax = 0)").
		Exec(ctx, &inserted)

	if err != nil {
		r.log.Error("failed to upsert appearance",
			logger.Error(err),
			slog.String("matter_id", appearance.MatterID),
			slog.String("meeting_id", appearance.MeetingID))
		return false, apperror.ErrDatabase.WithInternal(err)
	}

	return inserted, nil
}

// History returns a matter's appearances in legislative order, oldest first.
func (r *Repository) History(ctx context.Context, matterID string) ([]Appearance, error) {
	var list []Appearance

	err := r.db.NewSelect().
		Model(&list).
		Where("ma.matter_id = ?", matterID).
		OrderExpr("ma.appeared_at ASC NULLS LAST, ma.meeting_id ASC").
		Scan(ctx)

	if err != nil {
		r.log.Error("failed to load matter history", logger.Error(err), slog.String("matter_id", matterID))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	return list, nil
}

// UpdateTracking advances last_seen (never backwards) and optionally bumps
// the appearance count. The count moves only when UpsertAppearance reported
// a new pair, keeping it equal to the number of appearance rows.
func (r *Repository) UpdateTracking(ctx context.Context, id string, lastSeen time.Time, increment bool) error {
	query := r.db.NewUpdate().
		Model((*Matter)(nil)).
		Set("last_seen = GREATEST(cm.last_seen, ?)", lastSeen).
		Where("cm.id = ?", id)

	if increment {
		query = query.Set("appearance_count = cm.appearance_count + 1")
	}

	res, err := query.Exec(ctx)
	if err != nil {
		r.log.Error("failed to update matter tracking", logger.Error(err), slog.String("id", id))
		return apperror.ErrDatabase.WithInternal(err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return apperror.ErrNotFound.WithMessagef("matter %s not found", id)
	}

	return nil
}

// SetCanonical stores a fresh canonical summary, the attachment fingerprint
// it was derived from, and the matter's topic set.
func (r *Repository) SetCanonical(ctx context.Context, id, summary, attachmentHash string, topicTags []string) error {
	res, err := r.db.NewUpdate().
		Model((*Matter)(nil)).
		Set("canonical_summary = ?", summary).
		Set("attachment_hash = ?", attachmentHash).
		Where("cm.id = ?", id).
		Exec(ctx)

	if err != nil {
		r.log.Error("failed to set canonical summary", logger.Error(err), slog.String("id", id))
		return apperror.ErrDatabase.WithInternal(err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return apperror.ErrNotFound.WithMessagef("matter %s not found", id)
	}

	return r.replaceTopics(ctx, id, topicTags)
}

// SetDisposition records the legislative outcome a vendor reported.
func (r *Repository) SetDisposition(ctx context.Context, id, status string, finalVoteDate *time.Time) error {
	query := r.db.NewUpdate().
		Model((*Matter)(nil)).
		Set("status = ?", status).
		Where("cm.id = ?", id)

	if finalVoteDate != nil {
		query = query.Set("final_vote_date = ?", finalVoteDate)
	}

	res, err := query.Exec(ctx)
	if err != nil {
		r.log.Error("failed to set matter disposition", logger.Error(err), slog.String("id", id))
		return apperror.ErrDatabase.WithInternal(err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return apperror.ErrNotFound.WithMessagef("matter %s not found", id)
	}

	return nil
}

// TrackingMismatch is a matter whose recorded appearance count disagrees
// with its appearance rows.
type TrackingMismatch struct {
	MatterID string `bun:"matter_id" json:"matter_id"`
	Recorded int    `bun:"recorded" json:"recorded"`
	Actual   int    `bun:"actual" json:"actual"`
}

// ValidateTracking cross-checks appearance counts against appearance rows
// and returns every matter where the two disagree.
func (r *Repository) ValidateTracking(ctx context.Context) ([]TrackingMismatch, error) {
	var mismatches []TrackingMismatch

	err := r.db.NewRaw(`
		SELECT cm.id AS matter_id, cm.appearance_count AS recorded, count(ma.matter_id)::int AS actual
		FROM city_matters cm
		LEFT JOIN matter_appearances ma ON ma.matter_id = cm.id
		GROUP BY cm.id, cm.appearance_count
		HAVING cm.appearance_count <> count(ma.matter_id)
		ORDER BY cm.id`).
		Scan(ctx, &mismatches)

	if err != nil {
		r.log.Error("failed to validate matter tracking", logger.Error(err))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	return mismatches, nil
}

func (r *Repository) replaceTopics(ctx context.Context, matterID string, topicTags []string) error {
	_, err := r.db.NewDelete().
		Model((*matterTopic)(nil)).
		Where("matter_id = ?", matterID).
		Exec(ctx)
	if err != nil {
		r.log.Error("failed to clear matter topics", logger.Error(err), slog.String("id", matterID))
		return apperror.ErrDatabase.WithInternal(err)
	}

	if len(topicTags) == 0 {
		return nil
	}

	links := make([]matterTopic, 0, len(topicTags))
	for _, tag := range topics.Normalize(topicTags) {
		links = append(links, matterTopic{MatterID: matterID, Topic: tag})
	}
	if len(links) == 0 {
		return nil
	}

	_, err = r.db.NewInsert().
		Model(&links).
		On("CONFLICT DO NOTHING").
		Exec(ctx)
	if err != nil {
		r.log.Error("failed to store matter topics", logger.Error(err), slog.String("id", matterID))
		return apperror.ErrDatabase.WithInternal(err)
	}

	return nil
}

func (r *Repository) loadTopics(ctx context.Context, targets []*Matter) error {
	if len(targets) == 0 {
		return nil
	}

	ids := make([]string, len(targets))
	byID := make(map[string]*Matter, len(targets))
	for i, m := range targets {
		ids[i] = m.ID
		byID[m.ID] = m
	}

	var links []matterTopic
	err := r.db.NewSelect().
		Model(&links).
		Where("mt.matter_id IN (?)", bun.In(ids)).
		Scan(ctx)
	if err != nil {
		r.log.Error("failed to load matter topics", logger.Error(err))
		return apperror.ErrDatabase.WithInternal(err)
	}

	for _, link := range links {
		if m := byID[link.MatterID]; m != nil {
			m.Topics = append(m.Topics, link.Topic)
		}
	}
	for _, m := range targets {
		m.Topics = topics.OrderCanonical(m.Topics)
	}

	return nil
}
