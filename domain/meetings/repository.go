package meetings

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

const hasItemsExpr = "EXISTS (SELECT 1 FROM items it WHERE it.meeting_id = m.id) AS has_items"

// meetingTopic is the meeting_topics link table
type meetingTopic struct {
	bun.BaseModel `bun:"table:meeting_topics,alias:mt"`

	MeetingID string `bun:"meeting_id,pk"`
	Topic     string `bun:"topic,pk"`
}

// Repository handles database operations for meetings
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

// NewRepository creates a new meeting repository
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("meetings.repo")),
	}
}

// Store upserts a meeting by id. A refetch refreshes the vendor-supplied
// fields; summary and processing state are owned by the processor and left
// untouched on conflict.
func (r *Repository) Store(ctx context.Context, meeting *Meeting) error {
	_, err := r.db.NewInsert().
		Model(meeting).
		On("CONFLICT (id) DO UPDATE").
		Set("title = EXCLUDED.title").
		Set("date = EXCLUDED.date").
		Set("agenda_url = EXCLUDED.agenda_url").
		Set("packet_url = EXCLUDED.packet_url").
		Set("participation = EXCLUDED.participation").
		Set("status = EXCLUDED.status").
		Set("vendor_fingerprint = EXCLUDED.vendor_fingerprint").
		Set("updated_at = now()").
		Exec(ctx)

	if err != nil {
		r.log.Error("failed to store meeting", logger.Error(err), slog.String("id", meeting.ID))
		return apperror.ErrDatabase.WithInternal(err)
	}

	return nil
}

// Get returns one meeting with its topics and has_items flag, or nil when
// the id is unknown.
func (r *Repository) Get(ctx context.Context, id string) (*Meeting, error) {
	var meeting Meeting

	err := r.db.NewSelect().
		Model(&meeting).
		ColumnExpr("m.*").
		ColumnExpr(hasItemsExpr).
		Where("m.id = ?", id).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.log.Error("failed to get meeting", logger.Error(err), slog.String("id", id))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	if err := r.loadTopics(ctx, []*Meeting{&meeting}); err != nil {
		return nil, err
	}

	return &meeting, nil
}

// ListParams defines filters for listing a city's meetings
type ListParams struct {
	Since *time.Time
	Until *time.Time
	Limit int
}

// ListForCity returns a city's meetings newest first. Undated meetings sort
// last so "TBD" agendas stay visible without jumping the queue.
func (r *Repository) ListForCity(ctx context.Context, banana string, params ListParams) ([]Meeting, error) {
	var list []Meeting

	query := r.db.NewSelect().
		Model(&list).
		ColumnExpr("m.*").
		ColumnExpr(hasItemsExpr).
		Where("m.banana = ?", banana).
		OrderExpr("m.date DESC NULLS LAST, m.id ASC")

	if params.Since != nil {
		query = query.Where("m.date >= ?", params.Since)
	}
	if params.Until != nil {
		query = query.Where("m.date <= ?", params.Until)
	}
	if params.Limit > 0 {
		query = query.Limit(params.Limit)
	}

	if err := query.Scan(ctx); err != nil {
		r.log.Error("failed to list meetings", logger.Error(err), slog.String("banana", banana))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	refs := make([]*Meeting, len(list))
	for i := range list {
		refs[i] = &list[i]
	}
	if err := r.loadTopics(ctx, refs); err != nil {
		return nil, err
	}

	return list, nil
}

// UpdateSummary stores the meeting-level summary and replaces its topic set.
// Callers run it inside their transaction when it must land atomically with
// item updates.
func (r *Repository) UpdateSummary(ctx context.Context, id, summary string, topicTags []string) error {
	res, err := r.db.NewUpdate().
		Model((*Meeting)(nil)).
		Set("summary = ?", summary).
		Set("updated_at = now()").
		Where("id = ?", id).
		Exec(ctx)

	if err != nil {
		r.log.Error("failed to update meeting summary", logger.Error(err), slog.String("id", id))
		return apperror.ErrDatabase.WithInternal(err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return apperror.ErrNotFound.WithMessagef("meeting %s not found", id)
	}

	return r.replaceTopics(ctx, id, topicTags)
}

// SetTopics replaces the meeting's topic set without touching the summary.
func (r *Repository) SetTopics(ctx context.Context, id string, topicTags []string) error {
	return r.replaceTopics(ctx, id, topicTags)
}

// UpdateProcessingStatus records where a meeting is in the pipeline; method
// and duration accompany the terminal states.
func (r *Repository) UpdateProcessingStatus(ctx context.Context, id, status string, method *string, durationMS *int) error {
	query := r.db.NewUpdate().
		Model((*Meeting)(nil)).
		Set("processing_status = ?", status).
		Set("updated_at = now()").
		Where("id = ?", id)

	if method != nil {
		query = query.Set("processing_method = ?", *method)
	}
	if durationMS != nil {
		query = query.Set("processing_time_ms = ?", *durationMS)
	}

	res, err := query.Exec(ctx)
	if err != nil {
		r.log.Error("failed to update processing status", logger.Error(err), slog.String("id", id))
		return apperror.ErrDatabase.WithInternal(err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return apperror.ErrNotFound.WithMessagef("meeting %s not found", id)
	}

	return nil
}

// Fingerprints returns the stored vendor fingerprint per meeting id for one
// city; the fetcher diffs against it to skip unchanged meetings.
func (r *Repository) Fingerprints(ctx context.Context, banana string) (map[string]string, error) {
	var rows []struct {
		ID                string `bun:"id"`
		VendorFingerprint string `bun:"vendor_fingerprint"`
	}

	err := r.db.NewSelect().
		Model((*Meeting)(nil)).
		Column("m.id", "m.vendor_fingerprint").
		Where("m.banana = ?", banana).
		Scan(ctx, &rows)

	if err != nil {
		r.log.Error("failed to load fingerprints", logger.Error(err), slog.String("banana", banana))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	out := make(map[string]string, len(rows))
	for _, row := range rows {
		out[row.ID] = row.VendorFingerprint
	}
	return out, nil
}

func (r *Repository) replaceTopics(ctx context.Context, meetingID string, topicTags []string) error {
	_, err := r.db.NewDelete().
		Model((*meetingTopic)(nil)).
		Where("meeting_id = ?", meetingID).
		Exec(ctx)
	if err != nil {
		r.log.Error("failed to clear meeting topics", logger.Error(err), slog.String("id", meetingID))
		return apperror.ErrDatabase.WithInternal(err)
	}

	if len(topicTags) == 0 {
		return nil
	}

	links := make([]meetingTopic, 0, len(topicTags))
	for _, tag := range topics.Normalize(topicTags) {
		links = append(links, meetingTopic{MeetingID: meetingID, Topic: tag})
	}
	if len(links) == 0 {
		return nil
	}

	_, err = r.db.NewInsert().
		Model(&links).
		On("CONFLICT DO NOTHING").
		Exec(ctx)
	if err != nil {
		r.log.Error("failed to store meeting topics", logger.Error(err), slog.String("id", meetingID))
		return apperror.ErrDatabase.WithInternal(err)
	}

	return nil
}

func (r *Repository) loadTopics(ctx context.Context, targets []*Meeting) error {
	if len(targets) == 0 {
		return nil
	}

	ids := make([]string, len(targets))
	byID := make(map[string]*Meeting, len(targets))
	for i, m := range targets {
		ids[i] = m.ID
		byID[m.ID] = m
	}

	var links []meetingTopic
	err := r.db.NewSelect().
		Model(&links).
		Where("mt.meeting_id IN (?)", bun.In(ids)).
		Scan(ctx)
	if err != nil {
		r.log.Error("failed to load meeting topics", logger.Error(err))
		return apperror.ErrDatabase.WithInternal(err)
	}

	for _, link := range links {
		if m := byID[link.MeetingID]; m != nil {
			m.Topics = append(m.Topics, link.Topic)
		}
	}
	for _, m := range targets {
		m.Topics = topics.OrderCanonical(m.Topics)
	}

	return nil
}
