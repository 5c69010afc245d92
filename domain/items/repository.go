package items

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/uptrace/bun"

	"github.com/engagic/engagic/domain/topics"
	"github.com/engagic/engagic/pkg/apperror"
	"github.com/engagic/engagic/pkg/logger"
)

// itemTopic is the item_topics link table
type itemTopic struct {
	bun.BaseModel `bun:"table:item_topics,alias:it"`

	ItemID string `bun:"item_id,pk"`
	Topic  string `bun:"topic,pk"`
}

// Repository handles database operations for agenda items
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

// NewRepository creates a new agenda item repository
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("items.repo")),
	}
}

// StoreBatch upserts a meeting's items by id. Refetches refresh the
// vendor-supplied fields and the matter linkage resolved at ingest; summaries
// belong to the processor and survive the conflict. A refetch that lost its
// matter identity keeps the stored one.
func (r *Repository) StoreBatch(ctx context.Context, batch []*AgendaItem) error {
	if len(batch) == 0 {
		return nil
	}

	_, err := r.db.NewInsert().
		Model(&batch).
		On("CONFLICT (id) DO UPDATE").
		Set("title = EXCLUDED.title").
		Set("sequence = EXCLUDED.sequence").
		Set("attachments = EXCLUDED.attachments").
		Set("sponsors = EXCLUDED.sponsors").
		Set("matter_file = EXCLUDED.matter_file").
		Set("matter_id = COALESCE(EXCLUDED.matter_id, i.matter_id)").
		Exec(ctx)

	if err != nil {
		r.log.Error("failed to store agenda items", logger.Error(err), slog.Int("count", len(batch)))
		return apperror.ErrDatabase.WithInternal(err)
	}

	return nil
}

// Get returns one item with its topics, or nil when the id is unknown.
func (r *Repository) Get(ctx context.Context, id string) (*AgendaItem, error) {
	var item AgendaItem

	err := r.db.NewSelect().
		Model(&item).
		Where("i.id = ?", id).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.log.Error("failed to get agenda item", logger.Error(err), slog.String("id", id))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	if err := r.loadTopics(ctx, []*AgendaItem{&item}); err != nil {
		return nil, err
	}
	return &item, nil
}

// ListForMeeting returns a meeting's items in agenda order, topics included.
func (r *Repository) ListForMeeting(ctx context.Context, meetingID string) ([]AgendaItem, error) {
	var list []AgendaItem

	err := r.db.NewSelect().
		Model(&list).
		Where("i.meeting_id = ?", meetingID).
		OrderExpr("i.sequence ASC, i.created_at ASC, i.id ASC").
		Scan(ctx)

	if err != nil {
		r.log.Error("failed to list agenda items", logger.Error(err), slog.String("meeting_id", meetingID))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	refs := make([]*AgendaItem, len(list))
	for i := range list {
		refs[i] = &list[i]
	}
	if err := r.loadTopics(ctx, refs); err != nil {
		return nil, err
	}

	return list, nil
}

// UpdateFields names the item columns the processor may change. Nil fields
// are left alone.
type UpdateFields struct {
	Summary    *string
	MatterID   *string
	MatterFile *string
}

// Update amends a single item.
func (r *Repository) Update(ctx context.Context, id string, fields UpdateFields) error {
	query := r.db.NewUpdate().
		Model((*AgendaItem)(nil)).
		Where("id = ?", id)

	touched := false
	if fields.Summary != nil {
		query = query.Set("summary = ?", *fields.Summary)
		touched = true
	}
	if fields.MatterID != nil {
		query = query.Set("matter_id = ?", *fields.MatterID)
		touched = true
	}
	if fields.MatterFile != nil {
		query = query.Set("matter_file = ?", *fields.MatterFile)
		touched = true
	}
	if !touched {
		return nil
	}

	res, err := query.Exec(ctx)
	if err != nil {
		r.log.Error("failed to update agenda item", logger.Error(err), slog.String("id", id))
		return apperror.ErrDatabase.WithInternal(err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return apperror.ErrNotFound.WithMessagef("agenda item %s not found", id)
	}

	return nil
}

// SummaryUpdate carries one item's summarisation result.
type SummaryUpdate struct {
	ItemID  string
	Summary string
	Topics  []string
}

// BulkUpdateSummaries stores summaries and topic sets for many items. Callers
// wrap it in a transaction so a meeting's items land atomically.
func (r *Repository) BulkUpdateSummaries(ctx context.Context, updates []SummaryUpdate) error {
	for _, u := range updates {
		if err := r.Update(ctx, u.ItemID, UpdateFields{Summary: &u.Summary}); err != nil {
			return err
		}
		if err := r.SetTopics(ctx, u.ItemID, u.Topics); err != nil {
			return err
		}
	}
	return nil
}

// SetTopics replaces an item's topic set.
func (r *Repository) SetTopics(ctx context.Context, itemID string, topicTags []string) error {
	_, err := r.db.NewDelete().
		Model((*itemTopic)(nil)).
		Where("item_id = ?", itemID).
		Exec(ctx)
	if err != nil {
		r.log.Error("failed to clear item topics", logger.Error(err), slog.String("id", itemID))
		return apperror.ErrDatabase.WithInternal(err)
	}

	links := make([]itemTopic, 0, len(topicTags))
	for _, tag := range topics.Normalize(topicTags) {
		links = append(links, itemTopic{ItemID: itemID, Topic: tag})
	}
	if len(links) == 0 {
		return nil
	}

	_, err = r.db.NewInsert().
		Model(&links).
		On("CONFLICT DO NOTHING").
		Exec(ctx)
	if err != nil {
		r.log.Error("failed to store item topics", logger.Error(err), slog.String("id", itemID))
		return apperror.ErrDatabase.WithInternal(err)
	}

	return nil
}

// ApplyCanonicalSummary copies a matter's canonical summary and topics onto an
// item in place of a fresh LLM call. Runs as a tight statement sequence; the
// caller owns the transaction.
func (r *Repository) ApplyCanonicalSummary(ctx context.Context, itemID, matterID string) error {
	res, err := r.db.NewUpdate().
		Model((*AgendaItem)(nil)).
		Set("summary = (SELECT canonical_summary FROM city_matters WHERE id = ?)", matterID).
		Set("matter_id = ?", matterID).
		Where("id = ?", itemID).
		Exec(ctx)
	if err != nil {
		r.log.Error("failed to apply canonical summary", logger.Error(err),
			slog.String("item_id", itemID), slog.String("matter_id", matterID))
		return apperror.ErrDatabase.WithInternal(err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return apperror.ErrNotFound.WithMessagef("agenda item %s not found", itemID)
	}

	_, err = r.db.NewDelete().
		Model((*itemTopic)(nil)).
		Where("item_id = ?", itemID).
		Exec(ctx)
	if err != nil {
		r.log.Error("failed to clear item topics", logger.Error(err), slog.String("id", itemID))
		return apperror.ErrDatabase.WithInternal(err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO item_topics (item_id, topic)
		 SELECT ?, topic FROM matter_topics WHERE matter_id = ?
		 ON CONFLICT DO NOTHING`,
		itemID, matterID)
	if err != nil {
		r.log.Error("failed to copy matter topics", logger.Error(err),
			slog.String("item_id", itemID), slog.String("matter_id", matterID))
		return apperror.ErrDatabase.WithInternal(err)
	}

	return nil
}

func (r *Repository) loadTopics(ctx context.Context, targets []*AgendaItem) error {
	if len(targets) == 0 {
		return nil
	}

	ids := make([]string, len(targets))
	byID := make(map[string]*AgendaItem, len(targets))
	for i, item := range targets {
		ids[i] = item.ID
		byID[item.ID] = item
	}

	var links []itemTopic
	err := r.db.NewSelect().
		Model(&links).
		Where("it.item_id IN (?)", bun.In(ids)).
		Scan(ctx)
	if err != nil {
		r.log.Error("failed to load item topics", logger.Error(err))
		return apperror.ErrDatabase.WithInternal(err)
	}

	for _, link := range links {
		if item := byID[link.ItemID]; item != nil {
			item.Topics = append(item.Topics, link.Topic)
		}
	}
	for _, item := range targets {
		item.Topics = topics.OrderCanonical(item.Topics)
	}

	return nil
}
