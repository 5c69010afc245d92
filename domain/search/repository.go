package search

import (
	"context"
	"log/slog"

	"github.com/uptrace/bun"

	"github.com/engagic/engagic/domain/cities"
	"github.com/engagic/engagic/domain/topics"
	"github.com/engagic/engagic/pkg/apperror"
	"github.com/engagic/engagic/pkg/logger"
	"github.com/engagic/engagic/pkg/mathutil"
)

// Repository handles search lookups over cities, meetings, items and matters
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

// NewRepository creates a new search repository
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("search.repo")),
	}
}

// Search interprets the query text (zipcode, state, "City, ST", or free
// text) and runs the matching lookup.
func (r *Repository) Search(ctx context.Context, q Query) (*Results, error) {
	kind, primary, secondary := Classify(q.Text)
	limit := mathutil.ClampLimit(q.Limit, 10, 50)

	switch kind {
	case KindZipcode:
		return r.searchZipcode(ctx, primary, limit)
	case KindState:
		return r.searchState(ctx, primary)
	case KindCity:
		return r.searchCity(ctx, cities.Banana(primary, secondary), limit)
	default:
		return r.searchText(ctx, q, limit)
	}
}

func (r *Repository) searchZipcode(ctx context.Context, zipcode string, limit int) (*Results, error) {
	results := &Results{Kind: KindZipcode}

	query := `
		SELECT c.banana, c.name, c.state, c.vendor,
			   (SELECT count(*)::int FROM meetings m WHERE m.banana = c.banana) AS meeting_count
		FROM cities c
		JOIN zipcodes z ON z.banana = c.banana
		WHERE z.zipcode = ?
		ORDER BY z.is_primary DESC, c.banana ASC
		LIMIT 1
	`

	rows, err := r.db.QueryContext(ctx, query, zipcode)
	if err != nil {
		r.log.Error("zipcode lookup failed", logger.Error(err), slog.String("zipcode", zipcode))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	defer rows.Close()

	for rows.Next() {
		var hit CityHit
		if err := rows.Scan(&hit.Banana, &hit.Name, &hit.State, &hit.Vendor, &hit.MeetingCount); err != nil {
			return nil, apperror.ErrDatabase.WithInternal(err)
		}
		results.Cities = append(results.Cities, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	if len(results.Cities) == 0 {
		return results, nil
	}

	meetings, err := r.cityMeetings(ctx, results.Cities[0].Banana, limit)
	if err != nil {
		return nil, err
	}
	results.Meetings = meetings

	return results, nil
}

func (r *Repository) searchState(ctx context.Context, state string) (*Results, error) {
	results := &Results{Kind: KindState}

	query := `
		SELECT c.banana, c.name, c.state, c.vendor, count(m.id)::int AS meeting_count
		FROM cities c
		LEFT JOIN meetings m ON m.banana = c.banana
		WHERE c.state = ?
		GROUP BY c.banana, c.name, c.state, c.vendor
		ORDER BY c.name ASC
	`

	rows, err := r.db.QueryContext(ctx, query, state)
	if err != nil {
		r.log.Error("state lookup failed", logger.Error(err), slog.String("state", state))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	defer rows.Close()

	for rows.Next() {
		var hit CityHit
		if err := rows.Scan(&hit.Banana, &hit.Name, &hit.State, &hit.Vendor, &hit.MeetingCount); err != nil {
			return nil, apperror.ErrDatabase.WithInternal(err)
		}
		results.Cities = append(results.Cities, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	return results, nil
}

func (r *Repository) searchCity(ctx context.Context, banana string, limit int) (*Results, error) {
	results := &Results{Kind: KindCity}

	query := `
		SELECT c.banana, c.name, c.state, c.vendor,
			   (SELECT count(*)::int FROM meetings m WHERE m.banana = c.banana) AS meeting_count
		FROM cities c
		WHERE c.banana = ?
	`

	rows, err := r.db.QueryContext(ctx, query, banana)
	if err != nil {
		r.log.Error("city lookup failed", logger.Error(err), slog.String("banana", banana))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	defer rows.Close()

	for rows.Next() {
		var hit CityHit
		if err := rows.Scan(&hit.Banana, &hit.Name, &hit.State, &hit.Vendor, &hit.MeetingCount); err != nil {
			return nil, apperror.ErrDatabase.WithInternal(err)
		}
		results.Cities = append(results.Cities, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	if len(results.Cities) == 0 {
		return results, nil
	}

	meetings, err := r.cityMeetings(ctx, banana, limit)
	if err != nil {
		return nil, err
	}
	results.Meetings = meetings

	return results, nil
}

func (r *Repository) cityMeetings(ctx context.Context, banana string, limit int) ([]MeetingHit, error) {
	query := `
		SELECT m.id, m.banana, m.title, m.date, m.summary
		FROM meetings m
		WHERE m.banana = ?
		ORDER BY m.date DESC NULLS LAST, m.id ASC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, banana, limit)
	if err != nil {
		r.log.Error("city meetings lookup failed", logger.Error(err), slog.String("banana", banana))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	defer rows.Close()

	var hits []MeetingHit
	for rows.Next() {
		var hit MeetingHit
		if err := rows.Scan(&hit.ID, &hit.Banana, &hit.Title, &hit.Date, &hit.Summary); err != nil {
			return nil, apperror.ErrDatabase.WithInternal(err)
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	return hits, nil
}

func (r *Repository) searchText(ctx context.Context, q Query, limit int) (*Results, error) {
	results := &Results{Kind: KindText}

	// A topic filter that normalises to nothing can never match.
	topicFilter := topics.Normalize(q.Topics)
	if len(q.Topics) > 0 && len(topicFilter) == 0 {
		return results, nil
	}

	meetings, err := r.textMeetings(ctx, q.Text, q.Banana, topicFilter, limit)
	if err != nil {
		return nil, err
	}
	results.Meetings = meetings

	items, err := r.textItems(ctx, q.Text, q.Banana, topicFilter, limit)
	if err != nil {
		return nil, err
	}
	results.Items = items

	matters, err := r.textMatters(ctx, q.Text, q.Banana, topicFilter, limit)
	if err != nil {
		return nil, err
	}
	results.Matters = matters

	return results, nil
}

func (r *Repository) textMeetings(ctx context.Context, text, banana string, topicFilter []string, limit int) ([]MeetingHit, error) {
	query := `
		SELECT m.id, m.banana, m.title, m.date, m.summary,
			   ts_rank(m.tsv, websearch_to_tsquery('simple', ?)) AS score
		FROM meetings m
		WHERE m.tsv @@ websearch_to_tsquery('simple', ?)
	`
	args := []any{text, text}

	if banana != "" {
		query += ` AND m.banana = ?`
		args = append(args, banana)
	}
	if len(topicFilter) > 0 {
		query += ` AND EXISTS (SELECT 1 FROM meeting_topics mt WHERE mt.meeting_id = m.id AND mt.topic IN (?))`
		args = append(args, bun.In(topicFilter))
	}

	query += ` ORDER BY score DESC, m.date DESC NULLS LAST LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.log.Error("meeting text search failed", logger.Error(err))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	defer rows.Close()

	var hits []MeetingHit
	for rows.Next() {
		var hit MeetingHit
		if err := rows.Scan(&hit.ID, &hit.Banana, &hit.Title, &hit.Date, &hit.Summary, &hit.Score); err != nil {
			return nil, apperror.ErrDatabase.WithInternal(err)
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	return hits, nil
}

func (r *Repository) textItems(ctx context.Context, text, banana string, topicFilter []string, limit int) ([]ItemHit, error) {
	query := `
		SELECT i.id, i.meeting_id, m.banana, i.title,
			   ts_rank(i.tsv, websearch_to_tsquery('simple', ?)) AS score
		FROM items i
		JOIN meetings m ON m.id = i.meeting_id
		WHERE i.tsv @@ websearch_to_tsquery('simple', ?)
	`
	args := []any{text, text}

	if banana != "" {
		query += ` AND m.banana = ?`
		args = append(args, banana)
	}
	if len(topicFilter) > 0 {
		query += ` AND EXISTS (SELECT 1 FROM item_topics it WHERE it.item_id = i.id AND it.topic IN (?))`
		args = append(args, bun.In(topicFilter))
	}

	query += ` ORDER BY score DESC, i.id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.log.Error("item text search failed", logger.Error(err))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	defer rows.Close()

	var hits []ItemHit
	for rows.Next() {
		var hit ItemHit
		if err := rows.Scan(&hit.ID, &hit.MeetingID, &hit.Banana, &hit.Title, &hit.Score); err != nil {
			return nil, apperror.ErrDatabase.WithInternal(err)
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	return hits, nil
}

func (r *Repository) textMatters(ctx context.Context, text, banana string, topicFilter []string, limit int) ([]MatterHit, error) {
	query := `
		SELECT cm.id, cm.banana, coalesce(cm.matter_file, ''), coalesce(cm.title, ''), cm.canonical_summary,
			   ts_rank(cm.tsv, websearch_to_tsquery('simple', ?)) AS score
		FROM city_matters cm
		WHERE cm.tsv @@ websearch_to_tsquery('simple', ?)
	`
	args := []any{text, text}

	if banana != "" {
		query += ` AND cm.banana = ?`
		args = append(args, banana)
	}
	if len(topicFilter) > 0 {
		query += ` AND EXISTS (SELECT 1 FROM matter_topics mt WHERE mt.matter_id = cm.id AND mt.topic IN (?))`
		args = append(args, bun.In(topicFilter))
	}

	query += ` ORDER BY score DESC, cm.last_seen DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.log.Error("matter text search failed", logger.Error(err))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	defer rows.Close()

	var hits []MatterHit
	for rows.Next() {
		var hit MatterHit
		if err := rows.Scan(&hit.ID, &hit.Banana, &hit.MatterFile, &hit.Title, &hit.Summary, &hit.Score); err != nil {
			return nil, apperror.ErrDatabase.WithInternal(err)
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	return hits, nil
}
