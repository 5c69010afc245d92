package items

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"github.com/engagic/engagic/internal/testutil"
	"github.com/engagic/engagic/pkg/apperror"
)

func seedMeeting(t *testing.T, db *bun.DB, banana, meetingID string) {
	t.Helper()
	ctx := context.Background()
	_, err := db.ExecContext(ctx,
		"INSERT INTO cities (banana, name, state, vendor, slug) VALUES (?, ?, ?, ?, ?) ON CONFLICT DO NOTHING",
		banana, "City "+banana, "CA", "granicus", banana)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx,
		"INSERT INTO meetings (id, banana, title, agenda_url) VALUES (?, ?, ?, ?)",
		meetingID, banana, "Meeting "+meetingID, "https://example.gov/"+meetingID)
	require.NoError(t, err)
}

func seedMatter(t *testing.T, db *bun.DB, matterID, summary string, topicTags []string) {
	t.Helper()
	ctx := context.Background()
	_, err := db.ExecContext(ctx,
		"INSERT INTO city_matters (id, banana, title, canonical_summary) VALUES (?, ?, ?, ?)",
		matterID, "paloaltoCA", "Matter "+matterID, summary)
	require.NoError(t, err)
	for _, tag := range topicTags {
		_, err = db.ExecContext(ctx,
			"INSERT INTO matter_topics (matter_id, topic) VALUES (?, ?)", matterID, tag)
		require.NoError(t, err)
	}
}

func TestRepositoryStoreBatchAndList(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewRepository(db, testutil.Logger())
	ctx := context.Background()
	seedMeeting(t, db, "paloaltoCA", "m1")

	batch := []*AgendaItem{
		{
			ID:        "m1_2",
			MeetingID: "m1",
			Title:     "Second item",
			Sequence:  1,
		},
		{
			ID:        "m1_1",
			MeetingID: "m1",
			Title:     "First item",
			Sequence:  0,
			Attachments: []Attachment{
				{Name: "Staff Report", URL: "https://example.gov/sr.pdf", Type: AttachmentPDF},
				{Name: "Map", URL: "https://example.gov/map", Type: AttachmentUnknown},
			},
			Sponsors:   []Sponsor{{Name: "Council Member Diaz"}},
			MatterFile: "BL2025-1098",
		},
	}
	require.NoError(t, repo.StoreBatch(ctx, batch))

	list, err := repo.ListForMeeting(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "m1_1", list[0].ID, "agenda order, not insert order")
	assert.Equal(t, "m1_2", list[1].ID)
	require.Len(t, list[0].Attachments, 2)
	assert.Equal(t, AttachmentUnknown, list[0].Attachments[1].Type)
	assert.Equal(t, "BL2025-1098", list[0].MatterFile)

	empty, err := repo.ListForMeeting(ctx, "no_such_meeting")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRepositoryStoreBatchPreservesProcessorFields(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewRepository(db, testutil.Logger())
	ctx := context.Background()
	seedMeeting(t, db, "paloaltoCA", "m1")
	seedMatter(t, db, "paloaltoCA_aaaa000011112222", "canonical", nil)

	item := &AgendaItem{ID: "m1_1", MeetingID: "m1", Title: "Original", Sequence: 0}
	require.NoError(t, repo.StoreBatch(ctx, []*AgendaItem{item}))

	summary := "## Item summary"
	matterID := "paloaltoCA_aaaa000011112222"
	require.NoError(t, repo.Update(ctx, "m1_1", UpdateFields{Summary: &summary, MatterID: &matterID}))

	// Refetch with a new title.
	refetched := &AgendaItem{ID: "m1_1", MeetingID: "m1", Title: "Amended title", Sequence: 0}
	require.NoError(t, repo.StoreBatch(ctx, []*AgendaItem{refetched}))

	list, err := repo.ListForMeeting(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Amended title", list[0].Title)
	require.NotNil(t, list[0].Summary)
	assert.Equal(t, "## Item summary", *list[0].Summary)
	require.NotNil(t, list[0].MatterID)
	assert.Equal(t, matterID, *list[0].MatterID)
}

func TestRepositoryBulkUpdateSummaries(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewRepository(db, testutil.Logger())
	ctx := context.Background()
	seedMeeting(t, db, "paloaltoCA", "m1")

	require.NoError(t, repo.StoreBatch(ctx, []*AgendaItem{
		{ID: "m1_1", MeetingID: "m1", Title: "A", Sequence: 0},
		{ID: "m1_2", MeetingID: "m1", Title: "B", Sequence: 1},
	}))

	err := repo.BulkUpdateSummaries(ctx, []SummaryUpdate{
		{ItemID: "m1_1", Summary: "sum A", Topics: []string{"housing", "not-real"}},
		{ItemID: "m1_2", Summary: "sum B", Topics: []string{"zoning"}},
	})
	require.NoError(t, err)

	list, err := repo.ListForMeeting(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "sum A", *list[0].Summary)
	assert.Equal(t, []string{"housing"}, list[0].Topics)
	assert.Equal(t, []string{"zoning"}, list[1].Topics)
}

func TestRepositoryApplyCanonicalSummary(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewRepository(db, testutil.Logger())
	ctx := context.Background()
	seedMeeting(t, db, "paloaltoCA", "m1")
	seedMatter(t, db, "paloaltoCA_ffff000011112222", "## Canonical matter summary", []string{"housing", "zoning"})

	require.NoError(t, repo.StoreBatch(ctx, []*AgendaItem{
		{ID: "m1_1", MeetingID: "m1", Title: "BL2025-1098 second reading", Sequence: 0},
	}))

	require.NoError(t, repo.ApplyCanonicalSummary(ctx, "m1_1", "paloaltoCA_ffff000011112222"))

	list, err := repo.ListForMeeting(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].Summary)
	assert.Equal(t, "## Canonical matter summary", *list[0].Summary)
	require.NotNil(t, list[0].MatterID)
	assert.Equal(t, "paloaltoCA_ffff000011112222", *list[0].MatterID)
	assert.Equal(t, []string{"housing", "zoning"}, list[0].Topics)

	err = repo.ApplyCanonicalSummary(ctx, "ghost", "paloaltoCA_ffff000011112222")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestAttachmentURLs(t *testing.T) {
	item := &AgendaItem{
		Attachments: []Attachment{
			{Name: "A", URL: "https://a.gov/1.pdf", Type: AttachmentPDF},
			{Name: "broken", URL: "", Type: AttachmentUnknown},
			{Name: "B", URL: "https://a.gov/2.pdf", Type: AttachmentPDF},
		},
	}
	assert.Equal(t, []string{"https://a.gov/1.pdf", "https://a.gov/2.pdf"}, item.AttachmentURLs())
	assert.Nil(t, (&AgendaItem{}).AttachmentURLs())
}
