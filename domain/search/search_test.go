package search

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"github.com/engagic/engagic/internal/testutil"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		wantKind  Kind
		wantFirst string
		wantState string
	}{
		{
			name:      "five digits is a zipcode",
			text:      "94301",
			wantKind:  KindZipcode,
			wantFirst: "94301",
		},
		{
			name:      "four digits is text",
			text:      "9430",
			wantKind:  KindText,
			wantFirst: "9430",
		},
		{
			name:      "state name",
			text:      "California",
			wantKind:  KindState,
			wantFirst: "CA",
		},
		{
			name:      "state code any case",
			text:      "tx",
			wantKind:  KindState,
			wantFirst: "TX",
		},
		{
			name:      "city comma state",
			text:      "Palo Alto, CA",
			wantKind:  KindCity,
			wantFirst: "Palo Alto",
			wantState: "CA",
		},
		{
			name:      "city comma state name",
			text:      "Palo Alto, California",
			wantKind:  KindCity,
			wantFirst: "Palo Alto",
			wantState: "CA",
		},
		{
			name:      "comma without a state is text",
			text:      "parks, trails and open space",
			wantKind:  KindText,
			wantFirst: "parks, trails and open space",
		},
		{
			name:      "plain words are text",
			text:      "accessory dwelling units",
			wantKind:  KindText,
			wantFirst: "accessory dwelling units",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, first, state := Classify(tt.text)
			assert.Equal(t, tt.wantKind, kind)
			assert.Equal(t, tt.wantFirst, first)
			assert.Equal(t, tt.wantState, state)
		})
	}
}

func seedCity(t *testing.T, db *bun.DB, banana, name, state string) {
	t.Helper()
	_, err := db.ExecContext(context.Background(),
		"INSERT INTO cities (banana, name, state, vendor, slug) VALUES (?, ?, ?, ?, ?)",
		banana, name, state, "granicus", banana)
	require.NoError(t, err)
}

func seedMeetingRow(t *testing.T, db *bun.DB, id, banana, title string, summary *string) {
	t.Helper()
	_, err := db.ExecContext(context.Background(),
		"INSERT INTO meetings (id, banana, title, date, summary) VALUES (?, ?, ?, now(), ?)",
		id, banana, title, summary)
	require.NoError(t, err)
}

func TestSearchStateListsCitiesWithCounts(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewRepository(db, testutil.Logger())
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		banana := fmt.Sprintf("city%dCA", i)
		seedCity(t, db, banana, fmt.Sprintf("City %d", i), "CA")
		seedMeetingRow(t, db, banana+"_m1", banana, "Regular Council Meeting", nil)
	}
	for i := 0; i < 3; i++ {
		seedCity(t, db, fmt.Sprintf("town%dTX", i), fmt.Sprintf("Town %d", i), "TX")
	}

	results, err := repo.Search(ctx, Query{Text: "California"})
	require.NoError(t, err)
	assert.Equal(t, KindState, results.Kind)
	require.Len(t, results.Cities, 10)
	for _, hit := range results.Cities {
		assert.Equal(t, "CA", hit.State)
		assert.Equal(t, 1, hit.MeetingCount)
	}

	results, err = repo.Search(ctx, Query{Text: "TX"})
	require.NoError(t, err)
	require.Len(t, results.Cities, 3)
	assert.Equal(t, 0, results.Cities[0].MeetingCount)
}

func TestSearchZipcodeResolvesCity(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewRepository(db, testutil.Logger())
	ctx := context.Background()

	seedCity(t, db, "paloaltoCA", "Palo Alto", "CA")
	seedMeetingRow(t, db, "paloaltoCA_m1", "paloaltoCA", "City Council Regular Meeting", nil)
	_, err := db.ExecContext(ctx,
		"INSERT INTO zipcodes (banana, zipcode, is_primary) VALUES (?, ?, true)", "paloaltoCA", "94301")
	require.NoError(t, err)

	results, err := repo.Search(ctx, Query{Text: "94301"})
	require.NoError(t, err)
	assert.Equal(t, KindZipcode, results.Kind)
	require.Len(t, results.Cities, 1)
	assert.Equal(t, "paloaltoCA", results.Cities[0].Banana)
	assert.Equal(t, 1, results.Cities[0].MeetingCount)
	require.Len(t, results.Meetings, 1)
	assert.Equal(t, "paloaltoCA_m1", results.Meetings[0].ID)

	results, err = repo.Search(ctx, Query{Text: "00000"})
	require.NoError(t, err)
	assert.Empty(t, results.Cities)
	assert.Empty(t, results.Meetings)
}

func TestSearchCityCommaState(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewRepository(db, testutil.Logger())
	ctx := context.Background()

	seedCity(t, db, "paloaltoCA", "Palo Alto", "CA")
	seedMeetingRow(t, db, "paloaltoCA_m1", "paloaltoCA", "City Council Regular Meeting", nil)

	results, err := repo.Search(ctx, Query{Text: "Palo Alto, CA"})
	require.NoError(t, err)
	assert.Equal(t, KindCity, results.Kind)
	require.Len(t, results.Cities, 1)
	assert.Equal(t, "paloaltoCA", results.Cities[0].Banana)
	require.Len(t, results.Meetings, 1)
}

func TestSearchFullText(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewRepository(db, testutil.Logger())
	ctx := context.Background()

	seedCity(t, db, "paloaltoCA", "Palo Alto", "CA")
	seedCity(t, db, "oaklandCA", "Oakland", "CA")

	summary := "Council discussed the bikeway extension along Embarcadero Road."
	seedMeetingRow(t, db, "paloaltoCA_m1", "paloaltoCA", "Transportation Committee", &summary)
	seedMeetingRow(t, db, "oaklandCA_m1", "oaklandCA", "Bikeway Master Plan Hearing", nil)
	seedMeetingRow(t, db, "oaklandCA_m2", "oaklandCA", "Budget Workshop", nil)

	_, err := db.ExecContext(ctx,
		"INSERT INTO items (id, meeting_id, title, sequence) VALUES (?, ?, ?, 0)",
		"oaklandCA_m1_1", "oaklandCA_m1", "Adopt the citywide bikeway network map")
	require.NoError(t, err)
	_, err = db.ExecContext(ctx,
		"INSERT INTO city_matters (id, banana, title, canonical_summary) VALUES (?, ?, ?, ?)",
		"oaklandCA_abc123", "oaklandCA", "Bikeway Network Ordinance", "Establishes the protected bikeway network.")
	require.NoError(t, err)
	_, err = db.ExecContext(ctx,
		"INSERT INTO meeting_topics (meeting_id, topic) VALUES (?, ?)", "paloaltoCA_m1", "transportation")
	require.NoError(t, err)

	results, err := repo.Search(ctx, Query{Text: "bikeway"})
	require.NoError(t, err)
	assert.Equal(t, KindText, results.Kind)
	assert.Len(t, results.Meetings, 2)
	require.Len(t, results.Items, 1)
	assert.Equal(t, "oaklandCA_m1_1", results.Items[0].ID)
	assert.Equal(t, "oaklandCA", results.Items[0].Banana)
	require.Len(t, results.Matters, 1)
	assert.Equal(t, "oaklandCA_abc123", results.Matters[0].ID)
	assert.Positive(t, results.Matters[0].Score)

	// City filter narrows every section.
	results, err = repo.Search(ctx, Query{Text: "bikeway", Banana: "paloaltoCA"})
	require.NoError(t, err)
	assert.Len(t, results.Meetings, 1)
	assert.Empty(t, results.Items)
	assert.Empty(t, results.Matters)

	// Topic filters accept synonyms and drop unknown tags.
	results, err = repo.Search(ctx, Query{Text: "bikeway", Topics: []string{"transit"}})
	require.NoError(t, err)
	require.Len(t, results.Meetings, 1)
	assert.Equal(t, "paloaltoCA_m1", results.Meetings[0].ID)

	results, err = repo.Search(ctx, Query{Text: "bikeway", Topics: []string{"no-such-topic"}})
	require.NoError(t, err)
	assert.Empty(t, results.Meetings)
	assert.Empty(t, results.Items)
}
