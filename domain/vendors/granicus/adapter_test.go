package granicus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engagic/engagic/domain/vendors"
	"github.com/engagic/engagic/internal/config"
	"github.com/engagic/engagic/pkg/logger"
)

var wideWindow = vendors.FetchWindow{DaysBack: 100000, DaysForward: 100000}

func testDeps(t *testing.T) vendors.Deps {
	t.Helper()
	log := logger.NewLogger()
	cfg := &config.Config{}
	cfg.Vendors.HTTPTimeoutSeconds = 5
	cfg.Vendors.MaxDownloadMB = 4
	return vendors.Deps{Client: vendors.NewClient(cfg, log), Log: log}
}

func collect(t *testing.T, adapter vendors.Adapter, window vendors.FetchWindow) ([]vendors.RawMeeting, error) {
	t.Helper()
	var got []vendors.RawMeeting
	for meeting, err := range adapter.FetchMeetings(context.Background(), window) {
		if err != nil {
			return got, err
		}
		got = append(got, meeting)
	}
	return got, nil
}

func TestFetchMeetings(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ViewPublisher.php", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2", r.URL.Query().Get("view_id"))
		page, err := os.ReadFile("testdata/viewpublisher.html")
		require.NoError(t, err)
		w.Write(page)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	city := vendors.CityRef{Banana: "testcityCA", Name: "Test City", State: "CA", Slug: "testcity/2", Vendor: VendorName}
	adapter := newAdapter(city, testDeps(t), server.URL+"/ViewPublisher.php?view_id=2")

	got, err := collect(t, adapter, wideWindow)
	require.NoError(t, err)

	// Three upcoming rows carry agendas; the agenda-less Arts Commission row
	// and everything under div#archive are dropped.
	require.Len(t, got, 3)

	council := got[0]
	assert.Equal(t, "event-901", council.VendorMeetingID)
	assert.Equal(t, "City Council", council.Title)
	assert.Equal(t, "scheduled", council.Status)
	assert.Equal(t, "http://testcity.granicus.com/GeneratedAgendaViewer.php?view_id=2&event_id=901", council.AgendaURL)
	assert.Empty(t, council.PacketURLs)
	require.NotNil(t, council.Date)
	assert.Equal(t, time.Date(2025, 7, 22, 18, 30, 0, 0, time.UTC), *council.Date)

	planning := got[1]
	assert.Equal(t, "clip-4821", planning.VendorMeetingID)
	assert.Equal(t, "cancelled", planning.Status)
	assert.Equal(t, server.URL+"/AgendaViewer.php?view_id=2&clip_id=4821", planning.AgendaURL)

	library := got[2]
	assert.Equal(t, "Library Board", library.Title)
	// A direct PDF agenda doubles as the packet.
	require.Len(t, library.PacketURLs, 1)
	assert.Equal(t, server.URL+"/DocumentViewer.php?file=testcity_packet.pdf&view_id=2", library.PacketURLs[0])
	assert.Equal(t, library.AgendaURL, library.PacketURLs[0])
}

func TestSplitSlug(t *testing.T) {
	tests := []struct {
		slug          string
		wantSubdomain string
		wantViewID    string
	}{
		{slug: "cupertino", wantSubdomain: "cupertino", wantViewID: "1"},
		{slug: "cupertino/12", wantSubdomain: "cupertino", wantViewID: "12"},
		{slug: "cupertino/", wantSubdomain: "cupertino", wantViewID: "1"},
	}

	for _, tt := range tests {
		t.Run(tt.slug, func(t *testing.T) {
			subdomain, viewID := splitSlug(tt.slug)
			assert.Equal(t, tt.wantSubdomain, subdomain)
			assert.Equal(t, tt.wantViewID, viewID)
		})
	}
}

func TestRowID(t *testing.T) {
	assert.Equal(t, "clip-4821", rowID("https://x.granicus.com/AgendaViewer.php?view_id=2&clip_id=4821", "", ""))
	assert.Equal(t, "event-901", rowID("https://x.granicus.com/GeneratedAgendaViewer.php?view_id=2&event_id=901", "", ""))

	hashed := rowID("https://x.granicus.com/agenda.pdf", "City Council", "July 22, 2025")
	assert.Len(t, hashed, 16)
	assert.Equal(t, hashed, rowID("https://x.granicus.com/agenda.pdf", "City Council", "July 22, 2025"))
}
