package legistar

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engagic/engagic/domain/items"
	"github.com/engagic/engagic/domain/matters"
	"github.com/engagic/engagic/domain/vendors"
	"github.com/engagic/engagic/internal/config"
	"github.com/engagic/engagic/pkg/apperror"
	"github.com/engagic/engagic/pkg/logger"
)

// wideWindow keeps fixture dates valid no matter when the tests run.
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
	mux.HandleFunc("/v1/nashville/events", func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Query().Get("$filter"), "EventDate ge datetime")
		fmt.Fprint(w, `[
			{
				"EventId": 101,
				"EventBodyName": "Metropolitan Council",
				"EventDate": "2025-07-22T00:00:00",
				"EventTime": "6:30 PM",
				"EventAgendaStatusName": "Final",
				"EventAgendaFile": "https://legistar2.example.com/nashville/agenda-101.pdf",
				"EventInSiteURL": "https://nashville.legistar.example.com/MeetingDetail.aspx?ID=101",
				"EventComment": null
			},
			{
				"EventId": 102,
				"EventBodyName": "Budget Committee",
				"EventDate": "2025-07-23T00:00:00",
				"EventTime": null,
				"EventAgendaStatusName": "Cancelled",
				"EventAgendaFile": null,
				"EventInSiteURL": "",
				"EventComment": null
			}
		]`)
	})
	mux.HandleFunc("/v1/nashville/events/101/eventitems", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[
			{
				"EventItemId": 9001,
				"EventItemAgendaSequence": 4,
				"EventItemTitle": "FIRST READING: An ordinance amending the zoning map",
				"EventItemMatterFile": "BL2025-1098",
				"EventItemMatterId": 555,
				"EventItemPassedFlagName": "Pass",
				"EventItemMatterAttachments": [
					{
						"MatterAttachmentId": 77,
						"MatterAttachmentName": "Exhibit A",
						"MatterAttachmentHyperlink": "https://legistar2.example.com/nashville/exhibit-a.pdf"
					}
				]
			},
			{
				"EventItemId": 9002,
				"EventItemAgendaSequence": null,
				"EventItemTitle": null,
				"EventItemMatterFile": null,
				"EventItemMatterId": null,
				"EventItemPassedFlagName": null,
				"EventItemMatterAttachments": []
			}
		]`)
	})
	mux.HandleFunc("/v1/nashville/events/102/eventitems", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	})
	mux.HandleFunc("/v1/nashville/eventitems/9001/votes", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[
			{"VotePersonName": "Smith", "VoteValueName": "Yea"},
			{"VotePersonName": "Jones", "VoteValueName": "Yea"},
			{"VotePersonName": "Lee", "VoteValueName": "Nay"},
			{"VotePersonName": "Patel", "VoteValueName": "Absent"}
		]`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	city := vendors.CityRef{Banana: "nashvilleTN", Name: "Nashville", State: "TN", Slug: "nashville", Vendor: VendorName}
	adapter := newAdapter(city, testDeps(t), server.URL+"/v1")

	got, err := collect(t, adapter, wideWindow)
	require.NoError(t, err)

	// Event 102 has neither an agenda URL nor a packet and is dropped.
	require.Len(t, got, 1)
	meeting := got[0]

	assert.Equal(t, "101", meeting.VendorMeetingID)
	assert.Equal(t, "Metropolitan Council", meeting.Title)
	assert.Equal(t, "https://nashville.legistar.example.com/MeetingDetail.aspx?ID=101", meeting.AgendaURL)
	assert.Equal(t, []string{"https://legistar2.example.com/nashville/agenda-101.pdf"}, []string(meeting.PacketURLs))
	assert.Equal(t, "scheduled", meeting.Status)

	require.NotNil(t, meeting.Date)
	assert.Equal(t, time.Date(2025, 7, 22, 18, 30, 0, 0, time.UTC), *meeting.Date)

	// The titleless item 9002 is skipped.
	require.Len(t, meeting.Items, 1)
	item := meeting.Items[0]
	assert.Equal(t, "FIRST READING: An ordinance amending the zoning map", item.Title)
	assert.Equal(t, 4, item.Sequence)
	assert.Equal(t, "BL2025-1098", item.MatterFile)
	assert.Equal(t, "555", item.VendorMatterID)
	assert.Equal(t, []items.Attachment{{
		Name:   "Exhibit A",
		URL:    "https://legistar2.example.com/nashville/exhibit-a.pdf",
		Type:   items.AttachmentPDF,
		MetaID: "77",
	}}, item.Attachments)

	assert.Equal(t, "passed", item.VoteOutcome)
	assert.Equal(t, &matters.VoteTally{Yes: 2, No: 1, Absent: 1}, item.VoteTally)
}

func TestFetchMeetingsWindowFilter(t *testing.T) {
	future := time.Now().AddDate(0, 0, 3).Format("2006-01-02")
	past := time.Now().AddDate(0, 0, -120).Format("2006-01-02")

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/nashville/events", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `[
			{"EventId": 1, "EventBodyName": "Council", "EventDate": "%sT00:00:00", "EventTime": "6:00 PM",
			 "EventAgendaStatusName": "Final", "EventAgendaFile": null,
			 "EventInSiteURL": "https://example.com/1", "EventComment": null},
			{"EventId": 2, "EventBodyName": "Council", "EventDate": "%sT00:00:00", "EventTime": "6:00 PM",
			 "EventAgendaStatusName": "Final", "EventAgendaFile": null,
			 "EventInSiteURL": "https://example.com/2", "EventComment": null}
		]`, future, past)
	})
	mux.HandleFunc("/v1/nashville/events/1/eventitems", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	})
	mux.HandleFunc("/v1/nashville/events/2/eventitems", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	city := vendors.CityRef{Banana: "nashvilleTN", Slug: "nashville", Vendor: VendorName}
	adapter := newAdapter(city, testDeps(t), server.URL+"/v1")

	got, err := collect(t, adapter, vendors.FetchWindow{DaysBack: 7, DaysForward: 30})
	require.NoError(t, err)
	require.Len(t, got, 1, "the 120-day-old meeting falls outside the window")
	assert.Equal(t, "1", got[0].VendorMeetingID)
}

func TestFetchMeetingsVendorDown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	city := vendors.CityRef{Banana: "nashvilleTN", Slug: "nashville", Vendor: VendorName}
	adapter := newAdapter(city, testDeps(t), server.URL+"/v1")

	_, err := collect(t, adapter, wideWindow)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperror.ErrVendorHTTP)
}

func TestEventStatus(t *testing.T) {
	assert.Equal(t, "scheduled", eventStatus("Final"))
	assert.Equal(t, "scheduled", eventStatus("Draft"))
	assert.Equal(t, "cancelled", eventStatus("Meeting Cancelled"))
	assert.Equal(t, "revised", eventStatus("Revised"))
}
