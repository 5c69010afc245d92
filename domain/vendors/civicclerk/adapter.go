// Package civicclerk fetches meetings from CivicClerk's public OData API.
// Events carry their published files inline; agenda items come from a
// per-event sub-resource. Documents are served through the
// GetMeetingFileStream endpoint rather than direct URLs.
package civicclerk

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/fx"

	"github.com/engagic/engagic/domain/vendors"
	"github.com/engagic/engagic/pkg/logger"
)

const VendorName = "civicclerk"

// Module registers the adapter factory.
var Module = fx.Module("vendors.civicclerk", fx.Invoke(Register))

// Register adds this vendor to the registry.
func Register(reg *vendors.Registry) {
	reg.Register(VendorName, New)
}

// Adapter talks to one city's CivicClerk site. The slug is the site name
// ("auroraco" for auroraco.api.civicclerk.com).
type Adapter struct {
	city    vendors.CityRef
	client  *vendors.Client
	log     *slog.Logger
	apiBase string
}

// New builds the adapter for a city.
func New(city vendors.CityRef, deps vendors.Deps) vendors.Adapter {
	return newAdapter(city, deps, fmt.Sprintf("https://%s.api.civicclerk.com", city.Slug))
}

func newAdapter(city vendors.CityRef, deps vendors.Deps, apiBase string) *Adapter {
	return &Adapter{
		city:    city,
		client:  deps.Client,
		log:     deps.Log.With(logger.Scope("vendors.civicclerk"), slog.String("banana", city.Banana)),
		apiBase: apiBase,
	}
}

func (a *Adapter) Vendor() string { return VendorName }

func (a *Adapter) Metadata() vendors.Metadata {
	return vendors.Metadata{SupportsItems: true}
}

// The API wraps every collection in an OData envelope.
type eventList struct {
	Value []event `json:"value"`
}

type event struct {
	ID             int             `json:"id"`
	EventName      string          `json:"eventName"`
	StartDateTime  string          `json:"startDateTime"`
	PublishedFiles []publishedFile `json:"publishedFiles"`
}

type publishedFile struct {
	FileID int    `json:"fileId"`
	Type   string `json:"type"`
	Name   string `json:"name"`
}

type itemList struct {
	Value []agendaItem `json:"value"`
}

type agendaItem struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	ItemNumber string `json:"itemNumber"`
	SortOrder  *int   `json:"sortOrder"`
}

// FetchMeetings yields one RawMeeting per event inside the window. An HTTP
// failure on the event list or an item sub-request aborts the sync, a
// malformed record is skipped with a warning.
func (a *Adapter) FetchMeetings(ctx context.Context, window vendors.FetchWindow) iter.Seq2[vendors.RawMeeting, error] {
	return func(yield func(vendors.RawMeeting, error) bool) {
		now := time.Now()
		events, err := a.fetchEvents(ctx, window, now)
		if err != nil {
			yield(vendors.RawMeeting{}, err)
			return
		}

		for _, ev := range events {
			meeting := a.convertEvent(ev)
			if verr := meeting.Validate(); verr != nil {
				a.log.Warn("skipping malformed event",
					slog.Int("event_id", ev.ID),
					logger.Error(verr))
				continue
			}
			if !window.Contains(meeting.Date, now) {
				continue
			}
			rawItems, err := a.fetchAgendaItems(ctx, ev.ID)
			if err != nil {
				yield(vendors.RawMeeting{}, err)
				return
			}
			meeting.Items = rawItems
			if !yield(*meeting, nil) {
				return
			}
		}
	}
}

func (a *Adapter) fetchEvents(ctx context.Context, window vendors.FetchWindow, now time.Time) ([]event, error) {
	start, end := window.Bounds(now)
	filter := fmt.Sprintf("startDateTime ge %s and startDateTime lt %s",
		start.UTC().Format("2006-01-02T15:04:05Z"), end.UTC().Format("2006-01-02T15:04:05Z"))

	u := fmt.Sprintf("%s/v1/Events?$filter=%s&$orderby=startDateTime",
		a.apiBase, url.QueryEscape(filter))

	var list eventList
	if err := a.client.GetJSON(ctx, u, &list); err != nil {
		return nil, err
	}
	a.log.Debug("fetched events", slog.Int("count", len(list.Value)))
	return list.Value, nil
}

func (a *Adapter) convertEvent(ev event) *vendors.RawMeeting {
	meeting := &vendors.RawMeeting{
		VendorMeetingID: strconv.Itoa(ev.ID),
		Title:           vendors.CleanText(ev.EventName),
		Date:            vendors.ParseDatePtr(ev.StartDateTime),
		AgendaURL:       fmt.Sprintf("https://%s.portal.civicclerk.com/event/%d/overview", a.city.Slug, ev.ID),
		Status:          vendors.StatusFromTitle(ev.EventName),
	}

	for _, file := range ev.PublishedFiles {
		kind := strings.ToLower(file.Type)
		if !strings.Contains(kind, "agenda") || strings.Contains(kind, "minutes") {
			continue
		}
		meeting.PacketURLs = append(meeting.PacketURLs, a.fileStreamURL(file.FileID))
	}
	return meeting
}

func (a *Adapter) fileStreamURL(fileID int) string {
	return fmt.Sprintf("%s/v1/Meetings/GetMeetingFileStream(fileId=%d,plainText=false)", a.apiBase, fileID)
}

func (a *Adapter) fetchAgendaItems(ctx context.Context, eventID int) ([]vendors.RawAgendaItem, error) {
	u := fmt.Sprintf("%s/v1/Events(%d)/AgendaItems?$orderby=sortOrder", a.apiBase, eventID)

	var list itemList
	if err := a.client.GetJSON(ctx, u, &list); err != nil {
		return nil, err
	}

	rawItems := make([]vendors.RawAgendaItem, 0, len(list.Value))
	for n, it := range list.Value {
		raw := vendors.RawAgendaItem{
			Title:    vendors.CleanText(it.Name),
			Sequence: n,
		}
		if it.SortOrder != nil && *it.SortOrder >= 0 {
			raw.Sequence = *it.SortOrder
		}
		raw.MatterFile = vendors.ExtractMatterFile(raw.Title)

		if err := raw.Validate(); err != nil {
			a.log.Warn("skipping malformed agenda item",
				slog.Int("item_id", it.ID),
				logger.Error(err))
			continue
		}
		rawItems = append(rawItems, raw)
	}
	return rawItems, nil
}
