// Package primegov fetches meetings from PrimeGov portals. Listings come off
// the public JSON API; agenda items do not, so they are scraped from the
// compiled HTML agenda the portal renders for each meeting.
package primegov

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go.uber.org/fx"

	"github.com/engagic/engagic/domain/vendors"
	"github.com/engagic/engagic/pkg/logger"
)

const VendorName = "primegov"

// PrimeGov compiles each agenda template into one or both output formats.
const (
	outputHTML = 1
	outputPDF  = 2
)

// Module registers the adapter factory.
var Module = fx.Module("vendors.primegov", fx.Invoke(Register))

// Register adds this vendor to the registry.
func Register(reg *vendors.Registry) {
	reg.Register(VendorName, New)
}

// Adapter talks to one city's PrimeGov portal. The slug is the portal
// subdomain ("lacity" for lacity.primegov.com).
type Adapter struct {
	city    vendors.CityRef
	client  *vendors.Client
	log     *slog.Logger
	baseURL string
}

// New builds the adapter for a city.
func New(city vendors.CityRef, deps vendors.Deps) vendors.Adapter {
	return newAdapter(city, deps, fmt.Sprintf("https://%s.primegov.com", city.Slug))
}

func newAdapter(city vendors.CityRef, deps vendors.Deps, baseURL string) *Adapter {
	return &Adapter{
		city:    city,
		client:  deps.Client,
		log:     deps.Log.With(logger.Scope("vendors.primegov"), slog.String("banana", city.Banana)),
		baseURL: baseURL,
	}
}

func (a *Adapter) Vendor() string { return VendorName }

func (a *Adapter) Metadata() vendors.Metadata {
	return vendors.Metadata{SupportsItems: true}
}

type apiMeeting struct {
	ID           int           `json:"id"`
	Title        string        `json:"title"`
	DateTime     string        `json:"dateTime"`
	Date         string        `json:"date"`
	Time         string        `json:"time"`
	DocumentList []apiDocument `json:"documentList"`
}

type apiDocument struct {
	ID                int    `json:"id"`
	TemplateID        int    `json:"templateId"`
	TemplateName      string `json:"templateName"`
	CompileOutputType int    `json:"compileOutputType"`
}

// FetchMeetings yields one RawMeeting per listed meeting inside the window.
// An HTTP failure on the list or on a compiled agenda aborts the sync, a
// malformed record is skipped with a warning.
func (a *Adapter) FetchMeetings(ctx context.Context, window vendors.FetchWindow) iter.Seq2[vendors.RawMeeting, error] {
	return func(yield func(vendors.RawMeeting, error) bool) {
		now := time.Now()
		listed, err := a.listMeetings(ctx, window, now)
		if err != nil {
			yield(vendors.RawMeeting{}, err)
			return
		}

		for _, src := range listed {
			meeting := a.convertMeeting(src)
			if verr := meeting.Validate(); verr != nil {
				a.log.Warn("skipping malformed meeting",
					slog.Int("meeting_id", src.ID),
					logger.Error(verr))
				continue
			}
			if !window.Contains(meeting.Date, now) {
				continue
			}
			if meeting.AgendaURL != "" {
				rawItems, err := a.fetchAgendaItems(ctx, meeting.AgendaURL)
				if err != nil {
					yield(vendors.RawMeeting{}, err)
					return
				}
				meeting.Items = rawItems
			}
			if !yield(*meeting, nil) {
				return
			}
		}
	}
}

// listMeetings merges the upcoming feed with the archive for every year the
// window reaches back into. The feeds overlap around today, so rows are
// deduped by meeting id.
func (a *Adapter) listMeetings(ctx context.Context, window vendors.FetchWindow, now time.Time) ([]apiMeeting, error) {
	var listed []apiMeeting
	if err := a.client.GetJSON(ctx, a.baseURL+"/api/v2/PublicPortal/ListUpcomingMeetings", &listed); err != nil {
		return nil, err
	}

	seen := make(map[int]bool, len(listed))
	for _, m := range listed {
		seen[m.ID] = true
	}

	start, _ := window.Bounds(now)
	for year := start.Year(); year <= now.Year(); year++ {
		u := fmt.Sprintf("%s/api/v2/PublicPortal/ListArchivedMeetings?year=%d", a.baseURL, year)
		var archived []apiMeeting
		if err := a.client.GetJSON(ctx, u, &archived); err != nil {
			return nil, err
		}
		for _, m := range archived {
			if !seen[m.ID] {
				seen[m.ID] = true
				listed = append(listed, m)
			}
		}
	}

	a.log.Debug("fetched meeting list", slog.Int("count", len(listed)))
	return listed, nil
}

func (a *Adapter) convertMeeting(src apiMeeting) *vendors.RawMeeting {
	meeting := &vendors.RawMeeting{
		VendorMeetingID: strconv.Itoa(src.ID),
		Title:           vendors.CleanText(src.Title),
		Date:            meetingDate(src),
		Status:          vendors.StatusFromTitle(src.Title),
	}

	agendaDoc, packets := splitDocuments(src.DocumentList)
	if agendaDoc != nil {
		meeting.AgendaURL = fmt.Sprintf("%s/Portal/Meeting?meetingTemplateId=%d&compiledMeetingDocumentFileId=%d",
			a.baseURL, agendaDoc.TemplateID, agendaDoc.ID)
	}
	for _, doc := range packets {
		meeting.PacketURLs = append(meeting.PacketURLs,
			fmt.Sprintf("%s/api/v2/PublicPortal/CompiledDocument/%d", a.baseURL, doc.ID))
	}
	return meeting
}

// meetingDate prefers the combined dateTime field; older portals only fill
// the separate date and time columns.
func meetingDate(src apiMeeting) *time.Time {
	if t, ok := vendors.ParseDate(src.DateTime); ok {
		return &t
	}
	if t, ok := vendors.ParseDateAndTime(src.Date, src.Time); ok {
		return &t
	}
	return nil
}

// splitDocuments picks the compiled HTML agenda plus every agenda PDF.
// Journal and minutes templates are ignored.
func splitDocuments(docs []apiDocument) (agenda *apiDocument, packets []apiDocument) {
	for i, doc := range docs {
		if !strings.Contains(strings.ToLower(doc.TemplateName), "agenda") {
			continue
		}
		switch doc.CompileOutputType {
		case outputHTML:
			if agenda == nil {
				agenda = &docs[i]
			}
		case outputPDF:
			packets = append(packets, doc)
		}
	}
	return agenda, packets
}
