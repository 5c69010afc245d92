// Package novusagenda scrapes meetings from NovusAGENDA public portals.
// The portal is an ASP.NET grid of meeting rows; each row links an HTML
// agenda view and a rendered PDF, so meetings are monolithic.
package novusagenda

import (
	"bytes"
	"context"
	"fmt"
	"iter"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/fx"

	"github.com/engagic/engagic/domain/meetings"
	"github.com/engagic/engagic/domain/vendors"
	"github.com/engagic/engagic/pkg/apperror"
	"github.com/engagic/engagic/pkg/logger"
)

const VendorName = "novusagenda"

// Module registers the adapter factory.
var Module = fx.Module("vendors.novusagenda", fx.Invoke(Register))

// Register adds this vendor to the registry.
func Register(reg *vendors.Registry) {
	reg.Register(VendorName, New)
}

// Adapter scrapes one city's NovusAGENDA portal. The slug is the portal
// subdomain ("norfolk" for norfolk.novusagenda.com).
type Adapter struct {
	city    vendors.CityRef
	client  *vendors.Client
	log     *slog.Logger
	baseURL string
}

// New builds the adapter for a city.
func New(city vendors.CityRef, deps vendors.Deps) vendors.Adapter {
	return newAdapter(city, deps, fmt.Sprintf("https://%s.novusagenda.com/agendapublic", city.Slug))
}

func newAdapter(city vendors.CityRef, deps vendors.Deps, baseURL string) *Adapter {
	return &Adapter{
		city:    city,
		client:  deps.Client,
		log:     deps.Log.With(logger.Scope("vendors.novusagenda"), slog.String("banana", city.Banana)),
		baseURL: baseURL,
	}
}

func (a *Adapter) Vendor() string { return VendorName }

func (a *Adapter) Metadata() vendors.Metadata {
	return vendors.Metadata{}
}

// FetchMeetings scrapes the responsive meeting grid. The grid mixes past and
// future meetings, so rows are filtered by the window in memory.
func (a *Adapter) FetchMeetings(ctx context.Context, window vendors.FetchWindow) iter.Seq2[vendors.RawMeeting, error] {
	return func(yield func(vendors.RawMeeting, error) bool) {
		now := time.Now()
		listingURL := a.baseURL + "/meetingsresponsive.aspx"
		body, err := a.client.Get(ctx, listingURL)
		if err != nil {
			yield(vendors.RawMeeting{}, err)
			return
		}
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil {
			yield(vendors.RawMeeting{}, apperror.ErrVendorParsing.
				WithMessagef("parse meeting grid at %s", listingURL).WithInternal(err))
			return
		}
		base, err := url.Parse(listingURL)
		if err != nil {
			yield(vendors.RawMeeting{}, apperror.ErrVendorParsing.
				WithMessagef("bad listing URL %q", listingURL).WithInternal(err))
			return
		}

		for _, meeting := range a.parseGrid(doc, base) {
			if !window.Contains(meeting.Date, now) {
				continue
			}
			if !yield(meeting, nil) {
				return
			}
		}
	}
}

// parseGrid walks the Telerik grid rows. Row and alternating-row classes
// cover every NovusAGENDA skin seen in the field.
func (a *Adapter) parseGrid(doc *goquery.Document, base *url.URL) []vendors.RawMeeting {
	var parsed []vendors.RawMeeting
	doc.Find("tr.rgRow, tr.rgAltRow").Each(func(n int, row *goquery.Selection) {
		meeting := a.parseRow(row, base)
		if meeting == nil {
			return
		}
		if err := meeting.Validate(); err != nil {
			a.log.Warn("skipping malformed meeting row",
				slog.Int("row", n),
				logger.Error(err))
			return
		}
		parsed = append(parsed, *meeting)
	})
	a.log.Debug("parsed meeting grid", slog.Int("count", len(parsed)))
	return parsed
}

func (a *Adapter) parseRow(row *goquery.Selection, base *url.URL) *vendors.RawMeeting {
	var date *time.Time
	var title string
	row.Find("td").Each(func(_ int, cell *goquery.Selection) {
		text := vendors.CleanText(cell.Text())
		if text == "" {
			return
		}
		if date == nil {
			if t, ok := vendors.ParseDate(text); ok {
				date = &t
				return
			}
		}
		if title == "" {
			title = text
		}
	})

	var agendaURL, packetURL string
	row.Find("a[href]").Each(func(_ int, link *goquery.Selection) {
		href, _ := link.Attr("href")
		resolved := vendors.ResolveURL(base, href)
		if resolved == "" {
			return
		}
		lower := strings.ToLower(resolved)
		switch {
		case strings.Contains(lower, "meetingview.aspx") && agendaURL == "":
			agendaURL = resolved
		case strings.Contains(lower, "displayagendapdf") && packetURL == "":
			packetURL = resolved
		}
	})

	if agendaURL == "" && packetURL == "" {
		a.log.Warn("skipping meeting row without documents", slog.String("title", title))
		return nil
	}

	// The PDF handler takes the meeting id even when the row only links the
	// HTML view.
	id := meetingID(agendaURL, packetURL)
	if packetURL == "" && id != "" {
		packetURL = fmt.Sprintf("%s/DisplayAgendaPDF.ashx?MeetingID=%s", a.baseURL, id)
	}
	if id == "" {
		id = vendors.ShortHash(title, agendaURL, packetURL)
	}

	meeting := &vendors.RawMeeting{
		VendorMeetingID: id,
		Title:           title,
		Date:            date,
		AgendaURL:       agendaURL,
		Status:          vendors.StatusFromTitle(title),
	}
	if packetURL != "" {
		meeting.PacketURLs = meetings.URLList{packetURL}
	}
	return meeting
}

func meetingID(urls ...string) string {
	for _, raw := range urls {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil {
			continue
		}
		if v := u.Query().Get("MeetingID"); v != "" {
			return v
		}
	}
	return ""
}
