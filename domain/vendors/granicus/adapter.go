// Package granicus scrapes meetings from Granicus ViewPublisher listing
// pages. Granicus exposes no public item API, so meetings are monolithic:
// one agenda document per meeting, extracted downstream.
package granicus

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

const VendorName = "granicus"

// Module registers the adapter factory.
var Module = fx.Module("vendors.granicus", fx.Invoke(Register))

// Register adds this vendor to the registry.
func Register(reg *vendors.Registry) {
	reg.Register(VendorName, New)
}

// Adapter scrapes one city's ViewPublisher page. The slug is the Granicus
// subdomain, optionally with a view id ("cupertino" or "cupertino/12");
// cities without an explicit view id use view 1, the default city view.
type Adapter struct {
	city       vendors.CityRef
	client     *vendors.Client
	log        *slog.Logger
	listingURL string
}

// New builds the adapter for a city.
func New(city vendors.CityRef, deps vendors.Deps) vendors.Adapter {
	subdomain, viewID := splitSlug(city.Slug)
	listing := fmt.Sprintf("https://%s.granicus.com/ViewPublisher.php?view_id=%s", subdomain, viewID)
	return newAdapter(city, deps, listing)
}

func newAdapter(city vendors.CityRef, deps vendors.Deps, listingURL string) *Adapter {
	return &Adapter{
		city:       city,
		client:     deps.Client,
		log:        deps.Log.With(logger.Scope("vendors.granicus"), slog.String("banana", city.Banana)),
		listingURL: listingURL,
	}
}

func splitSlug(slug string) (subdomain, viewID string) {
	subdomain, viewID, found := strings.Cut(slug, "/")
	if !found || viewID == "" {
		viewID = "1"
	}
	return subdomain, viewID
}

func (a *Adapter) Vendor() string { return VendorName }

func (a *Adapter) Metadata() vendors.Metadata {
	return vendors.Metadata{}
}

// FetchMeetings scrapes the listing's upcoming block. Archived rows on the
// same page are left alone; a skin without the upcoming block falls back to
// the whole page with the window doing the filtering.
func (a *Adapter) FetchMeetings(ctx context.Context, window vendors.FetchWindow) iter.Seq2[vendors.RawMeeting, error] {
	return func(yield func(vendors.RawMeeting, error) bool) {
		now := time.Now()
		body, err := a.client.Get(ctx, a.listingURL)
		if err != nil {
			yield(vendors.RawMeeting{}, err)
			return
		}
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil {
			yield(vendors.RawMeeting{}, apperror.ErrVendorParsing.
				WithMessagef("parse listing at %s", a.listingURL).WithInternal(err))
			return
		}
		base, err := url.Parse(a.listingURL)
		if err != nil {
			yield(vendors.RawMeeting{}, apperror.ErrVendorParsing.
				WithMessagef("bad listing URL %q", a.listingURL).WithInternal(err))
			return
		}

		listing := doc.Find("div#upcoming")
		if listing.Length() == 0 {
			listing = doc.Selection
		}

		for _, meeting := range a.parseListing(listing, base) {
			if !window.Contains(meeting.Date, now) {
				continue
			}
			if !yield(meeting, nil) {
				return
			}
		}
	}
}

func (a *Adapter) parseListing(listing *goquery.Selection, base *url.URL) []vendors.RawMeeting {
	var parsed []vendors.RawMeeting
	listing.Find("tr.listingRow").Each(func(n int, row *goquery.Selection) {
		meeting := a.parseRow(row, base)
		if meeting == nil {
			return
		}
		if err := meeting.Validate(); err != nil {
			a.log.Warn("skipping malformed listing row",
				slog.Int("row", n),
				logger.Error(err))
			return
		}
		parsed = append(parsed, *meeting)
	})
	a.log.Debug("parsed listing", slog.Int("count", len(parsed)))
	return parsed
}

func (a *Adapter) parseRow(row *goquery.Selection, base *url.URL) *vendors.RawMeeting {
	cells := row.Find("td")
	if cells.Length() == 0 {
		return nil
	}
	title := vendors.CleanText(cells.First().Text())

	var date *time.Time
	var dateText string
	cells.Each(func(_ int, cell *goquery.Selection) {
		if date != nil {
			return
		}
		if t, ok := vendors.ParseDate(cell.Text()); ok {
			date = &t
			dateText = vendors.CleanText(cell.Text())
		}
	})

	// The agenda link shares the row with Minutes, Video and MediaPlayer
	// links; prefer the one labelled Agenda.
	var agendaURL string
	row.Find("a[href]").EachWithBreak(func(_ int, link *goquery.Selection) bool {
		href, _ := link.Attr("href")
		label := strings.ToLower(vendors.CleanText(link.Text()))
		if strings.Contains(label, "agenda") ||
			strings.Contains(strings.ToLower(href), "agendaviewer.php") {
			agendaURL = vendors.ResolveURL(base, href)
			return agendaURL == ""
		}
		return true
	})
	if agendaURL == "" {
		a.log.Warn("skipping listing row without agenda link", slog.String("title", title))
		return nil
	}

	meeting := &vendors.RawMeeting{
		VendorMeetingID: rowID(agendaURL, title, dateText),
		Title:           title,
		Date:            date,
		AgendaURL:       agendaURL,
		Status:          vendors.StatusFromTitle(title),
	}
	if vendors.IsDocumentLink(agendaURL) {
		meeting.PacketURLs = meetings.URLList{agendaURL}
	}
	return meeting
}

// rowID keys the meeting off Granicus' own identifiers when the agenda link
// carries them. Upcoming rows have an event_id, aired ones a clip_id; rows
// with neither fall back to a digest of what identifies them to a reader.
func rowID(agendaURL, title, dateText string) string {
	if u, err := url.Parse(agendaURL); err == nil {
		q := u.Query()
		if v := q.Get("clip_id"); v != "" {
			return "clip-" + v
		}
		if v := q.Get("event_id"); v != "" {
			return "event-" + v
		}
	}
	return vendors.ShortHash(title, dateText)
}
