// Package civicplus scrapes meetings from CivicPlus AgendaCenter pages.
// AgendaCenter lives on each city's own domain, so the slug is the full
// host. Agendas are single PDFs addressed by a date-serial token in the
// link path; there is no item listing, so meetings are monolithic.
package civicplus

import (
	"bytes"
	"context"
	"fmt"
	"iter"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/fx"

	"github.com/engagic/engagic/domain/meetings"
	"github.com/engagic/engagic/domain/vendors"
	"github.com/engagic/engagic/pkg/apperror"
	"github.com/engagic/engagic/pkg/logger"
)

const VendorName = "civicplus"

// Module registers the adapter factory.
var Module = fx.Module("vendors.civicplus", fx.Invoke(Register))

// Register adds this vendor to the registry.
func Register(reg *vendors.Registry) {
	reg.Register(VendorName, New)
}

// Agenda links look like /AgendaCenter/ViewFile/Agenda/_07222025-1234: the
// date the meeting happens and a serial, which together identify it.
var agendaTokenRe = regexp.MustCompile(`/ViewFile/Agenda/_(\d{8})-(\d+)`)

// Link labels that are icons or boilerplate rather than meeting names.
var trivialTitles = map[string]bool{
	"agenda": true, "html": true, "pdf": true,
	"download": true, "view": true, "packet": true,
}

// Adapter scrapes one city's AgendaCenter. The slug is the site host
// ("www.cityofexample.gov").
type Adapter struct {
	city    vendors.CityRef
	client  *vendors.Client
	log     *slog.Logger
	baseURL string
}

// New builds the adapter for a city.
func New(city vendors.CityRef, deps vendors.Deps) vendors.Adapter {
	return newAdapter(city, deps, fmt.Sprintf("https://%s", city.Slug))
}

func newAdapter(city vendors.CityRef, deps vendors.Deps, baseURL string) *Adapter {
	return &Adapter{
		city:    city,
		client:  deps.Client,
		log:     deps.Log.With(logger.Scope("vendors.civicplus"), slog.String("banana", city.Banana)),
		baseURL: baseURL,
	}
}

func (a *Adapter) Vendor() string { return VendorName }

func (a *Adapter) Metadata() vendors.Metadata {
	return vendors.Metadata{}
}

// FetchMeetings scrapes the AgendaCenter index. The page lists the whole
// archive, so rows are filtered by the window in memory.
func (a *Adapter) FetchMeetings(ctx context.Context, window vendors.FetchWindow) iter.Seq2[vendors.RawMeeting, error] {
	return func(yield func(vendors.RawMeeting, error) bool) {
		now := time.Now()
		pageURL := a.baseURL + "/AgendaCenter"
		body, err := a.client.Get(ctx, pageURL)
		if err != nil {
			yield(vendors.RawMeeting{}, err)
			return
		}
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil {
			yield(vendors.RawMeeting{}, apperror.ErrVendorParsing.
				WithMessagef("parse AgendaCenter at %s", pageURL).WithInternal(err))
			return
		}
		base, err := url.Parse(pageURL)
		if err != nil {
			yield(vendors.RawMeeting{}, apperror.ErrVendorParsing.
				WithMessagef("bad AgendaCenter URL %q", pageURL).WithInternal(err))
			return
		}

		for _, meeting := range a.parsePage(doc, base) {
			if !window.Contains(meeting.Date, now) {
				continue
			}
			if !yield(meeting, nil) {
				return
			}
		}
	}
}

// parsePage collects every agenda link on the page, keyed by token. The same
// agenda is linked several times (icon, text, HTML variant); the first link
// wins and later ones only contribute a better title.
func (a *Adapter) parsePage(doc *goquery.Document, base *url.URL) []vendors.RawMeeting {
	byToken := make(map[string]int)
	var parsed []vendors.RawMeeting

	doc.Find(`a[href*="/ViewFile/Agenda/"]`).Each(func(_ int, link *goquery.Selection) {
		href, _ := link.Attr("href")
		m := agendaTokenRe.FindStringSubmatch(href)
		if m == nil {
			return
		}
		token := m[1] + "-" + m[2]
		title := linkTitle(link)

		if idx, ok := byToken[token]; ok {
			if parsed[idx].Title == "" && title != "" {
				parsed[idx].Title = title
				parsed[idx].Status = vendors.StatusFromTitle(title)
			}
			return
		}

		packetURL := vendors.ResolveURL(base, stripQuery(href))
		if packetURL == "" {
			return
		}
		meeting := vendors.RawMeeting{
			VendorMeetingID: token,
			Title:           title,
			Date:            tokenDate(m[1]),
			PacketURLs:      meetings.URLList{packetURL},
			Status:          vendors.StatusFromTitle(title),
		}
		byToken[token] = len(parsed)
		parsed = append(parsed, meeting)
	})

	// Drop collected agendas that never got a usable title.
	kept := parsed[:0]
	for _, meeting := range parsed {
		if err := meeting.Validate(); err != nil {
			a.log.Warn("skipping agenda link",
				slog.String("token", meeting.VendorMeetingID),
				logger.Error(err))
			continue
		}
		kept = append(kept, meeting)
	}
	a.log.Debug("parsed agenda center", slog.Int("count", len(kept)))
	return kept
}

// linkTitle prefers the link's own text and falls back to the category
// heading above its table.
func linkTitle(link *goquery.Selection) string {
	title := vendors.CleanText(link.Text())
	if title != "" && !trivialTitles[strings.ToLower(title)] {
		return title
	}
	heading := link.Closest("table").PrevAllFiltered("h2, h3").First()
	return vendors.CleanText(heading.Text())
}

// tokenDate reads the meeting date out of the agenda token. AgendaCenter
// encodes it MMDDYYYY.
func tokenDate(raw string) *time.Time {
	t, err := time.Parse("01022006", raw)
	if err != nil {
		return nil
	}
	return &t
}

// stripQuery drops the ?html=true style variants so every link to the same
// file resolves to the same packet URL.
func stripQuery(href string) string {
	if idx := strings.IndexByte(href, '?'); idx >= 0 {
		return href[:idx]
	}
	return href
}
