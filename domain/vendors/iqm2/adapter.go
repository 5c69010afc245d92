// Package iqm2 scrapes meetings from IQM2 (Minutetraq) Citizens portals.
// The calendar page takes an explicit date range, each meeting has a detail
// page whose legislative-file links double as agenda items, and documents
// hang off the FileView handler.
package iqm2

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

	"github.com/engagic/engagic/domain/items"
	"github.com/engagic/engagic/domain/vendors"
	"github.com/engagic/engagic/pkg/apperror"
	"github.com/engagic/engagic/pkg/logger"
)

const VendorName = "iqm2"

// Module registers the adapter factory.
var Module = fx.Module("vendors.iqm2", fx.Invoke(Register))

// Register adds this vendor to the registry.
func Register(reg *vendors.Registry) {
	reg.Register(VendorName, New)
}

// Adapter scrapes one city's IQM2 portal. The slug is the portal subdomain
// ("cambridgema" for cambridgema.iqm2.com).
type Adapter struct {
	city    vendors.CityRef
	client  *vendors.Client
	log     *slog.Logger
	baseURL string
}

// New builds the adapter for a city.
func New(city vendors.CityRef, deps vendors.Deps) vendors.Adapter {
	return newAdapter(city, deps, fmt.Sprintf("https://%s.iqm2.com", city.Slug))
}

func newAdapter(city vendors.CityRef, deps vendors.Deps, baseURL string) *Adapter {
	return &Adapter{
		city:    city,
		client:  deps.Client,
		log:     deps.Log.With(logger.Scope("vendors.iqm2"), slog.String("banana", city.Banana)),
		baseURL: baseURL,
	}
}

func (a *Adapter) Vendor() string { return VendorName }

func (a *Adapter) Metadata() vendors.Metadata {
	return vendors.Metadata{SupportsItems: true}
}

// FetchMeetings asks the calendar for exactly the window, then walks each
// meeting's detail page for its items. A failed detail fetch aborts the
// sync, a malformed row is skipped with a warning.
func (a *Adapter) FetchMeetings(ctx context.Context, window vendors.FetchWindow) iter.Seq2[vendors.RawMeeting, error] {
	return func(yield func(vendors.RawMeeting, error) bool) {
		now := time.Now()
		start, end := window.Bounds(now)

		params := url.Values{}
		params.Set("From", start.Format("1/2/2006"))
		params.Set("To", end.Format("1/2/2006"))
		calendarURL := fmt.Sprintf("%s/Citizens/Calendar.aspx?%s", a.baseURL, params.Encode())

		body, err := a.client.Get(ctx, calendarURL)
		if err != nil {
			yield(vendors.RawMeeting{}, err)
			return
		}
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil {
			yield(vendors.RawMeeting{}, apperror.ErrVendorParsing.
				WithMessagef("parse calendar at %s", calendarURL).WithInternal(err))
			return
		}
		base, err := url.Parse(calendarURL)
		if err != nil {
			yield(vendors.RawMeeting{}, apperror.ErrVendorParsing.
				WithMessagef("bad calendar URL %q", calendarURL).WithInternal(err))
			return
		}

		for _, meeting := range a.parseCalendar(doc, base) {
			if !window.Contains(meeting.Date, now) {
				continue
			}
			rawItems, err := a.fetchMeetingItems(ctx, meeting.VendorMeetingID)
			if err != nil {
				yield(vendors.RawMeeting{}, err)
				return
			}
			meeting.Items = rawItems
			if !yield(meeting, nil) {
				return
			}
		}
	}
}

func (a *Adapter) parseCalendar(doc *goquery.Document, base *url.URL) []vendors.RawMeeting {
	var parsed []vendors.RawMeeting
	doc.Find("div.MeetingRow").Each(func(n int, row *goquery.Selection) {
		meeting := a.parseRow(row, base)
		if meeting == nil {
			return
		}
		if err := meeting.Validate(); err != nil {
			a.log.Warn("skipping malformed calendar row",
				slog.Int("row", n),
				logger.Error(err))
			return
		}
		parsed = append(parsed, *meeting)
	})
	a.log.Debug("parsed calendar", slog.Int("count", len(parsed)))
	return parsed
}

func (a *Adapter) parseRow(row *goquery.Selection, base *url.URL) *vendors.RawMeeting {
	detail := row.Find(`a[href*="Detail_Meeting.aspx"]`).First()
	if detail.Length() == 0 {
		a.log.Warn("skipping calendar row without detail link")
		return nil
	}
	href, _ := detail.Attr("href")
	agendaURL := vendors.ResolveURL(base, href)
	if agendaURL == "" {
		return nil
	}

	id := queryParam(agendaURL, "ID")
	title := vendors.CleanText(detail.Text())
	if id == "" {
		a.log.Warn("skipping calendar row without meeting id", slog.String("title", title))
		return nil
	}

	var date *time.Time
	if t, ok := vendors.ParseDate(row.Find(".RowDetails").First().Text()); ok {
		date = &t
	}

	meeting := &vendors.RawMeeting{
		VendorMeetingID: id,
		Title:           title,
		Date:            date,
		AgendaURL:       agendaURL,
		Status:          vendors.StatusFromTitle(title),
	}
	row.Find(`a[href*="FileView.aspx"]`).Each(func(_ int, link *goquery.Selection) {
		label := strings.ToLower(vendors.CleanText(link.Text()))
		if strings.Contains(label, "minutes") {
			return
		}
		fileHref, _ := link.Attr("href")
		if resolved := vendors.ResolveURL(base, fileHref); resolved != "" {
			meeting.PacketURLs = append(meeting.PacketURLs, resolved)
		}
	})
	return meeting
}

// fetchMeetingItems parses the detail page's legislative-file links. Each
// link is one agenda item; the LegiFile id keys the matter on the vendor
// side.
func (a *Adapter) fetchMeetingItems(ctx context.Context, meetingID string) ([]vendors.RawAgendaItem, error) {
	detailURL := a.detailURL(meetingID)
	body, err := a.client.Get(ctx, detailURL)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, apperror.ErrVendorParsing.
			WithMessagef("parse meeting detail at %s", detailURL).WithInternal(err)
	}
	base, err := url.Parse(detailURL)
	if err != nil {
		return nil, apperror.ErrVendorParsing.
			WithMessagef("bad detail URL %q", detailURL).WithInternal(err)
	}

	seen := make(map[string]bool)
	var rawItems []vendors.RawAgendaItem
	doc.Find(`a[href*="Detail_LegiFile.aspx"]`).Each(func(_ int, link *goquery.Selection) {
		href, _ := link.Attr("href")
		resolved := vendors.ResolveURL(base, href)
		legiID := queryParam(resolved, "ID")
		if legiID == "" || seen[legiID] {
			return
		}
		seen[legiID] = true

		title := vendors.CleanText(link.Text())
		item := vendors.RawAgendaItem{
			Title:          title,
			Sequence:       len(rawItems),
			MatterFile:     vendors.ExtractMatterFile(title),
			VendorMatterID: legiID,
		}
		if err := item.Validate(); err != nil {
			a.log.Warn("skipping malformed agenda item",
				slog.String("legifile_id", legiID),
				logger.Error(err))
			return
		}
		rawItems = append(rawItems, item)
	})
	return rawItems, nil
}

// DiscoverItemAttachments walks a meeting's detail page one level deep and
// returns every document it links, for processors that want item exhibits
// beyond the packet.
func (a *Adapter) DiscoverItemAttachments(ctx context.Context, meetingRef string) ([]items.Attachment, error) {
	pageURL := a.detailURL(meetingRef)
	links, err := vendors.DiscoverPDFLinks(ctx, a.client, pageURL, 1)
	if err != nil {
		return nil, err
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, apperror.ErrVendorParsing.WithMessagef("bad detail URL %q", pageURL).WithInternal(err)
	}
	attachments := make([]items.Attachment, 0, len(links))
	for _, link := range links {
		if att, ok := vendors.AttachmentFromLink(base, link, ""); ok {
			attachments = append(attachments, att)
		}
	}
	return attachments, nil
}

func (a *Adapter) detailURL(meetingID string) string {
	return fmt.Sprintf("%s/Citizens/Detail_Meeting.aspx?ID=%s", a.baseURL, url.QueryEscape(meetingID))
}

func queryParam(rawURL, key string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Query().Get(key)
}
