// Package escribe scrapes meetings from eSCRIBE public portals. Each portal
// lists upcoming meetings as cards linking an HTML agenda page and the
// documents behind the FileStream handler; meetings are monolithic.
package escribe

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

	"github.com/engagic/engagic/domain/vendors"
	"github.com/engagic/engagic/pkg/apperror"
	"github.com/engagic/engagic/pkg/logger"
)

const VendorName = "escribe"

// Module registers the adapter factory.
var Module = fx.Module("vendors.escribe", fx.Invoke(Register))

// Register adds this vendor to the registry.
func Register(reg *vendors.Registry) {
	reg.Register(VendorName, New)
}

// Adapter scrapes one city's eSCRIBE portal. The slug is the publisher name
// ("barrie" for pub-barrie.escribemeetings.com).
type Adapter struct {
	city    vendors.CityRef
	client  *vendors.Client
	log     *slog.Logger
	baseURL string
}

// New builds the adapter for a city.
func New(city vendors.CityRef, deps vendors.Deps) vendors.Adapter {
	return newAdapter(city, deps, fmt.Sprintf("https://pub-%s.escribemeetings.com", city.Slug))
}

func newAdapter(city vendors.CityRef, deps vendors.Deps, baseURL string) *Adapter {
	return &Adapter{
		city:    city,
		client:  deps.Client,
		log:     deps.Log.With(logger.Scope("vendors.escribe"), slog.String("banana", city.Banana)),
		baseURL: baseURL,
	}
}

func (a *Adapter) Vendor() string { return VendorName }

func (a *Adapter) Metadata() vendors.Metadata {
	return vendors.Metadata{}
}

// FetchMeetings scrapes the portal's landing page, which lists the upcoming
// meetings. Past meetings live behind per-year tabs and are not walked.
func (a *Adapter) FetchMeetings(ctx context.Context, window vendors.FetchWindow) iter.Seq2[vendors.RawMeeting, error] {
	return func(yield func(vendors.RawMeeting, error) bool) {
		now := time.Now()
		pageURL := a.baseURL + "/"
		body, err := a.client.Get(ctx, pageURL)
		if err != nil {
			yield(vendors.RawMeeting{}, err)
			return
		}
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil {
			yield(vendors.RawMeeting{}, apperror.ErrVendorParsing.
				WithMessagef("parse portal at %s", pageURL).WithInternal(err))
			return
		}
		base, err := url.Parse(pageURL)
		if err != nil {
			yield(vendors.RawMeeting{}, apperror.ErrVendorParsing.
				WithMessagef("bad portal URL %q", pageURL).WithInternal(err))
			return
		}

		for _, meeting := range a.parsePortal(doc, base) {
			if !window.Contains(meeting.Date, now) {
				continue
			}
			if !yield(meeting, nil) {
				return
			}
		}
	}
}

func (a *Adapter) parsePortal(doc *goquery.Document, base *url.URL) []vendors.RawMeeting {
	var parsed []vendors.RawMeeting
	doc.Find("div.MeetingItem").Each(func(n int, card *goquery.Selection) {
		meeting := a.parseCard(card, base)
		if meeting == nil {
			return
		}
		if err := meeting.Validate(); err != nil {
			a.log.Warn("skipping malformed meeting card",
				slog.Int("card", n),
				logger.Error(err))
			return
		}
		parsed = append(parsed, *meeting)
	})
	a.log.Debug("parsed portal", slog.Int("count", len(parsed)))
	return parsed
}

func (a *Adapter) parseCard(card *goquery.Selection, base *url.URL) *vendors.RawMeeting {
	agenda := card.Find(`a[href*="Meeting.aspx"]`).First()
	if agenda.Length() == 0 {
		a.log.Warn("skipping meeting card without agenda link")
		return nil
	}
	href, _ := agenda.Attr("href")
	agendaURL := vendors.ResolveURL(base, href)
	if agendaURL == "" {
		return nil
	}

	id := meetingGUID(agendaURL)
	title := vendors.CleanText(agenda.Text())
	if id == "" {
		id = vendors.ShortHash(title, agendaURL)
	}

	var date *time.Time
	if t, ok := vendors.ParseDate(card.Find(".MeetingDate").First().Text()); ok {
		date = &t
	}

	meeting := &vendors.RawMeeting{
		VendorMeetingID: id,
		Title:           title,
		Date:            date,
		AgendaURL:       agendaURL,
		Status:          vendors.StatusFromTitle(title),
	}
	card.Find(`a[href*="FileStream.ashx"]`).Each(func(_ int, link *goquery.Selection) {
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

// meetingGUID pulls the meeting's id out of the agenda link. eSCRIBE uses
// opaque GUIDs rather than serials.
func meetingGUID(agendaURL string) string {
	u, err := url.Parse(agendaURL)
	if err != nil {
		return ""
	}
	return u.Query().Get("Id")
}
