// Package legistar fetches meetings from Granicus Legistar sites through the
// public web API at webapi.legistar.com. Legistar is the richest vendor in
// the fleet: item-level agendas, matter files, attachments and roll-call
// votes all come straight off the API.
package legistar

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

	"github.com/engagic/engagic/domain/items"
	"github.com/engagic/engagic/domain/matters"
	"github.com/engagic/engagic/domain/meetings"
	"github.com/engagic/engagic/domain/vendors"
	"github.com/engagic/engagic/pkg/logger"
)

const VendorName = "legistar"

// Module registers the adapter factory.
var Module = fx.Module("vendors.legistar", fx.Invoke(Register))

// Register adds this vendor to the registry.
func Register(reg *vendors.Registry) {
	reg.Register(VendorName, New)
}

// Adapter talks to one city's Legistar instance. The slug is the Legistar
// client code ("nashville" for nashville.legistar.com).
type Adapter struct {
	city    vendors.CityRef
	client  *vendors.Client
	log     *slog.Logger
	apiBase string
}

// New builds the adapter for a city.
func New(city vendors.CityRef, deps vendors.Deps) vendors.Adapter {
	return newAdapter(city, deps, "https://webapi.legistar.com/v1")
}

func newAdapter(city vendors.CityRef, deps vendors.Deps, apiBase string) *Adapter {
	return &Adapter{
		city:    city,
		client:  deps.Client,
		log:     deps.Log.With(logger.Scope("vendors.legistar"), slog.String("banana", city.Banana)),
		apiBase: apiBase,
	}
}

func (a *Adapter) Vendor() string { return VendorName }

// withToken appends the city's API token for rate-limit relief on large
// clients. Most Legistar sites answer without one.
func (a *Adapter) withToken(u string) string {
	if a.city.Token == "" {
		return u
	}
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	return u + sep + "token=" + url.QueryEscape(a.city.Token)
}

func (a *Adapter) Metadata() vendors.Metadata {
	return vendors.Metadata{SupportsItems: true, SupportsVotes: true}
}

// event is the API's event record; only the fields we consume.
type event struct {
	EventID               int     `json:"EventId"`
	EventBodyName         string  `json:"EventBodyName"`
	EventDate             string  `json:"EventDate"`
	EventTime             *string `json:"EventTime"`
	EventAgendaStatusName string  `json:"EventAgendaStatusName"`
	EventAgendaFile       *string `json:"EventAgendaFile"`
	EventInSiteURL        string  `json:"EventInSiteURL"`
	EventComment          *string `json:"EventComment"`
}

type eventItem struct {
	EventItemID             int                `json:"EventItemId"`
	EventItemAgendaSequence *int               `json:"EventItemAgendaSequence"`
	EventItemTitle          *string            `json:"EventItemTitle"`
	EventItemMatterFile     *string            `json:"EventItemMatterFile"`
	EventItemMatterID       *int               `json:"EventItemMatterId"`
	EventItemPassedFlagName *string            `json:"EventItemPassedFlagName"`
	EventItemMatterAttachs  []matterAttachment `json:"EventItemMatterAttachments"`
}

type matterAttachment struct {
	MatterAttachmentID        int    `json:"MatterAttachmentId"`
	MatterAttachmentName      string `json:"MatterAttachmentName"`
	MatterAttachmentHyperlink string `json:"MatterAttachmentHyperlink"`
}

type eventItemVote struct {
	VotePersonName string `json:"VotePersonName"`
	VoteValueName  string `json:"VoteValueName"`
}

// FetchMeetings yields one RawMeeting per event inside the window. Item and
// vote sub-requests ride on the same session; an HTTP failure there aborts
// the sync, a malformed record is skipped with a warning.
func (a *Adapter) FetchMeetings(ctx context.Context, window vendors.FetchWindow) iter.Seq2[vendors.RawMeeting, error] {
	return func(yield func(vendors.RawMeeting, error) bool) {
		now := time.Now()
		events, err := a.fetchEvents(ctx, window, now)
		if err != nil {
			yield(vendors.RawMeeting{}, err)
			return
		}

		for _, ev := range events {
			meeting, err := a.convertEvent(ctx, ev)
			if err != nil {
				yield(vendors.RawMeeting{}, err)
				return
			}
			if verr := meeting.Validate(); verr != nil {
				a.log.Warn("skipping malformed event",
					slog.Int("event_id", ev.EventID),
					logger.Error(verr))
				continue
			}
			if !window.Contains(meeting.Date, now) {
				continue
			}
			if !yield(*meeting, nil) {
				return
			}
		}
	}
}

func (a *Adapter) fetchEvents(ctx context.Context, window vendors.FetchWindow, now time.Time) ([]event, error) {
	start, end := window.Bounds(now)
	filter := fmt.Sprintf("EventDate ge datetime'%s' and EventDate lt datetime'%s'",
		start.Format("2006-01-02"), end.Format("2006-01-02"))

	u := fmt.Sprintf("%s/%s/events?$filter=%s&$orderby=EventDate",
		a.apiBase, url.PathEscape(a.city.Slug), url.QueryEscape(filter))

	var events []event
	if err := a.client.GetJSON(ctx, a.withToken(u), &events); err != nil {
		return nil, err
	}
	a.log.Debug("fetched events", slog.Int("count", len(events)))
	return events, nil
}

func (a *Adapter) convertEvent(ctx context.Context, ev event) (*vendors.RawMeeting, error) {
	meeting := &vendors.RawMeeting{
		VendorMeetingID: strconv.Itoa(ev.EventID),
		Title:           eventTitle(ev),
		AgendaURL:       ev.EventInSiteURL,
		Status:          eventStatus(ev.EventAgendaStatusName),
	}

	timeStr := ""
	if ev.EventTime != nil {
		timeStr = *ev.EventTime
	}
	if date, ok := vendors.ParseDateAndTime(ev.EventDate, timeStr); ok {
		meeting.Date = &date
	}

	if ev.EventAgendaFile != nil && *ev.EventAgendaFile != "" {
		meeting.PacketURLs = meetings.URLList{*ev.EventAgendaFile}
	}

	rawItems, err := a.fetchEventItems(ctx, ev.EventID)
	if err != nil {
		return nil, err
	}
	meeting.Items = rawItems
	return meeting, nil
}

func (a *Adapter) fetchEventItems(ctx context.Context, eventID int) ([]vendors.RawAgendaItem, error) {
	u := fmt.Sprintf("%s/%s/events/%d/eventitems?AgendaNote=1&MinutesNote=1&Attachments=1",
		a.apiBase, url.PathEscape(a.city.Slug), eventID)

	var apiItems []eventItem
	if err := a.client.GetJSON(ctx, a.withToken(u), &apiItems); err != nil {
		return nil, err
	}

	rawItems := make([]vendors.RawAgendaItem, 0, len(apiItems))
	for n, it := range apiItems {
		raw := vendors.RawAgendaItem{
			Title:    derefString(it.EventItemTitle),
			Sequence: n,
		}
		if it.EventItemAgendaSequence != nil && *it.EventItemAgendaSequence >= 0 {
			raw.Sequence = *it.EventItemAgendaSequence
		}
		if it.EventItemMatterFile != nil {
			raw.MatterFile = strings.TrimSpace(*it.EventItemMatterFile)
		}
		if it.EventItemMatterID != nil {
			raw.VendorMatterID = strconv.Itoa(*it.EventItemMatterID)
		}
		for _, att := range it.EventItemMatterAttachs {
			if att.MatterAttachmentHyperlink == "" {
				continue
			}
			raw.Attachments = append(raw.Attachments, items.Attachment{
				Name:   att.MatterAttachmentName,
				URL:    att.MatterAttachmentHyperlink,
				Type:   vendors.ClassifyAttachmentType(att.MatterAttachmentHyperlink),
				MetaID: strconv.Itoa(att.MatterAttachmentID),
			})
		}

		if it.EventItemPassedFlagName != nil && *it.EventItemPassedFlagName != "" {
			outcome, tally, err := a.fetchVotes(ctx, it.EventItemID, *it.EventItemPassedFlagName)
			if err != nil {
				return nil, err
			}
			raw.VoteOutcome = outcome
			raw.VoteTally = tally
		}

		if verr := raw.Validate(); verr != nil {
			a.log.Warn("skipping malformed agenda item",
				slog.Int("event_item_id", it.EventItemID),
				logger.Error(verr))
			continue
		}
		rawItems = append(rawItems, raw)
	}
	return rawItems, nil
}

// fetchVotes resolves the roll call for one decided item. The passed flag
// gives the outcome; the votes endpoint fills in the tally.
func (a *Adapter) fetchVotes(ctx context.Context, eventItemID int, passedFlag string) (string, *matters.VoteTally, error) {
	outcome := "failed"
	if strings.HasPrefix(strings.ToLower(passedFlag), "pass") {
		outcome = "passed"
	}

	u := fmt.Sprintf("%s/%s/eventitems/%d/votes", a.apiBase, url.PathEscape(a.city.Slug), eventItemID)
	var votes []eventItemVote
	if err := a.client.GetJSON(ctx, a.withToken(u), &votes); err != nil {
		return "", nil, err
	}
	if len(votes) == 0 {
		return outcome, nil, nil
	}

	var tally matters.VoteTally
	for _, v := range votes {
		switch strings.ToLower(v.VoteValueName) {
		case "yea", "aye", "yes", "in favor":
			tally.Yes++
		case "nay", "no", "against":
			tally.No++
		case "abstain", "abstained":
			tally.Abstain++
		case "absent", "excused":
			tally.Absent++
		case "recused", "recuse":
			tally.Recused++
		}
	}
	return outcome, &tally, nil
}

func eventTitle(ev event) string {
	title := vendors.CleanText(ev.EventBodyName)
	if ev.EventComment != nil {
		if comment := vendors.CleanText(*ev.EventComment); comment != "" {
			title = title + " - " + comment
		}
	}
	return title
}

// eventStatus maps Legistar agenda statuses onto the meeting lifecycle.
// Draft and Final both mean the meeting is on.
func eventStatus(s string) string {
	switch {
	case strings.Contains(strings.ToLower(s), "cancel"):
		return meetings.StatusCancelled
	case strings.EqualFold(s, "revised"), strings.EqualFold(s, "amended"):
		return meetings.StatusRevised
	default:
		return meetings.StatusScheduled
	}
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
