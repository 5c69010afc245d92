package vendors

import (
	"context"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/engagic/engagic/domain/items"
	"github.com/engagic/engagic/domain/matters"
	"github.com/engagic/engagic/domain/meetings"
)

// CityRef carries the city fields an adapter needs to talk to its vendor.
// Slug is the vendor-side identifier (Legistar client code, Granicus
// subdomain, CivicClerk site name and so on).
type CityRef struct {
	Banana string
	Name   string
	State  string
	Slug   string
	Vendor string

	// Token is the city's decrypted vendor API credential, empty when the
	// vendor needs none.
	Token string
}

// Metadata describes what a vendor's listings can provide.
type Metadata struct {
	// SupportsItems is true when the vendor exposes item-level agendas
	SupportsItems bool

	// SupportsVotes is true when the vendor publishes roll-call results
	SupportsVotes bool
}

// FetchWindow bounds a sync run relative to "now": DaysBack into the past,
// DaysForward into the future.
type FetchWindow struct {
	DaysBack    int
	DaysForward int
}

// Bounds returns the window as [start, end) at calendar-day granularity, so
// a meeting at midnight on the first day still counts.
func (w FetchWindow) Bounds(now time.Time) (time.Time, time.Time) {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	start := day.AddDate(0, 0, -w.DaysBack)
	end := day.AddDate(0, 0, w.DaysForward+1)
	return start, end
}

// Contains reports whether a meeting date falls inside the window. Undated
// meetings are kept; vendors that never date a meeting still deserve a row.
func (w FetchWindow) Contains(date *time.Time, now time.Time) bool {
	if date == nil {
		return true
	}
	start, end := w.Bounds(now)
	return !date.Before(start) && date.Before(end)
}

// RawMeeting is the canonical record every adapter yields, vendor quirks
// already normalised away. Date is nil when the vendor gives none; naive
// vendor-local times are carried as-is.
type RawMeeting struct {
	VendorMeetingID string
	Title           string
	Date            *time.Time
	AgendaURL       string
	PacketURLs      meetings.URLList
	Participation   *meetings.Participation
	Status          string
	Items           []RawAgendaItem
}

// Validate reports why a record is unusable, or nil. Adapters drop invalid
// records with a warning instead of yielding them.
func (m *RawMeeting) Validate() error {
	if strings.TrimSpace(m.VendorMeetingID) == "" {
		return errMissing("vendor meeting id")
	}
	if strings.TrimSpace(m.Title) == "" {
		return errMissing("title")
	}
	if m.AgendaURL == "" && len(m.PacketURLs) == 0 {
		return errMissing("agenda or packet URL")
	}
	return nil
}

// RawAgendaItem is one agenda line as the vendor published it. MatterFile is
// the public legislative number; VendorMatterID the vendor's opaque key.
// Votes are populated only by vendors that expose them.
type RawAgendaItem struct {
	Title          string
	Sequence       int
	MatterFile     string
	VendorMatterID string
	Attachments    []items.Attachment
	Sponsors       []items.Sponsor
	VoteOutcome    string
	VoteTally      *matters.VoteTally
}

// Valid agenda items need at least a title; sequence must not be negative.
func (i *RawAgendaItem) Validate() error {
	if strings.TrimSpace(i.Title) == "" {
		return errMissing("item title")
	}
	if i.Sequence < 0 {
		return errNegativeSequence
	}
	return nil
}

// Adapter is the per-vendor fetch contract. FetchMeetings yields canonical
// records lazily; the sequence is finite and not restartable (each call opens
// a fresh session). A non-nil error element aborts the city's sync.
type Adapter interface {
	Vendor() string
	Metadata() Metadata
	FetchMeetings(ctx context.Context, window FetchWindow) iter.Seq2[RawMeeting, error]
}

// AttachmentDiscoverer is implemented by adapters whose attachments live on a
// separate page from the meeting record.
type AttachmentDiscoverer interface {
	DiscoverItemAttachments(ctx context.Context, meetingRef string) ([]items.Attachment, error)
}

// Deps is what every adapter gets at construction time.
type Deps struct {
	Client *Client
	Log    *slog.Logger
}

// Factory builds an adapter bound to one city.
type Factory func(city CityRef, deps Deps) Adapter
