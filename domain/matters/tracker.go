package matters

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/uptrace/bun"

	"github.com/engagic/engagic/pkg/apperror"
	"github.com/engagic/engagic/pkg/logger"
)

// Decision classifies what one observed agenda item means for tracking.
type Decision string

const (
	// DecisionUntracked means no identity tier produced a matter id; the
	// item is processed standalone.
	DecisionUntracked Decision = "untracked"
	// DecisionNewMatter means this is the first sighting of the matter.
	DecisionNewMatter Decision = "new_matter"
	// DecisionReappearance means the matter was already on an earlier agenda.
	DecisionReappearance Decision = "reappearance"
)

// Observation is the tracker's verdict for one item. When ReuseSummary is
// set the matter's attachments are unchanged since the canonical summary was
// written, and the caller should copy it onto the item instead of paying for
// a fresh summarisation.
type Observation struct {
	Decision     Decision
	MatterID     string
	ReuseSummary bool
}

// MeetingRef carries the meeting context an item was observed in.
type MeetingRef struct {
	Banana string
	ID     string
	Date   *time.Time
}

// ItemObservation carries the identity-bearing fields of one raw agenda item.
type ItemObservation struct {
	Title          string
	MatterFile     string
	VendorMatterID string
	AttachmentURLs []string
	VoteOutcome    string
	VoteTally      *VoteTally
}

// Tracker resolves observed agenda items to tracked matters and keeps the
// appearance bookkeeping consistent. All writes go through the caller's
// transaction so item links and matter rows land atomically.
type Tracker struct {
	log *slog.Logger
}

// NewTracker creates a new matter tracker
func NewTracker(log *slog.Logger) *Tracker {
	return &Tracker{
		log: log.With(logger.Scope("matters.tracker")),
	}
}

// Observe records one agenda item sighting. It derives the matter identity,
// creates or refreshes the matter row, records the appearance, and reports
// whether the stored canonical summary is still valid for this item.
func (t *Tracker) Observe(ctx context.Context, db bun.IDB, meeting MeetingRef, item ItemObservation) (Observation, error) {
	matterID, ok := GenerateMatterID(meeting.Banana, item.MatterFile, item.VendorMatterID, item.Title)
	if !ok {
		return Observation{Decision: DecisionUntracked}, nil
	}

	repo := NewRepository(db, t.log)

	seen := time.Now().UTC()
	if meeting.Date != nil {
		seen = *meeting.Date
	}

	inserted, err := repo.Upsert(ctx, &Matter{
		ID:             matterID,
		Banana:         meeting.Banana,
		MatterFile:     strings.TrimSpace(item.MatterFile),
		VendorMatterID: strings.TrimSpace(item.VendorMatterID),
		Title:          strings.TrimSpace(item.Title),
		FirstSeen:      seen,
		LastSeen:       seen,
	})
	if err != nil {
		return Observation{}, err
	}

	obs := Observation{Decision: DecisionNewMatter, MatterID: matterID}
	ordinal := 1

	if !inserted {
		existing, err := repo.Get(ctx, matterID)
		if err != nil {
			return Observation{}, err
		}
		if existing == nil {
			return Observation{}, apperror.ErrDatabase.WithMessagef("matter %s missing after upsert", matterID)
		}

		obs.Decision = DecisionReappearance
		obs.ReuseSummary = existing.HasCanonical() &&
			existing.AttachmentHash != "" &&
			existing.AttachmentHash == AttachmentHash(item.AttachmentURLs)
		ordinal = existing.AppearanceCount + 1
	}

	created, err := repo.UpsertAppearance(ctx, &Appearance{
		MatterID:    matterID,
		MeetingID:   meeting.ID,
		AppearedAt:  meeting.Date,
		Sequence:    &ordinal,
		VoteOutcome: item.VoteOutcome,
		VoteTally:   item.VoteTally,
	})
	if err != nil {
		return Observation{}, err
	}

	if !inserted {
		if err := repo.UpdateTracking(ctx, matterID, seen, created); err != nil {
			return Observation{}, err
		}
	}

	t.log.Debug("observed matter",
		slog.String("matter_id", matterID),
		slog.String("meeting_id", meeting.ID),
		slog.String("decision", string(obs.Decision)),
		slog.Bool("reuse_summary", obs.ReuseSummary))

	return obs, nil
}

// PromoteCanonical stores a freshly generated summary as the matter's
// canonical one, fingerprinted by the attachment set it was derived from.
func (t *Tracker) PromoteCanonical(ctx context.Context, db bun.IDB, matterID, summary string, topicTags []string, attachmentURLs []string) error {
	repo := NewRepository(db, t.log)
	return repo.SetCanonical(ctx, matterID, summary, AttachmentHash(attachmentURLs), topicTags)
}
