package matters

import (
	"time"

	"github.com/uptrace/bun"
)

// Legislative dispositions a matter moves through. Vendors report these with
// wildly different vocabulary; adapters map onto this set.
const (
	DispositionActive    = "active"
	DispositionPassed    = "passed"
	DispositionFailed    = "failed"
	DispositionTabled    = "tabled"
	DispositionWithdrawn = "withdrawn"
	DispositionReferred  = "referred"
	DispositionAmended   = "amended"
	DispositionVetoed    = "vetoed"
	DispositionEnacted   = "enacted"
)

// Matter is a piece of legislation tracked across meetings. Rows deliberately
// survive deletion of their city so legislative history is never lost.
type Matter struct {
	bun.BaseModel `bun:"table:city_matters,alias:cm"`

	ID               string     `bun:"id,pk" json:"id"`
	Banana           string     `bun:"banana,notnull" json:"banana"`
	MatterFile       string     `bun:"matter_file,nullzero" json:"matter_file,omitempty"`
	VendorMatterID   string     `bun:"matter_id,nullzero" json:"vendor_matter_id,omitempty"`
	Title            string     `bun:"title,nullzero" json:"title,omitempty"`
	CanonicalSummary *string    `bun:"canonical_summary" json:"canonical_summary,omitempty"`
	AttachmentHash   string     `bun:"attachment_hash,nullzero" json:"-"`
	FirstSeen        time.Time  `bun:"first_seen,nullzero,notnull,default:now()" json:"first_seen"`
	LastSeen         time.Time  `bun:"last_seen,nullzero,notnull,default:now()" json:"last_seen"`
	AppearanceCount  int        `bun:"appearance_count,nullzero,notnull,default:1" json:"appearance_count"`
	Status           *string    `bun:"status" json:"status,omitempty"`
	FinalVoteDate    *time.Time `bun:"final_vote_date" json:"final_vote_date,omitempty"`

	Topics []string `bun:"-" json:"topics,omitempty"`
}

// HasCanonical reports whether a usable canonical summary is stored.
func (m *Matter) HasCanonical() bool {
	return m.CanonicalSummary != nil && *m.CanonicalSummary != ""
}

// VoteTally is the recorded roll-call breakdown for one appearance.
type VoteTally struct {
	Yes     int `json:"yes"`
	No      int `json:"no"`
	Abstain int `json:"abstain,omitempty"`
	Absent  int `json:"absent,omitempty"`
	Recused int `json:"recused,omitempty"`
}

// Appearance records one occurrence of a matter on one meeting's agenda.
type Appearance struct {
	bun.BaseModel `bun:"table:matter_appearances,alias:ma"`

	MatterID    string     `bun:"matter_id,pk" json:"matter_id"`
	MeetingID   string     `bun:"meeting_id,pk" json:"meeting_id"`
	AppearedAt  *time.Time `bun:"appeared_at" json:"appeared_at,omitempty"`
	Sequence    *int       `bun:"sequence" json:"sequence,omitempty"`
	VoteOutcome string     `bun:"vote_outcome,nullzero" json:"vote_outcome,omitempty"`
	VoteTally   *VoteTally `bun:"vote_tally,nullzero,type:jsonb" json:"vote_tally,omitempty"`
}
