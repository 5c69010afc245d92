package meetings

import (
	"encoding/json"
	"time"

	"github.com/uptrace/bun"
)

// Vendor-reported meeting lifecycle
const (
	StatusScheduled   = "scheduled"
	StatusCancelled   = "cancelled"
	StatusPostponed   = "postponed"
	StatusRevised     = "revised"
	StatusRescheduled = "rescheduled"
	StatusCompleted   = "completed"
)

// Pipeline state of a meeting's summarisation
const (
	ProcessingPending    = "pending"
	ProcessingProcessing = "processing"
	ProcessingCompleted  = "completed"
	ProcessingFailed     = "failed"
)

// How a meeting was summarised
const (
	MethodItemBased  = "item-based"
	MethodMonolithic = "monolithic"
	MethodBatch      = "batch"
)

// URLList stores one or many packet URLs. Vendors disagree on whether a
// meeting carries a single PDF or several, so the JSON column accepts both a
// bare string and an array; a single URL marshals back to a bare string.
type URLList []string

func (u URLList) MarshalJSON() ([]byte, error) {
	if len(u) == 1 {
		return json.Marshal(u[0])
	}
	return json.Marshal([]string(u))
}

func (u *URLList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		if single == "" {
			*u = nil
		} else {
			*u = URLList{single}
		}
		return nil
	}

	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*u = URLList(many)
	return nil
}

// Participation describes how the public can join a meeting, as far as the
// vendor exposes it.
type Participation struct {
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
	VirtualURL string `json:"virtual_url,omitempty"`
	MeetingID  string `json:"meeting_id,omitempty"`
	IsHybrid   bool   `json:"is_hybrid,omitempty"`
}

// Meeting represents one row of the meetings table
type Meeting struct {
	bun.BaseModel `bun:"table:meetings,alias:m"`

	ID                string         `bun:"id,pk" json:"id"`
	Banana            string         `bun:"banana,notnull" json:"banana"`
	Title             string         `bun:"title,notnull" json:"title"`
	Date              *time.Time     `bun:"date" json:"date,omitempty"`
	AgendaURL         string         `bun:"agenda_url,nullzero" json:"agenda_url,omitempty"`
	PacketURL         URLList        `bun:"packet_url,nullzero,type:jsonb" json:"packet_url,omitempty"`
	Summary           *string        `bun:"summary" json:"summary,omitempty"`
	Participation     *Participation `bun:"participation,nullzero,type:jsonb" json:"participation,omitempty"`
	Status            string         `bun:"status,nullzero,notnull,default:'scheduled'" json:"status"`
	ProcessingStatus  string         `bun:"processing_status,nullzero,notnull,default:'pending'" json:"processing_status"`
	ProcessingMethod  *string        `bun:"processing_method" json:"processing_method,omitempty"`
	ProcessingTimeMS  *int           `bun:"processing_time_ms" json:"processing_time_ms,omitempty"`
	VendorFingerprint string         `bun:"vendor_fingerprint,nullzero" json:"-"`
	CreatedAt         time.Time      `bun:"created_at,nullzero,notnull,default:now()" json:"created_at"`
	UpdatedAt         time.Time      `bun:"updated_at,nullzero,notnull,default:now()" json:"updated_at"`

	// Derived at read time, never stored on this table
	Topics   []string `bun:"-" json:"topics,omitempty"`
	HasItems bool     `bun:"has_items,scanonly" json:"has_items"`
}

// HasDocument reports whether the meeting carries anything to extract.
func (m *Meeting) HasDocument() bool {
	return m.AgendaURL != "" || len(m.PacketURL) > 0
}
