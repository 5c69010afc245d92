package items

import (
	"time"

	"github.com/uptrace/bun"
)

// Attachment types as they come off vendor pages. Parsers preserve types they
// do not recognise as "unknown" instead of guessing.
const (
	AttachmentPDF     = "pdf"
	AttachmentHTML    = "html"
	AttachmentDoc     = "doc"
	AttachmentUnknown = "unknown"
)

// Attachment is one document linked from an agenda item.
type Attachment struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	Type   string `json:"type"`
	MetaID string `json:"meta_id,omitempty"`
}

// Sponsor references a council member backing an item.
type Sponsor struct {
	Name string `json:"name"`
	ID   string `json:"id,omitempty"`
}

// AgendaItem represents one row of the items table
type AgendaItem struct {
	bun.BaseModel `bun:"table:items,alias:i"`

	ID          string       `bun:"id,pk" json:"id"`
	MeetingID   string       `bun:"meeting_id,notnull" json:"meeting_id"`
	Title       string       `bun:"title,notnull" json:"title"`
	Sequence    int          `bun:"sequence,notnull" json:"sequence"`
	Attachments []Attachment `bun:"attachments,nullzero,type:jsonb" json:"attachments,omitempty"`
	Sponsors    []Sponsor    `bun:"sponsors,nullzero,type:jsonb" json:"sponsors,omitempty"`
	MatterID    *string      `bun:"matter_id" json:"matter_id,omitempty"`
	MatterFile  string       `bun:"matter_file,nullzero" json:"matter_file,omitempty"`
	Summary     *string      `bun:"summary" json:"summary,omitempty"`
	CreatedAt   time.Time    `bun:"created_at,nullzero,notnull,default:now()" json:"created_at"`

	// Loaded from item_topics, never stored on this table
	Topics []string `bun:"-" json:"topics,omitempty"`
}

// AttachmentURLs returns the item's attachment URLs in page order.
func (a *AgendaItem) AttachmentURLs() []string {
	if len(a.Attachments) == 0 {
		return nil
	}
	urls := make([]string, 0, len(a.Attachments))
	for _, att := range a.Attachments {
		if att.URL != "" {
			urls = append(urls, att.URL)
		}
	}
	return urls
}
