package queue

import (
	"encoding/json"
	"time"

	"github.com/uptrace/bun"
)

// Job kinds. Each kind has exactly one payload shape.
const (
	KindSyncCity       = "sync_city"
	KindProcessMeeting = "process_meeting"
	KindProcessItem    = "process_item"
)

// Job lifecycle states.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusDeadLetter = "dead_letter"
)

// SyncPriority is the fixed priority for city sync jobs; meeting and item
// jobs scale with recency around it.
const SyncPriority = 50

// Job is one unit of durable work.
type Job struct {
	bun.BaseModel `bun:"table:queue_jobs,alias:qj"`

	ID          int64      `bun:"id,pk,autoincrement" json:"id"`
	Kind        string     `bun:"kind,notnull" json:"kind"`
	Payload     string     `bun:"payload,notnull" json:"payload"`
	Priority    int        `bun:"priority,notnull" json:"priority"`
	Status      string     `bun:"status,nullzero,notnull,default:'pending'" json:"status"`
	Attempts    int        `bun:"attempts,notnull" json:"attempts"`
	LastError   string     `bun:"last_error,nullzero" json:"last_error,omitempty"`
	CreatedAt   time.Time  `bun:"created_at,nullzero,notnull,default:now()" json:"created_at"`
	ScheduledAt time.Time  `bun:"scheduled_at,nullzero,notnull,default:now()" json:"scheduled_at"`
	StartedAt   *time.Time `bun:"started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time `bun:"completed_at" json:"completed_at,omitempty"`
}

// SyncCityPayload asks the fetcher to pull one city's agendas.
type SyncCityPayload struct {
	Banana string `json:"banana"`
}

// ProcessMeetingPayload asks the processor to summarise one meeting.
type ProcessMeetingPayload struct {
	MeetingID string `json:"meeting_id"`
}

// ProcessItemPayload asks the processor to summarise one agenda item.
type ProcessItemPayload struct {
	ItemID string `json:"item_id"`
}

// EnqueueParams describes a job to enqueue. RunAt defaults to immediately.
type EnqueueParams struct {
	Kind     string
	Payload  string
	Priority int
	RunAt    *time.Time
}

// NewSyncCityJob builds the enqueue request for a city sync.
func NewSyncCityJob(banana string) EnqueueParams {
	payload, _ := json.Marshal(SyncCityPayload{Banana: banana})
	return EnqueueParams{Kind: KindSyncCity, Payload: string(payload), Priority: SyncPriority}
}

// NewProcessMeetingJob builds the enqueue request for meeting processing.
func NewProcessMeetingJob(meetingID string, priority int) EnqueueParams {
	payload, _ := json.Marshal(ProcessMeetingPayload{MeetingID: meetingID})
	return EnqueueParams{Kind: KindProcessMeeting, Payload: string(payload), Priority: priority}
}

// NewProcessItemJob builds the enqueue request for item processing.
func NewProcessItemJob(itemID string, priority int) EnqueueParams {
	payload, _ := json.Marshal(ProcessItemPayload{ItemID: itemID})
	return EnqueueParams{Kind: KindProcessItem, Payload: string(payload), Priority: priority}
}

// MeetingPriority ranks processing work by recency: 100 minus the days since
// the meeting, floored at zero. Upcoming meetings land above 100 so residents
// see agendas before the vote, not after. Undated meetings take the floor.
func MeetingPriority(date *time.Time, now time.Time) int {
	if date == nil {
		return 0
	}
	days := int(now.Sub(*date).Hours() / 24)
	if p := 100 - days; p > 0 {
		return p
	}
	return 0
}
