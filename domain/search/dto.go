package search

import "time"

// Query is one search request. Banana and Topics only constrain the
// full-text path; lookup-style queries ignore them.
type Query struct {
	Text   string
	Banana string
	Topics []string
	Limit  int
}

// CityHit is a resolved city with its indexed meeting count.
type CityHit struct {
	Banana       string `json:"banana"`
	Name         string `json:"name"`
	State        string `json:"state"`
	Vendor       string `json:"vendor"`
	MeetingCount int    `json:"meeting_count"`
}

// MeetingHit is one meeting result. Score is zero for lookup-style queries.
type MeetingHit struct {
	ID      string     `json:"id"`
	Banana  string     `json:"banana"`
	Title   string     `json:"title"`
	Date    *time.Time `json:"date,omitempty"`
	Summary *string    `json:"summary,omitempty"`
	Score   float32    `json:"score"`
}

// ItemHit is one agenda item result.
type ItemHit struct {
	ID        string  `json:"id"`
	MeetingID string  `json:"meeting_id"`
	Banana    string  `json:"banana"`
	Title     string  `json:"title"`
	Score     float32 `json:"score"`
}

// MatterHit is one tracked matter result.
type MatterHit struct {
	ID         string  `json:"id"`
	Banana     string  `json:"banana"`
	MatterFile string  `json:"matter_file,omitempty"`
	Title      string  `json:"title"`
	Summary    *string `json:"summary,omitempty"`
	Score      float32 `json:"score"`
}

// Results is a search response. Which slices are populated depends on how
// the query was classified.
type Results struct {
	Kind     Kind         `json:"kind"`
	Cities   []CityHit    `json:"cities,omitempty"`
	Meetings []MeetingHit `json:"meetings,omitempty"`
	Items    []ItemHit    `json:"items,omitempty"`
	Matters  []MatterHit  `json:"matters,omitempty"`
}
