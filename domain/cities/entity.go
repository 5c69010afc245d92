package cities

import (
	"strings"
	"time"
	"unicode"

	"github.com/uptrace/bun"
)

// City status constants
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// City represents a municipality in the cities table
type City struct {
	bun.BaseModel `bun:"table:cities,alias:c"`

	Banana      string    `bun:"banana,pk" json:"banana"`
	Name        string    `bun:"name,notnull" json:"name"`
	State       string    `bun:"state,notnull" json:"state"`
	Vendor      string    `bun:"vendor,notnull" json:"vendor"`
	Slug        string    `bun:"slug,notnull" json:"slug"`
	County      *string   `bun:"county" json:"county,omitempty"`
	Status      string    `bun:"status,notnull,default:'active'" json:"status"`
	VendorToken *string   `bun:"vendor_token" json:"-"`
	CreatedAt   time.Time `bun:"created_at,nullzero,notnull,default:now()" json:"createdAt"`
	UpdatedAt   time.Time `bun:"updated_at,nullzero,notnull,default:now()" json:"updatedAt"`

	// Populated only when requested
	Zipcodes []Zipcode `bun:"rel:has-many,join:banana=banana" json:"zipcodes,omitempty"`
}

// Zipcode links a city to one of its ZIP codes. A city has at most one
// primary zipcode; a zipcode may be shared by several cities.
type Zipcode struct {
	bun.BaseModel `bun:"table:zipcodes,alias:z"`

	Banana    string `bun:"banana,pk" json:"banana"`
	Zipcode   string `bun:"zipcode,pk" json:"zipcode"`
	IsPrimary bool   `bun:"is_primary,notnull,default:false" json:"isPrimary"`
}

// Banana derives the city key from name and state: the lowercase alphanumeric
// runs of the name concatenated with the uppercase state code, e.g.
// ("Palo Alto", "CA") -> "paloaltoCA".
func Banana(name, state string) string {
	var b strings.Builder
	b.Grow(len(name) + 2)
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	b.WriteString(strings.ToUpper(strings.TrimSpace(state)))
	return b.String()
}
