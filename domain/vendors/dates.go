package vendors

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Layouts seen across vendor portals, most common first. Zoneless layouts
// come back UTC-tagged but carry the vendor's local clock time unchanged.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05.0000000",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"01/02/2006 3:04 PM",
	"01/02/2006 15:04",
	"01/02/2006",
	"1/2/2006 3:04 PM",
	"1/2/2006",
	"01-02-2006",
	"2006/01/02",
	"January 2, 2006 3:04 PM",
	"January 2, 2006",
	"Jan 2, 2006 3:04 PM",
	"Jan 2, 2006",
	"Jan 2 2006",
	"2 January 2006",
	"Monday, January 2, 2006 3:04 PM",
	"Monday, January 2, 2006",
}

var timeLayouts = []string{
	"3:04 PM",
	"3:04PM",
	"15:04",
	"3:04:05 PM",
}

// Placeholder strings vendors publish instead of a date.
var datePlaceholders = map[string]bool{
	"tbd":              true,
	"tba":              true,
	"na":               true,
	"n/a":              true,
	"pending":          true,
	"not set":          true,
	"to be posted":     true,
	"to be determined": true,
}

// ASP.NET serialisers emit /Date(1627000000000)/ with an optional offset.
var msJSONDateRe = regexp.MustCompile(`^/Date\((\d+)(?:[+-]\d{4})?\)/$`)

var gluedMeridiemRe = regexp.MustCompile(`(\d)(AM|PM)$`)

// ParseDate turns a vendor date string into a time. Unparseable input,
// placeholders like "TBD" and empty strings return false — a missing date is
// better than a guessed one.
func ParseDate(s string) (time.Time, bool) {
	s = normalizeDateString(s)
	if s == "" || datePlaceholders[strings.ToLower(s)] {
		return time.Time{}, false
	}

	if m := msJSONDateRe.FindStringSubmatch(s); m != nil {
		millis, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return time.Time{}, false
		}
		return time.UnixMilli(millis).UTC(), true
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ParseDatePtr is ParseDate for callers storing nullable dates.
func ParseDatePtr(s string) *time.Time {
	t, ok := ParseDate(s)
	if !ok {
		return nil
	}
	return &t
}

// ParseDateAndTime merges portals' separate date and time columns. A bad or
// absent time column degrades to midnight rather than losing the date.
func ParseDateAndTime(dateStr, timeStr string) (time.Time, bool) {
	day, ok := ParseDate(dateStr)
	if !ok {
		return time.Time{}, false
	}

	timeStr = normalizeDateString(timeStr)
	if timeStr == "" {
		return day, true
	}
	for _, layout := range timeLayouts {
		clock, err := time.Parse(layout, strings.ToUpper(timeStr))
		if err != nil {
			continue
		}
		return time.Date(day.Year(), day.Month(), day.Day(),
			clock.Hour(), clock.Minute(), clock.Second(), 0, day.Location()), true
	}
	return day, true
}

// normalizeDateString collapses the junk that HTML scraping drags in:
// non-breaking spaces, doubled whitespace, a literal "at" or " - " between
// date and time ("July 22, 2025 - 6:30 PM"), and lowercase meridiems.
func normalizeDateString(s string) string {
	s = strings.ReplaceAll(s, " ", " ")
	s = strings.Join(strings.Fields(s), " ")
	s = strings.ReplaceAll(s, " at ", " ")
	s = strings.ReplaceAll(s, " - ", " ")
	if strings.HasSuffix(s, "am") || strings.HasSuffix(s, "pm") {
		s = s[:len(s)-2] + strings.ToUpper(s[len(s)-2:])
	}
	s = strings.ReplaceAll(s, " a.m.", " AM")
	s = strings.ReplaceAll(s, " p.m.", " PM")
	s = gluedMeridiemRe.ReplaceAllString(s, "$1 $2")
	return strings.TrimSpace(s)
}
