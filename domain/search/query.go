package search

import (
	"regexp"
	"strings"
)

// Kind is how a query string was interpreted.
type Kind string

const (
	// KindZipcode resolves a 5-digit zipcode to its city.
	KindZipcode Kind = "zipcode"
	// KindState lists a state's cities with meeting counts.
	KindState Kind = "state"
	// KindCity resolves a "City, ST" form to one city.
	KindCity Kind = "city"
	// KindText is full-text search over meetings, items and matters.
	KindText Kind = "text"
)

var zipcodeRe = regexp.MustCompile(`^[0-9]{5}$`)

// stateCodes maps lowercased state names to their USPS code.
var stateCodes = map[string]string{
	"alabama": "AL", "alaska": "AK", "arizona": "AZ", "arkansas": "AR",
	"california": "CA", "colorado": "CO", "connecticut": "CT", "delaware": "DE",
	"florida": "FL", "georgia": "GA", "hawaii": "HI", "idaho": "ID",
	"illinois": "IL", "indiana": "IN", "iowa": "IA", "kansas": "KS",
	"kentucky": "KY", "louisiana": "LA", "maine": "ME", "maryland": "MD",
	"massachusetts": "MA", "michigan": "MI", "minnesota": "MN", "mississippi": "MS",
	"missouri": "MO", "montana": "MT", "nebraska": "NE", "nevada": "NV",
	"new hampshire": "NH", "new jersey": "NJ", "new mexico": "NM", "new york": "NY",
	"north carolina": "NC", "north dakota": "ND", "ohio": "OH", "oklahoma": "OK",
	"oregon": "OR", "pennsylvania": "PA", "rhode island": "RI", "south carolina": "SC",
	"south dakota": "SD", "tennessee": "TN", "texas": "TX", "utah": "UT",
	"vermont": "VT", "virginia": "VA", "washington": "WA", "west virginia": "WV",
	"wisconsin": "WI", "wyoming": "WY", "district of columbia": "DC",
	"puerto rico": "PR",
}

var stateAbbrevs = func() map[string]struct{} {
	set := make(map[string]struct{}, len(stateCodes))
	for _, code := range stateCodes {
		set[code] = struct{}{}
	}
	return set
}()

// StateCode resolves a state name or USPS code to the code, if it is one.
func StateCode(s string) (string, bool) {
	trimmed := strings.TrimSpace(s)
	if code, ok := stateCodes[strings.ToLower(trimmed)]; ok {
		return code, true
	}
	upper := strings.ToUpper(trimmed)
	if _, ok := stateAbbrevs[upper]; ok {
		return upper, true
	}
	return "", false
}

// Classify decides how to interpret a raw query string. "City, ST" needs a
// recognised state suffix; anything unrecognised falls through to full-text.
func Classify(text string) (Kind, string, string) {
	trimmed := strings.TrimSpace(text)

	if zipcodeRe.MatchString(trimmed) {
		return KindZipcode, trimmed, ""
	}
	if code, ok := StateCode(trimmed); ok {
		return KindState, code, ""
	}
	if name, rest, found := strings.Cut(trimmed, ","); found {
		if code, ok := StateCode(rest); ok && strings.TrimSpace(name) != "" {
			return KindCity, strings.TrimSpace(name), code
		}
	}
	return KindText, trimmed, ""
}
