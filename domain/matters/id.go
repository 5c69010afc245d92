package matters

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"
)

// Tier-3 titles shorter than this never become matters; short generic labels
// collide far too often to track.
const minTitleLength = 30

// readingPrefixRe matches the procedural prefixes clerks prepend when the
// same matter comes back for another reading.
var readingPrefixRe = regexp.MustCompile(`(?i)^\s*(?:(?:first|second|third|fourth|\d+(?:st|nd|rd|th))\s+(?:reading|read)|re-?introduced|reintroduction|substitute)\s*[:.\-–—]?\s+`)

// excludedTitles are vendor-independent procedural labels that recur on every
// agenda and must never be tracked as matters. A normalised title is excluded
// when it equals a phrase or starts with one ("approval of minutes of the
// regular meeting of ..." is still boilerplate).
var excludedTitles = map[string]struct{}{
	"public comment":           {},
	"public comments":          {},
	"staff comments":           {},
	"staff report":             {},
	"closed session":           {},
	"open forum":               {},
	"roll call":                {},
	"call to order":            {},
	"adjournment":              {},
	"approval of minutes":      {},
	"approval of the minutes":  {},
	"consent calendar":         {},
	"consent agenda":           {},
	"pledge of allegiance":     {},
	"announcements":            {},
	"invocation":               {},
	"oral communications":      {},
	"future agenda items":      {},
	"city manager comments":    {},
	"council member comments":  {},
	"committee reports":        {},
	"presentations":            {},
	"proclamations":            {},
	"public hearing":           {},
	"new business":             {},
	"old business":             {},
	"unfinished business":      {},
	"reports of officers":      {},
	"approval of agenda":       {},
	"adoption of agenda":       {},
	"executive session":        {},
	"recess":                   {},
	"welcome":                  {},
	"general public comment":   {},
	"items removed from consent": {},
}

// GenerateMatterID derives the composite matter id for an observed agenda
// item using the three-tier fallback: the public matter_file, then the
// vendor's opaque matter id, then the normalised title. Returns false when no
// tier yields a trackable identity, in which case the item is always unique.
func GenerateMatterID(banana, matterFile, vendorMatterID, title string) (string, bool) {
	if f := strings.TrimSpace(matterFile); f != "" {
		return hashID(banana, "|file|"+strings.ToUpper(f)), true
	}
	if v := strings.TrimSpace(vendorMatterID); v != "" {
		return hashID(banana, "|vendor|"+v), true
	}

	norm := NormalizeTitle(title)
	if utf8.RuneCountInString(norm) < minTitleLength || isExcludedTitle(norm) {
		return "", false
	}
	return hashID(banana, "|title|"+norm), true
}

func isExcludedTitle(norm string) bool {
	for phrase := range excludedTitles {
		if norm == phrase || strings.HasPrefix(norm, phrase+" ") {
			return true
		}
	}
	return false
}

// NormalizeTitle prepares a title for Tier-3 hashing: reading prefixes are
// stripped repeatedly (clerks stack them), whitespace collapses, and the
// result is lowercased. District prefixes are deliberately left in place —
// colliding distinct matters is worse than missing a reappearance.
func NormalizeTitle(title string) string {
	s := strings.TrimSpace(title)
	for {
		stripped := readingPrefixRe.ReplaceAllString(s, "")
		if stripped == s {
			break
		}
		s = stripped
	}
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// hashID scopes the identity hash by banana so identical file numbers in
// different cities stay distinct matters.
func hashID(banana, input string) string {
	sum := sha256.Sum256([]byte(banana + input))
	return banana + "_" + hex.EncodeToString(sum[:8])
}

// AttachmentHash fingerprints an item's attachment set: SHA-256 over the
// sorted URL list. Equal hashes mean the backing documents have not changed
// and the canonical summary may be reused.
func AttachmentHash(urls []string) string {
	if len(urls) == 0 {
		return ""
	}
	sorted := make([]string, len(urls))
	copy(sorted, urls)
	slices.Sort(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, "\n")))
	return hex.EncodeToString(sum[:])
}
