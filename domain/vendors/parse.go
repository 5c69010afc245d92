package vendors

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/engagic/engagic/domain/items"
	"github.com/engagic/engagic/domain/meetings"
)

// CleanText collapses scraped whitespace: non-breaking spaces, newlines and
// runs of blanks become single spaces.
func CleanText(s string) string {
	s = strings.ReplaceAll(s, " ", " ")
	return strings.Join(strings.Fields(s), " ")
}

// Legislative file numbers as they appear in the wild: "BL2025-1098",
// "ORD 24-7", "RES-2025-014", "24-0123". A bare year-dash-serial is the most
// common shape; an optional alphabetic prefix narrows false positives.
var matterFileRe = regexp.MustCompile(`\b([A-Z]{1,5}[-. ]?\d{2,4}-\d{1,5}|\d{2,4}-\d{3,5})\b`)

// ExtractMatterFile pulls a legislative file number out of free text, for
// portals that only publish it embedded in the item title. Empty when none
// is found.
func ExtractMatterFile(text string) string {
	return matterFileRe.FindString(text)
}

// SplitSponsors turns a sponsor line ("Councilmembers Smith, Jones and Lee")
// into individual references. Honorific prefixes are stripped, the rest is
// kept as published.
var sponsorPrefixRe = regexp.MustCompile(`(?i)^(?:council\s?(?:member|person|man|woman)s?|supervisors?|commissioners?|aldermen|alderman|trustees?|sponsored\s+by|sponsors?)[:.]?\s*`)

func SplitSponsors(line string) []items.Sponsor {
	line = CleanText(line)
	line = sponsorPrefixRe.ReplaceAllString(line, "")
	if line == "" {
		return nil
	}

	parts := strings.FieldsFunc(line, func(r rune) bool {
		return r == ',' || r == ';'
	})
	var sponsors []items.Sponsor
	for _, part := range parts {
		for _, name := range strings.Split(part, " and ") {
			name = strings.TrimSpace(name)
			if name == "" || strings.EqualFold(name, "and") {
				continue
			}
			sponsors = append(sponsors, items.Sponsor{Name: name})
		}
	}
	return sponsors
}

// ClassifyAttachmentType guesses an attachment's type from its URL or label.
// Anything unrecognised stays "unknown" rather than being forced into a
// bucket.
func ClassifyAttachmentType(nameOrURL string) string {
	lower := strings.ToLower(nameOrURL)
	switch {
	case strings.Contains(lower, ".pdf") || containsAny(lower, documentLinkMarkers):
		return items.AttachmentPDF
	case strings.HasSuffix(lower, ".htm") || strings.HasSuffix(lower, ".html"):
		return items.AttachmentHTML
	case strings.HasSuffix(lower, ".doc") || strings.HasSuffix(lower, ".docx"):
		return items.AttachmentDoc
	default:
		return items.AttachmentUnknown
	}
}

// AttachmentFromLink builds an attachment from an anchor, resolving relative
// hrefs against the page URL. Returns false when the href is unusable.
func AttachmentFromLink(base *url.URL, href, label string) (items.Attachment, bool) {
	if skippableHref(href) {
		return items.Attachment{}, false
	}
	resolved := ResolveURL(base, href)
	if resolved == "" {
		return items.Attachment{}, false
	}

	name := CleanText(label)
	if name == "" {
		name = attachmentNameFromURL(resolved)
	}
	return items.Attachment{
		Name: name,
		URL:  resolved,
		Type: ClassifyAttachmentType(resolved),
	}, true
}

// OwnText extracts an element's text with nested block elements removed, for
// agenda cells that hold a title plus sponsor or attachment sub-blocks. The
// selection is cloned so the caller's document is untouched.
func OwnText(sel *goquery.Selection) string {
	if sel.Length() == 0 {
		return ""
	}
	clone := sel.Clone()
	clone.Find("div, ul, ol, table").Remove()
	return clone.Text()
}

// StatusFromTitle reads the meeting lifecycle off the title for portals that
// publish cancellations only as title text ("CANCELLED - City Council").
func StatusFromTitle(title string) string {
	lower := strings.ToLower(title)
	switch {
	case strings.Contains(lower, "cancel"):
		return meetings.StatusCancelled
	case strings.Contains(lower, "postpon"):
		return meetings.StatusPostponed
	case strings.Contains(lower, "resched"):
		return meetings.StatusRescheduled
	case strings.Contains(lower, "revised"), strings.Contains(lower, "amended"):
		return meetings.StatusRevised
	default:
		return meetings.StatusScheduled
	}
}

// ShortHash derives a stable vendor meeting ID for portals that expose none:
// a truncated digest of whatever fields identify the row.
func ShortHash(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:8])
}

func attachmentNameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "attachment"
	}
	segment := u.Path
	if idx := strings.LastIndex(segment, "/"); idx >= 0 {
		segment = segment[idx+1:]
	}
	if segment == "" {
		return "attachment"
	}
	if decoded, err := url.PathUnescape(segment); err == nil {
		segment = decoded
	}
	return segment
}
