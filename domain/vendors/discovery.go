package vendors

import (
	"bytes"
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/engagic/engagic/pkg/apperror"
)

// Caps on the link walk so a pathological portal cannot drag a sync into
// crawling the whole site.
const (
	maxDiscoveryPages = 8
	maxDiscoveredPDFs = 40
)

// Substrings that mark a link as a downloadable document. Civic portals hide
// PDFs behind handler URLs at least this often as behind .pdf paths.
var documentLinkMarkers = []string{
	".pdf",
	"view.ashx",
	"showdocument",
	"showpublisheddocument",
	"fileopen.aspx",
	"fileview.aspx",
	"displayagendapdf",
	"filestream",
	"compileddocument",
}

// Pages worth descending into while hunting for documents.
var followableLinkMarkers = []string{
	"agenda",
	"meeting",
	"packet",
	"document",
	"legifile",
}

// IsDocumentLink reports whether a href points at a downloadable document.
// Markers are matched against the whole URL; handler-style links carry their
// marker in the query string.
func IsDocumentLink(href string) bool {
	return containsAny(strings.ToLower(href), documentLinkMarkers)
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// DiscoverPDFLinks walks an HTML page and collects document links, following
// same-host agenda-looking pages up to maxDepth. Results are absolute,
// deduplicated and in discovery order.
func DiscoverPDFLinks(ctx context.Context, client *Client, pageURL string, maxDepth int) ([]string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, apperror.ErrVendorParsing.WithMessagef("bad discovery URL %q", pageURL).WithInternal(err)
	}

	seen := map[string]bool{pageURL: true}
	found := make(map[string]bool)
	var docs []string
	fetched := 0

	type page struct {
		url   string
		depth int
	}
	frontier := []page{{url: pageURL, depth: 0}}

	for len(frontier) > 0 && len(docs) < maxDiscoveredPDFs {
		current := frontier[0]
		frontier = frontier[1:]

		if fetched >= maxDiscoveryPages {
			break
		}
		fetched++

		body, err := client.Get(ctx, current.url)
		if err != nil {
			if current.depth == 0 {
				return nil, err
			}
			continue // secondary pages are best-effort
		}

		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil {
			if current.depth == 0 {
				return nil, apperror.ErrVendorParsing.WithMessagef("parse HTML at %s", current.url).WithInternal(err)
			}
			continue
		}

		// Relative links on a followed page resolve against that page, not
		// the page the walk started from.
		pageBase := base
		if parsed, perr := url.Parse(current.url); perr == nil {
			pageBase = parsed
		}

		doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
			href, ok := s.Attr("href")
			if !ok || href == "" || skippableHref(href) {
				return
			}
			resolved := ResolveURL(pageBase, href)
			if resolved == "" {
				return
			}

			if IsDocumentLink(resolved) {
				if !found[resolved] && len(docs) < maxDiscoveredPDFs {
					found[resolved] = true
					docs = append(docs, resolved)
				}
				return
			}

			if current.depth >= maxDepth || seen[resolved] {
				return
			}
			linkURL, err := url.Parse(resolved)
			if err != nil || linkURL.Host != base.Host {
				return
			}
			if containsAny(strings.ToLower(linkURL.Path), followableLinkMarkers) {
				seen[resolved] = true
				frontier = append(frontier, page{url: resolved, depth: current.depth + 1})
			}
		})
	}

	return docs, nil
}

func skippableHref(href string) bool {
	lower := strings.ToLower(strings.TrimSpace(href))
	return lower == "" ||
		strings.HasPrefix(lower, "#") ||
		strings.HasPrefix(lower, "javascript:") ||
		strings.HasPrefix(lower, "mailto:") ||
		strings.HasPrefix(lower, "tel:") ||
		strings.HasPrefix(lower, "data:")
}

// ResolveURL makes a scraped href absolute against the page it came from.
// Protocol-relative hrefs pick up the page's scheme; anything that is not
// http(s) resolves to "".
func ResolveURL(base *url.URL, href string) string {
	resolved, err := base.Parse(href)
	if err != nil {
		return ""
	}
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	return resolved.String()
}
