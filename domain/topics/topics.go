// Package topics maps free-form topic strings produced by the summariser onto
// a fixed civic taxonomy. The taxonomy and its synonym table live in an
// embedded, versioned data file so tag curation never touches code.
package topics

import (
	_ "embed"
	"sort"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

//go:embed taxonomy.yaml
var taxonomyYAML []byte

type taxonomyFile struct {
	Version  int               `yaml:"version"`
	Topics   []string          `yaml:"topics"`
	Synonyms map[string]string `yaml:"synonyms"`
}

type taxonomy struct {
	version   int
	canonical []string
	rank      map[string]int
	synonyms  map[string]string
}

var tax = mustLoadTaxonomy()

func mustLoadTaxonomy() *taxonomy {
	var f taxonomyFile
	if err := yaml.Unmarshal(taxonomyYAML, &f); err != nil {
		panic("topics: invalid taxonomy.yaml: " + err.Error())
	}

	t := &taxonomy{
		version:   f.Version,
		canonical: f.Topics,
		rank:      make(map[string]int, len(f.Topics)),
		synonyms:  make(map[string]string, len(f.Synonyms)),
	}
	for i, tag := range f.Topics {
		t.rank[tag] = i
	}
	for raw, tag := range f.Synonyms {
		if _, ok := t.rank[tag]; !ok {
			panic("topics: synonym maps to unknown tag: " + tag)
		}
		t.synonyms[normKey(raw)] = tag
	}
	return t
}

// Version returns the taxonomy data-file version.
func Version() int {
	return tax.version
}

// Canonical returns the canonical tags in taxonomy order.
func Canonical() []string {
	out := make([]string, len(tax.canonical))
	copy(out, tax.canonical)
	return out
}

// IsCanonical reports whether tag is exactly a canonical taxonomy tag.
func IsCanonical(tag string) bool {
	_, ok := tax.rank[tag]
	return ok
}

// Normalize maps raw topic strings onto canonical tags. Strings that resolve
// to no tag are dropped rather than bucketed; duplicates collapse to their
// first occurrence and input order is preserved.
func Normalize(raw []string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, s := range raw {
		tag, ok := lookup(s)
		if !ok {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

// OrderCanonical sorts canonical tags into taxonomy order. Topic link tables
// store sets, so readers use this for a stable presentation order.
func OrderCanonical(tags []string) []string {
	out := make([]string, len(tags))
	copy(out, tags)
	sort.Slice(out, func(i, j int) bool {
		ri, iok := tax.rank[out[i]]
		rj, jok := tax.rank[out[j]]
		if iok != jok {
			return iok
		}
		if ri != rj {
			return ri < rj
		}
		return out[i] < out[j]
	})
	return out
}

// AggregateMeetingTopics rolls item-level topic lists up to the meeting:
// tags ordered by how many items carry them, most frequent first, ties broken
// by taxonomy order.
func AggregateMeetingTopics(itemTopics [][]string) []string {
	counts := make(map[string]int)
	for _, topics := range itemTopics {
		for _, tag := range Normalize(topics) {
			counts[tag]++
		}
	}

	out := make([]string, 0, len(counts))
	for tag := range counts {
		out = append(out, tag)
	}
	sort.Slice(out, func(i, j int) bool {
		if counts[out[i]] != counts[out[j]] {
			return counts[out[i]] > counts[out[j]]
		}
		return tax.rank[out[i]] < tax.rank[out[j]]
	})
	return out
}

func lookup(s string) (string, bool) {
	key := normKey(s)
	if key == "" {
		return "", false
	}
	if tag := strings.ReplaceAll(key, " ", "_"); IsCanonical(tag) {
		return tag, true
	}
	if tag, ok := tax.synonyms[key]; ok {
		return tag, true
	}
	return "", false
}

// normKey lowercases, strips punctuation and collapses whitespace so lookup
// keys compare the way a human curating the synonym table expects.
func normKey(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	pendingSpace := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
			continue
		}
		pendingSpace = true
	}
	return b.String()
}
