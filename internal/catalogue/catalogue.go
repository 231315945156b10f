// Package catalogue extracts, normalizes and persists the table of contents
// of scanned archive documents.
package catalogue

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// DefaultMarker prefixes page labels in persisted catalogues ("页码5").
const DefaultMarker = "页码"

// Entry is one catalogue line: a printed page label and its title.
type Entry struct {
	PageLabel int    `json:"pageLabel"`
	Title     string `json:"title"`
}

// Catalogue is an ordered list of entries with strictly increasing labels.
type Catalogue struct {
	Entries []Entry `json:"entries"`
}

// Len returns the number of entries.
func (c *Catalogue) Len() int { return len(c.Entries) }

// Pairs renders the catalogue as marker-prefixed key/value pairs in label
// order, the shape used by the persisted artifact and the HTTP API.
func (c *Catalogue) Pairs(marker string) []Pair {
	out := make([]Pair, len(c.Entries))
	for i, e := range c.Entries {
		out[i] = Pair{Key: FormatLabel(marker, e.PageLabel), Value: e.Title}
	}
	return out
}

// FormatLabel renders label as a mapping key.
func FormatLabel(marker string, label int) string {
	return marker + strconv.Itoa(label)
}

// ParseLabel reads a mapping key such as "页码12", "12" or "页码 １２".
func ParseLabel(marker, key string) (int, bool) {
	s := strings.TrimSpace(key)
	if marker != "" {
		s = strings.TrimSpace(strings.TrimPrefix(s, marker))
	}
	if s == "" {
		return 0, false
	}

	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '０' && r <= '９':
			b.WriteRune('0' + (r - '０'))
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			return 0, false
		}
	}

	n, err := strconv.Atoi(b.String())
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// Normalized is the outcome of Normalize.
type Normalized struct {
	Catalogue Catalogue
	// BadKeys holds keys that are not page labels.
	BadKeys []string
	// Duplicates holds keys dropped because their label was already taken.
	Duplicates []string
	// EmptyTitles counts entries dropped for having no title.
	EmptyTitles int
}

// Normalize turns decoded pairs into a catalogue: labels parsed, empty
// titles dropped, duplicate labels collapsed (first wins) and entries sorted
// ascending by label.
func Normalize(marker string, pairs []Pair) Normalized {
	var n Normalized
	seen := make(map[int]struct{}, len(pairs))

	for _, p := range pairs {
		label, ok := ParseLabel(marker, p.Key)
		if !ok {
			n.BadKeys = append(n.BadKeys, p.Key)
			continue
		}
		title := cleanTitle(p.Value)
		if title == "" {
			n.EmptyTitles++
			continue
		}
		if _, dup := seen[label]; dup {
			n.Duplicates = append(n.Duplicates, p.Key)
			continue
		}
		seen[label] = struct{}{}
		n.Catalogue.Entries = append(n.Catalogue.Entries, Entry{PageLabel: label, Title: title})
	}

	sort.SliceStable(n.Catalogue.Entries, func(i, j int) bool {
		return n.Catalogue.Entries[i].PageLabel < n.Catalogue.Entries[j].PageLabel
	})
	return n
}

// cleanTitle drops line breaks and surrounding space.
func cleanTitle(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' {
			return -1
		}
		return r
	}, s)
	return strings.TrimFunc(s, unicode.IsSpace)
}

// Validate checks the ordering invariant.
func (c *Catalogue) Validate() error {
	for i := 1; i < len(c.Entries); i++ {
		if c.Entries[i].PageLabel <= c.Entries[i-1].PageLabel {
			return fmt.Errorf("catalogue labels not strictly increasing at entry %d (%d after %d)",
				i, c.Entries[i].PageLabel, c.Entries[i-1].PageLabel)
		}
	}
	return nil
}
