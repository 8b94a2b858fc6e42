package scribe

import (
	"sort"
	"strings"
)

// Deduplicator strips text that an earlier window already produced. Engines re-transcribing
// overlapping audio tend to repeat earlier output verbatim as a prefix, so only prefix
// overlap is removed.
//
// A Deduplicator is owned by a single goroutine and is not safe for concurrent use.
type Deduplicator struct {
	seen  map[string]struct{}
	order []string // longest first
}

func NewDeduplicator() *Deduplicator {
	return &Deduplicator{seen: make(map[string]struct{})}
}

// Filter returns the part of raw not yet emitted, or "" when nothing is new.
func (d *Deduplicator) Filter(raw string) string {
	text := normalize(raw)
	if text == "" {
		return ""
	}
	if _, ok := d.seen[text]; ok {
		return ""
	}

	for _, prev := range d.order {
		if !strings.HasPrefix(text, prev) {
			continue
		}
		rest := strings.TrimSpace(strings.TrimPrefix(text, prev))
		if rest == "" {
			continue
		}
		if _, ok := d.seen[rest]; ok {
			continue
		}
		d.add(rest)
		return rest
	}

	d.add(text)
	return text
}

func (d *Deduplicator) add(text string) {
	d.seen[text] = struct{}{}
	i := sort.Search(len(d.order), func(i int) bool { return len(d.order[i]) < len(text) })
	d.order = append(d.order, "")
	copy(d.order[i+1:], d.order[i:])
	d.order[i] = text
}

// Len reports how many distinct texts have been emitted.
func (d *Deduplicator) Len() int {
	return len(d.seen)
}

// Reset forgets everything; used between recordings.
func (d *Deduplicator) Reset() {
	d.seen = make(map[string]struct{})
	d.order = nil
}

// normalize trims and collapses runs of whitespace.
func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
