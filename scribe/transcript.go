package scribe

import (
	"sort"
	"strings"
)

// InsertSorted places seg into segs ordered by start time. Segments with equal start times
// keep arrival order.
func InsertSorted(segs []TranscriptSegment, seg TranscriptSegment) []TranscriptSegment {
	i := sort.Search(len(segs), func(i int) bool { return segs[i].Start > seg.Start })
	segs = append(segs, TranscriptSegment{})
	copy(segs[i+1:], segs[i:])
	segs[i] = seg
	return segs
}

// PlainText renders segments as "Speaker: text" lines, the form handed to summarizers.
func PlainText(segs []TranscriptSegment) string {
	var sb strings.Builder
	for _, s := range segs {
		sb.WriteString(s.Speaker.Label())
		sb.WriteString(": ")
		sb.WriteString(s.Text)
		sb.WriteString("\n")
	}
	return sb.String()
}
