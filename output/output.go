package output

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bosley/minutes/scribe"
	"github.com/bosley/minutes/store"
)

type Formatter struct {
	w io.Writer
}

func NewFormatter(w io.Writer) *Formatter {
	return &Formatter{w: w}
}

func (f *Formatter) RecordingStarted(id, title string) {
	fmt.Fprintf(f.w, "🎙️  Recording %q (%s). Press Ctrl+C to stop.\n", title, id)
}

func (f *Formatter) RecordingStopped(duration time.Duration) {
	fmt.Fprintf(f.w, "⏹️  Recording stopped (%s)\n", formatDuration(duration))
}

func (f *Formatter) Segment(seg scribe.TranscriptSegment) {
	fmt.Fprintf(f.w, "%s %s: %s\n", timestamp(seg.Start, seg.End), seg.Speaker.Label(), seg.Text)
}

func (f *Formatter) Summarizing() {
	fmt.Fprintf(f.w, "🤖 Generating summary...\n")
}

func (f *Formatter) Summary(text string) {
	fmt.Fprintf(f.w, "\n%s\n", strings.TrimSpace(text))
}

func (f *Formatter) MeetingSaved(id string) {
	fmt.Fprintf(f.w, "\n📁 Meeting saved: %s\n", id)
}

func (f *Formatter) Cancelled() {
	fmt.Fprintf(f.w, "🗑️  Meeting discarded\n")
}

func (f *Formatter) Error(msg string) {
	fmt.Fprintf(f.w, "❌ %s\n", msg)
}

func (f *Formatter) Info(msg string) {
	fmt.Fprintf(f.w, "ℹ️  %s\n", msg)
}

func (f *Formatter) Success(msg string) {
	fmt.Fprintf(f.w, "✅ %s\n", msg)
}

func (f *Formatter) Warning(msg string) {
	fmt.Fprintf(f.w, "⚠️  %s\n", msg)
}

func (f *Formatter) MeetingListHeader() {
	fmt.Fprintf(f.w, "📁 Meetings:\n\n")
}

func (f *Formatter) MeetingListItem(m store.Meeting) {
	var status string
	switch {
	case m.Status == store.StatusRecording:
		status = " 🔴"
	case m.Status == store.StatusFailed:
		status = " ❌"
	case m.Summary != "":
		status = " ✅"
	default:
		status = " 📝"
	}
	fmt.Fprintf(f.w, "  %s  %s  %s%s\n", m.ID, m.StartedAt.Local().Format("2006-01-02 15:04"), m.Title, status)
}

func (f *Formatter) Device(id int, name string, channels int, rate float64) {
	fmt.Fprintf(f.w, "  [%d] %s (%d ch, %.0f Hz)\n", id, name, channels, rate)
}

func (f *Formatter) SetupCheck(name string, ok bool, detail string) {
	if ok {
		fmt.Fprintf(f.w, "  ✅ %s: %s\n", name, detail)
	} else {
		fmt.Fprintf(f.w, "  ❌ %s: %s\n", name, detail)
	}
}

// RenderTranscript writes a meeting as markdown: a header, the summary when there is one,
// then one line per segment.
func RenderTranscript(w io.Writer, m store.Meeting) error {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", m.Title)
	fmt.Fprintf(&b, "- Started: %s\n", m.StartedAt.Local().Format("2006-01-02 15:04:05"))
	if m.EndedAt != nil {
		fmt.Fprintf(&b, "- Duration: %s\n", formatDuration(m.EndedAt.Sub(m.StartedAt)))
	}
	fmt.Fprintf(&b, "- Source: %s\n", m.Source)
	if m.AudioPath != "" {
		fmt.Fprintf(&b, "- Audio: %s\n", m.AudioPath)
	}

	if m.Summary != "" {
		fmt.Fprintf(&b, "\n%s\n", strings.TrimSpace(m.Summary))
	}

	b.WriteString("\n## Transcript\n\n")
	if len(m.Segments) == 0 {
		b.WriteString("_No speech was transcribed._\n")
	}
	for _, seg := range m.Segments {
		fmt.Fprintf(&b, "%s %s\n", timestamp(seg.Start, seg.End), line(seg))
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func line(seg scribe.TranscriptSegment) string {
	return fmt.Sprintf("**%s:** %s", seg.Speaker.Label(), seg.Text)
}

func timestamp(start, end time.Duration) string {
	return fmt.Sprintf("[%s-%s]", clock(start), clock(end))
}

// clock formats an offset as mm:ss, growing to h:mm:ss past the first hour.
func clock(d time.Duration) string {
	d = d.Truncate(time.Second)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	s := (d % time.Minute) / time.Second
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
