package output

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bosley/minutes/scribe"
	"github.com/bosley/minutes/store"
)

func TestRenderTranscript(t *testing.T) {
	started := time.Date(2024, 3, 1, 9, 0, 0, 0, time.Local)
	ended := started.Add(75 * time.Minute)
	m := store.Meeting{
		ID:        "m1",
		Title:     "Planning",
		Source:    "zoom",
		Status:    store.StatusCompleted,
		StartedAt: started,
		EndedAt:   &ended,
		Summary:   "## Summary\nWe planned.\n",
		Segments: []scribe.TranscriptSegment{
			{Speaker: scribe.SpeakerMe, Text: "I think we should ship.", Start: 5 * time.Second, End: 10 * time.Second},
			{Speaker: scribe.SpeakerOther, Text: "Can you check?", Start: 61 * time.Minute, End: 61*time.Minute + 4*time.Second},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, RenderTranscript(&buf, m))
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, "# Planning\n"))
	assert.Contains(t, out, "- Duration: 1h15m00s")
	assert.Contains(t, out, "## Summary\nWe planned.")
	assert.Contains(t, out, "[00:05-00:10] **Me:** I think we should ship.\n")
	assert.Contains(t, out, "[1:01:00-1:01:04] **Other:** Can you check?\n")
	assert.Less(t, strings.Index(out, "We planned"), strings.Index(out, "## Transcript"))
}

func TestRenderEmptyTranscript(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderTranscript(&buf, store.Meeting{Title: "Quiet", StartedAt: time.Now()}))
	assert.Contains(t, buf.String(), "_No speech was transcribed._")
	assert.NotContains(t, buf.String(), "Duration")
}

func TestFormatter(t *testing.T) {
	var buf bytes.Buffer
	f := NewFormatter(&buf)

	f.RecordingStopped(90 * time.Second)
	f.Segment(scribe.TranscriptSegment{Speaker: scribe.SpeakerUnknown, Text: "hello", Start: 0, End: 2 * time.Second})
	f.MeetingListItem(store.Meeting{ID: "m1", Title: "Sync", Status: store.StatusCompleted, Summary: "done"})
	f.SetupCheck("whisper", false, "not found")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "⏹️  Recording stopped (1m30s)", lines[0])
	assert.Equal(t, "[00:00-00:02] Unknown: hello", lines[1])
	assert.Contains(t, lines[2], "Sync ✅")
	assert.Equal(t, "  ❌ whisper: not found", lines[3])
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "7s", formatDuration(7*time.Second))
	assert.Equal(t, "2m05s", formatDuration(125*time.Second))
	assert.Equal(t, "1h00m01s", formatDuration(time.Hour+time.Second))
}
