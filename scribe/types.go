package scribe

import (
	"fmt"
	"time"
)

// Speaker is the closed set of attributions a segment can carry.
type Speaker string

const (
	SpeakerMe      Speaker = "me"
	SpeakerOther   Speaker = "other"
	SpeakerUnknown Speaker = "unknown"
)

func ParseSpeaker(s string) (Speaker, error) {
	switch Speaker(s) {
	case SpeakerMe, SpeakerOther, SpeakerUnknown:
		return Speaker(s), nil
	}
	return "", fmt.Errorf("unknown speaker %q", s)
}

// Label is the display form used in rendered transcripts.
func (s Speaker) Label() string {
	switch s {
	case SpeakerMe:
		return "Me"
	case SpeakerOther:
		return "Other"
	default:
		return "Unknown"
	}
}

// AudioChunk is one window of captured audio. Start and End are offsets from the
// beginning of the recording.
type AudioChunk struct {
	Samples []float32
	Start   time.Duration
	End     time.Duration
	Final   bool
}

func (c AudioChunk) Duration() time.Duration {
	return c.End - c.Start
}

// TranscriptSegment is one attributed utterance. Segments are never empty and never mutated.
type TranscriptSegment struct {
	ID         string        `json:"id"`
	Speaker    Speaker       `json:"speaker"`
	Text       string        `json:"text"`
	Start      time.Duration `json:"start"`
	End        time.Duration `json:"end"`
	Confidence float64       `json:"confidence"`
}

// Result is what the pipeline emits per processed window: a segment, an error, or neither
// when the window held nothing new.
type Result struct {
	Segment *TranscriptSegment
	Err     error
	Start   time.Duration
	End     time.Duration
}
