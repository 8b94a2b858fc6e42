// Package session sequences one meeting at a time through capture, transcription and
// background summarization.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/bosley/minutes/engine"
	"github.com/bosley/minutes/scribe"
)

type Status int

const (
	Idle Status = iota
	Starting
	Recording
	Stopping
	Processing
	Completed
	Failed
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Recording:
		return "recording"
	case Stopping:
		return "stopping"
	case Processing:
		return "processing"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	for st := Idle; st <= Failed; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown session status %q", text)
}

// busy reports whether a recording owns the capture path.
func (s Status) busy() bool {
	return s == Starting || s == Recording || s == Stopping
}

type ErrorKind int

const (
	AlreadyActive ErrorKind = iota + 1
	NotRecording
	StartFailed
	ModelLoadFailed
	Cancelled
)

func (k ErrorKind) String() string {
	switch k {
	case AlreadyActive:
		return "a meeting is already active"
	case NotRecording:
		return "no meeting is recording"
	case StartFailed:
		return "could not start recording"
	case ModelLoadFailed:
		return "speech model failed to load"
	case Cancelled:
		return "meeting was cancelled"
	default:
		return "session error"
	}
}

type Error struct {
	Kind   ErrorKind
	Status Status
	Err    error
}

var (
	ErrAlreadyActive   = &Error{Kind: AlreadyActive}
	ErrNotRecording    = &Error{Kind: NotRecording}
	ErrStartFailed     = &Error{Kind: StartFailed}
	ErrModelLoadFailed = &Error{Kind: ModelLoadFailed}
	ErrCancelled       = &Error{Kind: Cancelled}
)

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Kind == AlreadyActive || e.Kind == NotRecording {
		msg = fmt.Sprintf("%s (status %s)", msg, e.Status)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

type EventKind string

const (
	EventMeetingStarted         EventKind = "meeting-started"
	EventSegmentAdded           EventKind = "segment-added"
	EventMeetingEnded           EventKind = "meeting-ended"
	EventMeetingCancelled       EventKind = "meeting-cancelled"
	EventSummaryGenerated       EventKind = "summary-generated"
	EventDiarizationUnavailable EventKind = "diarization-unavailable"
	EventStatusChanged          EventKind = "status-changed"
	EventEngineError            EventKind = "engine-error"
)

// Event is a fire-and-forget notification for UIs.
type Event struct {
	Kind      EventKind                 `json:"type"`
	MeetingID string                    `json:"meetingId,omitempty"`
	Status    Status                    `json:"status"`
	Segment   *scribe.TranscriptSegment `json:"segment,omitempty"`
	Summary   *engine.Summary           `json:"summary,omitempty"`
	Error     string                    `json:"error,omitempty"`
	At        time.Time                 `json:"at"`
}

// Notifier receives session events. Notify may be called with controller state locked, so it
// must not block or call back into the controller.
type Notifier interface {
	Notify(Event)
}

type NotifierFunc func(Event)

func (f NotifierFunc) Notify(e Event) { f(e) }

// Notifiers fans an event out to several notifiers.
type Notifiers []Notifier

func (ns Notifiers) Notify(e Event) {
	for _, n := range ns {
		n.Notify(e)
	}
}

type nopNotifier struct{}

func (nopNotifier) Notify(Event) {}

// Snapshot is the controller's observable state.
type Snapshot struct {
	Status    Status    `json:"status"`
	MeetingID string    `json:"meetingId,omitempty"`
	Title     string    `json:"title,omitempty"`
	StartedAt time.Time `json:"startedAt,omitempty"`
	Segments  int       `json:"segments"`
	Level     float64   `json:"level"`
	Diarizing bool      `json:"diarizing"`
	LastError string    `json:"lastError,omitempty"`
}
