// Package store persists meeting records and their transcript segments.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/bosley/minutes/engine"
	"github.com/bosley/minutes/scribe"
)

type Status string

const (
	StatusRecording Status = "recording"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

var ErrNotFound = errors.New("meeting not found")

type Meeting struct {
	ID        string                     `json:"id"`
	Title     string                     `json:"title"`
	Source    string                     `json:"source"`
	Status    Status                     `json:"status"`
	StartedAt time.Time                  `json:"startedAt"`
	EndedAt   *time.Time                 `json:"endedAt,omitempty"`
	Segments  []scribe.TranscriptSegment `json:"segments,omitempty"`
	Summary   string                     `json:"summary,omitempty"`
	SummaryAt *time.Time                 `json:"summaryAt,omitempty"`
	AudioPath string                     `json:"audioPath,omitempty"`
	AudioHash string                     `json:"audioHash,omitempty"`
}

// Store is the append-only record of meetings. Segments come back ordered by start time.
type Store interface {
	Create(ctx context.Context, title, source string) (string, error)
	AddSegment(ctx context.Context, meetingID string, seg scribe.TranscriptSegment) error
	CompleteMeeting(ctx context.Context, meetingID string, endedAt time.Time) error
	UpdateSummary(ctx context.Context, meetingID string, summary engine.Summary) error
	AttachAudio(ctx context.Context, meetingID, path, hash string) error
	Delete(ctx context.Context, meetingID string) error
	Get(ctx context.Context, meetingID string) (Meeting, error)
	// List returns meetings newest first, without segments.
	List(ctx context.Context) ([]Meeting, error)
}
