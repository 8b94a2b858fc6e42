package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bosley/minutes/engine"
	"github.com/bosley/minutes/scribe"
)

// Memory keeps meetings in process. Used by replay runs and tests.
type Memory struct {
	mu       sync.Mutex
	meetings map[string]*Meeting
	now      func() time.Time
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{meetings: make(map[string]*Meeting), now: time.Now}
}

func (m *Memory) Create(ctx context.Context, title, source string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.NewString()
	m.meetings[id] = &Meeting{
		ID:        id,
		Title:     title,
		Source:    source,
		Status:    StatusRecording,
		StartedAt: m.now(),
	}
	return id, nil
}

func (m *Memory) AddSegment(ctx context.Context, meetingID string, seg scribe.TranscriptSegment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.meetings[meetingID]
	if !ok {
		return ErrNotFound
	}
	rec.Segments = append(rec.Segments, seg)
	return nil
}

func (m *Memory) CompleteMeeting(ctx context.Context, meetingID string, endedAt time.Time) error {
	return m.update(meetingID, func(rec *Meeting) {
		rec.Status = StatusCompleted
		rec.EndedAt = &endedAt
	})
}

func (m *Memory) UpdateSummary(ctx context.Context, meetingID string, summary engine.Summary) error {
	return m.update(meetingID, func(rec *Meeting) {
		rec.Summary = summary.Text
		at := summary.GeneratedAt
		rec.SummaryAt = &at
	})
}

func (m *Memory) AttachAudio(ctx context.Context, meetingID, path, hash string) error {
	return m.update(meetingID, func(rec *Meeting) {
		rec.AudioPath = path
		rec.AudioHash = hash
	})
}

func (m *Memory) update(meetingID string, fn func(*Meeting)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.meetings[meetingID]
	if !ok {
		return ErrNotFound
	}
	fn(rec)
	return nil
}

func (m *Memory) Delete(ctx context.Context, meetingID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.meetings[meetingID]; !ok {
		return ErrNotFound
	}
	delete(m.meetings, meetingID)
	return nil
}

func (m *Memory) Get(ctx context.Context, meetingID string) (Meeting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.meetings[meetingID]
	if !ok {
		return Meeting{}, ErrNotFound
	}
	out := *rec
	out.Segments = append([]scribe.TranscriptSegment(nil), rec.Segments...)
	sort.SliceStable(out.Segments, func(i, j int) bool {
		return out.Segments[i].Start < out.Segments[j].Start
	})
	return out, nil
}

func (m *Memory) List(ctx context.Context) ([]Meeting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Meeting, 0, len(m.meetings))
	for _, rec := range m.meetings {
		cp := *rec
		cp.Segments = nil
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out, nil
}

// Len is the number of stored meetings.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.meetings)
}
