package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bosley/minutes/engine"
	"github.com/bosley/minutes/scribe"
)

func stores(t *testing.T) map[string]Store {
	sq, err := OpenSQLite(filepath.Join(t.TempDir(), "db", "minutes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sq.Close() })
	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": sq,
	}
}

func seg(id string, start, end time.Duration, text string) scribe.TranscriptSegment {
	return scribe.TranscriptSegment{
		ID:         id,
		Speaker:    scribe.SpeakerMe,
		Text:       text,
		Start:      start,
		End:        end,
		Confidence: 0.9,
	}
}

func TestMeetingLifecycle(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			id, err := s.Create(ctx, "Standup", "zoom")
			require.NoError(t, err)

			m, err := s.Get(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, StatusRecording, m.Status)
			assert.Equal(t, "Standup", m.Title)
			assert.Nil(t, m.EndedAt)

			require.NoError(t, s.AddSegment(ctx, id, seg("b", 10*time.Second, 15*time.Second, "later")))
			require.NoError(t, s.AddSegment(ctx, id, seg("a", 3*time.Second, 7*time.Second, "earlier")))

			ended := time.Now()
			require.NoError(t, s.CompleteMeeting(ctx, id, ended))
			require.NoError(t, s.UpdateSummary(ctx, id, engine.Summary{Text: "## Summary", GeneratedAt: ended}))
			require.NoError(t, s.AttachAudio(ctx, id, "/tmp/rec.wav", "abc"))

			m, err = s.Get(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, StatusCompleted, m.Status)
			require.NotNil(t, m.EndedAt)
			assert.Equal(t, ended.UnixNano(), m.EndedAt.UnixNano())
			assert.Equal(t, "## Summary", m.Summary)
			assert.Equal(t, "/tmp/rec.wav", m.AudioPath)
			assert.Equal(t, "abc", m.AudioHash)
			require.Len(t, m.Segments, 2)
			assert.Equal(t, "earlier", m.Segments[0].Text)
			assert.Equal(t, scribe.SpeakerMe, m.Segments[0].Speaker)
			assert.Equal(t, 7*time.Second, m.Segments[0].End)

			list, err := s.List(ctx)
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Empty(t, list[0].Segments)

			require.NoError(t, s.Delete(ctx, id))
			_, err = s.Get(ctx, id)
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, s.Delete(ctx, id), ErrNotFound)

			list, err = s.List(ctx)
			require.NoError(t, err)
			assert.Empty(t, list)
		})
	}
}

func TestMissingMeeting(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			assert.ErrorIs(t, s.CompleteMeeting(ctx, "nope", time.Now()), ErrNotFound)
			assert.ErrorIs(t, s.UpdateSummary(ctx, "nope", engine.Summary{}), ErrNotFound)
			_, err := s.Get(ctx, "nope")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestSQLiteListNewestFirst(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "minutes.db"))
	require.NoError(t, err)
	defer s.Close()

	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	calls := 0
	s.now = func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * time.Hour)
	}

	ctx := context.Background()
	first, err := s.Create(ctx, "first", "manual")
	require.NoError(t, err)
	second, err := s.Create(ctx, "second", "manual")
	require.NoError(t, err)

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second, list[0].ID)
	assert.Equal(t, first, list[1].ID)
}

func TestSQLiteSettingsApplyToEveryConnection(t *testing.T) {
	sq, err := OpenSQLite(filepath.Join(t.TempDir(), "minutes.db"))
	require.NoError(t, err)
	defer sq.Close()
	ctx := context.Background()

	// hold one connection so the pool has to open a second
	first, err := sq.db.Conn(ctx)
	require.NoError(t, err)
	defer first.Close()
	second, err := sq.db.Conn(ctx)
	require.NoError(t, err)
	defer second.Close()

	for _, conn := range []*sql.Conn{first, second} {
		var busy, fk int
		require.NoError(t, conn.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&busy))
		require.NoError(t, conn.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk))
		assert.Equal(t, 10000, busy)
		assert.Equal(t, 1, fk)
	}
}
