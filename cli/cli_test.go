package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bosley/minutes/audio"
	"github.com/bosley/minutes/config"
	"github.com/bosley/minutes/engine"
	"github.com/bosley/minutes/output"
	"github.com/bosley/minutes/store"
)

type transcriberFunc func(ctx context.Context, a engine.Artifact) (engine.Transcription, error)

func (f transcriberFunc) Transcribe(ctx context.Context, a engine.Artifact) (engine.Transcription, error) {
	return f(ctx, a)
}

type summarizerFunc func(ctx context.Context, transcript string) (engine.Summary, error)

func (f summarizerFunc) Summarize(ctx context.Context, transcript string) (engine.Summary, error) {
	return f(ctx, transcript)
}

func testApp(t *testing.T) *App {
	t.Helper()
	dir := t.TempDir()
	st, err := store.OpenSQLite(filepath.Join(dir, "minutes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	return &App{
		Config: &config.Config{
			DataDir:       dir,
			RecordingsDir: filepath.Join(dir, "recordings"),
			Period:        time.Hour,
			MinChunk:      2 * time.Second,
			DiarizeMin:    3 * time.Second,
		},
		Store: st,
		Transcriber: transcriberFunc(func(ctx context.Context, a engine.Artifact) (engine.Transcription, error) {
			return engine.Transcription{Text: "let me share my screen"}, nil
		}),
		Summarizer: summarizerFunc(func(ctx context.Context, transcript string) (engine.Summary, error) {
			return engine.Summary{Text: "## Summary\nScreen shared.", GeneratedAt: time.Now()}, nil
		}),
	}
}

func TestFinishMeeting(t *testing.T) {
	app := testApp(t)
	sink := audio.NewMemorySink()
	ctrl := app.Controller(nil, func() (audio.Sink, error) { return sink, nil }, nil)

	id, err := ctrl.Start(context.Background(), "Standup", "cli")
	require.NoError(t, err)
	sink.Write(make([]float32, 3*audio.SampleRate))

	var buf bytes.Buffer
	require.NoError(t, finishMeeting(app, ctrl, app.Store, output.NewFormatter(&buf)))

	out := buf.String()
	assert.Contains(t, out, "Recording stopped")
	assert.Contains(t, out, "Generating summary")
	assert.Contains(t, out, "Screen shared.")
	assert.Contains(t, out, "Meeting saved: "+id)

	m, err := app.Store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, m.Status)
	require.Len(t, m.Segments, 1)
	assert.Equal(t, "let me share my screen", m.Segments[0].Text)
}

func TestFinishWithoutMeeting(t *testing.T) {
	app := testApp(t)
	ctrl := app.Controller(nil, nil, nil)

	var buf bytes.Buffer
	require.NoError(t, finishMeeting(app, ctrl, app.Store, output.NewFormatter(&buf)))
	assert.Contains(t, buf.String(), "No meeting is recording")
}

func TestReplayInMemory(t *testing.T) {
	app := testApp(t)
	deps := &Dependencies{Config: app.Config, app: app}

	wav, err := audio.EncodeWAV(make([]float32, 4*audio.SampleRate))
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "call.wav")
	require.NoError(t, os.WriteFile(path, wav, 0o644))

	root := NewRootCmd(deps)
	root.SetArgs([]string{"replay", path, "--speed", "0", "--memory"})
	require.NoError(t, root.Execute())

	meetings, err := app.Store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, meetings, "in-memory replay leaves the database alone")
}

func TestReplayMissingFile(t *testing.T) {
	app := testApp(t)
	root := NewRootCmd(&Dependencies{Config: app.Config, app: app})
	root.SetArgs([]string{"replay", filepath.Join(t.TempDir(), "missing.wav")})
	assert.Error(t, root.Execute())
}

func TestWatchNeedsMarkers(t *testing.T) {
	app := testApp(t)
	root := NewRootCmd(&Dependencies{Config: app.Config, app: app})
	root.SetArgs([]string{"watch"})
	assert.ErrorContains(t, root.Execute(), "no meeting app markers")
}
