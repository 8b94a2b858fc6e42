package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bosley/minutes/audio"
	"github.com/bosley/minutes/engine"
	"github.com/bosley/minutes/scribe"
	"github.com/bosley/minutes/server"
	"github.com/bosley/minutes/session"
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

type harness struct {
	ctrl *session.Controller
	url  string

	mu   sync.Mutex
	sink *audio.MemorySink
}

func newHarness(t *testing.T, token string) *harness {
	t.Helper()
	h := &harness{}
	hub := server.NewHub()
	st := store.NewMemory()
	h.ctrl = session.New(session.Deps{
		NewSink: func() (audio.Sink, error) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.sink = audio.NewMemorySink()
			return h.sink, nil
		},
		Transcriber: transcriberFunc(func(ctx context.Context, a engine.Artifact) (engine.Transcription, error) {
			return engine.Transcription{Text: "I think we are done"}, nil
		}),
		Summarizer: summarizerFunc(func(ctx context.Context, transcript string) (engine.Summary, error) {
			return engine.Summary{Text: "Short meeting.", GeneratedAt: time.Now()}, nil
		}),
		Store:    st,
		Notifier: hub,
		Pipeline: scribe.Config{Period: time.Hour},
	})
	srv := httptest.NewServer(server.New(server.Config{Token: token}, h.ctrl, st, hub).Handler())
	t.Cleanup(srv.Close)
	h.url = srv.URL
	return h
}

func (h *harness) write(seconds int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sink.Write(make([]float32, seconds*audio.SampleRate))
}

func TestRemoteMeeting(t *testing.T) {
	h := newHarness(t, "secret")
	c, err := New(Config{Addr: h.url, Token: "secret"})
	require.NoError(t, err)
	ctx := context.Background()

	id, err := c.Start(ctx, "Remote")
	require.NoError(t, err)

	snap, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, session.Recording, snap.Status)
	assert.Equal(t, id, snap.MeetingID)

	h.write(3)
	stopped, err := c.Stop(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, stopped)
	h.ctrl.Wait()

	m, err := c.Meeting(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "remote", m.Source)
	assert.Equal(t, "Short meeting.", m.Summary)
	require.Len(t, m.Segments, 1)
	assert.Equal(t, scribe.SpeakerMe, m.Segments[0].Speaker)

	meetings, err := c.Meetings(ctx)
	require.NoError(t, err)
	assert.Len(t, meetings, 1)

	summary, err := c.Summarize(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Short meeting.", summary.Text)
}

func TestAPIErrors(t *testing.T) {
	h := newHarness(t, "secret")
	ctx := context.Background()

	anon, err := New(Config{Addr: h.url})
	require.NoError(t, err)
	_, err = anon.Start(ctx, "")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)

	c, err := New(Config{Addr: h.url, Token: "secret"})
	require.NoError(t, err)
	_, err = c.Stop(ctx)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)

	_, err = c.Meeting(ctx, "missing")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)

	require.NoError(t, c.Cancel(ctx))
}

func TestFollow(t *testing.T) {
	h := newHarness(t, "")
	c, err := New(Config{Addr: h.url})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan session.Event, 32)
	done := make(chan error, 1)
	go func() {
		done <- c.Follow(ctx, func(ev session.Event) { events <- ev })
	}()

	next := func() session.Event {
		t.Helper()
		select {
		case ev := <-events:
			return ev
		case <-time.After(5 * time.Second):
			t.Fatal("no event")
			return session.Event{}
		}
	}

	first := next()
	assert.Equal(t, session.EventStatusChanged, first.Kind)
	assert.Equal(t, session.Idle, first.Status)

	id, err := c.Start(context.Background(), "")
	require.NoError(t, err)

	for {
		ev := next()
		if ev.Kind == session.EventMeetingStarted {
			assert.Equal(t, id, ev.MeetingID)
			break
		}
	}

	require.NoError(t, c.Cancel(context.Background()))
	for {
		if ev := next(); ev.Kind == session.EventMeetingCancelled {
			break
		}
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Follow did not return")
	}
}

func TestNewAddresses(t *testing.T) {
	c, err := New(Config{Addr: "localhost:8444"})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8444", c.base.String())

	c, err = New(Config{Addr: "localhost:8444", Insecure: true})
	require.NoError(t, err)
	assert.Equal(t, "https", c.base.Scheme)

	_, err = New(Config{Addr: "localhost:8444", CertFile: "/does/not/exist.pem"})
	assert.Error(t, err)
}
