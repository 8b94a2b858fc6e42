package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bosley/minutes/audio"
	"github.com/bosley/minutes/engine"
	"github.com/bosley/minutes/scribe"
	"github.com/bosley/minutes/session"
	"github.com/bosley/minutes/store"
)

type transcriberFunc func(ctx context.Context, a engine.Artifact) (engine.Transcription, error)

func (f transcriberFunc) Transcribe(ctx context.Context, a engine.Artifact) (engine.Transcription, error) {
	return f(ctx, a)
}

type fixture struct {
	srv   *httptest.Server
	ctrl  *session.Controller
	store *store.Memory
	hub   *Hub
	sink  *audio.MemorySink
}

func newFixture(t *testing.T, token string) *fixture {
	t.Helper()
	f := &fixture{store: store.NewMemory(), hub: NewHub()}
	f.ctrl = session.New(session.Deps{
		NewSink: func() (audio.Sink, error) {
			f.sink = audio.NewMemorySink()
			return f.sink, nil
		},
		Transcriber: transcriberFunc(func(ctx context.Context, a engine.Artifact) (engine.Transcription, error) {
			return engine.Transcription{Text: "can you share the doc"}, nil
		}),
		Store:    f.store,
		Notifier: f.hub,
		Pipeline: scribe.Config{Period: time.Hour},
	})
	s := New(Config{Token: token}, f.ctrl, f.store, f.hub)
	f.srv = httptest.NewServer(s.Handler())
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) post(t *testing.T, path, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestMeetingOverHTTP(t *testing.T) {
	f := newFixture(t, "")

	resp := f.post(t, "/api/meeting/start", "", `{"title":"Sync"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	started := decode[meetingResponse](t, resp)
	require.NotEmpty(t, started.MeetingID)

	resp = f.post(t, "/api/meeting/start", "", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	status, err := http.Get(f.srv.URL + "/api/status")
	require.NoError(t, err)
	defer status.Body.Close()
	snap := decode[map[string]any](t, status)
	assert.Equal(t, "recording", snap["status"])
	assert.Equal(t, "Sync", snap["title"])

	f.sink.Write(make([]float32, 4*audio.SampleRate))
	resp = f.post(t, "/api/meeting/stop", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	f.ctrl.Wait()

	get, err := http.Get(f.srv.URL + "/api/meetings/" + started.MeetingID)
	require.NoError(t, err)
	defer get.Body.Close()
	require.Equal(t, http.StatusOK, get.StatusCode)
	m := decode[store.Meeting](t, get)
	assert.Equal(t, store.StatusCompleted, m.Status)
	assert.Equal(t, "api", m.Source)
	require.Len(t, m.Segments, 1)
	assert.Equal(t, scribe.SpeakerOther, m.Segments[0].Speaker)

	list, err := http.Get(f.srv.URL + "/api/meetings")
	require.NoError(t, err)
	defer list.Body.Close()
	assert.Len(t, decode[[]store.Meeting](t, list), 1)

	missing, err := http.Get(f.srv.URL + "/api/meetings/nope")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)

	resp = f.post(t, "/api/meeting/"+started.MeetingID+"/summarize", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, "no summarizer configured")
}

func TestStopWithoutMeetingConflicts(t *testing.T) {
	f := newFixture(t, "")
	resp := f.post(t, "/api/meeting/stop", "", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = f.post(t, "/api/meeting/cancel", "", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestControlRequiresToken(t *testing.T) {
	f := newFixture(t, "secret")

	resp := f.post(t, "/api/meeting/start", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp = f.post(t, "/api/meeting/start", "wrong", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.post(t, "/api/meeting/start", "secret", "")
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	resp = f.post(t, "/api/meeting/cancel", "secret", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	status, err := http.Get(f.srv.URL + "/api/status")
	require.NoError(t, err)
	defer status.Body.Close()
	assert.Equal(t, http.StatusOK, status.StatusCode, "reads are open")
}

func TestWebSocketStreamsEvents(t *testing.T) {
	f := newFixture(t, "")

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() session.Event {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var ev map[string]any
		require.NoError(t, conn.ReadJSON(&ev))
		return session.Event{
			Kind:      session.EventKind(ev["type"].(string)),
			MeetingID: stringOr(ev["meetingId"]),
		}
	}

	first := read()
	assert.Equal(t, session.EventStatusChanged, first.Kind)

	require.Eventually(t, func() bool { return f.hub.Len() == 1 }, 5*time.Second, 10*time.Millisecond)

	resp := f.post(t, "/api/meeting/start", "", "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var kinds []session.EventKind
	for len(kinds) < 4 {
		kinds = append(kinds, read().Kind)
	}
	assert.Contains(t, kinds, session.EventMeetingStarted)
	assert.Contains(t, kinds, session.EventDiarizationUnavailable)

	require.NoError(t, f.ctrl.Cancel(context.Background()))
}

func TestHubDropsWhenSubscriberIsSlow(t *testing.T) {
	h := NewHub()
	c := &wsConnection{send: make(chan []byte, 1), hub: h}
	h.add(c)

	h.Notify(session.Event{Kind: session.EventSegmentAdded})
	h.Notify(session.Event{Kind: session.EventSegmentAdded})
	assert.Len(t, c.send, 1)

	h.remove(c.id)
	assert.Equal(t, 0, h.Len())
	_, ok := <-c.send
	assert.True(t, ok, "buffered event is still delivered")
	_, ok = <-c.send
	assert.False(t, ok)
}

func stringOr(v any) string {
	s, _ := v.(string)
	return s
}
