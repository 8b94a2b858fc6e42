package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractText(t *testing.T) {
	out := "\n [BLANK_AUDIO]\n  Hello there. \n\n How are you?\n"
	assert.Equal(t, "Hello there. How are you?", ExtractText(out))
	assert.Equal(t, "", ExtractText("[BLANK_AUDIO]\n"))
}

func TestErrorMatchesByKind(t *testing.T) {
	err := &Error{Kind: ModelNotLoaded, Engine: "whisper", Err: errors.New("missing")}
	assert.ErrorIs(t, err, ErrModelNotLoaded)
	assert.NotErrorIs(t, err, ErrBufferNotReady)
	assert.Equal(t, "whisper: model not loaded: missing", err.Error())
}

func TestWhisperRequiresLoad(t *testing.T) {
	w := NewWhisper(WhisperConfig{Path: "definitely-not-a-whisper-binary", Model: "nope.bin"})

	_, err := w.Transcribe(context.Background(), Artifact{WAV: []byte("RIFF")})
	require.ErrorIs(t, err, ErrModelNotLoaded)

	err = w.Load(context.Background())
	require.ErrorIs(t, err, ErrModelNotLoaded)
}

func TestWhisperRunsBinary(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script stand-in")
	}
	dir := t.TempDir()
	bin := filepath.Join(dir, "whisper")
	script := "#!/bin/sh\necho '[BLANK_AUDIO]'\necho ' I think we should ship it.'\n"
	require.NoError(t, os.WriteFile(bin, []byte(script), 0o755))
	model := filepath.Join(dir, "model.bin")
	require.NoError(t, os.WriteFile(model, []byte("m"), 0o644))

	w := NewWhisper(WhisperConfig{Path: bin, Model: model, TempDir: dir})
	require.NoError(t, w.Load(context.Background()))

	tr, err := w.Transcribe(context.Background(), Artifact{WAV: []byte("RIFF....WAVE")})
	require.NoError(t, err)
	assert.Equal(t, "I think we should ship it.", tr.Text)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "window file is removed after the run")
}

func TestOpenAITranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/audio/transcriptions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		f, _, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		body, _ := io.ReadAll(f)
		assert.Equal(t, "RIFF", string(body[:4]))
		json.NewEncoder(w).Encode(map[string]string{"text": "hello world"})
	}))
	defer srv.Close()

	o := NewOpenAI(OpenAIConfig{BaseURL: srv.URL, APIKey: "key"})
	require.NoError(t, o.Load(context.Background()))

	tr, err := o.Transcribe(context.Background(), Artifact{WAV: []byte("RIFF0000WAVE")})
	require.NoError(t, err)
	assert.Equal(t, "hello world", tr.Text)
}

func TestOpenAIUnauthorizedIsModelNotLoaded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	o := NewOpenAI(OpenAIConfig{BaseURL: srv.URL, APIKey: "key"})
	_, err := o.Transcribe(context.Background(), Artifact{WAV: []byte("RIFF")})
	require.ErrorIs(t, err, ErrModelNotLoaded)

	require.ErrorIs(t, NewOpenAI(OpenAIConfig{}).Load(context.Background()), ErrModelNotLoaded)
}

func TestDiarizationService(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/diarize":
			assert.Equal(t, "audio/wav", r.Header.Get("Content-Type"))
			w.Write([]byte(`{"segments":[{"speaker":"SPEAKER_00","start":0.0,"end":1.25},{"speaker":"SPEAKER_01","start":"1.25","end":3.5}]}`))
		}
	}))
	defer srv.Close()

	d := NewDiarizationService(srv.URL, 0)
	assert.False(t, d.Available())
	require.True(t, d.Probe(context.Background()))
	assert.True(t, d.Available())

	segs, err := d.Diarize(context.Background(), make([]float32, 16000), 16000)
	require.NoError(t, err)
	require.Len(t, segs, 2)
	assert.Equal(t, "SPEAKER_01", segs[1].Label)
	assert.InDelta(t, 1.25, segs[1].Start, 1e-9)
	assert.InDelta(t, 3.5, segs[1].End, 1e-9)
}

func TestDiarizationProbeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	d := NewDiarizationService(srv.URL, 0)
	assert.False(t, d.Probe(context.Background()))
	assert.False(t, d.Available())
}

func TestAnthropicSummarize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "k", r.Header.Get("x-api-key"))
		var req anthropicRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) || !assert.Len(t, req.Messages, 1) {
			return
		}
		assert.Contains(t, req.Messages[0].Content, "Me: hi")
		w.Write([]byte(`{"content":[{"type":"text","text":"## Summary\n"},{"type":"text","text":"Greetings."}]}`))
	}))
	defer srv.Close()

	a := NewAnthropic(AnthropicConfig{BaseURL: srv.URL, APIKey: "k"})
	s, err := a.Summarize(context.Background(), "Me: hi")
	require.NoError(t, err)
	assert.Equal(t, "## Summary\nGreetings.", s.Text)
	assert.False(t, s.GeneratedAt.IsZero())
}

func TestAnthropicWithoutKey(t *testing.T) {
	_, err := NewAnthropic(AnthropicConfig{}).Summarize(context.Background(), "x")
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestNoDiarizer(t *testing.T) {
	var d Diarizer = NoDiarizer{}
	assert.False(t, d.Available())
	_, err := d.Diarize(context.Background(), nil, 16000)
	assert.ErrorIs(t, err, ErrUnavailable)
}
