// Package engine defines the speech, diarization and summarization collaborators the
// pipeline consumes, plus adapters for the concrete engines minutes ships with.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Artifact is one bounded window of audio handed to an engine.
type Artifact struct {
	// Samples are mono float32 at 16 kHz.
	Samples []float32

	// WAV is Samples rendered as a RIFF WAV, for engines that take a file.
	WAV []byte
}

type Transcription struct {
	Text string
}

// Transcriber converts a bounded audio artifact to text.
type Transcriber interface {
	Transcribe(ctx context.Context, a Artifact) (Transcription, error)
}

// Loader is implemented by transcribers that need a one-time load step before use.
// Load is idempotent.
type Loader interface {
	Load(ctx context.Context) error
}

// DiarizationSegment is one speaker turn, relative to the start of the window.
type DiarizationSegment struct {
	Label string
	Start float64
	End   float64
}

// Diarizer attributes audio to anonymous speaker labels.
type Diarizer interface {
	// Available reports whether a model is loaded. It is checked once per recording.
	Available() bool
	Diarize(ctx context.Context, samples []float32, sampleRate int) ([]DiarizationSegment, error)
}

type Summary struct {
	Text        string
	GeneratedAt time.Time
}

// Summarizer produces a meeting summary from a rendered transcript.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (Summary, error)
}

type ErrorKind int

const (
	ModelNotLoaded ErrorKind = iota + 1
	BufferNotReady
	Unavailable
	Failed
)

func (k ErrorKind) String() string {
	switch k {
	case ModelNotLoaded:
		return "model not loaded"
	case BufferNotReady:
		return "buffer not ready"
	case Unavailable:
		return "engine unavailable"
	case Failed:
		return "engine failed"
	default:
		return "unknown engine error"
	}
}

// Error is returned by every adapter in this package.
type Error struct {
	Kind   ErrorKind
	Engine string
	Err    error
}

var (
	ErrModelNotLoaded = &Error{Kind: ModelNotLoaded}
	ErrBufferNotReady = &Error{Kind: BufferNotReady}
	ErrUnavailable    = &Error{Kind: Unavailable}
)

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Engine != "" {
		msg = e.Engine + ": " + msg
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

func failed(engine string, err error) error {
	return &Error{Kind: Failed, Engine: engine, Err: err}
}

// NoDiarizer is the Diarizer used when no diarization model is configured.
type NoDiarizer struct{}

func (NoDiarizer) Available() bool { return false }

func (NoDiarizer) Diarize(ctx context.Context, samples []float32, sampleRate int) ([]DiarizationSegment, error) {
	return nil, ErrUnavailable
}
