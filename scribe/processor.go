package scribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bosley/minutes/audio"
	"github.com/bosley/minutes/engine"
)

// Window is the processor's raw output for one chunk, before dedup and attribution.
type Window struct {
	Text        string
	Label       string
	Attribution Attribution
}

// Processor turns one audio chunk into transcribed text plus a speaker signal.
type Processor struct {
	transcriber engine.Transcriber
	// nil when no diarization model is loaded
	diarizer   engine.Diarizer
	minChunk   time.Duration
	diarizeMin time.Duration
}

func NewProcessor(t engine.Transcriber, d engine.Diarizer, minChunk, diarizeMin time.Duration) *Processor {
	return &Processor{transcriber: t, diarizer: d, minChunk: minChunk, diarizeMin: diarizeMin}
}

// Process transcribes the chunk. ok is false when the chunk was too short to attempt. A
// final chunk is always attempted so trailing speech is not lost.
func (p *Processor) Process(ctx context.Context, chunk AudioChunk) (w Window, ok bool, err error) {
	dur := audio.SamplesToDuration(int64(len(chunk.Samples)))
	if len(chunk.Samples) == 0 || (dur < p.minChunk && !chunk.Final) {
		slog.Debug("Skipping short window", "start", chunk.Start, "end", chunk.End, "duration", dur)
		return Window{}, false, nil
	}

	w.Attribution = NotDiarized
	if p.diarizer != nil && dur >= p.diarizeMin {
		w.Label, w.Attribution = p.diarize(ctx, chunk)
	}

	wav, err := audio.EncodeWAV(chunk.Samples)
	if err != nil {
		return Window{}, false, fmt.Errorf("encoding window: %w", err)
	}

	tr, err := p.transcriber.Transcribe(ctx, engine.Artifact{Samples: chunk.Samples, WAV: wav})
	if err != nil {
		return Window{}, false, err
	}
	w.Text = tr.Text
	return w, true, nil
}

func (p *Processor) diarize(ctx context.Context, chunk AudioChunk) (string, Attribution) {
	segs, err := p.diarizer.Diarize(ctx, chunk.Samples, audio.SampleRate)
	if err != nil {
		slog.Warn("Diarization failed, continuing without speaker labels",
			"start", chunk.Start,
			"end", chunk.End,
			"error", err)
		return "", Inconclusive
	}
	for i := len(segs) - 1; i >= 0; i-- {
		if segs[i].Label != "" {
			return segs[i].Label, Diarized
		}
	}
	return "", Inconclusive
}

// retryable reports whether a failed window should be merged into the next one instead of
// being reported.
func retryable(err error) bool {
	return errors.Is(err, engine.ErrBufferNotReady) || audio.IsTransient(err)
}
