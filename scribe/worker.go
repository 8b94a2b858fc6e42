package scribe

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// worker is the single goroutine that owns the deduplicator and speaker resolver.
type worker struct {
	queue     <-chan AudioChunk
	results   chan<- Result
	processor *Processor
	dedup     *Deduplicator
	resolver  *SpeakerResolver

	// a window that failed transiently, merged into the next one
	held *AudioChunk
}

func (w *worker) run(ctx context.Context) {
	slog.Debug("Worker starting")
	defer slog.Debug("Worker shutting down")

	for {
		select {
		case <-ctx.Done():
			slog.Debug("Worker context cancelled")
			return

		case chunk, ok := <-w.queue:
			if !ok {
				slog.Debug("Worker queue closed")
				if w.held != nil {
					last := *w.held
					w.held = nil
					last.Final = true
					w.handle(ctx, last)
				}
				return
			}
			if !w.handle(ctx, chunk) {
				return
			}
		}
	}
}

// handle processes one chunk and emits its result. It returns false once ctx is done.
func (w *worker) handle(ctx context.Context, chunk AudioChunk) bool {
	res, emit := w.processChunk(ctx, chunk)
	if !emit {
		return true
	}
	select {
	case w.results <- res:
		return true
	case <-ctx.Done():
		return false
	}
}

func (w *worker) processChunk(ctx context.Context, chunk AudioChunk) (Result, bool) {
	if w.held != nil {
		chunk = merge(*w.held, chunk)
		w.held = nil
	}

	slog.Debug("Processing window",
		"start", chunk.Start,
		"end", chunk.End,
		"final", chunk.Final)

	win, ok, err := w.processor.Process(ctx, chunk)
	if err != nil {
		if retryable(err) && !chunk.Final && ctx.Err() == nil {
			slog.Debug("Window not ready, retrying with the next one",
				"start", chunk.Start,
				"end", chunk.End,
				"error", err)
			w.held = &chunk
			return Result{}, false
		}
		slog.Error("Failed to transcribe window",
			"start", chunk.Start,
			"end", chunk.End,
			"error", err)
		return Result{Err: err, Start: chunk.Start, End: chunk.End}, true
	}
	if !ok {
		return Result{}, false
	}

	text := w.dedup.Filter(win.Text)
	if text == "" {
		slog.Debug("No new content in window", "start", chunk.Start, "end", chunk.End)
		return Result{}, false
	}

	speaker, conf := w.resolver.Resolve(text, win.Label, win.Attribution)
	seg := &TranscriptSegment{
		ID:         uuid.NewString(),
		Speaker:    speaker,
		Text:       text,
		Start:      chunk.Start,
		End:        chunk.End,
		Confidence: conf,
	}

	slog.Info("Transcribed window",
		"start", seg.Start,
		"end", seg.End,
		"speaker", seg.Speaker,
		"text", seg.Text)

	return Result{Segment: seg, Start: chunk.Start, End: chunk.End}, true
}

// merge joins two adjacent chunks.
func merge(a, b AudioChunk) AudioChunk {
	samples := make([]float32, 0, len(a.Samples)+len(b.Samples))
	samples = append(samples, a.Samples...)
	samples = append(samples, b.Samples...)
	return AudioChunk{Samples: samples, Start: a.Start, End: b.End, Final: b.Final}
}
