// Package scribe turns live captured audio into a deduplicated, speaker-attributed stream
// of transcript segments.
package scribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bosley/minutes/audio"
	"github.com/bosley/minutes/engine"
)

// Configuration for a Pipeline
type Config struct {
	// How often the scheduler cuts a window
	Period time.Duration

	// Windows shorter than this wait for more audio
	MinChunk time.Duration

	// Windows shorter than this are not diarized
	DiarizeMin time.Duration

	// Size of the window queue between scheduler and worker
	QueueSize int
}

func DefaultConfig() Config {
	return Config{
		Period:     5 * time.Second,
		MinChunk:   2 * time.Second,
		DiarizeMin: 3 * time.Second,
		QueueSize:  1,
	}
}

var (
	ErrAlreadyStarted = errors.New("pipeline already started")
	ErrNotStarted     = errors.New("pipeline not started")
)

// Pipeline runs one recording: a scheduler goroutine feeding a single worker goroutine.
// A Pipeline is used once.
type Pipeline struct {
	config      Config
	sink        audio.Sink
	transcriber engine.Transcriber
	diarizer    engine.Diarizer

	mu        sync.Mutex
	started   bool
	done      bool
	cancelled bool
	scheduler *Scheduler
	results   chan Result
	stopLoop  context.CancelFunc
	loopDone  chan struct{}
	life      context.Context
	cancel    context.CancelFunc
	worker    sync.WaitGroup

	diarizing bool
}

// New creates a pipeline. d may be nil. Diarizer availability is checked once, in Start.
func New(cfg Config, sink audio.Sink, t engine.Transcriber, d engine.Diarizer) *Pipeline {
	def := DefaultConfig()
	if cfg.Period <= 0 {
		cfg.Period = def.Period
	}
	if cfg.MinChunk <= 0 {
		cfg.MinChunk = def.MinChunk
	}
	if cfg.DiarizeMin <= 0 {
		cfg.DiarizeMin = def.DiarizeMin
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	return &Pipeline{config: cfg, sink: sink, transcriber: t, diarizer: d}
}

// Start begins capture and returns the result stream. The stream is closed once the worker
// exits after Drain or Cancel. The pipeline outlives ctx's cancellation; use Cancel.
func (p *Pipeline) Start(ctx context.Context) (<-chan Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil, ErrAlreadyStarted
	}

	var diarizer engine.Diarizer
	if p.diarizer != nil && p.diarizer.Available() {
		diarizer = p.diarizer
		p.diarizing = true
	} else {
		slog.Info("Diarization unavailable, using keyword speaker attribution")
	}

	if err := p.sink.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting capture: %w", err)
	}
	p.started = true

	life, cancel := context.WithCancel(context.WithoutCancel(ctx))
	loopCtx, stopLoop := context.WithCancel(life)
	p.life = life
	p.cancel = cancel
	p.stopLoop = stopLoop
	p.loopDone = make(chan struct{})

	queue := make(chan AudioChunk, p.config.QueueSize)
	p.scheduler = NewScheduler(p.sink, queue, p.config.Period, p.config.MinChunk)
	p.results = make(chan Result, 16)

	w := &worker{
		queue:     queue,
		results:   p.results,
		processor: NewProcessor(p.transcriber, diarizer, p.config.MinChunk, p.config.DiarizeMin),
		dedup:     NewDeduplicator(),
		resolver:  NewSpeakerResolver(),
	}

	p.worker.Add(1)
	go func() {
		defer p.worker.Done()
		defer close(p.results)
		w.run(life)
	}()

	go func() {
		defer close(p.loopDone)
		p.scheduler.Run(loopCtx)
	}()

	slog.Info("Pipeline started",
		"period", p.config.Period,
		"minChunk", p.config.MinChunk,
		"diarization", p.diarizing)

	return p.results, nil
}

// Diarizing reports whether the diarizer was available when the pipeline started.
func (p *Pipeline) Diarizing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.diarizing
}

// Level is the sink's current input level in dBFS.
func (p *Pipeline) Level() float64 {
	return p.sink.Level()
}

// Drain stops capture, sends all remaining audio through the worker as a final window and
// waits for the worker to finish. The caller must keep reading the result stream. A Cancel
// issued while draining makes Drain return early.
func (p *Pipeline) Drain(ctx context.Context) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return ErrNotStarted
	}
	if p.done {
		p.mu.Unlock()
		return nil
	}
	p.done = true
	p.mu.Unlock()

	p.stopLoop()
	<-p.loopDone

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(p.life, cancel)
	defer stop()

	if err := p.scheduler.Flush(ctx); err != nil {
		p.cancel()
		return fmt.Errorf("flushing final window: %w", err)
	}

	done := make(chan struct{})
	go func() {
		p.worker.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		slog.Info("Pipeline drained", "elapsed", p.scheduler.Elapsed())
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return fmt.Errorf("drain interrupted: %w", ctx.Err())
	}
}

// Cancel stops capture without draining. In-flight engine calls see a cancelled context.
func (p *Pipeline) Cancel() {
	p.mu.Lock()
	if !p.started || p.cancelled {
		p.mu.Unlock()
		return
	}
	p.cancelled = true
	draining := p.done
	p.done = true
	p.mu.Unlock()

	p.cancel()
	if draining {
		slog.Info("Pipeline cancelled while draining")
		return
	}

	p.stopLoop()
	<-p.loopDone
	p.scheduler.Close()

	if _, err := p.sink.Stop(); err != nil {
		slog.Debug("Stopping capture on cancel", "error", err)
	}
	slog.Info("Pipeline cancelled")
}
