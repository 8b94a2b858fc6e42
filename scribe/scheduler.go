package scribe

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bosley/minutes/audio"
)

// Scheduler pulls newly captured audio from a sink on a fixed period and cuts it into
// chunks for the worker. Chunk bounds come from sample counts, so consecutive chunks tile
// the recording without gaps or overlap.
type Scheduler struct {
	sink     audio.Sink
	queue    chan AudioChunk
	period   time.Duration
	minChunk int64

	mu      sync.Mutex
	cursor  int64 // samples already handed to the worker
	pending []float32
	closed  bool
}

func NewScheduler(sink audio.Sink, queue chan AudioChunk, period, minChunk time.Duration) *Scheduler {
	return &Scheduler{
		sink:     sink,
		queue:    queue,
		period:   period,
		minChunk: audio.DurationToSamples(minChunk),
	}
}

// Run polls the sink every period until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	slog.Debug("Scheduler starting", "period", s.period)
	defer slog.Debug("Scheduler stopped")

	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Poll()
		}
	}
}

// Poll reads what the sink captured since the last poll and queues a chunk if at least
// the minimum duration is pending. If the worker is still busy the audio stays pending and
// is coalesced into the next firing.
func (s *Scheduler) Poll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	samples, err := s.sink.ReadSinceLastRead()
	if err != nil {
		if audio.IsTransient(err) {
			slog.Debug("Audio buffer not ready, retrying next firing", "error", err)
		} else {
			slog.Warn("Failed to read captured audio", "error", err)
		}
		return
	}
	s.pending = append(s.pending, samples...)

	if int64(len(s.pending)) < s.minChunk {
		slog.Debug("Not enough new audio for a window",
			"pending", audio.SamplesToDuration(int64(len(s.pending))))
		return
	}

	chunk := s.cut(false)
	select {
	case s.queue <- chunk:
		s.advance()
	default:
		slog.Debug("Worker busy, coalescing window", "start", chunk.Start, "end", chunk.End)
	}
}

// Flush hands over the sink's remaining audio and everything still pending as one final
// chunk, then closes the queue. It blocks until the worker accepts the chunk or ctx ends.
func (s *Scheduler) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	defer func() {
		s.closed = true
		close(s.queue)
	}()

	rest, err := s.sink.Stop()
	if err != nil {
		slog.Warn("Stopping capture returned an error", "error", err)
	}
	s.pending = append(s.pending, rest...)
	if len(s.pending) == 0 {
		return nil
	}

	chunk := s.cut(true)
	select {
	case s.queue <- chunk:
		s.advance()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the scheduler without draining. Pending audio is discarded.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.pending = nil
	close(s.queue)
}

// Elapsed is the end of the last chunk handed to the worker.
func (s *Scheduler) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return audio.SamplesToDuration(s.cursor)
}

func (s *Scheduler) cut(final bool) AudioChunk {
	n := int64(len(s.pending))
	samples := make([]float32, n)
	copy(samples, s.pending)
	return AudioChunk{
		Samples: samples,
		Start:   audio.SamplesToDuration(s.cursor),
		End:     audio.SamplesToDuration(s.cursor + n),
		Final:   final,
	}
}

func (s *Scheduler) advance() {
	s.cursor += int64(len(s.pending))
	s.pending = s.pending[:0]
}
