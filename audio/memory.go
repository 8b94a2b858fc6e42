package audio

import (
	"context"
	"sync"
)

// MemorySink is an in-memory Sink. Audio is pushed with Write by whatever produces it
// (a replayed file, a network peer, a test).
type MemorySink struct {
	mu        sync.Mutex
	capturing bool
	buf       []float32
	meter     *levelMeter

	// StartErr, when set, is returned by Start instead of beginning capture.
	StartErr error
}

func NewMemorySink() *MemorySink {
	return &MemorySink{meter: newLevelMeter()}
}

func (m *MemorySink) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.StartErr != nil {
		return m.StartErr
	}
	if m.capturing {
		return ErrAlreadyCapturing
	}
	m.capturing = true
	m.buf = m.buf[:0]
	return nil
}

// Write appends captured samples. Writes while not capturing are discarded.
func (m *MemorySink) Write(samples []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.capturing {
		return
	}
	m.buf = append(m.buf, samples...)
	m.meter.observe(samples)
}

func (m *MemorySink) ReadSinceLastRead() ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.capturing {
		return nil, ErrNotCapturing
	}
	return m.take(), nil
}

func (m *MemorySink) Stop() ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.capturing {
		return nil, ErrNotCapturing
	}
	m.capturing = false
	return m.take(), nil
}

func (m *MemorySink) take() []float32 {
	out := make([]float32, len(m.buf))
	copy(out, m.buf)
	m.buf = m.buf[:0]
	return out
}

func (m *MemorySink) Level() float64 {
	return m.meter.value()
}

// Capturing reports whether Start has been called without a matching Stop.
func (m *MemorySink) Capturing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.capturing
}
