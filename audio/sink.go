package audio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
)

// Sink captures live audio to a backing store that can be read while capture continues.
// All samples handed out are mono float32 at SampleRate.
type Sink interface {
	// Start begins capture.
	Start(ctx context.Context) error

	// ReadSinceLastRead returns every sample written since the previous call.
	ReadSinceLastRead() ([]float32, error)

	// Stop ends capture and returns the samples not yet read.
	Stop() ([]float32, error)

	// Level is the most recent input level in dBFS.
	Level() float64
}

// Recording is implemented by sinks that keep the whole capture on disk.
type Recording interface {
	Path() string
}

type CaptureErrorKind int

const (
	DeviceUnavailable CaptureErrorKind = iota + 1
	AlreadyCapturing
	NotCapturing
	BufferNotReady
	WriteFailed
)

func (k CaptureErrorKind) String() string {
	switch k {
	case DeviceUnavailable:
		return "device unavailable"
	case AlreadyCapturing:
		return "already capturing"
	case NotCapturing:
		return "not capturing"
	case BufferNotReady:
		return "buffer not ready"
	case WriteFailed:
		return "write failed"
	default:
		return "unknown capture error"
	}
}

// CaptureError reports a sink failure together with the device it concerns.
type CaptureError struct {
	Kind   CaptureErrorKind
	Device string
	Err    error
}

var (
	ErrDeviceUnavailable = &CaptureError{Kind: DeviceUnavailable}
	ErrAlreadyCapturing  = &CaptureError{Kind: AlreadyCapturing}
	ErrNotCapturing      = &CaptureError{Kind: NotCapturing}
	ErrBufferNotReady    = &CaptureError{Kind: BufferNotReady}
)

func (e *CaptureError) Error() string {
	msg := e.Kind.String()
	if e.Device != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Device)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *CaptureError) Unwrap() error { return e.Err }

// Is matches any CaptureError of the same kind, so errors.Is(err, ErrBufferNotReady) works.
func (e *CaptureError) Is(target error) bool {
	var t *CaptureError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// IsTransient reports whether err should be retried on the next scheduler firing.
func IsTransient(err error) bool {
	return errors.Is(err, ErrBufferNotReady)
}

const silenceFloor = -160.0

// levelMeter holds the latest dBFS reading. Written from the capture path, read from anywhere.
type levelMeter struct {
	bits atomic.Uint64
}

func newLevelMeter() *levelMeter {
	m := &levelMeter{}
	m.bits.Store(math.Float64bits(silenceFloor))
	return m
}

func (m *levelMeter) observe(samples []float32) {
	m.bits.Store(math.Float64bits(LevelDB(samples)))
}

func (m *levelMeter) value() float64 {
	return math.Float64frombits(m.bits.Load())
}

// LevelDB returns the RMS level of samples in dBFS, floored at -160.
func LevelDB(samples []float32) float64 {
	if len(samples) == 0 {
		return silenceFloor
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if rms == 0 {
		return silenceFloor
	}
	return math.Max(20*math.Log10(rms), silenceFloor)
}
