package audio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
)

const defaultFramesPerBuffer = 1024

// DeviceConfig selects the input device and where the live recording is written.
type DeviceConfig struct {
	// Directory that receives one WAV file per capture
	Dir string

	// PortAudio device index; 0 uses the default input device
	DeviceID int

	// Rate the device is opened at; samples are resampled to SampleRate on read
	CaptureRate int

	FramesPerBuffer int
}

// DeviceSink records the system input device into a growing WAV file and serves reads
// from that file while the recording continues.
type DeviceSink struct {
	cfg DeviceConfig

	// mu guards the write path; the capture callback holds it for each buffer.
	mu        sync.Mutex
	capturing bool
	stream    *portaudio.Stream
	file      *os.File
	w         *bufio.Writer
	written   int64 // samples at CaptureRate
	writeErr  error
	device    string
	path      string

	// readMu serializes readers; readPos is only touched under it.
	readMu  sync.Mutex
	reader  *os.File
	readPos int64
	rs      *resampler

	meter *levelMeter
}

func NewDeviceSink(cfg DeviceConfig) *DeviceSink {
	if cfg.CaptureRate <= 0 {
		cfg.CaptureRate = SampleRate
	}
	if cfg.FramesPerBuffer <= 0 {
		cfg.FramesPerBuffer = defaultFramesPerBuffer
	}
	if cfg.Dir == "" {
		cfg.Dir = "recordings"
	}
	return &DeviceSink{
		cfg:   cfg,
		rs:    newResampler(cfg.CaptureRate, SampleRate),
		meter: newLevelMeter(),
	}
}

func (d *DeviceSink) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.capturing {
		return ErrAlreadyCapturing
	}

	if err := portaudio.Initialize(); err != nil {
		return &CaptureError{Kind: DeviceUnavailable, Err: fmt.Errorf("failed to initialize PortAudio: %w", err)}
	}

	params, err := d.inputParameters()
	if err != nil {
		portaudio.Terminate()
		return err
	}

	file, err := createWavFile(d.cfg.Dir, uint32(d.cfg.CaptureRate))
	if err != nil {
		portaudio.Terminate()
		return &CaptureError{Kind: WriteFailed, Device: d.device, Err: err}
	}
	reader, err := os.Open(file.Name())
	if err != nil {
		file.Close()
		portaudio.Terminate()
		return &CaptureError{Kind: WriteFailed, Device: d.device, Err: err}
	}

	d.file = file
	d.w = bufio.NewWriterSize(file, 64*1024)
	d.path = file.Name()
	d.written = 0
	d.writeErr = nil

	d.readMu.Lock()
	d.reader = reader
	d.readPos = 0
	d.rs.reset()
	d.readMu.Unlock()

	stream, err := portaudio.OpenStream(params, d.onBuffer)
	if err != nil {
		d.closeFiles()
		portaudio.Terminate()
		return &CaptureError{Kind: DeviceUnavailable, Device: d.device, Err: fmt.Errorf("failed to open audio stream: %w", err)}
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		d.closeFiles()
		portaudio.Terminate()
		return &CaptureError{Kind: DeviceUnavailable, Device: d.device, Err: fmt.Errorf("failed to start audio stream: %w", err)}
	}

	d.stream = stream
	d.capturing = true

	slog.Info("Audio capture started",
		"device", d.device,
		"captureRate", d.cfg.CaptureRate,
		"path", d.path)
	return nil
}

func (d *DeviceSink) inputParameters() (portaudio.StreamParameters, error) {
	var device *portaudio.DeviceInfo
	if d.cfg.DeviceID > 0 { // Only use specific device if explicitly requested (non-zero)
		devices, err := portaudio.Devices()
		if err != nil {
			return portaudio.StreamParameters{}, &CaptureError{Kind: DeviceUnavailable, Err: err}
		}
		if d.cfg.DeviceID >= len(devices) {
			return portaudio.StreamParameters{}, &CaptureError{Kind: DeviceUnavailable, Err: fmt.Errorf("invalid device ID %d", d.cfg.DeviceID)}
		}
		device = devices[d.cfg.DeviceID]
		if device.MaxInputChannels == 0 {
			return portaudio.StreamParameters{}, &CaptureError{Kind: DeviceUnavailable, Device: device.Name, Err: errors.New("not an input device")}
		}
	} else {
		var err error
		device, err = portaudio.DefaultInputDevice()
		if err != nil {
			return portaudio.StreamParameters{}, &CaptureError{Kind: DeviceUnavailable, Err: err}
		}
	}
	d.device = device.Name

	return portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: channels,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      float64(d.cfg.CaptureRate),
		FramesPerBuffer: d.cfg.FramesPerBuffer,
	}, nil
}

// onBuffer runs on the PortAudio callback thread.
func (d *DeviceSink) onBuffer(in []float32) {
	d.meter.observe(in)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.w == nil || d.writeErr != nil {
		return
	}
	if _, err := d.w.Write(Float32ToPCM16(in)); err != nil {
		d.writeErr = err
		return
	}
	d.written += int64(len(in))
}

// ReadSinceLastRead flushes buffered audio and patches the WAV header under the write lock,
// then reads the new region from a separate handle. The capture callback waits on the lock
// for the duration of the flush only; buffers arriving in the meantime are written after it.
func (d *DeviceSink) ReadSinceLastRead() ([]float32, error) {
	d.readMu.Lock()
	defer d.readMu.Unlock()

	end, err := d.snapshot()
	if err != nil {
		return nil, err
	}
	return d.readUntil(end)
}

func (d *DeviceSink) snapshot() (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.capturing {
		return 0, ErrNotCapturing
	}
	if d.writeErr != nil {
		return 0, &CaptureError{Kind: WriteFailed, Device: d.device, Err: d.writeErr}
	}
	if err := d.flushLocked(); err != nil {
		return 0, &CaptureError{Kind: BufferNotReady, Device: d.device, Err: err}
	}
	return d.written, nil
}

func (d *DeviceSink) flushLocked() error {
	if err := d.w.Flush(); err != nil {
		return err
	}
	return UpdateWavHeader(d.file, uint32(d.written*2))
}

// readUntil must be called with readMu held.
func (d *DeviceSink) readUntil(end int64) ([]float32, error) {
	if end <= d.readPos {
		return nil, nil
	}

	buf := make([]byte, (end-d.readPos)*2)
	n, err := d.reader.ReadAt(buf, wavHeaderSize+d.readPos*2)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, &CaptureError{Kind: BufferNotReady, Device: d.device, Err: err}
	}
	if n < len(buf) {
		return nil, &CaptureError{Kind: BufferNotReady, Device: d.device, Err: fmt.Errorf("short read: %d of %d bytes", n, len(buf))}
	}
	d.readPos = end

	return d.rs.push(PCM16ToFloat32(buf)), nil
}

func (d *DeviceSink) Stop() ([]float32, error) {
	d.readMu.Lock()
	defer d.readMu.Unlock()

	d.mu.Lock()
	if !d.capturing {
		d.mu.Unlock()
		return nil, ErrNotCapturing
	}
	stream := d.stream
	d.capturing = false
	d.mu.Unlock()

	// Stopping the stream waits for the callback in flight, which needs mu.
	if err := stream.Stop(); err != nil {
		slog.Error("Failed to stop audio stream", "error", err)
	}
	stream.Close()
	defer portaudio.Terminate()

	d.mu.Lock()
	flushErr := d.flushLocked()
	end := d.written
	d.mu.Unlock()

	var rest []float32
	var err error
	if flushErr != nil {
		err = &CaptureError{Kind: WriteFailed, Device: d.device, Err: flushErr}
	} else {
		rest, err = d.readUntil(end)
		if err == nil {
			rest = append(rest, d.rs.flush()...)
		}
	}

	d.mu.Lock()
	d.closeFiles()
	d.stream = nil
	d.mu.Unlock()

	slog.Info("Audio capture stopped",
		"device", d.device,
		"path", d.path,
		"duration", time.Duration(end)*time.Second/time.Duration(d.cfg.CaptureRate))
	return rest, err
}

func (d *DeviceSink) closeFiles() {
	if d.file != nil {
		d.file.Close()
		d.file = nil
		d.w = nil
	}
	if d.reader != nil {
		d.reader.Close()
		d.reader = nil
	}
}

func (d *DeviceSink) Level() float64 {
	return d.meter.value()
}

// Path is the WAV file of the current or most recent capture.
func (d *DeviceSink) Path() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.path
}

func createWavFile(dir string, rate uint32) (*os.File, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create recordings directory: %w", err)
	}

	timestamp := time.Now().Format("20060102_150405")
	filename := fmt.Sprintf("recording_%s.wav", timestamp)
	file, err := os.Create(filepath.Join(dir, filename))
	if err != nil {
		return nil, err
	}
	if err := WriteWavHeader(file, rate, 0); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	return file, nil
}
