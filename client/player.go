package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/gordonklaus/portaudio"
	"github.com/youpy/go-wav"
)

const framesPerBuffer = 1024

// Play sends a WAV recording to the default output device. It returns when the file ends
// or ctx is done.
func Play(ctx context.Context, filename string) error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	defer portaudio.Terminate()

	file, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("failed to open audio file: %w", err)
	}
	defer file.Close()

	reader := wav.NewReader(file)
	format, err := reader.Format()
	if err != nil {
		return fmt.Errorf("reading WAV format: %w", err)
	}
	channels := int(format.NumChannels)
	if format.AudioFormat != wav.AudioFormatPCM || channels == 0 || channels > 2 || format.BitsPerSample == 0 {
		return fmt.Errorf("unsupported WAV file: format %d, %d channels, %d bits", format.AudioFormat, channels, format.BitsPerSample)
	}
	scale := float32(int64(1) << (format.BitsPerSample - 1))
	var offset float32
	if format.BitsPerSample == 8 {
		offset = 128 // 8-bit PCM is unsigned
	}

	done := make(chan struct{})
	var finished bool
	stream, err := portaudio.OpenDefaultStream(0, channels, float64(format.SampleRate), framesPerBuffer,
		func(out []float32) {
			clear(out)
			if finished {
				return
			}
			samples, err := reader.ReadSamples(uint32(len(out) / channels))
			for i, s := range samples {
				for ch := 0; ch < channels; ch++ {
					out[i*channels+ch] = (float32(s.Values[ch]) - offset) / scale
				}
			}
			if err != nil || len(samples) == 0 {
				if !errors.Is(err, io.EOF) && err != nil {
					slog.Error("Error reading from WAV file", "error", err)
				}
				finished = true
				close(done)
			}
		},
	)
	if err != nil {
		return fmt.Errorf("failed to open audio stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("failed to start audio stream: %w", err)
	}
	slog.Debug("Playing recording", "path", filename, "rate", format.SampleRate, "channels", channels)

	select {
	case <-done:
	case <-ctx.Done():
	}
	return stream.Stop()
}
