package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/youpy/go-wav"
)

const replayFrames = 1024

// ReadWAV decodes a PCM WAV file into mono float32 samples at SampleRate.
func ReadWAV(path string) ([]float32, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer file.Close()

	reader := wav.NewReader(file)
	format, err := reader.Format()
	if err != nil {
		return nil, fmt.Errorf("failed to read WAV format: %w", err)
	}
	if format.AudioFormat != wav.AudioFormatPCM {
		return nil, fmt.Errorf("unsupported WAV encoding %d: only PCM is supported", format.AudioFormat)
	}
	if format.NumChannels == 0 || format.NumChannels > 2 {
		return nil, fmt.Errorf("unsupported channel count %d", format.NumChannels)
	}

	scale := fullScale(format.BitsPerSample)
	var out []float32
	for {
		samples, err := reader.ReadSamples(replayFrames)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading from WAV file: %w", err)
		}
		for _, s := range samples {
			var sum float64
			for c := 0; c < int(format.NumChannels); c++ {
				v := float64(s.Values[c])
				if format.BitsPerSample == 8 {
					v -= 128 // 8-bit PCM is unsigned
				}
				sum += v / scale
			}
			out = append(out, float32(sum/float64(format.NumChannels)))
		}
	}

	return Resample(out, int(format.SampleRate), SampleRate), nil
}

func fullScale(bits uint16) float64 {
	switch bits {
	case 8:
		return 128
	case 24:
		return 8388608
	case 32:
		return 2147483648
	default:
		return 32768
	}
}

// Replay feeds samples into sink in real time scaled by speed (2 plays twice as fast;
// 0 or less pushes everything at once). It returns when all audio is written or ctx ends.
func Replay(ctx context.Context, sink *MemorySink, samples []float32, speed float64) error {
	if speed <= 0 {
		sink.Write(samples)
		return nil
	}

	frame := SampleRate / 10 // 100ms
	interval := time.Duration(float64(100*time.Millisecond) / speed)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for off := 0; off < len(samples); off += frame {
		end := min(off+frame, len(samples))
		sink.Write(samples[off:end])

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
