package audio

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	gowav "github.com/go-audio/wav"
	"github.com/orcaman/writerseeker"
	"lukechampine.com/blake3"
)

// EncodeWAV renders samples as a self-contained RIFF WAV: mono, 16-bit PCM, SampleRate.
// This is the bounded artifact handed to the engines.
func EncodeWAV(samples []float32) ([]byte, error) {
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(floatToInt16(s))
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: SampleRate},
		Data:           data,
		SourceBitDepth: bitsPerSample,
	}

	wavFile := &writerseeker.WriterSeeker{}
	encoder := gowav.NewEncoder(wavFile, SampleRate, bitsPerSample, channels, 1)

	if err := encoder.Write(buf); err != nil {
		return nil, fmt.Errorf("encoder write buffer: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return nil, fmt.Errorf("encoder close: %w", err)
	}

	riffWav, err := io.ReadAll(wavFile.Reader())
	if err != nil {
		return nil, fmt.Errorf("reading wav into memory: %w", err)
	}
	return riffWav, nil
}

// WriteTempWAV encodes samples into a temporary file and returns its path.
// The caller removes the file.
func WriteTempWAV(dir string, samples []float32) (string, error) {
	data, err := EncodeWAV(samples)
	if err != nil {
		return "", err
	}
	f, err := os.CreateTemp(dir, "window_*.wav")
	if err != nil {
		return "", fmt.Errorf("creating window file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("writing window file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("closing window file: %w", err)
	}
	return f.Name(), nil
}

// Fingerprint returns the hex blake3 hash of the file at path.
func Fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening recording: %w", err)
	}
	defer f.Close()

	h := blake3.New(32, nil)
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("calculating blake3 hash from file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
