package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

const (
	// SampleRate is the rate every engine in the pipeline consumes.
	SampleRate = 16000

	channels      = 1  // Mono audio
	bitsPerSample = 16 // Using int16 for samples

	// wavHeaderSize is the size of the canonical RIFF/WAVE header without extension chunks.
	wavHeaderSize = 44
)

type WavHeader struct {
	ChunkID       [4]byte
	ChunkSize     uint32
	Format        [4]byte
	Subchunk1ID   [4]byte
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte
	Subchunk2Size uint32
}

// WriteWavHeader writes a mono 16-bit PCM header for dataSize bytes of samples at rate.
func WriteWavHeader(w io.Writer, rate uint32, dataSize uint32) error {
	header := WavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     dataSize + 36,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   channels,
		SampleRate:    rate,
		ByteRate:      rate * uint32(channels) * uint32(bitsPerSample) / 8,
		BlockAlign:    channels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	return binary.Write(w, binary.LittleEndian, header)
}

// UpdateWavHeader patches the size fields of a header written by WriteWavHeader.
// The write offset is restored to the end of the file afterwards so appends continue.
func UpdateWavHeader(ws io.WriteSeeker, dataSize uint32) error {
	// Update ChunkSize (file size - 8)
	if _, err := ws.Seek(4, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to ChunkSize: %w", err)
	}
	if err := binary.Write(ws, binary.LittleEndian, uint32(dataSize+36)); err != nil {
		return fmt.Errorf("failed to write ChunkSize: %w", err)
	}

	// Update Subchunk2Size (data size)
	if _, err := ws.Seek(40, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to Subchunk2Size: %w", err)
	}
	if err := binary.Write(ws, binary.LittleEndian, dataSize); err != nil {
		return fmt.Errorf("failed to write Subchunk2Size: %w", err)
	}

	if _, err := ws.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("failed to seek to end of data: %w", err)
	}
	return nil
}

// Float32ToPCM16 converts normalized samples to little-endian 16-bit PCM bytes.
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(floatToInt16(s)))
	}
	return out
}

// PCM16ToFloat32 converts little-endian 16-bit PCM bytes to normalized samples.
// A trailing odd byte is ignored.
func PCM16ToFloat32(data []byte) []float32 {
	out := make([]float32, len(data)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(data[i*2:]))) / 32768
	}
	return out
}

func floatToInt16(s float32) int16 {
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	return int16(s * 32767)
}

// Resample converts mono samples from rate `from` to rate `to` with linear interpolation.
func Resample(samples []float32, from, to int) []float32 {
	if from == to || from <= 0 || to <= 0 || len(samples) == 0 {
		return samples
	}

	n := int(int64(len(samples)) * int64(to) / int64(from))
	out := make([]float32, n)
	ratio := float64(from) / float64(to)
	for i := range out {
		pos := float64(i) * ratio
		j := int(pos)
		if j >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = samples[j] + (samples[j+1]-samples[j])*frac
	}
	return out
}

// resampler is Resample for a stream that arrives in pieces. It keeps the output phase as an
// exact sample count and the previous piece's last sample, so piece boundaries neither drift
// nor restart the interpolation.
type resampler struct {
	from, to int64
	out      int64 // output samples produced
	seen     int64 // input samples consumed
	last     float32
}

func newResampler(from, to int) *resampler {
	return &resampler{from: int64(from), to: int64(to)}
}

func (r *resampler) reset() {
	r.out, r.seen, r.last = 0, 0, 0
}

func (r *resampler) push(in []float32) []float32 {
	if r.from == r.to || r.from <= 0 || r.to <= 0 {
		return in
	}
	end := r.seen + int64(len(in))
	at := func(i int64) float32 {
		if i < r.seen {
			return r.last
		}
		return in[i-r.seen]
	}

	out := make([]float32, 0, int64(len(in))*r.to/r.from+1)
	for {
		pos := r.out * r.from
		j := pos / r.to
		if j+1 >= end {
			break
		}
		frac := float32(pos%r.to) / float32(r.to)
		a, b := at(j), at(j+1)
		out = append(out, a+(b-a)*frac)
		r.out++
	}
	if len(in) > 0 {
		r.last = in[len(in)-1]
	}
	r.seen = end
	return out
}

// flush emits the outputs that fall past the last input sample, holding its value.
func (r *resampler) flush() []float32 {
	if r.from == r.to || r.from <= 0 || r.to <= 0 {
		return nil
	}
	var out []float32
	for (r.out+1)*r.from <= r.seen*r.to {
		out = append(out, r.last)
		r.out++
	}
	return out
}

// SamplesToDuration reports how long n samples last at SampleRate.
func SamplesToDuration(n int64) time.Duration {
	return time.Duration(n) * time.Second / SampleRate
}

// DurationToSamples is the inverse of SamplesToDuration, truncating partial samples.
func DurationToSamples(d time.Duration) int64 {
	return int64(d * SampleRate / time.Second)
}
