package audio

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tone(n int, amp float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = amp
		} else {
			out[i] = -amp
		}
	}
	return out
}

func TestUpdateWavHeaderPatchesSizesAndKeepsAppending(t *testing.T) {
	path := filepath.Join(t.TempDir(), "live.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, WriteWavHeader(f, SampleRate, 0))
	_, err = f.Write(Float32ToPCM16(tone(100, 0.5)))
	require.NoError(t, err)
	require.NoError(t, UpdateWavHeader(f, 200))

	_, err = f.Write(Float32ToPCM16(tone(50, 0.5)))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, data, wavHeaderSize+300)
	assert.Equal(t, "RIFF", string(data[0:4]))
	assert.Equal(t, uint32(236), binary.LittleEndian.Uint32(data[4:8]))
	assert.Equal(t, uint32(SampleRate), binary.LittleEndian.Uint32(data[24:28]))
	assert.Equal(t, uint32(200), binary.LittleEndian.Uint32(data[40:44]))
}

func TestPCMConversionClampsAndRoundTrips(t *testing.T) {
	in := []float32{0, 0.5, -0.5, 1.5, -1.5}
	out := PCM16ToFloat32(Float32ToPCM16(in))
	require.Len(t, out, len(in))
	assert.InDelta(t, 0.5, out[1], 0.001)
	assert.InDelta(t, -0.5, out[2], 0.001)
	assert.InDelta(t, 1.0, out[3], 0.001)
	assert.InDelta(t, -1.0, out[4], 0.001)
}

func TestResample(t *testing.T) {
	in := tone(44100, 0.25)
	out := Resample(in, 44100, SampleRate)
	assert.Len(t, out, SampleRate)

	same := Resample(in, SampleRate, SampleRate)
	assert.Len(t, same, len(in))
}

func sine(n, rate int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.5 * math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
	}
	return out
}

func TestResamplerMatchesOneShotAcrossPieces(t *testing.T) {
	in := sine(44100, 44100)
	want := Resample(in, 44100, SampleRate)

	r := newResampler(44100, SampleRate)
	var got []float32
	for rest := in; len(rest) > 0; {
		n := min(len(rest), 997)
		got = append(got, r.push(rest[:n])...)
		rest = rest[n:]
	}
	got = append(got, r.flush()...)

	require.Len(t, got, len(want))
	assert.InDeltaSlice(t, want, got, 1e-4)
}

func TestResamplerKeepsExactCount(t *testing.T) {
	r := newResampler(48000, SampleRate)
	total := 0
	for i := 0; i < 48; i++ {
		total += len(r.push(make([]float32, 1000)))
	}
	assert.Equal(t, SampleRate, total, "no output samples are lost at piece boundaries")
	assert.Empty(t, r.flush())

	same := newResampler(SampleRate, SampleRate)
	assert.Len(t, same.push(make([]float32, 10)), 10)
	assert.Empty(t, same.flush())
}

func TestSampleDurationConversions(t *testing.T) {
	assert.Equal(t, 2*time.Second, SamplesToDuration(2*SampleRate))
	assert.Equal(t, int64(5*SampleRate), DurationToSamples(5*time.Second))
}

func TestLevelDB(t *testing.T) {
	assert.Equal(t, -160.0, LevelDB(nil))
	assert.Equal(t, -160.0, LevelDB(make([]float32, 10)))
	assert.InDelta(t, 0.0, LevelDB(tone(10, 1)), 0.001)
	assert.InDelta(t, -6.02, LevelDB(tone(10, 0.5)), 0.01)
}

func TestMemorySinkLifecycle(t *testing.T) {
	sink := NewMemorySink()
	ctx := context.Background()

	_, err := sink.ReadSinceLastRead()
	require.ErrorIs(t, err, ErrNotCapturing)

	require.NoError(t, sink.Start(ctx))
	require.ErrorIs(t, sink.Start(ctx), ErrAlreadyCapturing)

	sink.Write(tone(10, 0.5))
	got, err := sink.ReadSinceLastRead()
	require.NoError(t, err)
	assert.Len(t, got, 10)
	assert.Greater(t, sink.Level(), -160.0)

	got, err = sink.ReadSinceLastRead()
	require.NoError(t, err)
	assert.Empty(t, got)

	sink.Write(tone(4, 0.5))
	rest, err := sink.Stop()
	require.NoError(t, err)
	assert.Len(t, rest, 4)
	assert.False(t, sink.Capturing())

	sink.Write(tone(4, 0.5))
	require.NoError(t, sink.Start(ctx))
	got, err = sink.ReadSinceLastRead()
	require.NoError(t, err)
	assert.Empty(t, got, "writes while stopped are discarded")
}

func TestMemorySinkStartError(t *testing.T) {
	sink := NewMemorySink()
	sink.StartErr = &CaptureError{Kind: DeviceUnavailable, Device: "none"}

	err := sink.Start(context.Background())
	require.ErrorIs(t, err, ErrDeviceUnavailable)
	assert.Contains(t, err.Error(), "device unavailable (none)")
}

func TestCaptureErrorMatching(t *testing.T) {
	err := fmt.Errorf("reading window: %w", &CaptureError{Kind: BufferNotReady, Err: errors.New("short read")})
	assert.True(t, IsTransient(err))
	assert.False(t, errors.Is(err, ErrDeviceUnavailable))
	assert.False(t, IsTransient(ErrNotCapturing))
}

func TestEncodeWAVProducesStandardHeader(t *testing.T) {
	data, err := EncodeWAV(tone(SampleRate, 0.5))
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(data), wavHeaderSize+SampleRate*2)
	assert.Equal(t, "RIFF", string(data[0:4]))
	assert.Equal(t, "WAVE", string(data[8:12]))
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(data[20:22]), "PCM")
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(data[22:24]), "mono")
	assert.Equal(t, uint32(SampleRate), binary.LittleEndian.Uint32(data[24:28]))
	assert.Equal(t, uint16(16), binary.LittleEndian.Uint16(data[34:36]))
}

func TestReadWAVDecodesLiveFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.wav")
	samples := tone(8000, 0.5)

	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, WriteWavHeader(f, SampleRate, uint32(len(samples)*2)))
	_, err = f.Write(Float32ToPCM16(samples))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	got, err := ReadWAV(path)
	require.NoError(t, err)
	require.Len(t, got, len(samples))
	assert.InDelta(t, 0.5, got[0], 0.001)
	assert.InDelta(t, -0.5, got[1], 0.001)
}

func TestReplayWritesEverything(t *testing.T) {
	sink := NewMemorySink()
	require.NoError(t, sink.Start(context.Background()))

	require.NoError(t, Replay(context.Background(), sink, tone(SampleRate/2, 0.1), 0))
	got, err := sink.ReadSinceLastRead()
	require.NoError(t, err)
	assert.Len(t, got, SampleRate/2)
}

func TestFingerprintIsStable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.wav")
	require.NoError(t, os.WriteFile(path, []byte("audio"), 0o644))

	a, err := Fingerprint(path)
	require.NoError(t, err)
	b, err := Fingerprint(path)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

// liveSink wires a DeviceSink to a fresh WAV file the way Start does, without a PortAudio
// stream; tests feed it through onBuffer.
func liveSink(t *testing.T, rate int) *DeviceSink {
	t.Helper()
	d := NewDeviceSink(DeviceConfig{Dir: t.TempDir(), CaptureRate: rate})
	file, err := createWavFile(d.cfg.Dir, uint32(rate))
	require.NoError(t, err)
	reader, err := os.Open(file.Name())
	require.NoError(t, err)

	d.file = file
	d.w = bufio.NewWriterSize(file, 64*1024)
	d.path = file.Name()
	d.reader = reader
	d.capturing = true
	t.Cleanup(d.closeFiles)
	return d
}

func TestDeviceSinkReadsWhileWriting(t *testing.T) {
	d := liveSink(t, SampleRate)

	got, err := d.ReadSinceLastRead()
	require.NoError(t, err)
	assert.Empty(t, got)

	var want, read []float32
	for i, n := range []int{1024, 300, 0, 4096, 17, 512} {
		buf := sine(n, SampleRate)
		d.onBuffer(buf)
		want = append(want, buf...)
		if i%2 == 1 {
			got, err := d.ReadSinceLastRead()
			require.NoError(t, err)
			read = append(read, got...)
		}
	}
	got, err = d.ReadSinceLastRead()
	require.NoError(t, err)
	read = append(read, got...)

	require.Len(t, read, len(want))
	assert.InDeltaSlice(t, want, read, 1e-3)

	data, err := os.ReadFile(d.path)
	require.NoError(t, err)
	size := uint32(len(want) * 2)
	require.Len(t, data, wavHeaderSize+int(size))
	assert.Equal(t, 36+size, binary.LittleEndian.Uint32(data[4:8]))
	assert.Equal(t, size, binary.LittleEndian.Uint32(data[40:44]))
}

func TestDeviceSinkKeepsBuffersArrivingDuringReads(t *testing.T) {
	d := liveSink(t, SampleRate)

	const buffers, size = 200, 160
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < buffers; i++ {
			d.onBuffer(tone(size, 0.25))
		}
	}()

	total := 0
	for i := 0; i < 50; i++ {
		got, err := d.ReadSinceLastRead()
		require.NoError(t, err)
		total += len(got)
	}
	wg.Wait()
	got, err := d.ReadSinceLastRead()
	require.NoError(t, err)
	total += len(got)

	assert.Equal(t, buffers*size, total)
}

func TestDeviceSinkShortReadKeepsPosition(t *testing.T) {
	d := liveSink(t, SampleRate)
	d.onBuffer(tone(100, 0.25))
	_, err := d.ReadSinceLastRead()
	require.NoError(t, err)

	d.readMu.Lock()
	_, err = d.readUntil(d.readPos + 50)
	pos := d.readPos
	d.readMu.Unlock()
	assert.ErrorIs(t, err, ErrBufferNotReady)
	assert.True(t, IsTransient(err))
	assert.Equal(t, int64(100), pos)

	d.onBuffer(tone(50, 0.25))
	got, err := d.ReadSinceLastRead()
	require.NoError(t, err)
	assert.Len(t, got, 50, "the retry picks up where the last good read ended")
}

func TestDeviceSinkResamplesCaptureRate(t *testing.T) {
	d := liveSink(t, 48000)
	total := 0
	for i := 0; i < 48; i++ {
		d.onBuffer(tone(1000, 0.25))
		if i%5 == 0 {
			got, err := d.ReadSinceLastRead()
			require.NoError(t, err)
			total += len(got)
		}
	}
	got, err := d.ReadSinceLastRead()
	require.NoError(t, err)
	total += len(got)
	assert.Equal(t, SampleRate, total)
}

func TestDeviceSinkNotCapturing(t *testing.T) {
	d := NewDeviceSink(DeviceConfig{Dir: t.TempDir()})
	_, err := d.ReadSinceLastRead()
	assert.ErrorIs(t, err, ErrNotCapturing)
}
