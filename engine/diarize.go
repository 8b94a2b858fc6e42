package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bosley/minutes/audio"
)

type (
	diarizeResult struct {
		Segments []diarizeSegment `json:"segments"`
	}

	diarizeSegment struct {
		Speaker string          `json:"speaker"`
		Start   decimal.Decimal `json:"start"`
		End     decimal.Decimal `json:"end"`
	}
)

// DiarizationService calls an HTTP diarization server (pyannote style). The server accepts
// a WAV body on POST /diarize and reports readiness on GET /health.
type DiarizationService struct {
	baseURL   string
	hc        *http.Client
	available atomic.Bool
}

var _ Diarizer = (*DiarizationService)(nil)

func NewDiarizationService(baseURL string, timeout time.Duration) *DiarizationService {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &DiarizationService{baseURL: baseURL, hc: &http.Client{Timeout: timeout}}
}

// Probe asks the server whether its model is loaded and caches the answer for Available.
func (d *DiarizationService) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/health", nil)
	if err != nil {
		d.available.Store(false)
		return false
	}
	resp, err := d.hc.Do(req)
	if err != nil {
		slog.Warn("Diarization service unreachable", "url", d.baseURL, "error", err)
		d.available.Store(false)
		return false
	}
	defer resp.Body.Close()

	ok := resp.StatusCode == http.StatusOK
	d.available.Store(ok)
	if !ok {
		slog.Warn("Diarization service not ready", "url", d.baseURL, "status", resp.StatusCode)
	}
	return ok
}

func (d *DiarizationService) Available() bool {
	return d.available.Load()
}

func (d *DiarizationService) Diarize(ctx context.Context, samples []float32, sampleRate int) ([]DiarizationSegment, error) {
	if sampleRate != audio.SampleRate {
		samples = audio.Resample(samples, sampleRate, audio.SampleRate)
	}
	wav, err := audio.EncodeWAV(samples)
	if err != nil {
		return nil, failed("diarization", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/diarize", bytes.NewReader(wav))
	if err != nil {
		return nil, failed("diarization", err)
	}
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := d.hc.Do(req)
	if err != nil {
		return nil, failed("diarization", fmt.Errorf("calling diarization service: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusServiceUnavailable {
		return nil, &Error{Kind: ModelNotLoaded, Engine: "diarization"}
	}
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return nil, failed("diarization", fmt.Errorf("http %d: %s", resp.StatusCode, string(b)))
	}

	var dr diarizeResult
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return nil, failed("diarization", fmt.Errorf("decoding diarization json result: %w", err))
	}

	res := make([]DiarizationSegment, len(dr.Segments))
	for n, s := range dr.Segments {
		start, _ := s.Start.Float64()
		end, _ := s.End.Float64()
		res[n] = DiarizationSegment{Label: s.Speaker, Start: start, End: end}
	}
	return res, nil
}
