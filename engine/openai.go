package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// OpenAIConfig targets any OpenAI-compatible /audio/transcriptions endpoint.
type OpenAIConfig struct {
	BaseURL  string
	APIKey   string
	Model    string
	Language string
	Timeout  time.Duration
}

// OpenAI transcribes windows through an OpenAI-compatible HTTP API.
type OpenAI struct {
	cfg OpenAIConfig
	hc  *http.Client
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &OpenAI{cfg: cfg, hc: &http.Client{Timeout: cfg.Timeout}}
}

type openAIResp struct {
	Text string `json:"text"`
}

// Load fails with ModelNotLoaded when no API key is configured.
func (o *OpenAI) Load(ctx context.Context) error {
	if o.cfg.APIKey == "" {
		return &Error{Kind: ModelNotLoaded, Engine: "openai", Err: errors.New("API key not set")}
	}
	return nil
}

func (o *OpenAI) Transcribe(ctx context.Context, a Artifact) (Transcription, error) {
	if len(a.WAV) == 0 {
		return Transcription{}, &Error{Kind: BufferNotReady, Engine: "openai", Err: errors.New("empty artifact")}
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	if err := mw.WriteField("model", o.cfg.Model); err != nil {
		return Transcription{}, failed("openai", err)
	}
	if o.cfg.Language != "" {
		if err := mw.WriteField("language", o.cfg.Language); err != nil {
			return Transcription{}, failed("openai", err)
		}
	}
	fw, err := mw.CreateFormFile("file", "window.wav")
	if err != nil {
		return Transcription{}, failed("openai", err)
	}
	if _, err := fw.Write(a.WAV); err != nil {
		return Transcription{}, failed("openai", err)
	}
	if err := mw.Close(); err != nil {
		return Transcription{}, failed("openai", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.BaseURL+"/audio/transcriptions", &body)
	if err != nil {
		return Transcription{}, failed("openai", err)
	}
	req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := o.hc.Do(req)
	if err != nil {
		return Transcription{}, failed("openai", fmt.Errorf("calling transcription API: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusNotFound {
		b, _ := io.ReadAll(resp.Body)
		return Transcription{}, &Error{Kind: ModelNotLoaded, Engine: "openai", Err: fmt.Errorf("http %d: %s", resp.StatusCode, string(b))}
	}
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return Transcription{}, failed("openai", fmt.Errorf("http %d: %s", resp.StatusCode, string(b)))
	}

	var or openAIResp
	if err := json.NewDecoder(resp.Body).Decode(&or); err != nil {
		return Transcription{}, failed("openai", fmt.Errorf("parsing response: %w", err))
	}
	return Transcription{Text: or.Text}, nil
}
