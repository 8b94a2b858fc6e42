package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultSummaryPrompt is used when no custom prompt is configured.
const DefaultSummaryPrompt = `You are a meeting summarizer. Given a meeting transcript, produce a clear and concise summary in markdown format with these sections:

## Summary
A brief 2-3 sentence overview of what the meeting was about.

## Key Decisions
Bullet points of any decisions that were made.

## Action Items
Bullet points of tasks or follow-ups assigned, with the responsible person if identifiable.

If any section has no content, omit it.`

type AnthropicConfig struct {
	BaseURL      string
	APIKey       string
	Model        string
	SystemPrompt string
	MaxTokens    int
}

// Anthropic summarizes transcripts with the Messages API.
type Anthropic struct {
	cfg AnthropicConfig
	hc  *http.Client
	now func() time.Time
}

func NewAnthropic(cfg AnthropicConfig) *Anthropic {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com"
	}
	if cfg.Model == "" {
		cfg.Model = "claude-haiku-4-5"
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSummaryPrompt
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	return &Anthropic{cfg: cfg, hc: &http.Client{Timeout: 5 * time.Minute}, now: time.Now}
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (a *Anthropic) Summarize(ctx context.Context, transcript string) (Summary, error) {
	if a.cfg.APIKey == "" {
		return Summary{}, &Error{Kind: Unavailable, Engine: "anthropic", Err: errors.New("API key not set")}
	}

	reqBody := anthropicRequest{
		Model:     a.cfg.Model,
		MaxTokens: a.cfg.MaxTokens,
		System:    a.cfg.SystemPrompt,
		Messages: []anthropicMessage{
			{
				Role:    "user",
				Content: "Here is the meeting transcript to summarize:\n\n" + transcript,
			},
		},
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return Summary{}, failed("anthropic", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/v1/messages", bytes.NewReader(jsonBody))
	if err != nil {
		return Summary{}, failed("anthropic", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.cfg.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := a.hc.Do(req)
	if err != nil {
		return Summary{}, failed("anthropic", fmt.Errorf("calling Anthropic API: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Summary{}, failed("anthropic", fmt.Errorf("reading response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return Summary{}, failed("anthropic", fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody)))
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return Summary{}, failed("anthropic", fmt.Errorf("parsing Anthropic response: %w", err))
	}

	var sb strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return Summary{}, failed("anthropic", errors.New("empty response"))
	}

	return Summary{Text: sb.String(), GeneratedAt: a.now()}, nil
}
