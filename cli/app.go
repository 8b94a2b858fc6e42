package cli

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/bosley/minutes/audio"
	"github.com/bosley/minutes/config"
	"github.com/bosley/minutes/engine"
	"github.com/bosley/minutes/scribe"
	"github.com/bosley/minutes/session"
	"github.com/bosley/minutes/store"
)

// App holds the long-lived collaborators built from configuration.
type App struct {
	Config      *config.Config
	Store       *store.SQLite
	Transcriber engine.Transcriber
	Diarizer    engine.Diarizer
	Summarizer  engine.Summarizer
}

func NewApp(cfg *config.Config) (*App, error) {
	st, err := store.OpenSQLite(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening meeting store: %w", err)
	}

	app := &App{Config: cfg, Store: st}

	switch cfg.Transcriber {
	case config.TranscriberOpenAI:
		app.Transcriber = engine.NewOpenAI(engine.OpenAIConfig{
			BaseURL:  cfg.OpenAIURL,
			APIKey:   cfg.OpenAIKey,
			Model:    cfg.OpenAIModel,
			Language: cfg.Language,
		})
	default:
		app.Transcriber = engine.NewWhisper(engine.WhisperConfig{
			Path:     cfg.WhisperPath,
			Model:    cfg.WhisperModel,
			Language: cfg.Language,
		})
	}

	if cfg.DiarizationURL != "" {
		app.Diarizer = engine.NewDiarizationService(cfg.DiarizationURL, time.Minute)
	}

	if cfg.AnthropicKey != "" {
		app.Summarizer = engine.NewAnthropic(engine.AnthropicConfig{
			APIKey:       cfg.AnthropicKey,
			Model:        cfg.AnthropicModel,
			SystemPrompt: cfg.SummaryPrompt,
		})
	} else {
		slog.Debug("No Anthropic API key, summaries are disabled")
	}

	return app, nil
}

func (a *App) Close() error {
	return a.Store.Close()
}

func (a *App) pipelineConfig() scribe.Config {
	return scribe.Config{
		Period:     a.Config.Period,
		MinChunk:   a.Config.MinChunk,
		DiarizeMin: a.Config.DiarizeMin,
	}
}

// deviceSink opens the configured input device for each recording.
func (a *App) deviceSink() (audio.Sink, error) {
	return audio.NewDeviceSink(audio.DeviceConfig{
		Dir:         a.Config.RecordingsDir,
		DeviceID:    a.Config.DeviceID,
		CaptureRate: a.Config.CaptureRate,
	}), nil
}

// Controller builds a session controller over the app's engines. newSink defaults to the
// input device; st defaults to the app's database.
func (a *App) Controller(n session.Notifier, newSink func() (audio.Sink, error), st store.Store) *session.Controller {
	if newSink == nil {
		newSink = a.deviceSink
	}
	if st == nil {
		st = a.Store
	}
	return session.New(session.Deps{
		NewSink:     newSink,
		Transcriber: a.Transcriber,
		Diarizer:    a.Diarizer,
		Summarizer:  a.Summarizer,
		Store:       st,
		Notifier:    n,
		Pipeline:    a.pipelineConfig(),
	})
}
