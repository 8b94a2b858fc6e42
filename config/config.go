// Package config loads settings from defaults, a TOML file, a .env file and MINUTES_*
// environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/bosley/minutes/detect"
)

const (
	TranscriberWhisper = "whisper"
	TranscriberOpenAI  = "openai"
)

type Config struct {
	DataDir       string
	DBPath        string
	RecordingsDir string

	// Capture
	DeviceID    int
	CaptureRate int

	// Pipeline timing
	Period       time.Duration
	MinChunk     time.Duration
	DiarizeMin   time.Duration
	StopDebounce time.Duration

	// Transcription backend, "whisper" or "openai"
	Transcriber  string
	WhisperPath  string
	WhisperModel string
	Language     string
	OpenAIURL    string
	OpenAIKey    string
	OpenAIModel  string

	// Diarization sidecar; empty disables diarization
	DiarizationURL string

	AnthropicKey   string
	AnthropicModel string
	SummaryPrompt  string // system prompt for summary generation

	HTTPAddr string
	CertFile string
	KeyFile  string
	Token    string

	// Files whose presence means a meeting app is running
	Markers []detect.Marker

	LogLevel string

	// File the settings were read from, empty when none was found
	Source string
}

type fileConfig struct {
	DataDir        string   `toml:"data_dir"`
	DBPath         string   `toml:"db_path"`
	RecordingsDir  string   `toml:"recordings_dir"`
	DeviceID       *int     `toml:"device"`
	CaptureRate    int      `toml:"capture_rate"`
	Period         string   `toml:"period"`
	MinChunk       string   `toml:"min_chunk"`
	DiarizeMin     string   `toml:"diarize_min"`
	StopDebounce   string   `toml:"stop_debounce"`
	Transcriber    string   `toml:"transcriber"`
	WhisperPath    string   `toml:"whisper_path"`
	WhisperModel   string   `toml:"whisper_model"`
	Language       string   `toml:"language"`
	OpenAIURL      string   `toml:"openai_url"`
	OpenAIKey      string   `toml:"openai_api_key"`
	OpenAIModel    string   `toml:"openai_model"`
	DiarizationURL string   `toml:"diarization_url"`
	AnthropicKey   string   `toml:"anthropic_api_key"`
	AnthropicModel string   `toml:"anthropic_model"`
	SummaryPrompt  string   `toml:"summary_prompt"`
	HTTPAddr       string   `toml:"http_addr"`
	CertFile       string   `toml:"tls_cert"`
	KeyFile        string   `toml:"tls_key"`
	Token          string   `toml:"token"`
	Markers        []string `toml:"markers"`
	LogLevel       string   `toml:"log_level"`
}

// Load reads the configuration and makes sure the data directories exist.
func Load() (*Config, error) {
	cfg := defaults()
	var markers []string

	if path := configFilePath(); path != "" {
		var fc fileConfig
		if _, err := toml.DecodeFile(path, &fc); err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		if err := cfg.applyFile(fc); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		markers = fc.Markers
		cfg.Source = path
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	if err := cfg.applyEnv(&markers); err != nil {
		return nil, err
	}

	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.DataDir, "minutes.db")
	}
	if cfg.RecordingsDir == "" {
		cfg.RecordingsDir = filepath.Join(cfg.DataDir, "recordings")
	}
	if cfg.WhisperModel == "" {
		cfg.WhisperModel = filepath.Join(cfg.DataDir, "models", "ggml-base.en.bin")
	}

	for _, m := range markers {
		marker, err := detect.ParseMarker(m)
		if err != nil {
			return nil, err
		}
		cfg.Markers = append(cfg.Markers, marker)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	for _, dir := range []string{cfg.DataDir, cfg.RecordingsDir, filepath.Dir(cfg.DBPath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		DataDir:        defaultDataDir(),
		CaptureRate:    16000,
		Period:         5 * time.Second,
		MinChunk:       2 * time.Second,
		DiarizeMin:     3 * time.Second,
		StopDebounce:   5 * time.Second,
		Transcriber:    TranscriberWhisper,
		WhisperPath:    "whisper-cli",
		AnthropicModel: "claude-haiku-4-5",
		HTTPAddr:       "127.0.0.1:8444",
		LogLevel:       "info",
	}
}

func (c *Config) applyFile(fc fileConfig) error {
	// paths left empty are derived from the data dir after all sources are applied
	setPath(&c.DataDir, fc.DataDir)
	setPath(&c.DBPath, fc.DBPath)
	setPath(&c.RecordingsDir, fc.RecordingsDir)
	if fc.DeviceID != nil {
		c.DeviceID = *fc.DeviceID
	}
	if fc.CaptureRate != 0 {
		c.CaptureRate = fc.CaptureRate
	}

	for _, d := range []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"period", fc.Period, &c.Period},
		{"min_chunk", fc.MinChunk, &c.MinChunk},
		{"diarize_min", fc.DiarizeMin, &c.DiarizeMin},
		{"stop_debounce", fc.StopDebounce, &c.StopDebounce},
	} {
		if err := setDuration(d.dst, d.name, d.raw); err != nil {
			return err
		}
	}

	setString(&c.Transcriber, fc.Transcriber)
	setPath(&c.WhisperPath, fc.WhisperPath)
	setPath(&c.WhisperModel, fc.WhisperModel)
	setString(&c.Language, fc.Language)
	setString(&c.OpenAIURL, fc.OpenAIURL)
	setString(&c.OpenAIKey, fc.OpenAIKey)
	setString(&c.OpenAIModel, fc.OpenAIModel)
	setString(&c.DiarizationURL, fc.DiarizationURL)
	setString(&c.AnthropicKey, fc.AnthropicKey)
	setString(&c.AnthropicModel, fc.AnthropicModel)
	setString(&c.SummaryPrompt, fc.SummaryPrompt)
	setString(&c.HTTPAddr, fc.HTTPAddr)
	setPath(&c.CertFile, fc.CertFile)
	setPath(&c.KeyFile, fc.KeyFile)
	setString(&c.Token, fc.Token)
	setString(&c.LogLevel, fc.LogLevel)
	return nil
}

func (c *Config) applyEnv(markers *[]string) error {
	setPath(&c.DataDir, os.Getenv("MINUTES_DATA_DIR"))
	setPath(&c.DBPath, os.Getenv("MINUTES_DB"))
	setPath(&c.RecordingsDir, os.Getenv("MINUTES_RECORDINGS_DIR"))

	for _, n := range []struct {
		key string
		dst *int
	}{
		{"MINUTES_DEVICE", &c.DeviceID},
		{"MINUTES_CAPTURE_RATE", &c.CaptureRate},
	} {
		if v := os.Getenv(n.key); v != "" {
			i, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", n.key, err)
			}
			*n.dst = i
		}
	}

	for _, d := range []struct {
		key string
		dst *time.Duration
	}{
		{"MINUTES_PERIOD", &c.Period},
		{"MINUTES_MIN_CHUNK", &c.MinChunk},
		{"MINUTES_DIARIZE_MIN", &c.DiarizeMin},
		{"MINUTES_STOP_DEBOUNCE", &c.StopDebounce},
	} {
		if err := setDuration(d.dst, d.key, os.Getenv(d.key)); err != nil {
			return err
		}
	}

	setString(&c.Transcriber, os.Getenv("MINUTES_TRANSCRIBER"))
	setPath(&c.WhisperPath, os.Getenv("MINUTES_WHISPER_PATH"))
	setPath(&c.WhisperModel, os.Getenv("MINUTES_WHISPER_MODEL"))
	setString(&c.Language, os.Getenv("MINUTES_LANGUAGE"))
	setString(&c.OpenAIURL, os.Getenv("MINUTES_OPENAI_URL"))
	setString(&c.OpenAIKey, firstEnv("MINUTES_OPENAI_API_KEY", "OPENAI_API_KEY"))
	setString(&c.OpenAIModel, os.Getenv("MINUTES_OPENAI_MODEL"))
	setString(&c.DiarizationURL, os.Getenv("MINUTES_DIARIZATION_URL"))
	setString(&c.AnthropicKey, firstEnv("MINUTES_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY"))
	setString(&c.AnthropicModel, os.Getenv("MINUTES_ANTHROPIC_MODEL"))
	setString(&c.HTTPAddr, os.Getenv("MINUTES_HTTP_ADDR"))
	setPath(&c.CertFile, os.Getenv("MINUTES_TLS_CERT"))
	setPath(&c.KeyFile, os.Getenv("MINUTES_TLS_KEY"))
	setString(&c.Token, os.Getenv("MINUTES_TOKEN"))
	setString(&c.LogLevel, os.Getenv("MINUTES_LOG_LEVEL"))

	if v := os.Getenv("MINUTES_MARKERS"); v != "" {
		*markers = nil
		for _, m := range strings.Split(v, ",") {
			if m = strings.TrimSpace(m); m != "" {
				*markers = append(*markers, m)
			}
		}
	}
	return nil
}

// Validate checks values that would otherwise fail deep inside a recording.
func (c *Config) Validate() error {
	var errs []error
	if c.Period <= 0 {
		errs = append(errs, errors.New("period must be positive"))
	}
	if c.MinChunk <= 0 {
		errs = append(errs, errors.New("min_chunk must be positive"))
	}
	if c.DiarizeMin < 0 {
		errs = append(errs, errors.New("diarize_min must not be negative"))
	}
	if c.StopDebounce <= 0 {
		errs = append(errs, errors.New("stop_debounce must be positive"))
	}
	if c.CaptureRate < 8000 {
		errs = append(errs, fmt.Errorf("capture_rate %d is below 8000", c.CaptureRate))
	}
	if c.DeviceID < 0 {
		errs = append(errs, fmt.Errorf("device %d is not a device index", c.DeviceID))
	}
	switch c.Transcriber {
	case TranscriberWhisper, TranscriberOpenAI:
	default:
		errs = append(errs, fmt.Errorf("transcriber %q must be %q or %q", c.Transcriber, TranscriberWhisper, TranscriberOpenAI))
	}
	if (c.CertFile == "") != (c.KeyFile == "") {
		errs = append(errs, errors.New("tls_cert and tls_key must be set together"))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}

func configFilePath() string {
	if p := os.Getenv("MINUTES_CONFIG"); p != "" {
		return expandTilde(p)
	}

	var configDir string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		configDir = filepath.Join(xdg, "minutes")
	} else if home, err := os.UserHomeDir(); err == nil {
		configDir = filepath.Join(home, ".config", "minutes")
	} else {
		return ""
	}

	path := filepath.Join(configDir, "config.toml")
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return ""
}

func defaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "minutes")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "minutes")
	}
	return filepath.Join(".", "minutes")
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setPath(dst *string, v string) {
	if v != "" {
		*dst = expandTilde(v)
	}
}

func setDuration(dst *time.Duration, name, raw string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = d
	return nil
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func expandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
