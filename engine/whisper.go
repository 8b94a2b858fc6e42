package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// WhisperConfig points at a whisper.cpp command line binary and its model.
type WhisperConfig struct {
	// Path to whisper executable
	Path string

	// Path to whisper model
	Model string

	// Directory for window files; empty uses the system temp dir
	TempDir string

	Language string
}

// Whisper runs a local whisper.cpp binary once per window.
type Whisper struct {
	cfg WhisperConfig

	mu     sync.Mutex
	loaded bool
}

func NewWhisper(cfg WhisperConfig) *Whisper {
	return &Whisper{cfg: cfg}
}

// Load checks that the binary and model exist. Until it succeeds Transcribe reports
// ModelNotLoaded.
func (w *Whisper) Load(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.loaded {
		return nil
	}
	if _, err := exec.LookPath(w.cfg.Path); err != nil {
		return &Error{Kind: ModelNotLoaded, Engine: "whisper", Err: fmt.Errorf("whisper executable: %w", err)}
	}
	if _, err := os.Stat(w.cfg.Model); err != nil {
		return &Error{Kind: ModelNotLoaded, Engine: "whisper", Err: fmt.Errorf("whisper model: %w", err)}
	}
	w.loaded = true
	return nil
}

func (w *Whisper) isLoaded() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.loaded
}

func (w *Whisper) Transcribe(ctx context.Context, a Artifact) (Transcription, error) {
	if !w.isLoaded() {
		return Transcription{}, &Error{Kind: ModelNotLoaded, Engine: "whisper"}
	}
	if len(a.WAV) == 0 {
		return Transcription{}, &Error{Kind: BufferNotReady, Engine: "whisper", Err: errors.New("empty artifact")}
	}

	f, err := os.CreateTemp(w.cfg.TempDir, "window_*.wav")
	if err != nil {
		return Transcription{}, failed("whisper", fmt.Errorf("creating window file: %w", err))
	}
	path := f.Name()
	defer os.Remove(path)

	if _, err := f.Write(a.WAV); err != nil {
		f.Close()
		return Transcription{}, failed("whisper", fmt.Errorf("writing window file: %w", err))
	}
	if err := f.Close(); err != nil {
		return Transcription{}, failed("whisper", err)
	}

	args := []string{"--model", w.cfg.Model, "--no-timestamps"}
	if w.cfg.Language != "" {
		args = append(args, "--language", w.cfg.Language)
	}
	args = append(args, path)

	cmd := exec.CommandContext(ctx, w.cfg.Path, args...)

	slog.Debug("Executing whisper command",
		"command", cmd.String(),
		"args", cmd.Args)

	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			stderr := string(exitErr.Stderr)
			if strings.Contains(stderr, "input file not found") {
				return Transcription{}, &Error{Kind: BufferNotReady, Engine: "whisper", Err: err}
			}
			if strings.Contains(stderr, "failed to load model") {
				w.mu.Lock()
				w.loaded = false
				w.mu.Unlock()
				return Transcription{}, &Error{Kind: ModelNotLoaded, Engine: "whisper", Err: err}
			}
			slog.Debug("Whisper command failed",
				"stderr", stderr,
				"exitCode", exitErr.ExitCode())
		}
		return Transcription{}, failed("whisper", fmt.Errorf("whisper execution failed: %w", err))
	}

	outputStr := string(output)
	slog.Debug("Whisper command output received",
		"outputLength", len(output),
		"output", outputStr)

	return Transcription{Text: ExtractText(outputStr)}, nil
}

// ExtractText joins whisper's line output into a single string, dropping blank-audio markers.
func ExtractText(output string) string {
	var builder strings.Builder
	lines := strings.Split(output, "\n")

	for _, line := range lines {
		// Skip blank audio markers
		if strings.Contains(line, "[BLANK_AUDIO]") {
			continue
		}

		text := strings.TrimSpace(line)
		if text != "" {
			if builder.Len() > 0 {
				builder.WriteString(" ")
			}
			builder.WriteString(text)
		}
	}

	return strings.TrimSpace(builder.String())
}
