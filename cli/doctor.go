package cli

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/bosley/minutes/audio"
	"github.com/bosley/minutes/config"
	"github.com/bosley/minutes/engine"
	"github.com/bosley/minutes/version"
)

func NewDoctorCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check prerequisites",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter()
			cfg := deps.Config
			ok := true

			if cfg.Source != "" {
				f.SetupCheck("Config file", true, cfg.Source)
			} else {
				f.SetupCheck("Config file", true, "none, using defaults and environment")
			}

			switch cfg.Transcriber {
			case config.TranscriberOpenAI:
				if cfg.OpenAIKey != "" {
					f.SetupCheck("OpenAI API key", true, "configured")
				} else {
					f.SetupCheck("OpenAI API key", false, "not set. Set MINUTES_OPENAI_API_KEY or add to config")
					ok = false
				}
			default:
				if _, err := exec.LookPath(cfg.WhisperPath); err != nil {
					f.SetupCheck("whisper", false, cfg.WhisperPath+" not found. Build whisper.cpp or set whisper_path")
					ok = false
				} else {
					f.SetupCheck("whisper", true, cfg.WhisperPath)
				}
				w := engine.NewWhisper(engine.WhisperConfig{Path: cfg.WhisperPath, Model: cfg.WhisperModel})
				if err := w.Load(cmd.Context()); err != nil {
					f.SetupCheck("Whisper model", false, err.Error())
					ok = false
				} else {
					f.SetupCheck("Whisper model", true, cfg.WhisperModel)
				}
			}

			devices, err := audio.ListInputDevices()
			switch {
			case err != nil:
				f.SetupCheck("Input devices", false, err.Error())
				ok = false
			case len(devices) == 0:
				f.SetupCheck("Input devices", false, "none found")
				ok = false
			default:
				f.SetupCheck("Input devices", true, fmt.Sprintf("%d found", len(devices)))
			}

			if cfg.DiarizationURL != "" {
				ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
				ready := engine.NewDiarizationService(cfg.DiarizationURL, 5*time.Second).Probe(ctx)
				cancel()
				if ready {
					f.SetupCheck("Diarization", true, cfg.DiarizationURL)
				} else {
					f.SetupCheck("Diarization", false, cfg.DiarizationURL+" is not ready; speakers will be guessed from wording")
				}
			} else {
				f.SetupCheck("Diarization", true, "not configured; speakers will be guessed from wording")
			}

			if cfg.AnthropicKey != "" {
				f.SetupCheck("Anthropic API key", true, "configured")
			} else {
				f.SetupCheck("Anthropic API key", false, "not set. Set MINUTES_ANTHROPIC_API_KEY or add to config")
			}

			if len(cfg.Markers) > 0 {
				f.SetupCheck("Meeting app markers", true, fmt.Sprintf("%d configured", len(cfg.Markers)))
			} else {
				f.SetupCheck("Meeting app markers", true, "none; watch is unavailable")
			}

			f.SetupCheck("Database", true, cfg.DBPath)
			f.SetupCheck("Recordings", true, cfg.RecordingsDir)

			if ok {
				f.Success("\nAll prerequisites met. Ready to record!")
			} else {
				f.Warning("\nSome prerequisites are missing.")
			}
			return nil
		},
	}
}

func NewDevicesCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List audio input devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter()
			devices, err := audio.ListInputDevices()
			if err != nil {
				return err
			}
			if len(devices) == 0 {
				f.Info("No input devices found")
				return nil
			}
			f.Info("Available audio input devices (use the number as device in the config):")
			for _, d := range devices {
				f.Device(d.ID, d.Name, d.MaxInputChannels, d.DefaultSampleRate)
			}
			return nil
		},
	}
}

func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Full())
		},
	}
}
