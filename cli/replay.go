package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bosley/minutes/audio"
	"github.com/bosley/minutes/output"
	"github.com/bosley/minutes/store"
)

func NewReplayCmd(deps *Dependencies) *cobra.Command {
	var (
		title  string
		speed  float64
		memory bool
	)

	cmd := &cobra.Command{
		Use:   "replay <file.wav>",
		Short: "Run a recorded WAV file through the live transcription pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := deps.App()
			if err != nil {
				return err
			}
			f := newFormatter()

			samples, err := audio.ReadWAV(args[0])
			if err != nil {
				return err
			}
			if title == "" {
				title = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var st store.Store = app.Store
			if memory {
				st = store.NewMemory()
			}
			sink := audio.NewMemorySink()
			ctrl := app.Controller(liveNotifier(f), func() (audio.Sink, error) { return sink, nil }, st)

			id, err := ctrl.Start(ctx, title, "replay")
			if err != nil {
				return err
			}
			f.Info(fmt.Sprintf("Replaying %s (%s) at %gx", args[0], audio.SamplesToDuration(int64(len(samples))), speed))

			if err := audio.Replay(ctx, sink, samples, speed); err != nil {
				f.Warning("Replay interrupted, keeping what was transcribed")
			}
			if err := finishMeeting(app, ctrl, st, f); err != nil {
				return err
			}

			if memory {
				m, err := st.Get(context.Background(), id)
				if err != nil {
					return err
				}
				return output.RenderTranscript(os.Stdout, m)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&title, "title", "t", "", "Meeting title (defaults to the file name)")
	cmd.Flags().Float64Var(&speed, "speed", 4, "Playback speed; 0 feeds the whole file at once")
	cmd.Flags().BoolVar(&memory, "memory", false, "Keep the meeting in memory and print it instead of saving it")
	return cmd
}
