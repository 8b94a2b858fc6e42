package cli

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/bosley/minutes/config"
	"github.com/bosley/minutes/output"
	"github.com/bosley/minutes/session"
	"github.com/bosley/minutes/version"
)

const drainTimeout = 2 * time.Minute

type Dependencies struct {
	Config *config.Config

	app *App
}

// App opens the store and engines on first use, so commands that need neither stay cheap.
func (d *Dependencies) App() (*App, error) {
	if d.app == nil {
		app, err := NewApp(d.Config)
		if err != nil {
			return nil, err
		}
		d.app = app
	}
	return d.app, nil
}

func (d *Dependencies) Close() {
	if d.app != nil {
		if err := d.app.Close(); err != nil {
			slog.Error("Failed to close meeting store", "error", err)
		}
	}
}

func NewRootCmd(deps *Dependencies) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "minutes",
		Short:         "Record meetings with a live, speaker-attributed transcript",
		Long:          "minutes captures meeting audio, transcribes it in rolling windows while the meeting runs, attributes each line to you or the other side, and summarizes the meeting when it ends.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.Version = version.Version
	rootCmd.SetVersionTemplate(version.Full() + "\n")

	rootCmd.AddCommand(NewRecordCmd(deps))
	rootCmd.AddCommand(NewReplayCmd(deps))
	rootCmd.AddCommand(NewWatchCmd(deps))
	rootCmd.AddCommand(NewServeCmd(deps))
	rootCmd.AddCommand(NewListCmd(deps))
	rootCmd.AddCommand(NewShowCmd(deps))
	rootCmd.AddCommand(NewSummarizeCmd(deps))
	rootCmd.AddCommand(NewDeleteCmd(deps))
	rootCmd.AddCommand(NewPlayCmd(deps))
	rootCmd.AddCommand(NewRemoteCmd(deps))
	rootCmd.AddCommand(NewDevicesCmd(deps))
	rootCmd.AddCommand(NewDoctorCmd(deps))
	rootCmd.AddCommand(NewVersionCmd())

	return rootCmd
}

// liveNotifier prints transcript lines and warnings as the session reports them.
func liveNotifier(f *output.Formatter) session.Notifier {
	return session.NotifierFunc(func(e session.Event) {
		switch e.Kind {
		case session.EventSegmentAdded:
			if e.Segment != nil {
				f.Segment(*e.Segment)
			}
		case session.EventDiarizationUnavailable:
			f.Warning("Speaker diarization is unavailable, attributing speakers by wording")
		case session.EventEngineError:
			f.Error(fmt.Sprintf("Transcription engine error: %s", e.Error))
		}
	})
}

func newFormatter() *output.Formatter {
	return output.NewFormatter(os.Stdout)
}
