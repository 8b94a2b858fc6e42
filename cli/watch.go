package cli

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bosley/minutes/detect"
	"github.com/bosley/minutes/server"
	"github.com/bosley/minutes/session"
)

func NewWatchCmd(deps *Dependencies) *cobra.Command {
	var serve bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Record automatically while a meeting app is running",
		Long:  "Watches the configured marker files. A meeting starts when a marker appears and stops once it has been gone for the stop debounce.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd, deps, true, serve)
		},
	}

	cmd.Flags().BoolVar(&serve, "serve", false, "Also serve the HTTP API and live event stream")
	return cmd
}

func NewServeCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and live event stream; meetings are started remotely",
		Long:  "Serves the HTTP API. When marker files are configured, meeting apps are also detected as in watch.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd, deps, len(deps.Config.Markers) > 0, true)
		},
	}
}

func runDaemon(cmd *cobra.Command, deps *Dependencies, watch, serve bool) error {
	if watch && len(deps.Config.Markers) == 0 {
		return errors.New("no meeting app markers configured; set markers in the config file or MINUTES_MARKERS")
	}
	app, err := deps.App()
	if err != nil {
		return err
	}
	f := newFormatter()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	notifier := session.Notifiers{liveNotifier(f), session.NotifierFunc(func(e session.Event) {
		switch e.Kind {
		case session.EventMeetingStarted:
			f.Info("Meeting started: " + e.MeetingID)
		case session.EventMeetingEnded:
			f.Info("Meeting ended: " + e.MeetingID)
		case session.EventSummaryGenerated:
			f.Success("Summary ready for " + e.MeetingID)
		}
	})}
	var hub *server.Hub
	if serve {
		hub = server.NewHub()
		notifier = append(notifier, hub)
	}
	ctrl := app.Controller(notifier, nil, nil)

	if serve {
		go runServer(ctx, app, ctrl, hub)
	}

	if watch {
		w, err := detect.New(deps.Config.Markers)
		if err != nil {
			return err
		}
		go w.Run(ctx)
		f.Info("Watching for meeting apps. Press Ctrl+C to exit.")
		session.NewAutoDetector(ctrl, deps.Config.StopDebounce).Run(ctx, w.Events())
	} else {
		f.Info("Serving on " + deps.Config.HTTPAddr + ". Press Ctrl+C to exit.")
	}
	<-ctx.Done()

	if st := ctrl.Status().Status; st != session.Recording {
		ctrl.Wait()
		return nil
	}
	return finishMeeting(app, ctrl, app.Store, f)
}
