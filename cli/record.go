package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bosley/minutes/output"
	"github.com/bosley/minutes/server"
	"github.com/bosley/minutes/session"
	"github.com/bosley/minutes/store"
)

func NewRecordCmd(deps *Dependencies) *cobra.Command {
	var (
		title string
		serve bool
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a meeting from the input device until Ctrl+C",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := deps.App()
			if err != nil {
				return err
			}
			f := newFormatter()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			notifier := liveNotifier(f)
			var hub *server.Hub
			if serve {
				hub = server.NewHub()
				notifier = session.Notifiers{notifier, hub}
			}
			ctrl := app.Controller(notifier, nil, nil)

			if serve {
				go runServer(ctx, app, ctrl, hub)
			}

			id, err := ctrl.Start(ctx, title, "cli")
			if err != nil {
				return err
			}
			f.RecordingStarted(id, ctrl.Status().Title)

			<-ctx.Done()
			return finishMeeting(app, ctrl, app.Store, f)
		},
	}

	cmd.Flags().StringVarP(&title, "title", "t", "", "Meeting title")
	cmd.Flags().BoolVar(&serve, "serve", false, "Also serve the HTTP API and live event stream")
	return cmd
}

// finishMeeting stops the current recording, waits for the summary and prints the result.
func finishMeeting(app *App, ctrl *session.Controller, st store.Store, f *output.Formatter) error {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	id, err := ctrl.Stop(ctx)
	if errors.Is(err, session.ErrNotRecording) {
		f.Info("No meeting is recording")
		return nil
	}
	if err != nil {
		return err
	}

	m, err := st.Get(ctx, id)
	if err != nil {
		return err
	}
	if m.EndedAt != nil {
		f.RecordingStopped(m.EndedAt.Sub(m.StartedAt))
	}

	if app.Summarizer != nil && len(m.Segments) > 0 {
		f.Summarizing()
	}
	ctrl.Wait()

	if m, err = st.Get(ctx, id); err != nil {
		return err
	}
	if m.Summary != "" {
		f.Summary(m.Summary)
	}
	f.MeetingSaved(id)
	return nil
}

func runServer(ctx context.Context, app *App, ctrl *session.Controller, hub *server.Hub) {
	srv := server.New(server.Config{
		Addr:     app.Config.HTTPAddr,
		CertFile: app.Config.CertFile,
		KeyFile:  app.Config.KeyFile,
		Token:    app.Config.Token,
	}, ctrl, app.Store, hub)
	if err := srv.Run(ctx); err != nil {
		slog.Error("HTTP server failed", "error", err)
	}
}
