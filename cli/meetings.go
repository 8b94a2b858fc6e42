package cli

import (
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/bosley/minutes/client"
	"github.com/bosley/minutes/output"
	"github.com/bosley/minutes/store"
)

func NewListCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List recorded meetings",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := deps.App()
			if err != nil {
				return err
			}
			f := newFormatter()

			meetings, err := app.Store.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(meetings) == 0 {
				f.Info("No meetings found")
				return nil
			}

			f.MeetingListHeader()
			for _, m := range meetings {
				f.MeetingListItem(m)
			}
			return nil
		},
	}
}

func NewShowCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a meeting's summary and transcript as markdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := deps.App()
			if err != nil {
				return err
			}
			m, err := getMeeting(cmd, app, args[0])
			if err != nil {
				return err
			}
			return output.RenderTranscript(os.Stdout, m)
		},
	}
}

func NewSummarizeCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "summarize <id>",
		Short: "Generate the summary of a stored meeting again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := deps.App()
			if err != nil {
				return err
			}
			if app.Summarizer == nil {
				return errors.New("summaries need an Anthropic API key; set MINUTES_ANTHROPIC_API_KEY or add it to the config")
			}
			f := newFormatter()

			f.Summarizing()
			summary, err := app.Controller(nil, nil, nil).Resummarize(cmd.Context(), args[0])
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("meeting %s not found", args[0])
			}
			if err != nil {
				return err
			}
			f.Summary(summary.Text)
			return nil
		},
	}
}

func NewDeleteCmd(deps *Dependencies) *cobra.Command {
	var keepAudio bool

	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a meeting and its recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := deps.App()
			if err != nil {
				return err
			}
			f := newFormatter()

			m, err := getMeeting(cmd, app, args[0])
			if err != nil {
				return err
			}
			if err := app.Store.Delete(cmd.Context(), m.ID); err != nil {
				return err
			}
			if m.AudioPath != "" && !keepAudio {
				if err := os.Remove(m.AudioPath); err != nil && !os.IsNotExist(err) {
					f.Warning(fmt.Sprintf("Could not remove recording %s: %v", m.AudioPath, err))
				}
			}
			f.Success("Deleted " + m.ID)
			return nil
		},
	}

	cmd.Flags().BoolVar(&keepAudio, "keep-audio", false, "Leave the WAV recording on disk")
	return cmd
}

func NewPlayCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "play <id>",
		Short: "Play a meeting's recording on the default output device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := deps.App()
			if err != nil {
				return err
			}
			m, err := getMeeting(cmd, app, args[0])
			if err != nil {
				return err
			}
			if m.AudioPath == "" {
				return fmt.Errorf("meeting %s has no recording", m.ID)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			newFormatter().Info("Playing " + m.AudioPath + ". Press Ctrl+C to stop.")
			return client.Play(ctx, m.AudioPath)
		},
	}
}

func getMeeting(cmd *cobra.Command, app *App, id string) (store.Meeting, error) {
	m, err := app.Store.Get(cmd.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return store.Meeting{}, fmt.Errorf("meeting %s not found", id)
	}
	return m, err
}
