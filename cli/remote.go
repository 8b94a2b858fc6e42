package cli

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bosley/minutes/client"
	"github.com/bosley/minutes/session"
)

func NewRemoteCmd(deps *Dependencies) *cobra.Command {
	var cc client.Config

	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Control a minutes server started with serve, watch --serve or record --serve",
	}
	cmd.PersistentFlags().StringVar(&cc.Addr, "addr", "", "Server address (defaults to http_addr)")
	cmd.PersistentFlags().StringVar(&cc.Token, "token", "", "Bearer token (defaults to the configured token)")
	cmd.PersistentFlags().StringVar(&cc.CertFile, "cert", "", "Server certificate to trust")
	cmd.PersistentFlags().BoolVar(&cc.Insecure, "insecure", false, "Skip certificate verification")

	connect := func() (*client.Client, error) {
		cfg := cc
		if cfg.Addr == "" {
			cfg.Addr = deps.Config.HTTPAddr
			if deps.Config.CertFile != "" && !strings.Contains(cfg.Addr, "://") {
				cfg.Addr = "https://" + cfg.Addr
			}
		}
		if cfg.Token == "" {
			cfg.Token = deps.Config.Token
		}
		return client.New(cfg)
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the server's session status",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect()
			if err != nil {
				return err
			}
			snap, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}
			f := newFormatter()
			f.Info(fmt.Sprintf("Status: %s", snap.Status))
			if snap.MeetingID != "" {
				f.Info(fmt.Sprintf("Meeting: %s (%s), %d segments", snap.Title, snap.MeetingID, snap.Segments))
			}
			if snap.Status == session.Recording {
				f.Info(fmt.Sprintf("Input level: %.1f dB, diarization: %t", snap.Level, snap.Diarizing))
			}
			if snap.LastError != "" {
				f.Error(snap.LastError)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "start [title]",
		Short: "Start a meeting on the server",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect()
			if err != nil {
				return err
			}
			id, err := c.Start(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			newFormatter().Success("Recording " + id)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "stop",
		Short: "Stop the server's meeting",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect()
			if err != nil {
				return err
			}
			id, err := c.Stop(cmd.Context())
			if err != nil {
				return err
			}
			newFormatter().MeetingSaved(id)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "cancel",
		Short: "Discard the server's meeting",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect()
			if err != nil {
				return err
			}
			if err := c.Cancel(cmd.Context()); err != nil {
				return err
			}
			newFormatter().Cancelled()
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "follow",
		Short: "Print the live transcript and session events until Ctrl+C",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			f := newFormatter()
			live := liveNotifier(f)
			return c.Follow(ctx, func(e session.Event) {
				switch e.Kind {
				case session.EventStatusChanged:
					f.Info(fmt.Sprintf("Status: %s", e.Status))
				case session.EventSummaryGenerated:
					if e.Summary != nil {
						f.Summary(e.Summary.Text)
					}
				case session.EventMeetingCancelled:
					f.Cancelled()
				default:
					live.Notify(e)
				}
			})
		},
	})

	return cmd
}
