package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/kinber/kinber/internal/recents"
	"github.com/kinber/kinber/internal/tui"
	"github.com/spf13/cobra"
)

func newTUICmd() *cobra.Command {
	var (
		configPath string
		agent      string
		upload     bool
	)

	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Open the full-screen chat",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(cmd, configPath, agent, upload)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVarP(&agent, "agent", "a", "", "agent to talk to")
	cmd.Flags().BoolVar(&upload, "upload", false, "store attachments in object storage")
	return cmd
}

func runTUI(cmd *cobra.Command, configPath, agent string, upload bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := loadApp(ctx, configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	s, err := a.identity.CurrentSession(ctx)
	if err != nil {
		return err
	}
	if s == nil {
		return errNotSignedIn
	}

	var dest string
	if upload {
		dest = s.User.ID
	}

	bridge := tui.NewBridge()
	feed, closeFeed, err := a.feed(ctx)
	if err != nil {
		return err
	}
	defer closeFeed()

	sidebar := recents.New(a.threads, feed, recents.Options{Notifier: bridge, OnChange: bridge.Recents})
	sidebar.Start(ctx)
	defer sidebar.Close()

	staged := a.pipeline(bridge)
	defer staged.Close()

	go a.identity.RunRefresher(ctx, a.cfg.Identity.RefreshSchedule)

	return tui.Run(ctx, tui.Deps{
		Composer:    a.composer(ctx, agent, staged, bridge),
		Sidebar:     sidebar,
		Attachments: staged,
		Destination: dest,
		Bridge:      bridge,
		UserName:    a.identity.DisplayName(ctx),
	})
}
