package main

import (
	"fmt"

	"github.com/kinber/kinber/internal/share"
	"github.com/spf13/cobra"
)

func newShareCmd() *cobra.Command {
	var (
		configPath string
		target     string
	)

	cmd := &cobra.Command{
		Use:   "share <thread-id>",
		Short: "Post a link to a conversation in Slack or Discord",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := loadApp(ctx, configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			targets, err := share.Targets(a.cfg.Share)
			if err != nil {
				return err
			}
			t, err := share.Pick(targets, target)
			if err != nil {
				return err
			}
			th, err := a.threads.Get(ctx, args[0])
			if err != nil {
				return err
			}
			link := share.LinkFor(a.cfg.AppURL, th.ThreadID, th.Title)
			if err := t.Share(ctx, link); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Shared %q to %s: %s\n", link.Title, t.Name(), link.URL)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&target, "target", "", "slack or discord (default: the only configured target)")
	return cmd
}
