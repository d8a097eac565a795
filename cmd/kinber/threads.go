package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/kinber/kinber/internal/recents"
	"github.com/kinber/kinber/internal/thread"
	"github.com/spf13/cobra"
)

func newThreadsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "threads",
		Aliases: []string{"thread"},
		Short:   "List and manage conversations",
	}

	cmd.AddCommand(newThreadsListCmd())
	cmd.AddCommand(newThreadsSearchCmd())
	cmd.AddCommand(newThreadsShowCmd())
	cmd.AddCommand(newThreadsRenameCmd())
	cmd.AddCommand(newThreadsDeleteCmd())
	return cmd
}

func newThreadsListCmd() *cobra.Command {
	var (
		configPath string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent conversations",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context(), configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			list, err := a.threads.ListRecent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			printSummaries(cmd.OutOrStdout(), list)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().IntVarP(&limit, "limit", "n", recents.DefaultLimit, "maximum number of threads")
	return cmd
}

func newThreadsSearchCmd() *cobra.Command {
	var (
		configPath string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "search <term>",
		Short: "Find conversations by title or message text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context(), configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			list, err := a.threads.Search(cmd.Context(), strings.Join(args, " "), limit)
			if err != nil {
				return err
			}
			printSummaries(cmd.OutOrStdout(), list)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().IntVarP(&limit, "limit", "n", recents.DefaultLimit, "maximum number of threads")
	return cmd
}

func printSummaries(out io.Writer, list []thread.Summary) {
	if len(list) == 0 {
		fmt.Fprintln(out, "No conversations found.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tMESSAGES\tUPDATED")
	for _, s := range list {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", s.ThreadID, s.Title, s.MessageCount, s.UpdatedAt.Local().Format(time.DateTime))
	}
	w.Flush()
}

func newThreadsShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <thread-id>",
		Short: "Print a conversation's messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := loadApp(ctx, configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			auth, err := a.auth(ctx)
			if err != nil {
				return err
			}
			msgs, err := a.threads.Messages(ctx, args[0], auth)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, m := range msgs {
				fmt.Fprintf(out, "%s> %s\n", m.Role, m.Content)
				for _, att := range m.Attachments {
					fmt.Fprintf(out, "  [%s] %s\n", att.Name, att.URL)
				}
			}
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func newThreadsRenameCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "rename <thread-id> <title>",
		Short: "Rename a conversation",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context(), configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			title := strings.Join(args[1:], " ")
			if err := a.threads.Rename(cmd.Context(), args[0], title); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Renamed %s to %q\n", args[0], strings.TrimSpace(title))
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func newThreadsDeleteCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "delete <thread-id>",
		Short: "Delete a conversation and its messages",
		Long: `Deletes the conversation's messages and then the conversation itself.
If the second step keeps failing, running the command again finishes it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context(), configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			err = a.threads.Delete(cmd.Context(), args[0])
			var partial *thread.PartialDeleteError
			if errors.As(err, &partial) {
				return fmt.Errorf("%w; run the command again to finish", err)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}
