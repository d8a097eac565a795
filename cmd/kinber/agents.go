package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/kinber/kinber/internal/agents"
	"github.com/spf13/cobra"
)

func newAgentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "agents",
		Aliases: []string{"agent"},
		Short:   "Manage assistant agents",
	}

	cmd.AddCommand(newAgentsListCmd())
	cmd.AddCommand(newAgentsCreateCmd())
	cmd.AddCommand(newAgentsDeleteCmd())
	cmd.AddCommand(newAgentsDefaultCmd())
	return cmd
}

func newAgentsListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context(), configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			list, err := a.agents.List(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(out, "No agents. Create one with `kinber agents create --name <name>`.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tMODEL\tDEFAULT")
			for _, ag := range list {
				def := ""
				if ag.IsDefault {
					def = "*"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", ag.AgentID, ag.Name, ag.ModelName, def)
			}
			w.Flush()
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func newAgentsCreateCmd() *cobra.Command {
	var (
		configPath string
		opts       agents.CreateOpts
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context(), configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			ag, err := a.agents.Create(cmd.Context(), opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created agent %s (%s)\n", ag.Name, ag.AgentID)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&opts.Name, "name", "", "agent name (required)")
	cmd.Flags().StringVar(&opts.Description, "description", "", "short description")
	cmd.Flags().StringVar(&opts.ModelName, "model", "", "model name (default "+agents.DefaultModel+")")
	cmd.Flags().StringVar(&opts.Persona, "persona", "", "system persona")
	cmd.Flags().BoolVar(&opts.IsDefault, "default", false, "make this the default agent")
	cmd.MarkFlagRequired("name")
	return cmd
}

func newAgentsDeleteCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "delete <agent-id>",
		Short: "Delete an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context(), configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.agents.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted agent %s\n", args[0])
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func newAgentsDefaultCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "default <agent-id>",
		Short: "Make an agent the default",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context(), configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.agents.SetDefault(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Default agent is now %s\n", args[0])
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}
