package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newProfileCmd() *cobra.Command {
	var (
		configPath string
		fullName   string
		org        string
		role       string
	)

	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show or update your profile",
		Long:  "Without flags, prints your profile. With --name, --org or --role, updates it.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := loadApp(ctx, configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			u, err := a.identity.CurrentUser(ctx)
			if err != nil {
				return err
			}
			if u == nil {
				return errNotSignedIn
			}
			p, err := a.profiles.Get(ctx, *u)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("name") || flags.Changed("org") || flags.Changed("role") {
				if flags.Changed("name") {
					p.FullName = fullName
				}
				if flags.Changed("org") {
					p.Organization = org
				}
				if flags.Changed("role") {
					p.Role = role
				}
				if err := a.profiles.Upsert(ctx, p); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Name:         %s\n", p.FullName)
			fmt.Fprintf(out, "Email:        %s\n", p.Email)
			fmt.Fprintf(out, "Organization: %s\n", p.Organization)
			fmt.Fprintf(out, "Role:         %s\n", p.Role)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&fullName, "name", "", "full name")
	cmd.Flags().StringVar(&org, "org", "", "organization")
	cmd.Flags().StringVar(&role, "role", "", "role")
	return cmd
}
