package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kinber/kinber/internal/identity"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newLoginCmd() *cobra.Command {
	var (
		configPath string
		email      string
		google     bool
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to Kinber",
		Long: `Signs in with an email and password, or with Google (--google).

The Google flow prints a consent URL and waits for the browser to return to a
local callback address.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(cmd, configPath, email, google)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVarP(&email, "email", "e", "", "account email")
	cmd.Flags().BoolVar(&google, "google", false, "sign in with Google")
	return cmd
}

func runLogin(cmd *cobra.Command, configPath, email string, google bool) error {
	ctx := cmd.Context()
	a, err := loadApp(ctx, configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()
	out := cmd.OutOrStdout()

	var s *identity.Session
	if google {
		flow := &identity.GoogleFlow{
			ClientID:     a.cfg.Identity.GoogleClientID,
			ClientSecret: a.cfg.Identity.GoogleClientSecret,
			Adapter:      a.identity,
			Open: func(url string) error {
				_, err := fmt.Fprintf(out, "Open this link to sign in with Google:\n\n  %s\n\n", url)
				return err
			},
		}
		s, err = flow.Run(ctx)
	} else {
		s, err = passwordLogin(ctx, cmd, a.identity, email)
	}
	if err != nil {
		return err
	}

	name := s.User.Name
	if name == "" {
		name = s.User.Email
	}
	fmt.Fprintf(out, "Signed in as %s\n", name)
	return nil
}

func passwordLogin(ctx context.Context, cmd *cobra.Command, adapter *identity.Adapter, email string) (*identity.Session, error) {
	in := bufio.NewReader(cmd.InOrStdin())
	out := cmd.OutOrStdout()
	if email == "" {
		fmt.Fprint(out, "Email: ")
		line, err := in.ReadString('\n')
		if err != nil && line == "" {
			return nil, fmt.Errorf("read email: %w", err)
		}
		email = strings.TrimSpace(line)
	}
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}

	fmt.Fprint(out, "Password: ")
	password, err := readPassword(cmd.InOrStdin(), in)
	fmt.Fprintln(out)
	if err != nil {
		return nil, fmt.Errorf("read password: %w", err)
	}
	return adapter.SignInWithPassword(ctx, email, password)
}

// readPassword reads without echo from a terminal, or a plain line otherwise.
func readPassword(src io.Reader, buffered *bufio.Reader) (string, error) {
	if f, ok := src.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		return string(b), err
	}
	line, err := buffered.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func newLogoutCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context(), configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.identity.SignOut(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func newWhoamiCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context(), configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			u, err := a.identity.CurrentUser(cmd.Context())
			if err != nil {
				return err
			}
			if u == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "Not signed in")
				return nil
			}
			name := a.identity.DisplayName(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", name, u.ID)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}
