package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kinber/kinber/internal/attachment"
	"github.com/kinber/kinber/internal/backend"
	"github.com/kinber/kinber/internal/triplet"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

type tripletOpts struct {
	configPath  string
	attach      []string
	skipVerdict bool
}

func newTripletCmd() *cobra.Command {
	var opts tripletOpts

	cmd := &cobra.Command{
		Use:   "triplet [prompt]",
		Short: "Compare GPT, Claude and DeepSeek on one prompt",
		Long: `Sends the prompt to three models and prints each answer as it arrives,
followed by a blind verdict. Attachments go with the first prompt only; the
document context extracted from them is reused for the rest of the session.

Without a prompt argument, reads one prompt per line. Interactive commands:
/new forgets the document context, /attach <path> adds a file, /quit exits.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTriplet(cmd, opts, strings.Join(args, " "))
		},
	}

	addConfigFlag(cmd, &opts.configPath)
	cmd.Flags().StringArrayVarP(&opts.attach, "attach", "f", nil, "file to attach to the first prompt (repeatable)")
	cmd.Flags().BoolVar(&opts.skipVerdict, "skip-verdict", false, "skip the blind verdict for faster answers")
	return cmd
}

func runTriplet(cmd *cobra.Command, opts tripletOpts, prompt string) error {
	ctx := cmd.Context()
	a, err := loadApp(ctx, opts.configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	staged := a.pipeline(nil)
	defer staged.Close()
	session := triplet.New(triplet.Config{
		Sessions:    a.identity,
		Backend:     a.backend,
		Attachments: staged,
		Notifier:    a.notifier,
		SkipVerdict: opts.skipVerdict,
		OnEvent:     func(ev backend.TripletEvent) { printTripletEvent(out, ev) },
	})

	for _, path := range opts.attach {
		if err := stageLocal(ctx, staged, path); err != nil {
			return err
		}
	}
	if strings.TrimSpace(prompt) != "" {
		return askTriplet(ctx, session, prompt)
	}
	return tripletREPL(ctx, session, staged, cmd.InOrStdin(), out)
}

func stageLocal(ctx context.Context, staged *attachment.Pipeline, path string) error {
	f, err := attachment.FromPath(path)
	if err != nil {
		return err
	}
	if added := staged.Add(ctx, "", f); len(added) == 0 {
		return fmt.Errorf("%s was not attached", f.Name)
	}
	return nil
}

func askTriplet(ctx context.Context, session *triplet.Session, prompt string) error {
	_, err := session.Ask(ctx, prompt)
	if errors.Is(err, triplet.ErrUnauthenticated) {
		return errNotSignedIn
	}
	return err
}

func printTripletEvent(out io.Writer, ev backend.TripletEvent) {
	if ev.Model == "" {
		return
	}
	label := strings.ToUpper(ev.Model)
	if ev.Elapsed > 0 {
		label = fmt.Sprintf("%s (%.1fs)", label, ev.Elapsed)
	}
	fmt.Fprintf(out, "== %s\n%s\n\n", label, strings.TrimSpace(ev.Response))
}

func tripletREPL(ctx context.Context, session *triplet.Session, staged *attachment.Pipeline, in io.Reader, out io.Writer) error {
	interactive := false
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		interactive = true
	}
	if interactive {
		fmt.Fprintln(out, "Triplet: GPT, Claude and DeepSeek side by side. /new, /attach <path>, /quit.")
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		if interactive {
			fmt.Fprint(out, "› ")
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit" || line == "/exit":
			return nil
		case line == "/new":
			session.Reset()
			continue
		case strings.HasPrefix(line, "/attach "):
			if err := stageLocal(ctx, staged, strings.TrimSpace(strings.TrimPrefix(line, "/attach "))); err != nil {
				fmt.Fprintln(out, err)
			}
			continue
		}
		if err := askTriplet(ctx, session, line); err != nil {
			if errors.Is(err, errNotSignedIn) {
				return err
			}
			fmt.Fprintln(out, err)
		}
	}
}
