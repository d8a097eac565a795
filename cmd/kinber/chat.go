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
	"github.com/kinber/kinber/internal/chat"
	"github.com/kinber/kinber/internal/models"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

type chatOpts struct {
	configPath string
	threadID   string
	agent      string
	attach     []string
	upload     bool
}

func newChatCmd() *cobra.Command {
	var opts chatOpts

	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Send a message, or chat interactively",
		Long: `With a message argument, sends it and prints the reply. Without one,
starts an interactive session reading one message per line.

Interactive commands: /new, /attach <path>, /quit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, opts, strings.Join(args, " "))
		},
	}

	addConfigFlag(cmd, &opts.configPath)
	cmd.Flags().StringVarP(&opts.threadID, "thread", "t", "", "continue an existing thread")
	cmd.Flags().StringVarP(&opts.agent, "agent", "a", "", "agent name or id")
	cmd.Flags().StringArrayVarP(&opts.attach, "attach", "f", nil, "file to attach (repeatable)")
	cmd.Flags().BoolVar(&opts.upload, "upload", false, "upload attachments to storage instead of sending them inline")
	return cmd
}

// chatSession is one conversation driven from the command line.
type chatSession struct {
	app      *app
	composer *chat.Composer
	staged   *attachment.Pipeline
	upload   bool
	out      io.Writer
	printed  int
	// echoUser prints the user's own messages back.
	echoUser bool
}

func runChat(cmd *cobra.Command, opts chatOpts, message string) error {
	ctx := cmd.Context()
	a, err := loadApp(ctx, opts.configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	staged := a.pipeline(nil)
	defer staged.Close()
	s := &chatSession{
		app:      a,
		composer: a.composer(ctx, opts.agent, staged, nil),
		staged:   staged,
		upload:   opts.upload,
		out:      cmd.OutOrStdout(),
	}

	if opts.threadID != "" {
		if err := s.composer.Load(ctx, opts.threadID); err != nil {
			return fmt.Errorf("open thread %s: %w", opts.threadID, err)
		}
		s.flush(true)
	}
	for _, path := range opts.attach {
		if err := s.attach(ctx, path); err != nil {
			return err
		}
	}

	if strings.TrimSpace(message) != "" {
		return s.send(ctx, message)
	}
	return s.repl(ctx, cmd.InOrStdin())
}

func (s *chatSession) attach(ctx context.Context, path string) error {
	f, err := attachment.FromPath(path)
	if err != nil {
		return err
	}
	dest := ""
	if s.upload {
		if dest, err = s.app.uploadDestination(ctx); err != nil {
			return err
		}
	}
	if added := s.staged.Add(ctx, dest, f); len(added) == 0 {
		return fmt.Errorf("%s was not attached", f.Name)
	}
	return nil
}

func (s *chatSession) send(ctx context.Context, text string) error {
	res, err := s.composer.Submit(ctx, chat.Request{Text: text})
	if errors.Is(err, chat.ErrUnauthenticated) {
		return errNotSignedIn
	}
	if err != nil {
		return err
	}
	s.flush(s.echoUser)
	if res.Outcome == chat.Failed {
		return fmt.Errorf("message failed: %w", res.Err)
	}
	return nil
}

// flush prints transcript entries not printed yet.
func (s *chatSession) flush(echoUser bool) {
	entries := s.composer.Transcript().Entries()
	if s.printed > len(entries) {
		s.printed = 0
	}
	for _, e := range entries[s.printed:] {
		if e.Role == models.RoleUser && !echoUser {
			continue
		}
		label := "you"
		if e.Role == models.RoleAssistant {
			label = "kinber"
		}
		fmt.Fprintf(s.out, "%s> %s\n", label, e.Content)
		for _, att := range e.Attachments {
			fmt.Fprintf(s.out, "  [%s]\n", att.Name)
		}
	}
	s.printed = len(entries)
}

func (s *chatSession) repl(ctx context.Context, in io.Reader) error {
	interactive := false
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		interactive = true
	}
	s.echoUser = !interactive
	if interactive {
		fmt.Fprintln(s.out, "Chatting with Kinber. /new starts over, /attach <path> adds a file, /quit exits.")
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		if interactive {
			fmt.Fprint(s.out, "› ")
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch {
		case line == "/quit" || line == "/exit":
			return nil
		case line == "/new":
			if err := s.composer.Reset(); err != nil {
				fmt.Fprintln(s.out, err)
			}
			s.printed = 0
			continue
		case strings.HasPrefix(line, "/attach "):
			if err := s.attach(ctx, strings.TrimSpace(strings.TrimPrefix(line, "/attach "))); err != nil {
				fmt.Fprintln(s.out, err)
			}
			continue
		}
		if err := s.send(ctx, line); err != nil {
			fmt.Fprintln(s.out, err)
		}
	}
}
