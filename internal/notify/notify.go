// Package notify delivers user-facing notices and carries in-process events
// between components.
package notify

import (
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/kinber/kinber/internal/logging"
)

// Notice levels.
const (
	LevelInfo    = "info"
	LevelSuccess = "success"
	LevelError   = "error"
)

// Notice is a short message shown to the user.
type Notice struct {
	Level string
	Title string
	Text  string
}

// Notifier shows notices. Implementations are best-effort and never fail the
// operation that produced the notice.
type Notifier interface {
	Notify(n Notice)
}

// Errorf builds an error-level notice.
func Errorf(title, format string, args ...interface{}) Notice {
	return Notice{Level: LevelError, Title: title, Text: fmt.Sprintf(format, args...)}
}

// Info builds an info-level notice.
func Info(title, text string) Notice {
	return Notice{Level: LevelInfo, Title: title, Text: text}
}

// Discard drops every notice.
var Discard Notifier = discard{}

type discard struct{}

func (discard) Notify(Notice) {}

// WriterNotifier prints notices as single lines.
type WriterNotifier struct {
	mu sync.Mutex
	W  io.Writer
}

// NewWriter returns a notifier printing to w.
func NewWriter(w io.Writer) *WriterNotifier {
	return &WriterNotifier{W: w}
}

func (n *WriterNotifier) Notify(notice Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	fmt.Fprintln(n.W, formatNotice(notice))
}

func formatNotice(n Notice) string {
	var b strings.Builder
	b.WriteString("[" + n.Level + "]")
	if n.Title != "" {
		b.WriteString(" " + n.Title)
		if n.Text != "" {
			b.WriteString(":")
		}
	}
	if n.Text != "" {
		b.WriteString(" " + n.Text)
	}
	return b.String()
}

// CommandNotifier runs a shell command template for each notice, for example
// "notify-send 'Kinber' '{{.Title}}: {{.Text}}'".
type CommandNotifier struct {
	Command string
	run     func(cmd string) ([]byte, error)
}

// NewCommand returns a notifier that shells out through sh -c.
func NewCommand(command string) *CommandNotifier {
	return &CommandNotifier{Command: command, run: runShell}
}

func runShell(cmd string) ([]byte, error) {
	return exec.Command("sh", "-c", cmd).CombinedOutput()
}

func (n *CommandNotifier) Notify(notice Notice) {
	if n.Command == "" {
		return
	}
	if out, err := n.run(templateNotice(n.Command, notice)); err != nil {
		log := logging.For("notify")
		log.Warn().Err(err).Str("output", strings.TrimSpace(string(out))).Msg("notify command failed")
	}
}

// templateNotice replaces placeholders in the command template with notice values.
func templateNotice(command string, n Notice) string {
	r := strings.NewReplacer(
		"{{.Level}}", n.Level,
		"{{.Title}}", n.Title,
		"{{.Text}}", n.Text,
	)
	return r.Replace(command)
}

// Multi fans a notice out to several notifiers.
type Multi []Notifier

func (m Multi) Notify(n Notice) {
	for _, x := range m {
		if x != nil {
			x.Notify(n)
		}
	}
}

// Recorder keeps every notice it receives.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *Recorder) Notify(n Notice) {
	r.mu.Lock()
	r.notices = append(r.notices, n)
	r.mu.Unlock()
}

// Notices returns a copy of the recorded notices.
func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}
