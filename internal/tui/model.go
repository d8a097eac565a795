// Package tui is the terminal chat screen: a recents sidebar, the
// conversation and an input line.
package tui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/kinber/kinber/internal/attachment"
	"github.com/kinber/kinber/internal/chat"
	"github.com/kinber/kinber/internal/models"
	"github.com/kinber/kinber/internal/notify"
	"github.com/kinber/kinber/internal/thread"
	"golang.org/x/term"
)

const sidebarWidth = 32

// Deps are the components the screen drives.
type Deps struct {
	Composer    *chat.Composer
	Sidebar     Sidebar
	Attachments *attachment.Pipeline
	// Destination uploads attachments under this prefix; empty keeps them
	// local.
	Destination string
	Bridge      *Bridge
	UserName    string
}

// Sidebar is the recents list.
type Sidebar interface {
	Items() []thread.Summary
	Rename(ctx context.Context, id, title string) error
	Delete(ctx context.Context, id string) error
}

type submitDoneMsg struct {
	res chat.Result
	err error
}

type actionDoneMsg struct {
	status string
	err    error
}

type recentsMsg []thread.Summary

type noticeMsg notify.Notice

// Model is the bubbletea model.
type Model struct {
	deps Deps
	ctx  context.Context

	items    []thread.Summary
	inflight bool
	status   string
	errored  bool

	width  int
	height int

	input    textinput.Model
	timeline viewport.Model
	spinner  spinner.Model
	theme    theme
}

// New returns the screen model.
func New(ctx context.Context, deps Deps) Model {
	input := textinput.New()
	input.Prompt = "› "
	input.CharLimit = 8000
	input.Placeholder = "Message Kinber. /new /attach <path> /open <n> /rename <title> /delete /quit"
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#2dd4bf"))

	m := Model{
		deps:     deps,
		ctx:      ctx,
		status:   "ready",
		input:    input,
		timeline: viewport.New(0, 0),
		spinner:  sp,
		theme:    newTheme(),
		width:    100,
		height:   30,
	}
	if deps.Sidebar != nil {
		m.items = deps.Sidebar.Items()
	}
	m.resize()
	return m
}

// Run starts the program and blocks until the user quits or ctx ends.
func Run(ctx context.Context, deps Deps) error {
	m := New(ctx, deps)
	if w, h, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
		m.width, m.height = w, h
		m.resize()
	}
	_, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.waitRecents(), m.waitNotice())
}

func (m Model) waitRecents() tea.Cmd {
	if m.deps.Bridge == nil {
		return nil
	}
	ch := m.deps.Bridge.recents
	return func() tea.Msg { return recentsMsg(<-ch) }
}

func (m Model) waitNotice() tea.Cmd {
	if m.deps.Bridge == nil {
		return nil
	}
	ch := m.deps.Bridge.notices
	return func() tea.Msg { return noticeMsg(<-ch) }
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()
	case recentsMsg:
		m.items = msg
		cmds = append(cmds, m.waitRecents())
	case noticeMsg:
		m.setStatus(msg.Title+": "+msg.Text, msg.Level == notify.LevelError)
		cmds = append(cmds, m.waitNotice())
	case submitDoneMsg:
		m.inflight = false
		switch {
		case errors.Is(msg.err, chat.ErrUnauthenticated):
			m.setStatus("sign in with `kinber login` to chat", true)
		case msg.err != nil:
			m.setStatus(msg.err.Error(), true)
		case msg.res.Outcome == chat.Failed:
			m.setStatus("message failed", true)
		default:
			m.setStatus("ready", false)
		}
		m.renderTimeline()
	case actionDoneMsg:
		m.inflight = false
		if msg.err != nil {
			m.setStatus(msg.err.Error(), true)
		} else {
			m.setStatus(msg.status, false)
		}
		if m.deps.Sidebar != nil {
			m.items = m.deps.Sidebar.Items()
		}
		m.renderTimeline()
	case spinner.TickMsg:
		if m.inflight {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
			m.renderTimeline()
		}
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "enter":
			if m.inflight {
				return m, nil
			}
			raw := strings.TrimSpace(m.input.Value())
			if raw == "" {
				return m, nil
			}
			m.input.SetValue("")
			if strings.HasPrefix(raw, "/") {
				return m, m.handleSlash(raw)
			}
			m.inflight = true
			m.setStatus("sending…", false)
			return m, tea.Batch(m.spinner.Tick, m.submitCmd(raw))
		case "pgup":
			m.timeline.LineUp(8)
			return m, nil
		case "pgdown":
			m.timeline.LineDown(8)
			return m, nil
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

func (m Model) submitCmd(text string) tea.Cmd {
	c, ctx := m.deps.Composer, m.ctx
	return func() tea.Msg {
		res, err := c.Submit(ctx, chat.Request{Text: text})
		return submitDoneMsg{res: res, err: err}
	}
}

func (m *Model) handleSlash(raw string) tea.Cmd {
	parts := strings.Fields(raw)
	cmd := strings.ToLower(parts[0])
	arg := strings.TrimSpace(strings.TrimPrefix(raw, parts[0]))
	ctx := m.ctx
	switch cmd {
	case "/quit", "/exit":
		return tea.Quit
	case "/new":
		if err := m.deps.Composer.Reset(); err != nil {
			m.setStatus(err.Error(), true)
			return nil
		}
		m.setStatus("new conversation", false)
		m.renderTimeline()
		return nil
	case "/attach":
		if arg == "" {
			m.setStatus("usage: /attach <path>", true)
			return nil
		}
		if m.deps.Attachments == nil {
			m.setStatus("attachments are not enabled", true)
			return nil
		}
		f, err := attachment.FromPath(arg)
		if err != nil {
			m.setStatus(err.Error(), true)
			return nil
		}
		m.inflight = true
		p, dest := m.deps.Attachments, m.deps.Destination
		return func() tea.Msg {
			added := p.Add(ctx, dest, f)
			if len(added) == 0 {
				return actionDoneMsg{err: fmt.Errorf("%s was not attached", f.Name)}
			}
			return actionDoneMsg{status: "attached " + added[0].Name}
		}
	case "/open":
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 || n > len(m.items) {
			m.setStatus("usage: /open <number from the sidebar>", true)
			return nil
		}
		id := m.items[n-1].ThreadID
		m.inflight = true
		c := m.deps.Composer
		return func() tea.Msg {
			if err := c.Load(ctx, id); err != nil {
				return actionDoneMsg{err: err}
			}
			return actionDoneMsg{status: "opened " + id}
		}
	case "/rename", "/delete":
		id := m.deps.Composer.ThreadID()
		if id == "" || m.deps.Sidebar == nil {
			m.setStatus("no conversation selected", true)
			return nil
		}
		if cmd == "/rename" && arg == "" {
			m.setStatus("usage: /rename <title>", true)
			return nil
		}
		m.inflight = true
		sb, c := m.deps.Sidebar, m.deps.Composer
		if cmd == "/rename" {
			return func() tea.Msg {
				if err := sb.Rename(ctx, id, arg); err != nil {
					return actionDoneMsg{err: err}
				}
				return actionDoneMsg{status: "renamed"}
			}
		}
		return func() tea.Msg {
			if err := sb.Delete(ctx, id); err != nil {
				return actionDoneMsg{err: err}
			}
			c.Reset()
			return actionDoneMsg{status: "deleted"}
		}
	}
	m.setStatus("unknown command "+cmd, true)
	return nil
}

func (m *Model) setStatus(s string, isErr bool) {
	m.status = s
	m.errored = isErr
}

func (m *Model) resize() {
	mainWidth := max(30, m.width-sidebarWidth-6)
	m.timeline.Width = mainWidth - 4
	m.timeline.Height = max(5, m.height-9)
	m.input.Width = max(20, m.width-8)
	m.renderTimeline()
}

func (m *Model) renderTimeline() {
	atBottom := m.timeline.AtBottom()
	m.timeline.SetContent(m.transcriptText())
	if atBottom || m.inflight {
		m.timeline.GotoBottom()
	}
}

func (m *Model) transcriptText() string {
	var entries []chat.Entry
	if m.deps.Composer != nil {
		entries = m.deps.Composer.Transcript().Entries()
	}
	if len(entries) == 0 {
		return m.theme.muted.Render("No messages yet. Say hello.")
	}
	width := max(20, m.timeline.Width)
	var b strings.Builder
	for _, e := range entries {
		label, style := "You", m.theme.user
		if e.Role == models.RoleAssistant {
			label, style = "Kinber", m.theme.assistant
		}
		b.WriteString(style.Render(label))
		b.WriteString("\n")
		body := e.Content
		if e.Fallback {
			body = m.theme.fallback.Render(body)
		}
		b.WriteString(lipgloss.NewStyle().Width(width).Render(body))
		for _, a := range e.Attachments {
			b.WriteString("\n" + m.theme.muted.Render("📎 "+a.Name))
		}
		b.WriteString("\n\n")
	}
	if m.inflight {
		b.WriteString(m.spinner.View() + " " + m.theme.muted.Render("thinking"))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) renderSidebar() string {
	var b strings.Builder
	b.WriteString(m.theme.title.Render("Recents"))
	b.WriteString("\n")
	if len(m.items) == 0 {
		b.WriteString(m.theme.muted.Render("no conversations"))
	}
	current := ""
	if m.deps.Composer != nil {
		current = m.deps.Composer.ThreadID()
	}
	for i, it := range m.items {
		title := truncate(it.Title, sidebarWidth-8)
		line := fmt.Sprintf("%2d %s", i+1, title)
		if it.ThreadID == current {
			line = m.theme.selected.Render(line)
		}
		b.WriteString("\n" + line)
	}
	return m.theme.panel.Width(sidebarWidth).Height(max(5, m.height-8)).Render(b.String())
}

func (m Model) View() string {
	header := "Kinber"
	if m.deps.UserName != "" {
		header += m.theme.muted.Render(" · " + m.deps.UserName)
	}
	if m.deps.Attachments != nil {
		if n := len(m.deps.Attachments.All()); n > 0 {
			header += m.theme.muted.Render(fmt.Sprintf(" · %d attached", n))
		}
	}
	main := m.theme.panel.Render(m.timeline.View())
	body := lipgloss.JoinHorizontal(lipgloss.Top, m.renderSidebar(), main)

	status := m.theme.status.Render(m.status)
	if m.errored {
		status = m.theme.errStatus.Render(m.status)
	}
	out := lipgloss.JoinVertical(lipgloss.Left,
		m.theme.header.Render(header),
		body,
		m.theme.input.Render(m.input.View()),
		status,
	)
	return m.theme.root.Render(out)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
