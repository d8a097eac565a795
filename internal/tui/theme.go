package tui

import "github.com/charmbracelet/lipgloss"

type theme struct {
	root      lipgloss.Style
	header    lipgloss.Style
	panel     lipgloss.Style
	title     lipgloss.Style
	user      lipgloss.Style
	assistant lipgloss.Style
	fallback  lipgloss.Style
	selected  lipgloss.Style
	muted     lipgloss.Style
	status    lipgloss.Style
	errStatus lipgloss.Style
	input     lipgloss.Style
}

func newTheme() theme {
	violet := lipgloss.Color("#8b5cf6")
	teal := lipgloss.Color("#2dd4bf")
	rose := lipgloss.Color("#fb7185")
	text := lipgloss.Color("#e5e7eb")
	muted := lipgloss.Color("#9ca3af")

	return theme{
		root: lipgloss.NewStyle().Foreground(text).Padding(0, 1),
		header: lipgloss.NewStyle().
			Bold(true).
			Foreground(violet).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(violet),
		panel: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(violet).
			Padding(0, 1),
		title:     lipgloss.NewStyle().Foreground(teal).Bold(true),
		user:      lipgloss.NewStyle().Foreground(teal).Bold(true),
		assistant: lipgloss.NewStyle().Foreground(violet).Bold(true),
		fallback:  lipgloss.NewStyle().Foreground(rose),
		selected:  lipgloss.NewStyle().Foreground(teal).Bold(true),
		muted:     lipgloss.NewStyle().Foreground(muted),
		status:    lipgloss.NewStyle().Foreground(teal),
		errStatus: lipgloss.NewStyle().Foreground(rose).Bold(true),
		input: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(teal).
			Padding(0, 1),
	}
}
