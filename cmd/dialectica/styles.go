package main

import "github.com/charmbracelet/lipgloss"

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#8BC34A"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#2196F3"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#f2f2f2"))

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888"))

	errorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#e53935"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFC107"))

	okStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#8BC34A"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#2a3850")).
			Padding(0, 1)
)

func kv(label, value string) string {
	return labelStyle.Render(label+": ") + valueStyle.Render(value)
}
