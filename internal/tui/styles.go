package tui

import "github.com/charmbracelet/lipgloss"

var (
	primaryColor = lipgloss.Color("#A78BFA")
	recordColor  = lipgloss.Color("#F87171")
	pausedColor  = lipgloss.Color("#60A5FA")
	doneColor    = lipgloss.Color("#10B981")
	warnColor    = lipgloss.Color("#F59E0B")
	mutedColor   = lipgloss.Color("#9CA3AF")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginBottom(1)

	timerStyle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor)

	mutedStyle = lipgloss.NewStyle().Foreground(mutedColor)
	errorStyle = lipgloss.NewStyle().Foreground(recordColor)
	warnStyle  = lipgloss.NewStyle().Foreground(warnColor)
	doneStyle  = lipgloss.NewStyle().Foreground(doneColor)

	boxStyle = lipgloss.NewStyle().Padding(1, 2)
)

func stateColor(state string) lipgloss.Color {
	switch state {
	case "recording":
		return recordColor
	case "paused":
		return pausedColor
	case "completed":
		return doneColor
	case "failed":
		return recordColor
	case "acquiring", "stopping":
		return warnColor
	default:
		return mutedColor
	}
}

func stateIndicator(state string) string {
	symbol := "○"
	switch state {
	case "recording":
		symbol = "●"
	case "paused":
		symbol = "❚❚"
	case "completed":
		symbol = "✓"
	case "failed":
		symbol = "✗"
	case "acquiring", "stopping":
		symbol = "…"
	}
	return lipgloss.NewStyle().Foreground(stateColor(state)).Bold(true).Render(symbol + " " + state)
}
