package tui

import "github.com/charmbracelet/lipgloss"

var (
	// Colors match the badge semantics: green for passing, amber for
	// attention, red for failure, gray for chrome.
	primaryColor = lipgloss.Color("#A78BFA")
	successColor = lipgloss.Color("#10B981")
	warningColor = lipgloss.Color("#F59E0B")
	errorColor   = lipgloss.Color("#F87171")
	mutedColor   = lipgloss.Color("#9CA3AF")
	textColor    = lipgloss.Color("#F9FAFB")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)

	mutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	labelStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Width(12)

	valueStyle = lipgloss.NewStyle().
			Foreground(textColor)

	errorStyle = lipgloss.NewStyle().
			Foreground(errorColor)

	warnStyle = lipgloss.NewStyle().
			Foreground(warningColor)

	badgeStyle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1)

	badgeRunning = badgeStyle.
			Foreground(textColor).
			Background(primaryColor)

	badgePassed = badgeStyle.
			Foreground(textColor).
			Background(successColor)

	badgeExhausted = badgeStyle.
			Foreground(textColor).
			Background(warningColor)

	badgeAborted = badgeStyle.
			Foreground(textColor).
			Background(errorColor)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			MarginTop(1)

	spinnerStyle = lipgloss.NewStyle().
			Foreground(primaryColor)
)
