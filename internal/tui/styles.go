package tui

import "github.com/charmbracelet/lipgloss"

var (
	// Colors
	primaryColor   = lipgloss.Color("#5FAFAF") // Teal accent
	secondaryColor = lipgloss.Color("#666666") // Gray for secondary text

	// titleStyle for headers
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginBottom(1)

	// subtleStyle for hints/help text
	subtleStyle = lipgloss.NewStyle().
			Foreground(secondaryColor)

	// selectedStyle for the highlighted option
	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)
)
