package ui

import (
	"github.com/charmbracelet/lipgloss"

	"julius/storage"
)

var (
	dimColor       = lipgloss.Color("7")
	accentColor    = lipgloss.Color("12")
	successColor   = lipgloss.Color("10")
	warningColor   = lipgloss.Color("11")
	dangerColor    = lipgloss.Color("9")
	highlightColor = lipgloss.Color("13")

	// NO .Background() on message styles = transparent
	UserStyle = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	AssistantStyle = lipgloss.NewStyle().
			Foreground(accentColor)

	// System/timestamp style
	DimStyle = lipgloss.NewStyle().
			Foreground(dimColor)

	TitleStyle = lipgloss.NewStyle().
			Bold(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(warningColor)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(dangerColor).
			Bold(true)

	HighlightStyle = lipgloss.NewStyle().
			Foreground(highlightColor).
			Bold(true)

	HeaderStyle = lipgloss.NewStyle().
			Foreground(accentColor).
			Bold(true)
)

// statusStyle colors a stored exchange status.
func statusStyle(status string) lipgloss.Style {
	switch status {
	case storage.StatusComplete:
		return lipgloss.NewStyle().Foreground(successColor)
	case storage.StatusWithWarnings:
		return WarningStyle
	case storage.StatusFailed:
		return lipgloss.NewStyle().Foreground(dangerColor)
	default:
		return DimStyle
	}
}
