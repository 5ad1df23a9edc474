package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/ftahirops/streamvis/model"
)

var (
	colorRed    = lipgloss.Color("#FF5555")
	colorYellow = lipgloss.Color("#F1FA8C")
	colorGreen  = lipgloss.Color("#50FA7B")
	colorCyan   = lipgloss.Color("#8BE9FD")
	colorOrange = lipgloss.Color("#FFB86C")
	colorWhite  = lipgloss.Color("#F8F8F2")
	colorGray   = lipgloss.Color("#6272A4")
	colorPanel  = lipgloss.Color("#44475A")

	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	headerStyle   = lipgloss.NewStyle().Foreground(colorGray).Bold(true)
	valueStyle    = lipgloss.NewStyle().Foreground(colorWhite)
	dimStyle      = lipgloss.NewStyle().Foreground(colorGray)
	okStyle       = lipgloss.NewStyle().Foreground(colorGreen)
	warnStyle     = lipgloss.NewStyle().Foreground(colorYellow).Bold(true)
	critStyle     = lipgloss.NewStyle().Foreground(colorRed).Bold(true)
	orangeStyle   = lipgloss.NewStyle().Foreground(colorOrange)
	selectedStyle = lipgloss.NewStyle().Background(colorPanel).Foreground(colorWhite)
	helpStyle     = lipgloss.NewStyle().Foreground(colorGray)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorGray).
			Padding(0, 1)
)

// statusStyle maps a flood status onto a color.
func statusStyle(status string) lipgloss.Style {
	switch status {
	case model.StatusMajor, model.StatusModerate:
		return critStyle
	case model.StatusMinor:
		return orangeStyle
	case model.StatusAction:
		return warnStyle
	case model.StatusNormal:
		return okStyle
	default:
		return dimStyle
	}
}
