package tui

import (
	"github.com/charmbracelet/lipgloss"

	"imgharvest/pkg/batch"
)

var (
	colorAccent  = lipgloss.Color("#5FD7FF")
	colorBorder  = lipgloss.Color("#875FD7")
	colorGood    = lipgloss.Color("#87D75F")
	colorPartial = lipgloss.Color("#FFAF5F")
	colorBad     = lipgloss.Color("#FF5F5F")
	colorValue   = lipgloss.Color("#FFD75F")
	colorScreen  = lipgloss.Color("#101418")
	colorPanel   = lipgloss.Color("#1C2228")
	colorText    = lipgloss.Color("#BCBCBC")
	colorMuted   = lipgloss.Color("#6C6C6C")
)

var (
	screenStyle = lipgloss.NewStyle().Background(colorScreen).Foreground(colorText)

	bannerStyle = lipgloss.NewStyle().
			Foreground(colorAccent).
			Bold(true).
			Padding(1, 0).
			Align(lipgloss.Center)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Background(colorPanel).
			Padding(1, 2)

	headingStyle = lipgloss.NewStyle().
			Background(colorBorder).
			Foreground(colorScreen).
			Bold(true).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().Foreground(colorAccent).Bold(true)
	valueStyle = lipgloss.NewStyle().Foreground(colorValue)
	mutedStyle = lipgloss.NewStyle().Foreground(colorText)

	goodStyle    = lipgloss.NewStyle().Foreground(colorGood).Bold(true)
	partialStyle = lipgloss.NewStyle().Foreground(colorPartial).Bold(true)
	badStyle     = lipgloss.NewStyle().Foreground(colorBad).Bold(true)

	activeNameStyle = lipgloss.NewStyle().Foreground(colorGood).Bold(true)
	indentStyle     = lipgloss.NewStyle().PaddingLeft(2)
	doneRowStyle    = lipgloss.NewStyle().Foreground(colorText).PaddingLeft(2)

	timestampStyle = lipgloss.NewStyle().Foreground(colorMuted)
	hintStyle      = lipgloss.NewStyle().Foreground(colorMuted).Padding(1, 0, 0, 2)
)

// statusStyle colors text by category outcome
func statusStyle(status batch.Status) lipgloss.Style {
	switch status {
	case batch.StatusSucceeded:
		return goodStyle
	case batch.StatusFailed:
		return badStyle
	default:
		return partialStyle
	}
}

func levelColor(level string) lipgloss.Color {
	switch level {
	case "ERROR":
		return colorBad
	case "WARN":
		return colorPartial
	case "SUCCESS":
		return colorGood
	case "INFO":
		return colorAccent
	default:
		return colorText
	}
}
