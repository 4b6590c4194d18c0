// ABOUTME: lipgloss styles for the run watcher: borders, titles, status colors, and the status bar.
// ABOUTME: StyleForStatus maps step and run statuses to their display styles.
package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/2389-research/viewclone/plan"
)

var (
	// Panel borders
	BorderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62"))

	// Title styling
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170"))

	// Status colors
	PendingStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	RunningStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	SucceededStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	FailedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)

	ErrorTextStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	// Status bar
	StatusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("252")).
			Padding(0, 1)

	LabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Width(10)
	ValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))
)

// StyleForStatus returns the lipgloss style for a status.
func StyleForStatus(status plan.Status) lipgloss.Style {
	switch status {
	case plan.StatusRunning:
		return RunningStyle
	case plan.StatusSucceeded:
		return SucceededStyle
	case plan.StatusFailed:
		return FailedStyle
	default:
		return PendingStyle
	}
}

// Icon returns a bracket-style status marker.
func Icon(status plan.Status) string {
	switch status {
	case plan.StatusPending:
		return "[ ]"
	case plan.StatusRunning:
		return "[~]"
	case plan.StatusSucceeded:
		return "[*]"
	case plan.StatusFailed:
		return "[!]"
	default:
		return "[?]"
	}
}
