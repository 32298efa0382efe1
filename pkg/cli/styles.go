package cli

import (
	"github.com/charmbracelet/lipgloss"

	simkubev1 "github.com/simkube-io/simkube/api/v1"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	itemStyle = lipgloss.NewStyle().PaddingLeft(2)

	selectedItemStyle = lipgloss.NewStyle().
				PaddingLeft(2).
				Bold(true).
				Foreground(lipgloss.Color("#7D56F4"))

	statusBarStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#A0A0A0")).
			PaddingLeft(2)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262")).
			PaddingLeft(2)

	modalStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7D56F4")).
			Padding(1, 2)

	modalTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7D56F4"))

	labelStyle = lipgloss.NewStyle().
			Width(12).
			Foreground(lipgloss.Color("#A0A0A0"))

	valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FAFAFA"))

	runningStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#3B82F6"))
	finishedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#22C55E"))
	failedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
	pendingStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#EAB308"))
)

func stateStyle(item SimulationItem) lipgloss.Style {
	if item.Deleting {
		return pendingStyle
	}
	switch item.State {
	case simkubev1.SimulationRunning:
		return runningStyle
	case simkubev1.SimulationFinished:
		return finishedStyle
	case simkubev1.SimulationFailed:
		return failedStyle
	default:
		return pendingStyle
	}
}
