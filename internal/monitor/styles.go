package monitor

import "github.com/charmbracelet/lipgloss"

var (
	Primary = lipgloss.Color("#FF6B35")
	Success = lipgloss.Color("#4CAF50")
	Warning = lipgloss.Color("#FFB74D")
	Error   = lipgloss.Color("#F44336")
	Muted   = lipgloss.Color("#90A4AE")

	titleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(Primary).
		Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.AdaptiveColor{Light: "#3B82F6", Dark: "#60A5FA"}).
		Padding(0, 1)

	labelStyle = lipgloss.NewStyle().Foreground(Muted).Width(12)
	helpStyle  = lipgloss.NewStyle().Foreground(Muted)
	errStyle   = lipgloss.NewStyle().Foreground(Error).Bold(true)
)

// stateStyle colours a session state name.
func stateStyle(state string) lipgloss.Style {
	s := lipgloss.NewStyle().Bold(true)
	switch state {
	case "Playing":
		return s.Foreground(Success)
	case "Reconnecting", "SettingUp":
		return s.Foreground(Warning)
	case "Initial":
		return s.Foreground(Muted)
	default:
		return s.Foreground(lipgloss.Color("#3B82F6"))
	}
}
