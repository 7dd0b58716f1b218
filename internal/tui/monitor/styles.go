package monitor

import "github.com/charmbracelet/lipgloss"

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("241")).
			Padding(0, 1)

	panelTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	valueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	onlineStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	offStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	okMark      = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Render("✓")
	failMark    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Render("✗")
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Italic(true)

	qualityStyles = map[string]lipgloss.Style{
		"excellent": lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		"good":      lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		"fair":      lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		"poor":      lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		"unknown":   lipgloss.NewStyle().Foreground(lipgloss.Color("242")),
	}
)
