// Package style provides consistent terminal styling using Lipgloss.
package style

import "github.com/charmbracelet/lipgloss"

var (
	// Success style for positive outcomes
	Success = lipgloss.NewStyle().
		Foreground(lipgloss.Color("10")).
		Bold(true)

	// Warning style for rule warnings
	Warning = lipgloss.NewStyle().
		Foreground(lipgloss.Color("11")).
		Bold(true)

	// Error style for failures and blocking violations
	Error = lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	Info = lipgloss.NewStyle().
		Foreground(lipgloss.Color("12"))

	// Dim style for identifiers and paths
	Dim = lipgloss.NewStyle().
		Foreground(lipgloss.Color("8"))

	Bold = lipgloss.NewStyle().
		Bold(true)

	SuccessPrefix = Success.Render("✓")
	WarningPrefix = Warning.Render("⚠")
	ErrorPrefix   = Error.Render("✗")
	ArrowPrefix   = Info.Render("→")
)

// KeyValue renders an aligned "key: value" line with the key in bold.
func KeyValue(key string, width int, value string) string {
	return Bold.Width(width).Render(key+":") + " " + value
}
