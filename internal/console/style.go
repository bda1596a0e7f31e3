package console

import "github.com/charmbracelet/lipgloss"

var (
	brandPrimary = lipgloss.Color("#7C3AED")
	brandGood    = lipgloss.Color("#10B981")
	brandBad     = lipgloss.Color("#EF4444")
	brandWarn    = lipgloss.Color("#F59E0B")
	textMuted    = lipgloss.Color("#6B7280")

	titleStyle = lipgloss.NewStyle().
			Foreground(brandPrimary).
			Bold(true)

	promptStyle = lipgloss.NewStyle().
			Foreground(brandPrimary)

	goodStyle = lipgloss.NewStyle().
			Foreground(brandGood).
			Bold(true)

	badStyle = lipgloss.NewStyle().
			Foreground(brandBad).
			Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(brandWarn)

	dimStyle = lipgloss.NewStyle().
			Foreground(textMuted)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Underline(true)
)

// outcomeStyle picks the colour for a workflow status string.
func outcomeStyle(status string) lipgloss.Style {
	switch status {
	case "granted", "created", "created_without_card", "removed":
		return goodStyle
	case "cancelled", "not_found":
		return warnStyle
	default:
		return badStyle
	}
}
