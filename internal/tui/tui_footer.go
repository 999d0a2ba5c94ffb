package tui

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	// helpStyle is the style for the key hints below the input
	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")).
			MarginLeft(2)

	// errorStyle is the style for command errors
	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			MarginLeft(2)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("110")).
			MarginLeft(2)
)

const footerHelp = "enter send • ctrl+n new • tab conversations • ctrl+r retry • /help • ctrl+c quit"

// renderFooter renders the spinner line, the last status and key hints
func (m *Model) renderFooter() string {
	sb := acquireBuffer()

	if m.state.Loading {
		sb.WriteString(statusStyle.Render(m.spinner.View() + " Generating..."))
		sb.WriteString("\n")
	}

	if m.status != "" {
		if m.statusIsError {
			sb.WriteString(errorStyle.Render(m.status))
		} else {
			sb.WriteString(infoStyle.Render(m.status))
		}
		sb.WriteString("\n")
	}

	sb.WriteString(helpStyle.Render(footerHelp))
	return bufferString(sb)
}
