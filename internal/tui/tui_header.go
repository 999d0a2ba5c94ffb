package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/codefionn/streamchat/internal/config"
)

var (
	// titleStyle is the style for the application title in the header
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170")).
			MarginLeft(2)

	// statusStyle is the style for status indicators (model, connection)
	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			MarginLeft(2)

	connectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	disconnectedStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("214"))

	// bannerStyle is used for the connection error banner
	bannerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Background(lipgloss.Color("124")).
			Padding(0, 1).
			MarginLeft(2)
)

// renderHeader renders the title, the conversation, the model and the
// connection indicator
func (m *Model) renderHeader() string {
	sb := acquireBuffer()

	title := "streamchat"
	if conv, ok := m.state.CurrentConversation(); ok {
		title += " - " + conv.Title
	}
	sb.WriteString(titleStyle.Render(title))
	sb.WriteString("\n")

	modelName := m.state.Model
	if model, ok := config.LookupModel(m.state.Model); ok {
		modelName = model.Name
	}

	connection := disconnectedStyle.Render("● disconnected")
	if m.state.Connected {
		connection = connectedStyle.Render("● connected")
	}
	sb.WriteString(statusStyle.Render(fmt.Sprintf("Model: %s  ", modelName)))
	sb.WriteString(connection)
	sb.WriteString("\n")

	if m.state.ConnectionError != "" {
		sb.WriteString(bannerStyle.Render(m.state.ConnectionError + " (/retry)"))
		sb.WriteString("\n")
	}

	return bufferString(sb)
}
