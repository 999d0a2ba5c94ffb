package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/codefionn/streamchat/internal/conversation"
	"github.com/muesli/reflow/wordwrap"
)

var (
	userRoleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("86")).
			Bold(true)

	assistantRoleStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("205")).
				Bold(true)

	systemRoleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	timestampStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	metricsStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666")).
			Faint(true)
)

// MessageRenderer handles rendering of messages with consistent styling
type MessageRenderer struct {
	contentWidth    int
	renderWrapWidth int
	markdown        *glamour.TermRenderer
}

// NewMessageRenderer creates a new message renderer. markdown may be nil,
// assistant messages are then rendered as wrapped plain text.
func NewMessageRenderer(contentWidth, renderWrapWidth int, markdown *glamour.TermRenderer) *MessageRenderer {
	return &MessageRenderer{
		contentWidth:    contentWidth,
		renderWrapWidth: renderWrapWidth,
		markdown:        markdown,
	}
}

// RenderHeader creates the role line with a right-aligned timestamp
func (mr *MessageRenderer) RenderHeader(msg conversation.Message) string {
	var roleText string
	switch msg.Role {
	case conversation.RoleUser:
		roleText = userRoleStyle.Render("You")
	case conversation.RoleAssistant:
		roleText = assistantRoleStyle.Render("Assistant")
	default:
		roleText = systemRoleStyle.Render(string(msg.Role))
	}

	timestampText := ""
	if !msg.CreatedAt.IsZero() {
		timestampText = timestampStyle.Render(msg.CreatedAt.Format("15:04"))
	}

	// Calculate padding for right-aligned timestamp
	availableWidth := mr.contentWidth - 4
	if availableWidth < 20 {
		availableWidth = 20
	}

	padding := availableWidth - lipgloss.Width(roleText) - lipgloss.Width(timestampText)
	if padding < 1 {
		padding = 1
	}

	return roleText + strings.Repeat(" ", padding) + timestampText
}

// RenderBody renders assistant content as markdown and everything else as
// wrapped plain text
func (mr *MessageRenderer) RenderBody(msg conversation.Message) string {
	if msg.Role == conversation.RoleAssistant && mr.markdown != nil && msg.Content != "" {
		if rendered, err := mr.markdown.Render(msg.Content); err == nil {
			return strings.TrimRight(rendered, "\n")
		}
	}
	return wordwrap.String(msg.Content, mr.renderWrapWidth)
}

// RenderMetrics returns the faint metrics line, "" when there are none
func (mr *MessageRenderer) RenderMetrics(metrics *conversation.Metrics) string {
	if metrics == nil {
		return ""
	}

	var parts []string
	if metrics.ResponseTimeMs > 0 {
		parts = append(parts, fmt.Sprintf("%.0f ms", metrics.ResponseTimeMs))
	}
	if metrics.Length > 0 {
		parts = append(parts, fmt.Sprintf("%d chars", metrics.Length))
	}
	if len(parts) == 0 {
		return ""
	}
	return metricsStyle.Render("[" + strings.Join(parts, " · ") + "]")
}

// RenderConversation renders every message in order
func (mr *MessageRenderer) RenderConversation(messages []conversation.Message) string {
	sb := acquireBuffer()

	for i, msg := range messages {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(mr.RenderHeader(msg))
		sb.WriteString("\n")
		sb.WriteString(mr.RenderBody(msg))

		if line := mr.RenderMetrics(msg.Metrics); line != "" {
			sb.WriteString("\n")
			sb.WriteString(line)
		}
	}

	return bufferString(sb)
}
