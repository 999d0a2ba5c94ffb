package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/codefionn/streamchat/internal/consts"
	"github.com/codefionn/streamchat/internal/conversation"
)

var (
	sidebarStyle = lipgloss.NewStyle().
			Width(sidebarWidth-2).
			Border(lipgloss.NormalBorder(), false, true, false, false).
			BorderForeground(lipgloss.Color("238")).
			PaddingRight(1)

	groupTitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("170")).
			Bold(true)

	currentItemStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("86"))

	previewStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	emptyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Italic(true).
			MarginLeft(2)
)

// updateViewport refreshes the content of the main message viewport
func (m *Model) updateViewport() {
	conv, ok := m.state.CurrentConversation()
	if !ok || len(conv.Messages) == 0 {
		m.viewport.SetContent(emptyStyle.Render("No messages yet. Say hello."))
		return
	}

	renderer := NewMessageRenderer(m.contentWidth, m.renderWrapWidth, m.renderer)

	// Auto-scroll when already at the bottom or while a reply streams
	shouldScroll := m.viewport.AtBottom() || m.state.Loading

	m.viewport.SetContent(renderer.RenderConversation(conv.Messages))

	if shouldScroll {
		m.viewport.GotoBottom()
	}
}

// renderSidebar lists conversations grouped by recency, numbered for /switch
func (m *Model) renderSidebar() string {
	sb := acquireBuffer()
	maxWidth := sidebarWidth - 3

	if m.query != "" {
		sb.WriteString(previewStyle.Render(truncate("Search: "+m.query, maxWidth)))
		sb.WriteString("\n\n")
	}
	if len(m.groups) == 0 {
		sb.WriteString(previewStyle.Render("No conversations"))
	}

	n := 0
	for gi, g := range m.groups {
		if gi > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(groupTitleStyle.Render(g.Title))
		sb.WriteString("\n")
		for _, conv := range g.Items {
			n++
			line := truncate(fmt.Sprintf("%d. %s", n, conv.Title), maxWidth)
			if conv.ID == m.state.CurrentConversationID {
				line = currentItemStyle.Render(line)
			}
			sb.WriteString(line)
			sb.WriteString("\n")
			preview := conversation.Preview(conv, consts.PreviewLength)
			sb.WriteString(previewStyle.Render("   " + truncate(strings.ReplaceAll(preview, "\n", " "), maxWidth-3)))
			sb.WriteString("\n")
		}
	}

	return sidebarStyle.Height(m.viewport.Height).Render(bufferString(sb))
}

func truncate(s string, width int) string {
	r := []rune(s)
	if width <= 1 || len(r) <= width {
		return s
	}
	return string(r[:width-1]) + "…"
}
