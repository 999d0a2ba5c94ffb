package tui

import (
	"fmt"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/codefionn/streamchat/internal/config"
)

type commandDefinition struct {
	Name        string
	Usage       string
	Description string
	Handler     func(*Model, []string) tea.Cmd
}

func getDefaultCommandDefinitions() []commandDefinition {
	return []commandDefinition{
		{
			Name:        "/help",
			Usage:       "/help",
			Description: "Show this help message",
			Handler:     (*Model).handleHelpCommand,
		},
		{
			Name:        "/new",
			Usage:       "/new [title]",
			Description: "Start a new conversation",
			Handler:     (*Model).handleNewCommand,
		},
		{
			Name:        "/list",
			Usage:       "/list [query]",
			Description: "Show conversations grouped by recency",
			Handler:     (*Model).handleListCommand,
		},
		{
			Name:        "/search",
			Usage:       "/search <query>",
			Description: "Search conversation titles and messages",
			Handler:     (*Model).handleListCommand,
		},
		{
			Name:        "/switch",
			Usage:       "/switch <number>",
			Description: "Switch to a conversation from the last listing",
			Handler:     (*Model).handleSwitchCommand,
		},
		{
			Name:        "/model",
			Usage:       "/model [id]",
			Description: "Show available models or select one",
			Handler:     (*Model).handleModelCommand,
		},
		{
			Name:        "/retry",
			Usage:       "/retry",
			Description: "Reconnect to the chat server",
			Handler:     (*Model).handleRetryCommand,
		},
		{
			Name:        "/quit",
			Usage:       "/quit",
			Description: "Exit",
			Handler:     func(*Model, []string) tea.Cmd { return tea.Quit },
		},
	}
}

// parseCommand splits "/name arg1 arg2" into its parts. ok is false for
// input that is not a command.
func parseCommand(input string) (name string, args []string, ok bool) {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") {
		return "", nil, false
	}
	fields := strings.Fields(input)
	return strings.ToLower(fields[0]), fields[1:], true
}

func (m *Model) runCommand(input string) tea.Cmd {
	name, args, ok := parseCommand(input)
	if !ok {
		return nil
	}
	for _, def := range m.commands {
		if def.Name == name {
			return def.Handler(m, args)
		}
	}
	m.setStatus(fmt.Sprintf("Unknown command %s, try /help", name), true)
	return nil
}

func (m *Model) handleHelpCommand([]string) tea.Cmd {
	var lines []string
	for _, def := range m.commands {
		lines = append(lines, fmt.Sprintf("%-18s %s", def.Usage, def.Description))
	}
	m.setStatus(strings.Join(lines, "\n"), false)
	return nil
}

func (m *Model) handleNewCommand(args []string) tea.Cmd {
	title := strings.Join(args, " ")
	backend := m.backend
	return func() tea.Msg {
		if _, err := backend.CreateConversation(title); err != nil {
			return statusMsg{text: fmt.Sprintf("Failed to create conversation: %v", err), isError: true}
		}
		return nil
	}
}

func (m *Model) handleListCommand(args []string) tea.Cmd {
	if !m.showSidebar {
		m.showSidebar = true
		m.applyWindowSize(m.width, m.height)
	}
	return m.fetchGroups(strings.Join(args, " "), true)
}

func (m *Model) handleSwitchCommand(args []string) tea.Cmd {
	if len(args) != 1 {
		m.setStatus("Usage: /switch <number>", true)
		return nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 || n > len(m.listing) {
		m.setStatus(fmt.Sprintf("No conversation %q in the last listing, try /list", args[0]), true)
		return nil
	}

	id := m.listing[n-1]
	backend := m.backend
	return func() tea.Msg {
		switched, err := backend.SwitchConversation(id)
		switch {
		case err != nil:
			return statusMsg{text: fmt.Sprintf("Failed to switch: %v", err), isError: true}
		case !switched:
			return statusMsg{text: "Cannot switch while a reply is streaming", isError: true}
		}
		return nil
	}
}

func (m *Model) handleModelCommand(args []string) tea.Cmd {
	if len(args) == 0 {
		var lines []string
		for _, model := range config.AvailableModels {
			marker := "  "
			if model.ID == m.state.Model {
				marker = "* "
			}
			lines = append(lines, fmt.Sprintf("%s%-12s %s", marker, model.ID, model.Description))
		}
		m.setStatus(strings.Join(lines, "\n"), false)
		return nil
	}

	id := args[0]
	backend := m.backend
	return func() tea.Msg {
		if err := backend.SetModel(id); err != nil {
			return statusMsg{text: fmt.Sprintf("Cannot select %s: %v", id, err), isError: true}
		}
		return statusMsg{text: "Model set to " + id}
	}
}

func (m *Model) handleRetryCommand([]string) tea.Cmd {
	backend := m.backend
	return func() tea.Msg {
		if err := backend.RetryConnection(); err != nil {
			return statusMsg{text: fmt.Sprintf("Retry failed: %v", err), isError: true}
		}
		return statusMsg{text: "Reconnecting..."}
	}
}
