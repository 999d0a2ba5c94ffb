// Package tui is the interactive terminal front end. It renders orchestrator
// snapshots and turns key presses into orchestrator calls.
package tui

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/codefionn/streamchat/internal/chat"
	"github.com/codefionn/streamchat/internal/conversation"
)

const (
	defaultInputPlaceholder = "Type a message or /help"
	defaultWidth            = 80
	defaultHeight           = 24
	sidebarWidth            = 34
	inputHeight             = 3

	// sidebar group for conversations created since the last /list
	unlistedGroupTitle = "New"
)

// Backend is the part of the orchestrator the UI drives. Every method may
// block on the chat loop, so the model only calls them from commands.
type Backend interface {
	CreateConversation(title string) (string, error)
	SwitchConversation(id string) (bool, error)
	SendMessage(content string) error
	RetryConnection() error
	SetModel(id string) error
	Groups(query string) ([]conversation.Group, error)
}

// StateMsg carries a new orchestrator snapshot into the program
type StateMsg struct {
	State chat.State
}

// groupsMsg carries a sidebar listing. Only an explicit listing (relist)
// renumbers; background refreshes keep the numbers /switch refers to.
type groupsMsg struct {
	query  string
	groups []conversation.Group
	relist bool
	err    error
}

type statusMsg struct {
	text    string
	isError bool
}

// RendererReadyMsg is sent when async renderer creation completes
type RendererReadyMsg struct {
	Renderer *glamour.TermRenderer
	Width    int
	Err      error
}

// Model is the bubbletea model
type Model struct {
	backend  Backend
	commands []commandDefinition

	state chat.State

	textarea textarea.Model
	viewport viewport.Model
	spinner  spinner.Model

	renderer        *glamour.TermRenderer
	rendererCache   map[int]*glamour.TermRenderer
	width           int
	height          int
	contentWidth    int
	renderWrapWidth int

	showSidebar bool
	query       string
	groups      []conversation.Group
	listing     []string

	status        string
	statusIsError bool
}

// New creates the UI model seeded with an initial snapshot
func New(backend Backend, initial chat.State) *Model {
	ta := textarea.New()
	ta.Placeholder = defaultInputPlaceholder
	ta.Focus()
	ta.Prompt = "│ "
	ta.CharLimit = 10000
	ta.SetWidth(defaultWidth)
	ta.SetHeight(inputHeight)
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.ShowLineNumbers = false
	ta.KeyMap.InsertNewline.SetEnabled(false)

	vp := viewport.New(defaultWidth, defaultHeight)
	vp.SetContent("")

	sp := spinner.New(
		spinner.WithSpinner(spinner.Line),
		spinner.WithStyle(statusStyle.MarginLeft(0)),
	)

	m := &Model{
		backend:       backend,
		commands:      getDefaultCommandDefinitions(),
		state:         initial,
		textarea:      ta,
		viewport:      vp,
		spinner:       sp,
		rendererCache: make(map[int]*glamour.TermRenderer),
	}
	m.applyWindowSize(defaultWidth, defaultHeight)
	return m
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.createRendererAsync(m.renderWrapWidth))
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.applyWindowSize(msg.Width, msg.Height)
		return m, m.ensureRenderer()

	case tea.KeyMsg:
		return m.handleKey(msg)

	case StateMsg:
		wasLoading := m.state.Loading
		m.state = msg.State
		m.updateViewport()
		var cmds []tea.Cmd
		if m.state.Loading && !wasLoading {
			cmds = append(cmds, m.spinner.Tick)
		}
		if m.showSidebar {
			cmds = append(cmds, m.fetchGroups(m.query, false))
		}
		return m, tea.Batch(cmds...)

	case groupsMsg:
		if msg.err != nil {
			m.setStatus(fmt.Sprintf("Failed to list conversations: %v", msg.err), true)
			return m, nil
		}
		if msg.relist {
			m.setListing(msg.query, msg.groups)
		} else {
			m.refreshListing(msg.groups)
		}
		return m, nil

	case statusMsg:
		m.setStatus(msg.text, msg.isError)
		return m, nil

	case RendererReadyMsg:
		if msg.Err == nil && msg.Renderer != nil {
			m.rendererCache[msg.Width] = msg.Renderer
			if msg.Width == m.renderWrapWidth {
				m.renderer = msg.Renderer
				m.updateViewport()
			}
		}
		return m, nil

	case spinner.TickMsg:
		if !m.state.Loading {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		return m, tea.Quit
	case tea.KeyEnter:
		return m, m.submit()
	case tea.KeyCtrlN:
		return m, m.handleNewCommand(nil)
	case tea.KeyCtrlR:
		return m, m.handleRetryCommand(nil)
	case tea.KeyTab:
		m.showSidebar = !m.showSidebar
		m.applyWindowSize(m.width, m.height)
		if m.showSidebar {
			return m, m.fetchGroups(m.query, true)
		}
		return m, nil
	case tea.KeyPgUp, tea.KeyPgDown:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.textarea, cmd = m.textarea.Update(msg)
	return m, cmd
}

// submit handles the input line: commands run locally, everything else is
// sent, creating a conversation first when there is none
func (m *Model) submit() tea.Cmd {
	input := m.textarea.Value()
	if strings.TrimSpace(input) == "" {
		return nil
	}
	m.textarea.Reset()
	m.setStatus("", false)

	if _, _, ok := parseCommand(input); ok {
		return m.runCommand(input)
	}

	backend := m.backend
	needsConversation := m.state.CurrentConversationID == ""
	return func() tea.Msg {
		if needsConversation {
			if _, err := backend.CreateConversation(""); err != nil {
				return statusMsg{text: fmt.Sprintf("Failed to create conversation: %v", err), isError: true}
			}
		}
		if err := backend.SendMessage(input); err != nil {
			return statusMsg{text: fmt.Sprintf("Failed to send: %v", err), isError: true}
		}
		return nil
	}
}

func (m *Model) fetchGroups(query string, relist bool) tea.Cmd {
	backend := m.backend
	return func() tea.Msg {
		groups, err := backend.Groups(query)
		return groupsMsg{query: query, groups: groups, relist: relist, err: err}
	}
}

// setListing replaces the sidebar and renumbers it in recency order
func (m *Model) setListing(query string, groups []conversation.Group) {
	m.query = query
	m.groups = make([]conversation.Group, len(groups))
	m.listing = m.listing[:0]
	for i, g := range groups {
		m.groups[i] = conversation.Group{Title: g.Title, Items: slices.Clone(g.Items)}
		for _, conv := range g.Items {
			m.listing = append(m.listing, conv.ID)
		}
	}
}

// refreshListing updates titles and previews in place. Conversations that
// were not listed yet are numbered after the existing ones.
func (m *Model) refreshListing(groups []conversation.Group) {
	fresh := make(map[string]conversation.Conversation)
	var order []string
	for _, g := range groups {
		for _, conv := range g.Items {
			fresh[conv.ID] = conv
			order = append(order, conv.ID)
		}
	}

	listed := make(map[string]bool, len(m.listing))
	for _, id := range m.listing {
		listed[id] = true
	}
	for gi := range m.groups {
		for ii, conv := range m.groups[gi].Items {
			if updated, ok := fresh[conv.ID]; ok {
				m.groups[gi].Items[ii] = updated
			}
		}
	}

	var added []conversation.Conversation
	for _, id := range order {
		if !listed[id] {
			added = append(added, fresh[id])
			m.listing = append(m.listing, id)
		}
	}
	if len(added) > 0 {
		m.groups = append(m.groups, conversation.Group{Title: unlistedGroupTitle, Items: added})
	}
}

func (m *Model) setStatus(text string, isError bool) {
	m.status = text
	m.statusIsError = isError
}

func (m *Model) View() string {
	header := m.renderHeader()
	body := m.viewport.View()
	if m.showSidebar {
		body = lipgloss.JoinHorizontal(lipgloss.Top, m.renderSidebar(), body)
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		body,
		m.textarea.View(),
		m.renderFooter(),
	)
}

func (m *Model) applyWindowSize(width, height int) {
	if width <= 0 {
		width = defaultWidth
	}
	if height <= 0 {
		height = defaultHeight
	}
	m.width = width
	m.height = height

	m.contentWidth = width
	if m.showSidebar {
		m.contentWidth = width - sidebarWidth
	}
	if m.contentWidth < 20 {
		m.contentWidth = 20
	}
	m.renderWrapWidth = m.contentWidth - 4
	if m.renderWrapWidth < 16 {
		m.renderWrapWidth = 16
	}

	// header (3) + input + footer (3)
	vpHeight := height - inputHeight - 6
	if vpHeight < 3 {
		vpHeight = 3
	}
	m.viewport.Width = m.contentWidth
	m.viewport.Height = vpHeight
	m.textarea.SetWidth(width - 2)

	if r, ok := m.rendererCache[m.renderWrapWidth]; ok {
		m.renderer = r
	}
	m.updateViewport()
}

func (m *Model) ensureRenderer() tea.Cmd {
	if _, ok := m.rendererCache[m.renderWrapWidth]; ok {
		return nil
	}
	return m.createRendererAsync(m.renderWrapWidth)
}

func (m *Model) createRendererAsync(wrapWidth int) tea.Cmd {
	return func() tea.Msg {
		renderer, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(wrapWidth),
			glamour.WithPreservedNewLines(),
		)
		return RendererReadyMsg{
			Renderer: renderer,
			Width:    wrapWidth,
			Err:      err,
		}
	}
}

// Run starts the program and feeds it every orchestrator snapshot until the
// user quits or ctx ends
func Run(ctx context.Context, orch *chat.Orchestrator) error {
	initial, err := orch.State()
	if err != nil {
		return fmt.Errorf("failed to read chat state: %w", err)
	}

	program := tea.NewProgram(New(orch, initial), tea.WithAltScreen(), tea.WithContext(ctx))
	unsubscribe := orch.Subscribe(func(s chat.State) {
		program.Send(StateMsg{State: s})
	})
	defer unsubscribe()

	if _, err := program.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("tui failed: %w", err)
	}
	return nil
}
