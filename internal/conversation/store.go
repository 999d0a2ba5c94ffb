// Package conversation holds the in-memory conversation history and the
// fold that turns outbound sends and inbound stream fragments into it.
//
// A Store is not safe for concurrent use. It is owned by the chat event loop
// and every mutation happens there; everyone else reads Snapshot copies.
package conversation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/codefionn/streamchat/internal/protocol"
	"github.com/google/uuid"
)

// ErrConversationNotFound is returned for unknown conversation ids
var ErrConversationNotFound = errors.New("conversation not found")

// ConnectionLostNotice is appended when the socket drops mid-turn
const ConnectionLostNotice = "Connection lost. Please try again."

// Role is the author of a message
type Role string

const (
	RoleSystem    Role = protocol.RoleSystem
	RoleUser      Role = protocol.RoleUser
	RoleAssistant Role = protocol.RoleAssistant
)

// Metrics are attached to an assistant message when its turn finishes
type Metrics struct {
	ResponseTimeMs float64 `json:"responseTimeMs,omitempty"`
	Length         int     `json:"length,omitempty"`
}

// Message is one entry of a conversation. Content only changes while the
// message is the trailing assistant message of the turn in flight.
type Message struct {
	ID             string    `json:"id"`
	Content        string    `json:"content"`
	Role           Role      `json:"role"`
	ConversationID string    `json:"conversationId"`
	CreatedAt      time.Time `json:"createdAt"`
	Metrics        *Metrics  `json:"metrics,omitempty"`
}

// Conversation is an ordered, append-only message sequence
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// LastMessage returns the trailing message, if any
func (c *Conversation) LastMessage() (*Message, bool) {
	if len(c.Messages) == 0 {
		return nil, false
	}
	return &c.Messages[len(c.Messages)-1], true
}

func (c *Conversation) clone() Conversation {
	out := *c
	out.Messages = make([]Message, len(c.Messages))
	for i, msg := range c.Messages {
		out.Messages[i] = msg
		if msg.Metrics != nil {
			m := *msg.Metrics
			out.Messages[i].Metrics = &m
		}
	}
	return out
}

// Option configures a Store
type Option func(*Store)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithIDGenerator replaces the uuid generator used for conversations and messages
func WithIDGenerator(newID func() string) Option {
	return func(s *Store) {
		s.newID = newID
	}
}

// Store owns every conversation and the "current" pointer
type Store struct {
	conversations []*Conversation
	currentID     string
	now           func() time.Time
	newID         func() string
}

// NewStore creates an empty store
func NewStore(opts ...Option) *Store {
	s := &Store{
		now:   time.Now,
		newID: func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateConversation appends a new empty conversation and makes it current.
// An empty title becomes "Conversation N".
func (s *Store) CreateConversation(title string) string {
	if strings.TrimSpace(title) == "" {
		title = fmt.Sprintf("Conversation %d", len(s.conversations)+1)
	}

	now := s.now()
	conv := &Conversation{
		ID:        s.newID(),
		Title:     title,
		Messages:  make([]Message, 0),
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.conversations = append(s.conversations, conv)
	s.currentID = conv.ID
	return conv.ID
}

// SetCurrent moves the current pointer. Unknown ids are ignored.
func (s *Store) SetCurrent(id string) bool {
	if s.find(id) == nil {
		return false
	}
	s.currentID = id
	return true
}

// CurrentID returns the current conversation id, "" when there is none
func (s *Store) CurrentID() string {
	return s.currentID
}

// Current returns a copy of the current conversation
func (s *Store) Current() (Conversation, bool) {
	return s.Get(s.currentID)
}

// Get returns a copy of the conversation with id
func (s *Store) Get(id string) (Conversation, bool) {
	conv := s.find(id)
	if conv == nil {
		return Conversation{}, false
	}
	return conv.clone(), true
}

// Len returns the number of conversations
func (s *Store) Len() int {
	return len(s.conversations)
}

// Snapshot returns deep copies of all conversations in creation order
func (s *Store) Snapshot() []Conversation {
	out := make([]Conversation, len(s.conversations))
	for i, conv := range s.conversations {
		out[i] = conv.clone()
	}
	return out
}

// AppendUserMessage appends a user-role message
func (s *Store) AppendUserMessage(conversationID, content string) (Message, error) {
	return s.appendMessage(conversationID, RoleUser, content)
}

// AppendAssistantMessage appends a standalone assistant-role message, used for
// locally generated notices
func (s *Store) AppendAssistantMessage(conversationID, content string) (Message, error) {
	return s.appendMessage(conversationID, RoleAssistant, content)
}

// ApplyFragment folds one streamed chunk into the conversation. The chunk is
// concatenated onto a trailing assistant message, or starts a new one when
// the last message has another role. Arrival order is the only ordering.
func (s *Store) ApplyFragment(conversationID, text string) error {
	conv := s.find(conversationID)
	if conv == nil {
		return fmt.Errorf("apply fragment to %s: %w", conversationID, ErrConversationNotFound)
	}

	if last, ok := conv.LastMessage(); ok && last.Role == RoleAssistant {
		last.Content += text
		conv.UpdatedAt = s.now()
		return nil
	}

	_, err := s.appendMessage(conversationID, RoleAssistant, text)
	return err
}

// ApplyFinish merges metrics onto the trailing assistant message. Fields
// that are zero in metrics leave existing values untouched. It does nothing
// when metrics is nil or the last message is not an assistant message.
func (s *Store) ApplyFinish(conversationID string, metrics *Metrics) error {
	conv := s.find(conversationID)
	if conv == nil {
		return fmt.Errorf("apply finish to %s: %w", conversationID, ErrConversationNotFound)
	}
	if metrics == nil {
		return nil
	}

	last, ok := conv.LastMessage()
	if !ok || last.Role != RoleAssistant {
		return nil
	}

	merged := Metrics{}
	if last.Metrics != nil {
		merged = *last.Metrics
	}
	if metrics.ResponseTimeMs != 0 {
		merged.ResponseTimeMs = metrics.ResponseTimeMs
	}
	if metrics.Length != 0 {
		merged.Length = metrics.Length
	}
	last.Metrics = &merged
	conv.UpdatedAt = s.now()
	return nil
}

// AppendConnectionLostNotice appends the connection-lost notice unless the
// conversation already ends with it. It reports whether a message was added.
func (s *Store) AppendConnectionLostNotice(conversationID string) (bool, error) {
	conv := s.find(conversationID)
	if conv == nil {
		return false, fmt.Errorf("append notice to %s: %w", conversationID, ErrConversationNotFound)
	}

	if last, ok := conv.LastMessage(); ok && last.Role == RoleAssistant && last.Content == ConnectionLostNotice {
		return false, nil
	}

	if _, err := s.appendMessage(conversationID, RoleAssistant, ConnectionLostNotice); err != nil {
		return false, err
	}
	return true, nil
}

// History projects a conversation onto the wire format: role and content only
func (s *Store) History(conversationID string) ([]protocol.ChatMessage, error) {
	conv := s.find(conversationID)
	if conv == nil {
		return nil, fmt.Errorf("history of %s: %w", conversationID, ErrConversationNotFound)
	}

	history := make([]protocol.ChatMessage, len(conv.Messages))
	for i, msg := range conv.Messages {
		history[i] = protocol.ChatMessage{Role: string(msg.Role), Content: msg.Content}
	}
	return history, nil
}

func (s *Store) appendMessage(conversationID string, role Role, content string) (Message, error) {
	conv := s.find(conversationID)
	if conv == nil {
		return Message{}, fmt.Errorf("append %s message to %s: %w", role, conversationID, ErrConversationNotFound)
	}

	now := s.now()
	msg := Message{
		ID:             s.newID(),
		Content:        content,
		Role:           role,
		ConversationID: conv.ID,
		CreatedAt:      now,
	}

	conv.Messages = append(conv.Messages, msg)
	conv.UpdatedAt = now
	return msg, nil
}

func (s *Store) find(id string) *Conversation {
	if id == "" {
		return nil
	}
	for _, conv := range s.conversations {
		if conv.ID == id {
			return conv
		}
	}
	return nil
}
