// Package protocol defines the JSON frames exchanged with the streaming chat endpoint.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Message roles accepted by the endpoint
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is a single history entry sent with a request. Only role and
// content travel over the wire.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the client -> server frame that starts a streamed turn
type Request struct {
	RequestID   string        `json:"request_id"`
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Stream      *bool         `json:"stream,omitempty"`
}

// Metrics are reported by the server on the terminal frame of a turn
type Metrics struct {
	ResponseTime float64 `json:"responseTime,omitempty"`
	Length       int     `json:"length,omitempty"`
}

// Response is one server -> client frame. A turn is zero or more content
// fragments followed by one frame with Finished set. A non-empty Error ends
// the turn early.
type Response struct {
	RequestID string   `json:"request_id"`
	Content   string   `json:"content"`
	Finished  bool     `json:"finished"`
	Error     string   `json:"error,omitempty"`
	Metrics   *Metrics `json:"metrics,omitempty"`
}

// IsError reports whether the frame carries a server-side error
func (r *Response) IsError() bool {
	return r.Error != ""
}

// NewRequestID returns a fresh opaque correlation token
func NewRequestID() string {
	return uuid.New().String()
}

// NewChatRequest builds a streaming request with a fresh request id.
// The messages slice is copied so later history mutation cannot leak into
// an already built frame.
func NewChatRequest(messages []ChatMessage, model string, temperature float64) *Request {
	stream := true
	temp := temperature

	history := make([]ChatMessage, len(messages))
	copy(history, messages)

	return &Request{
		RequestID:   NewRequestID(),
		Model:       model,
		Messages:    history,
		Temperature: &temp,
		Stream:      &stream,
	}
}

// WithMaxTokens sets max_tokens when n is positive
func (r *Request) WithMaxTokens(n int) *Request {
	if n > 0 {
		r.MaxTokens = &n
	}
	return r
}

// ParseResponse decodes a server frame
func ParseResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	return &resp, nil
}
