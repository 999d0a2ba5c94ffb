package consts

import "time"

// Reconnect policy defaults
const (
	// DefaultMaxReconnectAttempts is how many automatic reconnects run before giving up
	DefaultMaxReconnectAttempts = 5
	// DefaultMinBackoff is the delay before the first reconnect attempt
	DefaultMinBackoff = 1 * time.Second
	// DefaultMaxBackoff caps the exponential reconnect delay
	DefaultMaxBackoff = 30 * time.Second
	// ResetConnectionDelay is the pause between teardown and reconnect on a manual retry
	ResetConnectionDelay = 100 * time.Millisecond
)

// Socket I/O
const (
	// WriteWait is the time allowed to write a frame to the peer
	WriteWait = 10 * time.Second
	// DialTimeout bounds the WebSocket handshake
	DialTimeout = 10 * time.Second
	// MaxMessageSize is the largest inbound frame accepted
	MaxMessageSize = 1024 * 1024
	// CloseReasonDisconnect is sent with the normal-closure code on explicit disconnect
	CloseReasonDisconnect = "Disconnect requested"
)

// Chat defaults
const (
	// DefaultEndpoint is the streaming endpoint used when nothing else is configured
	DefaultEndpoint = "ws://localhost:8081/api/v1/ws"
	// DefaultModel is the model selected on startup
	DefaultModel = "gpt-4o-mini"
	// DefaultTemperature is sent with every chat turn
	DefaultTemperature = 0.7
	// NoticeDelay is how long the "not connected" notice waits before it is appended
	NoticeDelay = 100 * time.Millisecond
	// LoopMailboxSize is the capacity of the event loop's mailbox
	LoopMailboxSize = 256
	// PreviewLength is the default conversation preview length in the sidebar
	PreviewLength = 50
)
