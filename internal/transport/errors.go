package transport

import "fmt"

// Error codes carried by SocketError
const (
	CodeNotInitialized = "NOT_INITIALIZED"
	CodeNotOpen        = "NOT_OPEN"
	CodeDialFailed     = "DIAL_FAILED"
	CodeReadFailed     = "READ_FAILED"
	CodeWriteFailed    = "WRITE_FAILED"
	CodeEncodeFailed   = "ENCODE_FAILED"
	CodeParseFailed    = "PARSE_FAILED"
)

var (
	// ErrNotInitialized is returned by Send when no socket exists or is being dialed
	ErrNotInitialized = NewSocketError(CodeNotInitialized, "WebSocket not initialized", "")
	// ErrNotOpen is returned by Send while the connection is not open
	ErrNotOpen = NewSocketError(CodeNotOpen, "WebSocket is not open", "")
)

// SocketError represents a failure of the streaming connection
type SocketError struct {
	Code    string
	Message string
	Details string
	Err     error
}

func (e *SocketError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Details != "" {
		msg += ": " + e.Details
	}
	return msg
}

// Is matches any SocketError with the same code, so errors.Is works
// against the sentinels regardless of details
func (e *SocketError) Is(target error) bool {
	t, ok := target.(*SocketError)
	return ok && t.Code == e.Code
}

func (e *SocketError) Unwrap() error {
	return e.Err
}

// NewSocketError creates a new SocketError
func NewSocketError(code, message, details string) *SocketError {
	return &SocketError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

func wrapSocketError(code, message string, err error) *SocketError {
	serr := NewSocketError(code, message, "")
	if err != nil {
		serr.Details = err.Error()
		serr.Err = err
	}
	return serr
}
