// Package transport keeps one streaming WebSocket connection alive: it dials
// asynchronously, reconnects with exponential backoff, decodes inbound
// frames and fans connection events out to registered handlers.
//
// A Connection is owned by an actor.Loop. Every method except the On*
// registrations and Wait must be called from a task running on that loop;
// dial goroutines and read pumps only post results back to it.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/codefionn/streamchat/internal/actor"
	"github.com/codefionn/streamchat/internal/backoff"
	"github.com/codefionn/streamchat/internal/consts"
	"github.com/codefionn/streamchat/internal/logger"
	"github.com/codefionn/streamchat/internal/protocol"
	"github.com/gorilla/websocket"
)

// State represents the current state of the connection
type State int

const (
	// StateIdle means no connection exists and none will be attempted
	StateIdle State = iota
	// StateConnecting means a dial is in progress
	StateConnecting
	// StateOpen means frames can be sent
	StateOpen
	// StateClosed means the socket dropped; a reconnect may be scheduled
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CloseEvent describes why a socket closed
type CloseEvent struct {
	Code   int
	Reason string
}

// WasClean reports whether the peer closed normally
func (e CloseEvent) WasClean() bool {
	return e.Code == websocket.CloseNormalClosure || e.Code == websocket.CloseGoingAway
}

// Handler signatures
type (
	OpenHandler    func()
	MessageHandler func(*protocol.Response)
	ErrorHandler   func(error)
	CloseHandler   func(CloseEvent)
)

// Config holds connection configuration
type Config struct {
	// URL is the ws:// or wss:// endpoint
	URL string
	// MaxAttempts is how many automatic reconnects run before giving up
	MaxAttempts int
	// MinDelay is the first reconnect delay
	MinDelay time.Duration
	// MaxDelay caps the reconnect delay
	MaxDelay time.Duration
	// ResetDelay is the pause between teardown and dial in ResetConnection
	ResetDelay time.Duration
	// WriteWait bounds a single frame write
	WriteWait time.Duration
	// MaxTokens is sent with every chat turn when positive
	MaxTokens int
	// Dial opens sockets, DialWebSocket when nil
	Dial DialFunc
	// Logger defaults to the global logger with a "transport" prefix
	Logger *logger.Logger
}

// DefaultConfig returns a default configuration for url
func DefaultConfig(url string) *Config {
	return &Config{
		URL:         url,
		MaxAttempts: consts.DefaultMaxReconnectAttempts,
		MinDelay:    consts.DefaultMinBackoff,
		MaxDelay:    consts.DefaultMaxBackoff,
		ResetDelay:  consts.ResetConnectionDelay,
		WriteWait:   consts.WriteWait,
		Dial:        DialWebSocket,
	}
}

// Connection is a self-healing streaming connection
type Connection struct {
	loop   *actor.Loop
	config Config
	log    *logger.Logger

	// Loop-owned state
	state          State
	socket         Socket
	generation     uint64
	attempts       int
	lastError      error
	dialCancel     context.CancelFunc
	reconnectTimer *actor.Timer
	resetTimer     *actor.Timer

	openHandlers    registry[OpenHandler]
	messageHandlers registry[MessageHandler]
	errorHandlers   registry[ErrorHandler]
	closeHandlers   registry[CloseHandler]

	// Dial goroutines and read pumps
	wg sync.WaitGroup
}

// NewConnection creates an idle connection driven by loop
func NewConnection(loop *actor.Loop, config *Config) (*Connection, error) {
	if loop == nil {
		return nil, errors.New("event loop is required")
	}
	if config == nil || config.URL == "" {
		return nil, errors.New("endpoint URL is required")
	}

	cfg := *config
	if cfg.Dial == nil {
		cfg.Dial = DialWebSocket
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = consts.WriteWait
	}
	if cfg.MinDelay <= 0 {
		cfg.MinDelay = consts.DefaultMinBackoff
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	if cfg.MaxAttempts < 0 {
		cfg.MaxAttempts = 0
	}
	if cfg.ResetDelay < 0 {
		cfg.ResetDelay = 0
	}

	log := cfg.Logger
	if log == nil {
		log = logger.Global().WithPrefix("transport")
	}

	return &Connection{
		loop:   loop,
		config: cfg,
		log:    log,
		state:  StateIdle,
	}, nil
}

// URL returns the configured endpoint
func (c *Connection) URL() string {
	return c.config.URL
}

// State returns the current connection state
func (c *Connection) State() State {
	return c.state
}

// IsOpen reports whether frames can be sent
func (c *Connection) IsOpen() bool {
	return c.state == StateOpen && c.socket != nil
}

// Attempts returns the number of automatic reconnects since the last open
func (c *Connection) Attempts() int {
	return c.attempts
}

// LastError returns the most recent connection error, nil after a successful open
func (c *Connection) LastError() error {
	return c.lastError
}

// Connect starts dialing unless already open or connecting. Any pending
// reconnect is cancelled and a stale socket is discarded first.
func (c *Connection) Connect() {
	if c.state == StateOpen || c.state == StateConnecting {
		return
	}

	c.stopTimers()
	c.discard()

	c.generation++
	gen := c.generation
	c.state = StateConnecting

	ctx, cancel := context.WithTimeout(context.Background(), consts.DialTimeout)
	c.dialCancel = cancel

	c.log.Debug("Connecting to %s (attempt %d)", c.config.URL, c.attempts)

	c.wg.Add(1)
	go c.dial(ctx, cancel, gen)
}

// Disconnect closes the connection with a normal closure and stops all
// automatic reconnects until the next Connect.
func (c *Connection) Disconnect() {
	c.stopTimers()
	c.attempts = 0

	hadSocket := c.socket != nil || c.state == StateConnecting
	if c.socket != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, consts.CloseReasonDisconnect)
		_ = c.socket.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
		if err := c.socket.WriteMessage(websocket.CloseMessage, msg); err != nil {
			c.log.Debug("Failed to write close frame: %v", err)
		}
	}
	c.discard()
	c.generation++

	c.state = StateIdle
	if hadSocket {
		c.log.Info("Disconnected from %s", c.config.URL)
		c.emitClose(CloseEvent{Code: websocket.CloseNormalClosure, Reason: consts.CloseReasonDisconnect})
	}
}

// ResetConnection disconnects, resets the attempt counter and connects
// again after ResetDelay.
func (c *Connection) ResetConnection() {
	c.Disconnect()
	c.attempts = 0
	c.resetTimer = c.loop.AfterFunc(c.config.ResetDelay, func() {
		c.resetTimer = nil
		c.Connect()
	})
}

// Send serializes payload as JSON and writes it as one text frame
func (c *Connection) Send(payload any) error {
	// A dial in flight counts as an underlying connection that is not open yet.
	if c.socket == nil && c.state != StateConnecting {
		return ErrNotInitialized
	}
	if !c.IsOpen() {
		return ErrNotOpen
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return wrapSocketError(CodeEncodeFailed, "failed to encode message", err)
	}

	if err := c.socket.SetWriteDeadline(time.Now().Add(c.config.WriteWait)); err != nil {
		return wrapSocketError(CodeWriteFailed, "failed to set write deadline", err)
	}
	if err := c.socket.WriteMessage(websocket.TextMessage, data); err != nil {
		return wrapSocketError(CodeWriteFailed, "failed to send message", err)
	}
	return nil
}

// SendChatTurn sends a streaming chat request and returns its request id
func (c *Connection) SendChatTurn(messages []protocol.ChatMessage, model string, temperature float64) (string, error) {
	req := protocol.NewChatRequest(messages, model, temperature).WithMaxTokens(c.config.MaxTokens)
	if err := c.Send(req); err != nil {
		return "", err
	}
	c.log.Debug("Sent request %s (%d messages, model %s)", req.RequestID, len(messages), model)
	return req.RequestID, nil
}

// OnOpen registers h and returns a function that unregisters it
func (c *Connection) OnOpen(h OpenHandler) func() {
	return c.openHandlers.add(h)
}

// OnMessage registers h and returns a function that unregisters it
func (c *Connection) OnMessage(h MessageHandler) func() {
	return c.messageHandlers.add(h)
}

// OnError registers h and returns a function that unregisters it
func (c *Connection) OnError(h ErrorHandler) func() {
	return c.errorHandlers.add(h)
}

// OnClose registers h and returns a function that unregisters it
func (c *Connection) OnClose(h CloseHandler) func() {
	return c.closeHandlers.add(h)
}

// Wait blocks until every dial goroutine and read pump has exited. Call it
// after Disconnect, or after the loop was stopped.
func (c *Connection) Wait() {
	c.wg.Wait()
}

func (c *Connection) dial(ctx context.Context, cancel context.CancelFunc, gen uint64) {
	defer c.wg.Done()
	defer cancel()

	sock, err := c.config.Dial(ctx, c.config.URL)
	postErr := c.loop.Post(func() {
		c.handleDialResult(gen, sock, err)
	})
	if postErr != nil && sock != nil {
		_ = sock.Close()
	}
}

func (c *Connection) handleDialResult(gen uint64, sock Socket, err error) {
	if gen != c.generation {
		if sock != nil {
			_ = sock.Close()
		}
		return
	}
	c.dialCancel = nil

	if err != nil {
		serr := wrapSocketError(CodeDialFailed, "failed to connect to "+c.config.URL, err)
		c.log.Warn("%v", serr)
		c.lastError = serr
		c.state = StateClosed
		c.emitError(serr)
		c.scheduleReconnect()
		return
	}

	c.socket = sock
	c.state = StateOpen
	c.lastError = nil
	c.attempts = 0
	c.log.Info("Connected to %s", c.config.URL)

	c.wg.Add(1)
	go c.readPump(sock, gen)

	c.emitOpen()
}

func (c *Connection) readPump(sock Socket, gen uint64) {
	defer c.wg.Done()

	for {
		_, data, err := sock.ReadMessage()
		if err != nil {
			_ = c.loop.Post(func() {
				c.handleReadError(gen, err)
			})
			return
		}

		if postErr := c.loop.Post(func() {
			c.handleFrame(gen, data)
		}); postErr != nil {
			_ = sock.Close()
			return
		}
	}
}

func (c *Connection) handleFrame(gen uint64, data []byte) {
	if gen != c.generation {
		return
	}

	resp, err := protocol.ParseResponse(data)
	if err != nil {
		serr := wrapSocketError(CodeParseFailed, "invalid frame", err)
		c.log.Warn("%v", serr)
		c.emitError(serr)
		return
	}
	c.emitMessage(resp)
}

func (c *Connection) handleReadError(gen uint64, err error) {
	if gen != c.generation {
		return
	}

	event := CloseEvent{Code: websocket.CloseAbnormalClosure}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		event.Code = closeErr.Code
		event.Reason = closeErr.Text
	}

	if !event.WasClean() {
		serr := wrapSocketError(CodeReadFailed, "connection error", err)
		c.log.Warn("%v", serr)
		c.lastError = serr
		c.emitError(serr)
	}

	if c.socket != nil {
		_ = c.socket.Close()
		c.socket = nil
	}
	c.state = StateClosed
	c.log.Info("Connection closed (code %d)", event.Code)
	c.emitClose(event)
	c.scheduleReconnect()
}

func (c *Connection) scheduleReconnect() {
	if c.state != StateClosed {
		return
	}
	if c.attempts >= c.config.MaxAttempts {
		c.log.Warn("Giving up after %d reconnect attempts", c.attempts)
		return
	}

	delay := backoff.Delay(c.attempts, c.config.MinDelay, c.config.MaxDelay)
	c.log.Debug("Reconnecting in %v", delay)

	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}
	c.reconnectTimer = c.loop.AfterFunc(delay, func() {
		c.reconnectTimer = nil
		c.attempts++
		c.Connect()
	})
}

func (c *Connection) stopTimers() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	if c.resetTimer != nil {
		c.resetTimer.Stop()
		c.resetTimer = nil
	}
}

// discard drops the current socket and any dial in flight. Close errors
// are ignored.
func (c *Connection) discard() {
	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}
	if c.socket != nil {
		_ = c.socket.Close()
		c.socket = nil
	}
}

func (c *Connection) emitOpen() {
	for _, h := range c.openHandlers.snapshot() {
		h()
	}
}

func (c *Connection) emitMessage(resp *protocol.Response) {
	for _, h := range c.messageHandlers.snapshot() {
		h(resp)
	}
}

func (c *Connection) emitError(err error) {
	for _, h := range c.errorHandlers.snapshot() {
		h(err)
	}
}

func (c *Connection) emitClose(event CloseEvent) {
	for _, h := range c.closeHandlers.snapshot() {
		h(event)
	}
}
