package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/codefionn/streamchat/internal/actor"
	"github.com/codefionn/streamchat/internal/logger"
	"github.com/codefionn/streamchat/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type recorder struct {
	mu       sync.Mutex
	events   []string
	messages []*protocol.Response
	errs     []error
	closes   []CloseEvent
}

func record(c *Connection) *recorder {
	r := &recorder{}
	c.OnOpen(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, "open")
	})
	c.OnMessage(func(resp *protocol.Response) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, "message")
		r.messages = append(r.messages, resp)
	})
	c.OnError(func(err error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, "error")
		r.errs = append(r.errs, err)
	})
	c.OnClose(func(ev CloseEvent) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, "close")
		r.closes = append(r.closes, ev)
	})
	return r
}

func (r *recorder) count(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == kind {
			n++
		}
	}
	return n
}

func (r *recorder) sequence() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) lastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.errs) == 0 {
		return nil
	}
	return r.errs[len(r.errs)-1]
}

func (r *recorder) lastClose() CloseEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.closes) == 0 {
		return CloseEvent{}
	}
	return r.closes[len(r.closes)-1]
}

func (r *recorder) contents() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.messages))
	for i, m := range r.messages {
		out[i] = m.Content
	}
	return out
}

type harness struct {
	loop   *actor.Loop
	conn   *Connection
	dialer *fakeDialer
	events *recorder
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	t.Cleanup(func() { goleak.VerifyNone(t) })

	loop := actor.NewLoop("transport-test", 64)
	require.NoError(t, loop.Start(context.Background()))

	dialer := &fakeDialer{}
	cfg := DefaultConfig("ws://chat.test/api/v1/ws")
	cfg.Dial = dialer.dial
	cfg.MinDelay = 10 * time.Millisecond
	cfg.MaxDelay = 40 * time.Millisecond
	cfg.ResetDelay = 10 * time.Millisecond
	cfg.Logger = logger.NewWithWriter(logger.LevelDebug, io.Discard, "transport")
	if mutate != nil {
		mutate(cfg)
	}

	conn, err := NewConnection(loop, cfg)
	require.NoError(t, err)

	h := &harness{loop: loop, conn: conn, dialer: dialer, events: record(conn)}
	t.Cleanup(func() {
		_ = loop.Call(conn.Disconnect)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, loop.Stop(ctx))
		conn.Wait()
	})
	return h
}

func (h *harness) do(t *testing.T, fn func()) {
	t.Helper()
	require.NoError(t, h.loop.Call(fn))
}

func (h *harness) state(t *testing.T) State {
	t.Helper()
	var s State
	h.do(t, func() { s = h.conn.State() })
	return s
}

func (h *harness) attempts(t *testing.T) int {
	t.Helper()
	var n int
	h.do(t, func() { n = h.conn.Attempts() })
	return n
}

func (h *harness) connect(t *testing.T) *fakeSocket {
	t.Helper()
	before := h.events.count("open")
	h.do(t, h.conn.Connect)
	require.Eventually(t, func() bool { return h.events.count("open") > before }, waitFor, tick)
	return h.dialer.latest()
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestNewConnectionValidation(t *testing.T) {
	_, err := NewConnection(nil, DefaultConfig("ws://x"))
	assert.Error(t, err)

	_, err = NewConnection(actor.NewLoop("l", 1), &Config{})
	assert.Error(t, err)

	conn, err := NewConnection(actor.NewLoop("l", 1), &Config{URL: "ws://x", MinDelay: time.Second})
	require.NoError(t, err)
	assert.Equal(t, "ws://x", conn.URL())
	assert.Equal(t, StateIdle, conn.State())
	assert.Equal(t, time.Second, conn.config.MaxDelay, "max delay is raised to min delay")
	assert.NotNil(t, conn.config.Dial)
}

func TestSendBeforeConnect(t *testing.T) {
	h := newHarness(t, nil)

	var err error
	h.do(t, func() { err = h.conn.Send(map[string]string{"a": "b"}) })
	assert.ErrorIs(t, err, ErrNotInitialized)

	var id string
	h.do(t, func() { id, err = h.conn.SendChatTurn(nil, "gpt-4o-mini", 0.7) })
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.Empty(t, id)
}

func TestConnectOpens(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t)

	assert.Equal(t, StateOpen, h.state(t))
	assert.Equal(t, 0, h.attempts(t))
	h.do(t, func() {
		assert.True(t, h.conn.IsOpen())
		assert.NoError(t, h.conn.LastError())
	})
	assert.Equal(t, []string{"open"}, h.events.sequence())
}

func TestConnectIsNoopWhileConnectingOrOpen(t *testing.T) {
	h := newHarness(t, nil)
	h.dialer.gate = make(chan struct{})

	h.do(t, func() {
		h.conn.Connect()
		h.conn.Connect()
		assert.Equal(t, StateConnecting, h.conn.State())
	})

	var err error
	h.do(t, func() { err = h.conn.Send("hello") })
	assert.ErrorIs(t, err, ErrNotOpen)

	close(h.dialer.gate)
	require.Eventually(t, func() bool { return h.events.count("open") == 1 }, waitFor, tick)

	h.do(t, h.conn.Connect)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, h.dialer.dialCount())
	assert.Equal(t, 1, h.events.count("open"))
}

func TestSendChatTurnWireFormat(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.MaxTokens = 256 })
	sock := h.connect(t)

	history := []protocol.ChatMessage{
		{Role: protocol.RoleUser, Content: "Hi"},
		{Role: protocol.RoleAssistant, Content: "Hello"},
		{Role: protocol.RoleUser, Content: "How are you?"},
	}

	var (
		id  string
		err error
	)
	h.do(t, func() { id, err = h.conn.SendChatTurn(history, "gpt-4o", 0.7) })
	require.NoError(t, err)
	require.NotEmpty(t, id)

	frames := sock.frames()
	require.Len(t, frames, 1)
	assert.Equal(t, websocket.TextMessage, frames[0].messageType)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(frames[0].data, &wire))
	assert.Equal(t, id, wire["request_id"])
	assert.Equal(t, "gpt-4o", wire["model"])
	assert.Equal(t, 0.7, wire["temperature"])
	assert.Equal(t, true, wire["stream"])
	assert.Equal(t, float64(256), wire["max_tokens"])

	messages, ok := wire["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 3)
	assert.Equal(t, map[string]any{"role": "user", "content": "Hi"}, messages[0])

	var second string
	h.do(t, func() { second, err = h.conn.SendChatTurn(history, "gpt-4o", 0.7) })
	require.NoError(t, err)
	assert.NotEqual(t, id, second, "every turn gets a fresh request id")
}

func TestSendWriteFailure(t *testing.T) {
	h := newHarness(t, nil)
	sock := h.connect(t)

	sock.mu.Lock()
	sock.writeErr = errors.New("broken pipe")
	sock.mu.Unlock()

	var err error
	h.do(t, func() { err = h.conn.Send("x") })
	require.Error(t, err)

	var serr *SocketError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, CodeWriteFailed, serr.Code)
	assert.Contains(t, err.Error(), "broken pipe")
}

func TestSendEncodeFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t)

	var err error
	h.do(t, func() { err = h.conn.Send(make(chan int)) })

	var serr *SocketError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, CodeEncodeFailed, serr.Code)
}

func TestMessagesFanOutInArrivalOrder(t *testing.T) {
	h := newHarness(t, nil)
	sock := h.connect(t)

	second := record(h.conn)
	for _, c := range []string{"Hel", "lo ", "world"} {
		sock.deliver(protocol.Response{RequestID: "r1", Content: c})
	}

	require.Eventually(t, func() bool { return len(h.events.contents()) == 3 }, waitFor, tick)
	require.Eventually(t, func() bool { return len(second.contents()) == 3 }, waitFor, tick)
	assert.Equal(t, []string{"Hel", "lo ", "world"}, h.events.contents())
	assert.Equal(t, []string{"Hel", "lo ", "world"}, second.contents())
}

func TestUnregisterHandler(t *testing.T) {
	h := newHarness(t, nil)
	sock := h.connect(t)

	var mu sync.Mutex
	seen := 0
	unregister := h.conn.OnMessage(func(*protocol.Response) {
		mu.Lock()
		seen++
		mu.Unlock()
	})
	assert.Equal(t, 2, h.conn.messageHandlers.count())

	sock.deliver(protocol.Response{RequestID: "r", Content: "a"})
	require.Eventually(t, func() bool { return len(h.events.contents()) == 1 }, waitFor, tick)

	unregister()
	unregister()
	assert.Equal(t, 1, h.conn.messageHandlers.count())

	sock.deliver(protocol.Response{RequestID: "r", Content: "b"})
	require.Eventually(t, func() bool { return len(h.events.contents()) == 2 }, waitFor, tick)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, seen)
}

func TestMalformedFrameFiresError(t *testing.T) {
	h := newHarness(t, nil)
	sock := h.connect(t)

	sock.deliver("not json")
	require.Eventually(t, func() bool { return h.events.count("error") == 1 }, waitFor, tick)

	err := h.events.lastError()
	var serr *SocketError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, CodeParseFailed, serr.Code)
	assert.Contains(t, err.Error(), "failed to parse message")
	assert.Equal(t, 0, h.events.count("message"))
	assert.Equal(t, StateOpen, h.state(t), "a bad frame does not drop the connection")
}

func TestUnexpectedCloseFiresErrorThenCloseAndReconnects(t *testing.T) {
	h := newHarness(t, nil)
	sock := h.connect(t)

	sock.fail(&websocket.CloseError{Code: websocket.CloseInternalServerErr, Text: "boom"})

	require.Eventually(t, func() bool { return h.events.count("open") == 2 }, waitFor, tick)
	assert.Equal(t, []string{"open", "error", "close", "open"}, h.events.sequence())
	assert.Equal(t, CloseEvent{Code: websocket.CloseInternalServerErr, Reason: "boom"}, h.events.lastClose())
	assert.True(t, sock.isClosed())
	assert.Equal(t, 0, h.attempts(t), "attempts reset on open")
	assert.Equal(t, 2, h.dialer.dialCount())
}

func TestCleanCloseDoesNotFireError(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.MinDelay = time.Hour; c.MaxDelay = time.Hour })
	sock := h.connect(t)

	sock.fail(&websocket.CloseError{Code: websocket.CloseNormalClosure, Text: "bye"})

	require.Eventually(t, func() bool { return h.events.count("close") == 1 }, waitFor, tick)
	assert.Equal(t, 0, h.events.count("error"))
	assert.True(t, h.events.lastClose().WasClean())
	assert.Equal(t, StateClosed, h.state(t))

	var err error
	h.do(t, func() { err = h.conn.Send("x") })
	assert.ErrorIs(t, err, ErrNotInitialized, "the socket is gone after close")
}

func TestSendAfterDialFailure(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.MinDelay = time.Hour; c.MaxDelay = time.Hour })
	h.dialer.setFailure(errDialRefused)

	h.do(t, h.conn.Connect)
	require.Eventually(t, func() bool { return h.state(t) == StateClosed }, waitFor, tick)

	var err error
	h.do(t, func() { err = h.conn.Send("x") })
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestReadFailureIsAbnormalClose(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.MinDelay = time.Hour; c.MaxDelay = time.Hour })
	sock := h.connect(t)

	sock.fail(io.ErrUnexpectedEOF)

	require.Eventually(t, func() bool { return h.events.count("close") == 1 }, waitFor, tick)
	assert.Equal(t, websocket.CloseAbnormalClosure, h.events.lastClose().Code)
	assert.Equal(t, 1, h.events.count("error"))

	var last error
	h.do(t, func() { last = h.conn.LastError() })
	var serr *SocketError
	require.True(t, errors.As(last, &serr))
	assert.Equal(t, CodeReadFailed, serr.Code)
	assert.ErrorIs(t, last, io.ErrUnexpectedEOF)
}

func TestDialFailureBacksOffAndGivesUp(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.MaxAttempts = 2 })
	h.dialer.setFailure(errDialRefused)

	h.do(t, h.conn.Connect)

	require.Eventually(t, func() bool { return h.dialer.dialCount() == 3 }, waitFor, tick)
	require.Eventually(t, func() bool { return h.events.count("error") == 3 }, waitFor, tick)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 3, h.dialer.dialCount(), "no attempts past the limit")
	assert.Equal(t, 0, h.events.count("close"), "a failed dial never fires close")
	assert.Equal(t, StateClosed, h.state(t))
	assert.Equal(t, 2, h.attempts(t))

	var serr *SocketError
	require.True(t, errors.As(h.events.lastError(), &serr))
	assert.Equal(t, CodeDialFailed, serr.Code)
	assert.ErrorIs(t, h.events.lastError(), errDialRefused)
}

func TestDisconnect(t *testing.T) {
	h := newHarness(t, nil)
	sock := h.connect(t)

	h.do(t, h.conn.Disconnect)

	frames := sock.frames()
	require.Len(t, frames, 1)
	assert.Equal(t, websocket.CloseMessage, frames[0].messageType)
	assert.Equal(t, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "Disconnect requested"), frames[0].data)
	assert.True(t, sock.isClosed())

	assert.Equal(t, StateIdle, h.state(t))
	assert.Equal(t, CloseEvent{Code: websocket.CloseNormalClosure, Reason: "Disconnect requested"}, h.events.lastClose())

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, h.dialer.dialCount(), "no reconnect after disconnect")
	assert.Equal(t, 1, h.events.count("close"))

	var err error
	h.do(t, func() { err = h.conn.Send("x") })
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestDisconnectCancelsPendingReconnect(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.MinDelay = 30 * time.Millisecond })
	h.dialer.setFailure(errDialRefused)

	h.do(t, h.conn.Connect)
	require.Eventually(t, func() bool { return h.events.count("error") == 1 }, waitFor, tick)

	h.do(t, h.conn.Disconnect)
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, 1, h.dialer.dialCount())
	assert.Equal(t, StateIdle, h.state(t))
	assert.Equal(t, 0, h.attempts(t))
}

func TestDisconnectCancelsDialInFlight(t *testing.T) {
	h := newHarness(t, nil)
	h.dialer.gate = make(chan struct{})

	h.do(t, h.conn.Connect)
	h.do(t, h.conn.Disconnect)
	close(h.dialer.gate)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, StateIdle, h.state(t))
	assert.Equal(t, 0, h.events.count("open"))
}

func TestResetConnection(t *testing.T) {
	h := newHarness(t, nil)
	first := h.connect(t)

	h.do(t, h.conn.ResetConnection)
	assert.Equal(t, StateIdle, h.state(t))

	require.Eventually(t, func() bool { return h.events.count("open") == 2 }, waitFor, tick)
	assert.True(t, first.isClosed())
	assert.Equal(t, 2, h.dialer.dialCount())
	assert.Equal(t, 0, h.attempts(t))
	assert.Equal(t, StateOpen, h.state(t))
}

func TestResetConnectionAfterGivingUp(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.MaxAttempts = 0 })
	h.dialer.setFailure(errDialRefused)

	h.do(t, h.conn.Connect)
	require.Eventually(t, func() bool { return h.events.count("error") == 1 }, waitFor, tick)
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, 1, h.dialer.dialCount())

	h.dialer.setFailure(nil)
	h.do(t, h.conn.ResetConnection)
	require.Eventually(t, func() bool { return h.events.count("open") == 1 }, waitFor, tick)

	h.do(t, func() { assert.NoError(t, h.conn.LastError()) })
}

func TestStaleSocketEventsAreIgnored(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t)

	var stale uint64
	h.do(t, func() { stale = h.conn.generation })

	h.do(t, h.conn.ResetConnection)
	require.Eventually(t, func() bool { return h.events.count("open") == 2 }, waitFor, tick)
	before := h.events.sequence()

	h.do(t, func() {
		h.conn.handleFrame(stale, []byte(`{"request_id":"old","content":"late"}`))
		h.conn.handleReadError(stale, &websocket.CloseError{Code: websocket.CloseInternalServerErr})
		h.conn.handleDialResult(stale, nil, errDialRefused)
	})

	assert.Equal(t, before, h.events.sequence())
	assert.Equal(t, StateOpen, h.state(t))
}
