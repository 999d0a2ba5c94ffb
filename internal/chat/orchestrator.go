// Package chat composes the transport, the request correlator and the
// conversation store into the operations a UI drives: create and switch
// conversations, send a message, retry the connection.
//
// All state lives on one actor.Loop. Public methods hop onto the loop and
// wait, so they are safe to call from any goroutine except a subscriber
// callback, which already runs on the loop.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/codefionn/streamchat/internal/actor"
	"github.com/codefionn/streamchat/internal/config"
	"github.com/codefionn/streamchat/internal/consts"
	"github.com/codefionn/streamchat/internal/conversation"
	"github.com/codefionn/streamchat/internal/logger"
	"github.com/codefionn/streamchat/internal/protocol"
	"github.com/codefionn/streamchat/internal/transport"
)

// Notices appended as assistant messages when a turn cannot run
const (
	NotConnectedNotice = "Not connected to server. Please check your connection and try again."
	SendFailedNotice   = "Failed to send message. Please try again."
)

// ConnectionErrorText is the banner shown after a transport error
const ConnectionErrorText = "Failed to connect to chat server. Please try again later."

var (
	// ErrUnknownModel is returned by SetModel for ids outside the catalog
	ErrUnknownModel = errors.New("unknown model")
	// ErrTurnInFlight is returned by SetModel while a reply is streaming
	ErrTurnInFlight = errors.New("a reply is still streaming")
)

// Transport is the connection the orchestrator drives. Every method except
// the registrations and Wait is called on the orchestrator's loop.
type Transport interface {
	Connect()
	Disconnect()
	ResetConnection()
	IsOpen() bool
	SendChatTurn(messages []protocol.ChatMessage, model string, temperature float64) (string, error)
	OnOpen(h transport.OpenHandler) func()
	OnMessage(h transport.MessageHandler) func()
	OnError(h transport.ErrorHandler) func()
	OnClose(h transport.CloseHandler) func()
	Wait()
}

// State is a read-only snapshot for rendering
type State struct {
	Conversations         []conversation.Conversation
	CurrentConversationID string
	Loading               bool
	Connected             bool
	ConnectionError       string
	Model                 string
}

// CurrentConversation returns the current conversation from the snapshot
func (s State) CurrentConversation() (conversation.Conversation, bool) {
	for _, c := range s.Conversations {
		if c.ID == s.CurrentConversationID {
			return c, true
		}
	}
	return conversation.Conversation{}, false
}

// Options configures an Orchestrator. Zero values fall back to defaults;
// Temperature and NoticeDelay are used as given whenever they are set, zero
// included.
type Options struct {
	Model       string
	Temperature *float64
	NoticeDelay *time.Duration
	Store       *conversation.Store
	Logger      *logger.Logger
	Now         func() time.Time
}

// Orchestrator owns the chat state
type Orchestrator struct {
	loop      *actor.Loop
	transport Transport
	log       *logger.Logger
	now       func() time.Time

	// Loop-owned state
	store           *conversation.Store
	correlator      Correlator
	model           string
	temperature     float64
	noticeDelay     time.Duration
	loading         bool
	connected       bool
	connectionError string
	unregister      []func()
	notices         map[*actor.Timer]struct{}
	tornDown        bool

	subMu       sync.Mutex
	nextSubID   int
	subscribers map[int]func(State)
	subOrder    []int
}

// New creates an orchestrator on an unstarted loop. The loop is started by
// Start and stopped by Close.
func New(loop *actor.Loop, t Transport, opts Options) (*Orchestrator, error) {
	if loop == nil {
		return nil, errors.New("event loop is required")
	}
	if t == nil {
		return nil, errors.New("transport is required")
	}

	model := opts.Model
	if model == "" {
		model = consts.DefaultModel
	}
	if !config.IsKnownModel(model) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, model)
	}

	temperature := consts.DefaultTemperature
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}
	if temperature < 0 {
		return nil, fmt.Errorf("temperature %.2f must not be negative", temperature)
	}
	noticeDelay := consts.NoticeDelay
	if opts.NoticeDelay != nil {
		noticeDelay = max(*opts.NoticeDelay, 0)
	}
	store := opts.Store
	if store == nil {
		store = conversation.NewStore()
	}
	log := opts.Logger
	if log == nil {
		log = logger.Global().WithPrefix("chat")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Orchestrator{
		loop:        loop,
		transport:   t,
		log:         log,
		now:         now,
		store:       store,
		model:       model,
		temperature: temperature,
		noticeDelay: noticeDelay,
		notices:     make(map[*actor.Timer]struct{}),
		subscribers: make(map[int]func(State)),
	}, nil
}

// NewFromConfig builds the loop, a WebSocket transport and the orchestrator
func NewFromConfig(cfg *config.Config) (*Orchestrator, error) {
	loop := actor.NewLoop("chat", consts.LoopMailboxSize)

	tcfg := transport.DefaultConfig(cfg.Endpoint)
	tcfg.MaxAttempts = cfg.Reconnect.MaxAttempts
	tcfg.MinDelay = cfg.Reconnect.MinDelay()
	tcfg.MaxDelay = cfg.Reconnect.MaxDelay()
	tcfg.ResetDelay = cfg.ResetDelay()
	tcfg.MaxTokens = cfg.MaxTokens

	conn, err := transport.NewConnection(loop, tcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	temperature := cfg.Temperature
	noticeDelay := cfg.NoticeDelay()
	return New(loop, conn, Options{
		Model:       cfg.Model,
		Temperature: &temperature,
		NoticeDelay: &noticeDelay,
	})
}

// Start starts the loop, registers the transport handlers and connects.
// Handlers are registered before Connect so no event is missed. The loop
// keeps running when ctx is cancelled; only Close stops it.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.loop.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("failed to start chat loop: %w", err)
	}

	return o.loop.Call(func() {
		o.unregister = append(o.unregister,
			o.transport.OnOpen(o.handleOpen),
			o.transport.OnMessage(o.handleMessage),
			o.transport.OnError(o.handleError),
			o.transport.OnClose(o.handleClose),
		)
		o.transport.Connect()
	})
}

// Close disconnects, stops the loop and waits for transport goroutines.
// Waiting is bounded by ctx.
func (o *Orchestrator) Close(ctx context.Context) error {
	callErr := o.loop.Call(o.teardown)
	if callErr != nil && !errors.Is(callErr, actor.ErrStopped) && !errors.Is(callErr, actor.ErrNotStarted) {
		return callErr
	}

	o.log.Debug("Loop health at shutdown: %s", o.loop.Health())
	if err := o.loop.Stop(ctx); err != nil {
		return fmt.Errorf("failed to stop chat loop: %w", err)
	}
	if callErr != nil {
		// The loop goroutine has exited, so nothing else touches loop-owned state.
		o.teardown()
	}

	done := make(chan struct{})
	go func() {
		o.transport.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("transport did not shut down: %w", ctx.Err())
	}
}

// teardown cancels pending notices, detaches from the transport and
// disconnects it. Only the first call has an effect.
func (o *Orchestrator) teardown() {
	if o.tornDown {
		return
	}
	o.tornDown = true
	for timer := range o.notices {
		timer.Stop()
	}
	clear(o.notices)
	for _, unregister := range o.unregister {
		unregister()
	}
	o.unregister = nil
	o.transport.Disconnect()
}

// Health reports on the loop that serializes every state change
func (o *Orchestrator) Health() actor.HealthReport {
	return o.loop.Health()
}

// Subscribe registers fn to receive a snapshot after every state change.
// fn runs on the loop goroutine and must not call back into the
// orchestrator synchronously.
func (o *Orchestrator) Subscribe(fn func(State)) func() {
	o.subMu.Lock()
	o.nextSubID++
	id := o.nextSubID
	o.subscribers[id] = fn
	o.subOrder = append(o.subOrder, id)
	o.subMu.Unlock()

	return func() {
		o.subMu.Lock()
		defer o.subMu.Unlock()
		if _, ok := o.subscribers[id]; !ok {
			return
		}
		delete(o.subscribers, id)
		for i, sid := range o.subOrder {
			if sid == id {
				o.subOrder = append(o.subOrder[:i:i], o.subOrder[i+1:]...)
				break
			}
		}
	}
}

// State returns the current snapshot
func (o *Orchestrator) State() (State, error) {
	var s State
	err := o.loop.Call(func() {
		s = o.snapshot()
	})
	return s, err
}

// Groups returns the conversations matching query bucketed by recency
func (o *Orchestrator) Groups(query string) ([]conversation.Group, error) {
	var groups []conversation.Group
	err := o.loop.Call(func() {
		groups = conversation.GroupByRecency(o.store.Snapshot(), query, o.now())
	})
	return groups, err
}

// CreateConversation creates a conversation, makes it current and returns its id
func (o *Orchestrator) CreateConversation(title string) (string, error) {
	var id string
	err := o.loop.Call(func() {
		id = o.store.CreateConversation(title)
		o.log.Debug("Created conversation %s", id)
		o.notify()
	})
	return id, err
}

// SwitchConversation makes id current. It reports false for unknown ids
// and while a reply is streaming.
func (o *Orchestrator) SwitchConversation(id string) (bool, error) {
	var switched bool
	err := o.loop.Call(func() {
		if o.loading {
			o.log.Debug("Ignoring switch to %s while a reply is streaming", id)
			return
		}
		if !o.store.SetCurrent(id) {
			return
		}
		switched = true
		o.notify()
	})
	return switched, err
}

// SendMessage starts a turn in the current conversation. Blank content,
// no current conversation, or a turn already in flight make it a no-op.
func (o *Orchestrator) SendMessage(content string) error {
	return o.loop.Call(func() {
		o.send(content)
	})
}

// RetryConnection clears the error banner and rebuilds the connection
func (o *Orchestrator) RetryConnection() error {
	return o.loop.Call(func() {
		o.connectionError = ""
		o.transport.ResetConnection()
		o.notify()
	})
}

// SetModel selects the model for the next turns
func (o *Orchestrator) SetModel(id string) error {
	var err error
	callErr := o.loop.Call(func() {
		if !config.IsKnownModel(id) {
			err = fmt.Errorf("%w: %s", ErrUnknownModel, id)
			return
		}
		if o.loading {
			err = ErrTurnInFlight
			return
		}
		o.model = id
		o.notify()
	})
	if callErr != nil {
		return callErr
	}
	return err
}

func (o *Orchestrator) send(content string) {
	if strings.TrimSpace(content) == "" {
		return
	}
	convID := o.store.CurrentID()
	if convID == "" {
		o.log.Debug("Ignoring send without a current conversation")
		return
	}
	if o.loading {
		o.log.Debug("Ignoring send while request is in flight")
		return
	}

	if _, err := o.store.AppendUserMessage(convID, content); err != nil {
		o.log.Error("Failed to append user message: %v", err)
		return
	}

	if !o.transport.IsOpen() {
		o.log.Warn("Send while disconnected")
		o.scheduleNotice(convID, NotConnectedNotice)
		o.notify()
		return
	}

	history, err := o.store.History(convID)
	if err != nil {
		o.log.Error("Failed to build history: %v", err)
		o.notify()
		return
	}

	requestID, err := o.transport.SendChatTurn(history, o.model, o.temperature)
	if err != nil {
		o.log.Error("Failed to send message: %v", err)
		o.loading = false
		o.appendNotice(convID, SendFailedNotice)
		o.notify()
		return
	}

	o.correlator.Set(requestID)
	o.loading = true
	o.notify()
}

func (o *Orchestrator) scheduleNotice(convID, text string) {
	var timer *actor.Timer
	timer = o.loop.AfterFunc(o.noticeDelay, func() {
		delete(o.notices, timer)
		o.appendNotice(convID, text)
		o.notify()
	})
	o.notices[timer] = struct{}{}
}

func (o *Orchestrator) appendNotice(convID, text string) {
	if _, err := o.store.AppendAssistantMessage(convID, text); err != nil {
		o.log.Error("Failed to append notice: %v", err)
	}
}

func (o *Orchestrator) handleOpen() {
	o.connected = true
	o.connectionError = ""
	o.notify()
}

func (o *Orchestrator) handleError(err error) {
	o.log.Error("WebSocket error: %v", err)
	o.connectionError = ConnectionErrorText
	o.notify()
}

func (o *Orchestrator) handleClose(event transport.CloseEvent) {
	o.log.Info("WebSocket closed (code %d)", event.Code)
	o.connected = false

	if _, active := o.correlator.Active(); active {
		o.loading = false
		convID := o.store.CurrentID()
		if _, err := o.store.AppendConnectionLostNotice(convID); err != nil {
			o.log.Error("Failed to append connection lost notice: %v", err)
		}
		o.correlator.Clear()
	}
	o.notify()
}

func (o *Orchestrator) handleMessage(resp *protocol.Response) {
	if !o.correlator.Matches(resp.RequestID) {
		active, _ := o.correlator.Active()
		o.log.Debug("Dropping frame for request %q (active %q)", resp.RequestID, active)
		return
	}

	convID := o.store.CurrentID()

	if resp.IsError() {
		o.log.Error("Request %s failed: %s", resp.RequestID, resp.Error)
		o.loading = false
		o.correlator.Clear()
		o.notify()
		return
	}

	if resp.Finished {
		o.correlator.Clear()
		o.loading = false
		if resp.Metrics != nil {
			metrics := &conversation.Metrics{
				ResponseTimeMs: resp.Metrics.ResponseTime,
				Length:         resp.Metrics.Length,
			}
			if err := o.store.ApplyFinish(convID, metrics); err != nil {
				o.log.Error("Failed to apply metrics: %v", err)
			}
		}
		o.notify()
		return
	}

	if err := o.store.ApplyFragment(convID, resp.Content); err != nil {
		o.log.Error("Failed to apply fragment: %v", err)
		return
	}
	o.notify()
}

func (o *Orchestrator) snapshot() State {
	return State{
		Conversations:         o.store.Snapshot(),
		CurrentConversationID: o.store.CurrentID(),
		Loading:               o.loading,
		Connected:             o.connected,
		ConnectionError:       o.connectionError,
		Model:                 o.model,
	}
}

func (o *Orchestrator) notify() {
	o.subMu.Lock()
	subs := make([]func(State), 0, len(o.subOrder))
	for _, id := range o.subOrder {
		subs = append(subs, o.subscribers[id])
	}
	o.subMu.Unlock()

	if len(subs) == 0 {
		return
	}
	state := o.snapshot()
	for _, fn := range subs {
		fn(state)
	}
}
