package chat

import (
	"fmt"
	"sync"
	"testing"

	"github.com/codefionn/streamchat/internal/actor"
	"github.com/codefionn/streamchat/internal/protocol"
	"github.com/codefionn/streamchat/internal/transport"
	"github.com/stretchr/testify/require"
)

type sentTurn struct {
	requestID   string
	messages    []protocol.ChatMessage
	model       string
	temperature float64
}

// fakeTransport records turns instead of writing them and lets tests fire
// connection events on the orchestrator's loop
type fakeTransport struct {
	loop *actor.Loop

	mu          sync.Mutex
	open        bool
	sendErr     error
	sent        []sentTurn
	connects    int
	disconnects int
	resets      int
	nextID      int
	// handlers registered when Connect was first called
	handlersAtConnect int

	openHandlers    []transport.OpenHandler
	messageHandlers []transport.MessageHandler
	errorHandlers   []transport.ErrorHandler
	closeHandlers   []transport.CloseHandler
}

func newFakeTransport(loop *actor.Loop) *fakeTransport {
	return &fakeTransport{loop: loop}
}

func (f *fakeTransport) Connect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connects == 0 {
		f.handlersAtConnect = f.handlerCount()
	}
	f.connects++
}

func (f *fakeTransport) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.open = false
}

func (f *fakeTransport) ResetConnection() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
}

func (f *fakeTransport) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeTransport) SendChatTurn(messages []protocol.ChatMessage, model string, temperature float64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.nextID++
	id := fmt.Sprintf("req-%d", f.nextID)
	f.sent = append(f.sent, sentTurn{
		requestID:   id,
		messages:    append([]protocol.ChatMessage(nil), messages...),
		model:       model,
		temperature: temperature,
	})
	return id, nil
}

func (f *fakeTransport) OnOpen(h transport.OpenHandler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openHandlers = append(f.openHandlers, h)
	i := len(f.openHandlers) - 1
	return func() { f.mu.Lock(); f.openHandlers[i] = nil; f.mu.Unlock() }
}

func (f *fakeTransport) OnMessage(h transport.MessageHandler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messageHandlers = append(f.messageHandlers, h)
	i := len(f.messageHandlers) - 1
	return func() { f.mu.Lock(); f.messageHandlers[i] = nil; f.mu.Unlock() }
}

func (f *fakeTransport) OnError(h transport.ErrorHandler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errorHandlers = append(f.errorHandlers, h)
	i := len(f.errorHandlers) - 1
	return func() { f.mu.Lock(); f.errorHandlers[i] = nil; f.mu.Unlock() }
}

func (f *fakeTransport) OnClose(h transport.CloseHandler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeHandlers = append(f.closeHandlers, h)
	i := len(f.closeHandlers) - 1
	return func() { f.mu.Lock(); f.closeHandlers[i] = nil; f.mu.Unlock() }
}

func (f *fakeTransport) Wait() {}

func (f *fakeTransport) handlerCount() int {
	n := 0
	for _, h := range f.openHandlers {
		if h != nil {
			n++
		}
	}
	for _, h := range f.messageHandlers {
		if h != nil {
			n++
		}
	}
	for _, h := range f.errorHandlers {
		if h != nil {
			n++
		}
	}
	for _, h := range f.closeHandlers {
		if h != nil {
			n++
		}
	}
	return n
}

func (f *fakeTransport) setOpen(open bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = open
}

func (f *fakeTransport) setSendErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

func (f *fakeTransport) turns() []sentTurn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentTurn(nil), f.sent...)
}

func (f *fakeTransport) lastRequestID(t *testing.T) string {
	t.Helper()
	turns := f.turns()
	require.NotEmpty(t, turns)
	return turns[len(turns)-1].requestID
}

func (f *fakeTransport) counts() (connects, disconnects, resets int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, f.disconnects, f.resets
}

// The fire helpers run handlers on the loop, the way the real connection does.

func (f *fakeTransport) fireOpen(t *testing.T) {
	t.Helper()
	f.setOpen(true)
	require.NoError(t, f.loop.Call(func() {
		f.mu.Lock()
		hs := append([]transport.OpenHandler(nil), f.openHandlers...)
		f.mu.Unlock()
		for _, h := range hs {
			if h != nil {
				h()
			}
		}
	}))
}

func (f *fakeTransport) fireMessage(t *testing.T, resp protocol.Response) {
	t.Helper()
	require.NoError(t, f.loop.Call(func() {
		f.mu.Lock()
		hs := append([]transport.MessageHandler(nil), f.messageHandlers...)
		f.mu.Unlock()
		for _, h := range hs {
			if h != nil {
				r := resp
				h(&r)
			}
		}
	}))
}

func (f *fakeTransport) fireError(t *testing.T, err error) {
	t.Helper()
	require.NoError(t, f.loop.Call(func() {
		f.mu.Lock()
		hs := append([]transport.ErrorHandler(nil), f.errorHandlers...)
		f.mu.Unlock()
		for _, h := range hs {
			if h != nil {
				h(err)
			}
		}
	}))
}

func (f *fakeTransport) fireClose(t *testing.T, event transport.CloseEvent) {
	t.Helper()
	f.setOpen(false)
	require.NoError(t, f.loop.Call(func() {
		f.mu.Lock()
		hs := append([]transport.CloseHandler(nil), f.closeHandlers...)
		f.mu.Unlock()
		for _, h := range hs {
			if h != nil {
				h(event)
			}
		}
	}))
}
