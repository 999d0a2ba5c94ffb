package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type readResult struct {
	data []byte
	err  error
}

// fakeSocket is an in-memory Socket. Frames pushed with deliver are read in
// order; Close unblocks a pending ReadMessage.
type fakeSocket struct {
	reads     chan readResult
	closed    chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	writes   []fakeFrame
	writeErr error
}

type fakeFrame struct {
	messageType int
	data        []byte
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		reads:  make(chan readResult, 16),
		closed: make(chan struct{}),
	}
}

func (s *fakeSocket) ReadMessage() (int, []byte, error) {
	select {
	case r := <-s.reads:
		if r.err != nil {
			return 0, nil, r.err
		}
		return websocket.TextMessage, r.data, nil
	case <-s.closed:
		return 0, nil, net.ErrClosed
	}
}

func (s *fakeSocket) WriteMessage(messageType int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.writes = append(s.writes, fakeFrame{messageType: messageType, data: append([]byte(nil), data...)})
	return nil
}

func (s *fakeSocket) SetWriteDeadline(time.Time) error {
	return nil
}

func (s *fakeSocket) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeSocket) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *fakeSocket) deliver(v any) {
	var data []byte
	switch x := v.(type) {
	case string:
		data = []byte(x)
	case []byte:
		data = x
	default:
		data, _ = json.Marshal(x)
	}
	s.reads <- readResult{data: data}
}

func (s *fakeSocket) fail(err error) {
	s.reads <- readResult{err: err}
}

func (s *fakeSocket) frames() []fakeFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]fakeFrame(nil), s.writes...)
}

// fakeDialer hands out fakeSockets, or fails while failWith is set
type fakeDialer struct {
	mu       sync.Mutex
	calls    int
	sockets  []*fakeSocket
	failWith error
	// gate, when set, holds every dial until it is closed or ctx ends
	gate chan struct{}
}

func (d *fakeDialer) dial(ctx context.Context, url string) (Socket, error) {
	d.mu.Lock()
	d.calls++
	gate := d.gate
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.failWith != nil {
		return nil, d.failWith
	}
	s := newFakeSocket()
	d.sockets = append(d.sockets, s)
	return s, nil
}

func (d *fakeDialer) setFailure(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failWith = err
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *fakeDialer) socket(i int) *fakeSocket {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.sockets) {
		return nil
	}
	return d.sockets[i]
}

func (d *fakeDialer) latest() *fakeSocket {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sockets) == 0 {
		return nil
	}
	return d.sockets[len(d.sockets)-1]
}

var errDialRefused = errors.New("connection refused")
