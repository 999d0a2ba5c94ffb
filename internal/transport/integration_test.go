package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
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

// streamingServer answers every request with two fragments and a finish frame
func streamingServer(t *testing.T) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		for {
			var req protocol.Request
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			frames := []protocol.Response{
				{RequestID: req.RequestID, Content: "Hel"},
				{RequestID: req.RequestID, Content: "lo"},
				{RequestID: req.RequestID, Finished: true, Metrics: &protocol.Metrics{ResponseTime: 120, Length: 5}},
			}
			for _, f := range frames {
				if err := conn.WriteJSON(f); err != nil {
					return
				}
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestStreamingRoundTrip(t *testing.T) {
	defer goleak.VerifyNone(t)

	srv := streamingServer(t)
	defer srv.Close()

	loop := actor.NewLoop("integration", 64)
	require.NoError(t, loop.Start(context.Background()))

	cfg := DefaultConfig(wsURL(srv))
	cfg.Logger = logger.NewWithWriter(logger.LevelDebug, io.Discard, "transport")
	conn, err := NewConnection(loop, cfg)
	require.NoError(t, err)
	events := record(conn)

	require.NoError(t, loop.Call(conn.Connect))
	require.Eventually(t, func() bool { return events.count("open") == 1 }, waitFor, tick)

	var id string
	require.NoError(t, loop.Call(func() {
		id, err = conn.SendChatTurn([]protocol.ChatMessage{{Role: "user", Content: "Hi"}}, "gpt-4o-mini", 0.7)
	}))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return events.count("message") == 3 }, waitFor, tick)

	events.mu.Lock()
	msgs := append([]*protocol.Response(nil), events.messages...)
	events.mu.Unlock()
	for _, m := range msgs {
		assert.Equal(t, id, m.RequestID)
	}
	assert.Equal(t, "Hel", msgs[0].Content)
	assert.Equal(t, "lo", msgs[1].Content)
	assert.True(t, msgs[2].Finished)
	require.NotNil(t, msgs[2].Metrics)
	assert.Equal(t, float64(120), msgs[2].Metrics.ResponseTime)

	require.NoError(t, loop.Call(conn.Disconnect))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, loop.Stop(ctx))
	conn.Wait()
}

func TestDialWebSocketRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	sock, err := DialWebSocket(ctx, url)
	assert.Error(t, err)
	assert.Nil(t, sock)
}

func TestDialWebSocketBadHandshake(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := DialWebSocket(ctx, wsURL(srv))
	assert.ErrorIs(t, err, websocket.ErrBadHandshake)
}
