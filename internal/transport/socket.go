package transport

import (
	"context"
	"time"

	"github.com/codefionn/streamchat/internal/consts"
	"github.com/gorilla/websocket"
)

// Socket is the subset of *websocket.Conn the connection drives
type Socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// DialFunc opens a socket to url. It must honour ctx cancellation.
type DialFunc func(ctx context.Context, url string) (Socket, error)

// DialWebSocket dials url with gorilla's default dialer
func DialWebSocket(ctx context.Context, url string) (Socket, error) {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = consts.DialTimeout

	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(consts.MaxMessageSize)
	return conn, nil
}
