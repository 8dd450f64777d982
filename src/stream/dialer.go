package stream

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/orchestra-mcp/petlink/src/types"
)

// Dialer opens a connection to the stream endpoint.
type Dialer interface {
	Dial(ctx context.Context, url string) (types.Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, url string) (types.Conn, error)

func (f DialerFunc) Dial(ctx context.Context, url string) (types.Conn, error) { return f(ctx, url) }

// WebSocketDialer dials real WebSocket endpoints.
type WebSocketDialer struct {
	Dialer *websocket.Dialer
	Header http.Header
}

// Dial performs the WebSocket handshake.
func (d *WebSocketDialer) Dial(ctx context.Context, url string) (types.Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return conn, nil
}

func defaultDialer(handshake time.Duration) Dialer {
	return &WebSocketDialer{Dialer: &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshake,
	}}
}
