package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/orchestra-mcp/petlink/src/types"
)

type inbound struct {
	clientID string
	env      types.Envelope
}

// Client wraps a WebSocket connection and manages message flow.
type Client struct {
	ID          string
	conn        types.Conn
	hub         *Hub
	send        chan []byte
	connectedAt time.Time
	userAgent   string
	mu          sync.RWMutex
	done        chan struct{}
	closed      bool
}

// NewClient creates a new WebSocket client wrapper.
func NewClient(id string, conn types.Conn, h *Hub) *Client {
	return &Client{
		ID:          id,
		conn:        conn,
		hub:         h,
		send:        make(chan []byte, 256),
		connectedAt: time.Now(),
		done:        make(chan struct{}),
	}
}

// SetUserAgent records the client's User-Agent for ClientInfo.
func (c *Client) SetUserAgent(ua string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userAgent = ua
}

// Info returns metadata about this client.
func (c *Client) Info() types.ClientInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return types.ClientInfo{
		ID:          c.ID,
		ConnectedAt: c.connectedAt,
		UserAgent:   c.userAgent,
	}
}

// Enqueue queues a raw text frame. It reports false when the client is
// closed or its buffer is full.
func (c *Client) Enqueue(frame []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// EnqueueEnvelope encodes env and queues it.
func (c *Client) EnqueueEnvelope(env types.Envelope) bool {
	frame, err := json.Marshal(env)
	if err != nil {
		return false
	}
	return c.Enqueue(frame)
}

// ReadPump reads frames from the WebSocket. Liveness pings are answered
// directly; envelopes are routed to the hub.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if string(data) == types.PingFrame {
			c.Enqueue([]byte(types.PongFrame))
			continue
		}

		var env types.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.hub.logger.Warn().Err(err).Str("client_id", c.ID).Msg("invalid frame")
			continue
		}
		select {
		case c.hub.incoming <- inbound{clientID: c.ID, env: env}:
		case <-c.done:
			return
		case <-c.hub.done:
			return
		}
	}
}

// WritePump writes queued frames to the WebSocket.
func (c *Client) WritePump() {
	defer c.conn.Close()

	for {
		select {
		case frame := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// Close signals the client to stop its pumps.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
}
