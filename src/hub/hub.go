package hub

import (
	"sync"
	"time"

	"github.com/orchestra-mcp/petlink/src/types"
	"github.com/rs/zerolog"
)

// MessageBridge publishes envelopes to other relay instances.
// Defined here to avoid circular imports with the bridge package.
type MessageBridge interface {
	Publish(env types.Envelope) error
	Available() bool
}

// Hub manages all WebSocket client connections and envelope fan-out.
type Hub struct {
	clients map[string]*Client

	register   chan *Client
	unregister chan *Client
	incoming   chan inbound
	broadcast  chan types.Envelope
	localCast  chan types.Envelope // envelopes from bridge, no re-publish

	handlers  map[string]types.EnvelopeHandler
	onConnect []func(types.ClientInfo)
	onDisconn []func(types.ClientInfo)

	maxConns int
	greeting *types.Envelope

	bridge MessageBridge
	mu     sync.RWMutex
	logger zerolog.Logger
	done   chan struct{}
	stop   sync.Once
}

// New creates a new Hub instance.
func New(logger zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		incoming:   make(chan inbound, 256),
		broadcast:  make(chan types.Envelope, 256),
		localCast:  make(chan types.Envelope, 256),
		handlers:   make(map[string]types.EnvelopeHandler),
		logger:     logger.With().Str("component", "hub").Logger(),
		done:       make(chan struct{}),
	}
}

// SetBridge attaches a cross-instance message bridge to the hub.
// When set, broadcast envelopes are also forwarded to other instances.
func (h *Hub) SetBridge(b MessageBridge) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bridge = b
}

// SetMaxConnections caps concurrent clients. Zero means unlimited.
func (h *Hub) SetMaxConnections(n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.maxConns = n
}

// SetGreeting sets an envelope sent to every client on registration.
func (h *Hub) SetGreeting(env types.Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.greeting = &env
}

// BroadcastToLocal delivers an envelope from the bridge to local clients only.
// It does not re-publish to Redis, preventing infinite loops.
func (h *Hub) BroadcastToLocal(env types.Envelope) {
	select {
	case h.localCast <- env:
	case <-h.done:
	}
}

// Run starts the hub event loop. Call in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case in := <-h.incoming:
			h.handleEnvelope(in)
		case env := <-h.broadcast:
			h.publishToBridge(env)
			h.broadcastAll(env)
		case env := <-h.localCast:
			h.broadcastAll(env)
		case <-h.done:
			h.closeAll()
			return
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[string]*Client)
	h.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
}

// Stop halts the hub event loop.
func (h *Hub) Stop() {
	h.stop.Do(func() { close(h.done) })
}

// Register queues a client for registration.
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

// Unregister queues a client for removal.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.maxConns > 0 && len(h.clients) >= h.maxConns {
		h.mu.Unlock()
		h.logger.Warn().Str("client_id", c.ID).Int("max", h.maxConns).Msg("connection limit reached")
		c.Close()
		return
	}
	h.clients[c.ID] = c
	greeting := h.greeting
	callbacks := append([]func(types.ClientInfo){}, h.onConnect...)
	h.mu.Unlock()

	info := c.Info()
	h.logger.Info().Str("client_id", c.ID).Str("user_agent", info.UserAgent).Msg("client registered")

	if greeting != nil {
		c.EnqueueEnvelope(*greeting)
	}
	for _, cb := range callbacks {
		cb(info)
	}
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if existing, ok := h.clients[c.ID]; !ok || existing != c {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.ID)
	callbacks := append([]func(types.ClientInfo){}, h.onDisconn...)
	h.mu.Unlock()

	c.Close()
	info := c.Info()
	h.logger.Info().
		Str("client_id", c.ID).
		Dur("connected_for", time.Since(info.ConnectedAt)).
		Msg("client unregistered")

	for _, cb := range callbacks {
		cb(info)
	}
}
