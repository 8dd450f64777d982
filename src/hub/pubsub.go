package hub

import (
	"encoding/json"

	"github.com/orchestra-mcp/petlink/src/types"
)

func (h *Hub) handleEnvelope(in inbound) {
	h.mu.RLock()
	_, registered := h.clients[in.clientID]
	handler, ok := h.handlers[in.env.Type]
	h.mu.RUnlock()

	if !registered {
		h.logger.Debug().Str("client_id", in.clientID).Str("type", in.env.Type).Msg("dropping envelope from unregistered client")
		return
	}

	if !ok {
		h.logger.Debug().Str("type", in.env.Type).Msg("no handler")
		return
	}
	if err := handler(in.clientID, in.env); err != nil {
		h.logger.Error().Err(err).Str("type", in.env.Type).Msg("handler error")
	}
}

func (h *Hub) broadcastAll(env types.Envelope) {
	frame, err := json.Marshal(env)
	if err != nil {
		h.logger.Error().Err(err).Str("type", env.Type).Msg("encode envelope failed")
		return
	}

	// Copy clients to avoid holding the lock during sends.
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if !c.Enqueue(frame) {
			h.logger.Warn().Str("client_id", c.ID).Msg("send buffer full, dropping")
		}
	}
}

// publishToBridge forwards an envelope to the bridge if one is attached.
func (h *Hub) publishToBridge(env types.Envelope) {
	h.mu.RLock()
	b := h.bridge
	h.mu.RUnlock()

	if b == nil || !b.Available() {
		return
	}
	if err := b.Publish(env); err != nil {
		h.logger.Error().Err(err).Msg("bridge publish failed")
	}
}

// Broadcast sends an envelope to every connected client and to the bridge.
func (h *Hub) Broadcast(env types.Envelope) {
	select {
	case h.broadcast <- env:
	case <-h.done:
	}
}

// SendToClient sends an envelope directly to a specific client.
func (h *Hub) SendToClient(clientID string, env types.Envelope) bool {
	h.mu.RLock()
	client, ok := h.clients[clientID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	return client.EnqueueEnvelope(env)
}
