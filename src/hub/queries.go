package hub

import (
	"sort"

	"github.com/orchestra-mcp/petlink/src/types"
)

// RegisterHandler routes client-sent envelopes of type typ to handler. A nil
// handler removes the route. Liveness frames never reach handlers.
func (h *Hub) RegisterHandler(typ string, handler types.EnvelopeHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if handler == nil {
		delete(h.handlers, typ)
		return
	}
	h.handlers[typ] = handler
}

// OnConnection registers a callback run on the hub loop after an overlay
// is registered and greeted.
func (h *Hub) OnConnection(cb func(types.ClientInfo)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onConnect = append(h.onConnect, cb)
}

// OnDisconnection registers a callback run on the hub loop after an
// overlay is removed.
func (h *Hub) OnDisconnection(cb func(types.ClientInfo)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onDisconn = append(h.onDisconn, cb)
}

// Clients returns every connected overlay, longest-connected first.
func (h *Hub) Clients() []types.ClientInfo {
	h.mu.RLock()
	infos := make([]types.ClientInfo, 0, len(h.clients))
	for _, c := range h.clients {
		infos = append(infos, c.Info())
	}
	h.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].ConnectedAt.Equal(infos[j].ConnectedAt) {
			return infos[i].ConnectedAt.Before(infos[j].ConnectedAt)
		}
		return infos[i].ID < infos[j].ID
	})
	return infos
}

// ConnectedClients returns overlay IDs in the order of Clients.
func (h *Hub) ConnectedClients() []string {
	infos := h.Clients()
	ids := make([]string, len(infos))
	for i, info := range infos {
		ids[i] = info.ID
	}
	return ids
}

// ClientInfo looks up a connected overlay.
func (h *Hub) ClientInfo(clientID string) (types.ClientInfo, bool) {
	h.mu.RLock()
	client, ok := h.clients[clientID]
	h.mu.RUnlock()
	if !ok {
		return types.ClientInfo{}, false
	}
	return client.Info(), true
}

// ClientCount returns the number of connected overlays.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
