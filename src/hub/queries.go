package hub

import (
	"github.com/ojhub/realtime/src/types"
)

func handlerKey(endpoint, frameType string) string {
	return endpoint + "/" + frameType
}

// RegisterHandler registers a handler for a frame type on an endpoint.
func (h *Hub) RegisterHandler(endpoint, frameType string, handler FrameHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[handlerKey(endpoint, frameType)] = handler
}

// OnConnection registers a callback for new connections.
func (h *Hub) OnConnection(cb func(*Client)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onConnect = append(h.onConnect, cb)
}

// OnDisconnection registers a callback for disconnections.
func (h *Hub) OnDisconnection(cb func(*Client)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onDisconn = append(h.onDisconn, cb)
}

// ConnectedClients returns a list of connected client IDs.
func (h *Hub) ConnectedClients() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	return ids
}

// ClientInfo returns info for a connected client, or nil.
func (h *Hub) ClientInfo(clientID string) *types.ClientInfo {
	h.mu.RLock()
	client, ok := h.clients[clientID]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	info := client.Info()
	return &info
}

// Topics returns topic names with their subscriber counts.
func (h *Hub) Topics() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	result := make(map[string]int, len(h.topics))
	for t, subs := range h.topics {
		result[t] = len(subs)
	}
	return result
}

// Rooms returns room names with their member counts.
func (h *Hub) Rooms() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	result := make(map[string]int, len(h.rooms))
	for r, members := range h.rooms {
		result[r] = len(members)
	}
	return result
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
