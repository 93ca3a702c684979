package hub

import (
	"github.com/ojhub/realtime/src/types"
)

func (h *Hub) handleFrame(c *Client, f types.Frame) {
	if f.Type == types.FramePing {
		var ping types.PingFrame
		_ = f.Decode(&ping)
		c.trySend(types.PongFrame{Type: types.FramePong, Timestamp: ping.Timestamp})
		return
	}

	h.mu.RLock()
	handler, ok := h.handlers[handlerKey(c.Endpoint, f.Type)]
	h.mu.RUnlock()

	if !ok {
		h.logger.Debug().Str("endpoint", c.Endpoint).Str("type", f.Type).Msg("no handler")
		return
	}
	if err := handler(c, f); err != nil {
		h.logger.Error().Err(err).Str("client_id", c.ID).Str("type", f.Type).Msg("handler error")
	}
}

func (h *Hub) deliverTopic(env types.Envelope) {
	h.mu.RLock()
	subs, ok := h.topics[env.Topic]
	if !ok {
		h.mu.RUnlock()
		return
	}
	// Copy subscribers to avoid holding lock during sends.
	clients := make([]*Client, 0, len(subs))
	for id := range subs {
		if c, exists := h.clients[id]; exists {
			clients = append(clients, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if !c.trySend(env.Payload) {
			h.logger.Warn().Str("client_id", c.ID).Str("topic", env.Topic).Msg("send buffer full, dropping")
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
		h.logger.Error().Err(err).Str("topic", env.Topic).Msg("bridge publish failed")
	}
}

// Publish queues env for all subscribers of its topic, here and on
// bridged instances.
func (h *Hub) Publish(env types.Envelope) {
	select {
	case h.broadcast <- env:
	case <-h.done:
	}
}

// Broadcast delivers env on the calling goroutine. Frame handlers use it
// since they run on the hub loop that drains Publish.
func (h *Hub) Broadcast(env types.Envelope) {
	h.publishToBridge(env)
	h.deliverTopic(env)
}

// Subscribe adds a client to a topic.
func (h *Hub) Subscribe(topic, clientID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[clientID]
	if !ok {
		return false
	}
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[string]bool)
	}
	h.topics[topic][clientID] = true
	c.addTopic(topic)
	return true
}

// Unsubscribe removes a client from a topic.
func (h *Hub) Unsubscribe(topic, clientID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.topics[topic]
	if !ok {
		return false
	}
	delete(subs, clientID)
	if len(subs) == 0 {
		delete(h.topics, topic)
	}
	if c, ok := h.clients[clientID]; ok {
		c.removeTopic(topic)
	}
	return true
}

// SendToClient sends a frame directly to a specific client.
func (h *Hub) SendToClient(clientID string, v any) bool {
	h.mu.RLock()
	client, ok := h.clients[clientID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	return client.trySend(v)
}
