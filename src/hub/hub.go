// Package hub holds the relay's connections, topic subscriptions and
// signaling rooms. All routing runs on the goroutine started by Run.
package hub

import (
	"sync"

	"github.com/ojhub/realtime/src/types"
	"github.com/rs/zerolog"
)

// DefaultMaxPeers caps the membership of a signaling room.
const DefaultMaxPeers = 2

// MessageBridge publishes envelopes to other relay instances.
// Defined here to avoid circular imports with the bridge package.
type MessageBridge interface {
	Publish(env types.Envelope) error
	Available() bool
}

// FrameHandler handles one frame type received from a client.
type FrameHandler func(c *Client, f types.Frame) error

// Hub manages all relay connections, topics and rooms.
type Hub struct {
	clients map[string]*Client
	topics  map[string]map[string]bool // topic -> set of clientIDs
	rooms   map[string][]string        // room -> clientIDs in join order

	register   chan *Client
	unregister chan *Client
	incoming   chan inbound
	broadcast  chan types.Envelope
	localCast  chan types.Envelope // envelopes from the bridge, no re-publish

	handlers  map[string]FrameHandler
	onConnect []func(*Client)
	onDisconn []func(*Client)
	maxPeers  int

	bridge MessageBridge
	mu     sync.RWMutex
	logger zerolog.Logger
	done   chan struct{}
	stop   sync.Once
}

type inbound struct {
	client *Client
	frame  types.Frame
}

// New creates a new Hub instance.
func New(logger zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		topics:     make(map[string]map[string]bool),
		rooms:      make(map[string][]string),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		incoming:   make(chan inbound, 256),
		broadcast:  make(chan types.Envelope, 256),
		localCast:  make(chan types.Envelope, 256),
		handlers:   make(map[string]FrameHandler),
		maxPeers:   DefaultMaxPeers,
		logger:     logger.With().Str("component", "hub").Logger(),
		done:       make(chan struct{}),
	}
}

// SetMaxPeers changes the room cap. Values below 1 are ignored.
func (h *Hub) SetMaxPeers(n int) {
	if n < 1 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.maxPeers = n
}

// SetBridge attaches a cross-instance message bridge to the hub.
// When set, published envelopes are also forwarded to other instances.
func (h *Hub) SetBridge(b MessageBridge) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bridge = b
}

// BroadcastToLocal delivers an envelope from the bridge to local subscribers only.
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
			h.handleFrame(in.client, in.frame)
		case env := <-h.broadcast:
			h.publishToBridge(env)
			h.deliverTopic(env)
		case env := <-h.localCast:
			h.deliverTopic(env)
		case <-h.done:
			return
		}
	}
}

// Stop halts the hub event loop and closes every client.
func (h *Hub) Stop() {
	h.stop.Do(func() {
		close(h.done)
		h.mu.RLock()
		clients := make([]*Client, 0, len(h.clients))
		for _, c := range h.clients {
			clients = append(clients, c)
		}
		h.mu.RUnlock()
		for _, c := range clients {
			c.Close()
		}
	})
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
	h.clients[c.ID] = c
	cbs := append([]func(*Client){}, h.onConnect...)
	h.mu.Unlock()

	h.logger.Info().Str("client_id", c.ID).Str("endpoint", c.Endpoint).Msg("client registered")

	for _, cb := range cbs {
		cb(c)
	}
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.ID)

	// Remove from all topic subscriptions.
	for t, subs := range h.topics {
		delete(subs, c.ID)
		if len(subs) == 0 {
			delete(h.topics, t)
		}
	}
	cbs := append([]func(*Client){}, h.onDisconn...)
	h.mu.Unlock()

	h.leaveRoom(c)
	c.Close()
	h.logger.Info().Str("client_id", c.ID).Str("endpoint", c.Endpoint).Msg("client unregistered")

	for _, cb := range cbs {
		cb(c)
	}
}
