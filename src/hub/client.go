package hub

import (
	"sort"
	"sync"
	"time"

	"github.com/ojhub/realtime/src/types"
)

// Client wraps one relay connection on one endpoint.
type Client struct {
	ID          string
	Endpoint    string
	conn        types.Conn
	hub         *Hub
	send        chan any
	connectedAt time.Time

	mu     sync.RWMutex
	topics map[string]bool
	room   string
	meta   types.PeerMeta
	done   chan struct{}
	closed bool
}

// NewClient creates a client for conn accepted on endpoint.
func NewClient(id, endpoint string, conn types.Conn, h *Hub) *Client {
	return &Client{
		ID:          id,
		Endpoint:    endpoint,
		conn:        conn,
		hub:         h,
		send:        make(chan any, 256),
		connectedAt: time.Now(),
		topics:      make(map[string]bool),
		done:        make(chan struct{}),
	}
}

// Info returns metadata about this client.
func (c *Client) Info() types.ClientInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	topics := make([]string, 0, len(c.topics))
	for t := range c.topics {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return types.ClientInfo{
		ID:          c.ID,
		Endpoint:    c.Endpoint,
		ConnectedAt: c.connectedAt,
		Topics:      topics,
		Room:        c.room,
	}
}

func (c *Client) addTopic(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics[topic] = true
}

func (c *Client) removeTopic(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.topics, topic)
}

func (c *Client) setRoom(room string, meta types.PeerMeta) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.room = room
	c.meta = meta
}

func (c *Client) membership() (string, types.PeerMeta) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.room, c.meta
}

// trySend queues v for writing. It fails when the client is closed or its
// buffer is full.
func (c *Client) trySend(v any) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- v:
		return true
	default:
		return false
	}
}

// ReadPump reads frames from the connection and routes them to the hub.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	for {
		data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		frame, err := types.ParseFrame(data)
		if err != nil {
			c.hub.logger.Debug().Err(err).Str("client_id", c.ID).Msg("dropping malformed frame")
			continue
		}
		select {
		case c.hub.incoming <- inbound{client: c, frame: frame}:
		case <-c.hub.done:
			return
		}
	}
}

// WritePump writes queued frames to the connection.
func (c *Client) WritePump() {
	defer c.conn.Close()

	for {
		select {
		case v := <-c.send:
			if err := c.conn.WriteJSON(v); err != nil {
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
