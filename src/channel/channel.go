package channel

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/ojhub/realtime/src/loop"
	"github.com/ojhub/realtime/src/types"
	"github.com/rs/zerolog"
)

// Status is the connection state of a Channel.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// Handler receives every non-heartbeat frame. A returned error is logged
// and does not stop delivery to the remaining handlers.
type Handler func(types.Frame) error

// HandlerID identifies a registered handler for removal.
type HandlerID uint64

type handlerEntry struct {
	id HandlerID
	fn Handler
}

// Channel owns one push connection and delivers parsed frames to its
// handlers. It reconnects with linear backoff after unexpected closes,
// sends heartbeats while connected and can disconnect itself when idle.
//
// Handlers, status watchers and connect hooks all run on one serial loop,
// so every handler sees a frame before any handler sees the next one.
type Channel struct {
	cfg    Config
	dialer Dialer
	logger zerolog.Logger
	loop   *loop.Loop
	after  func(time.Duration, func()) *time.Timer

	mu            sync.Mutex
	writeMu       sync.Mutex
	conn          types.Conn
	gen           uint64
	status        Status
	autoReconnect bool
	attempts      int
	backoff       backoff.BackOff
	reconnect     *time.Timer
	idle          *time.Timer
	heartbeatStop chan struct{}

	handlers  []handlerEntry
	nextID    HandlerID
	watchers  map[int]func(Status)
	nextWatch int
	onConnect []func()
}

// New creates a disconnected channel.
func New(cfg Config, dialer Dialer, logger zerolog.Logger) *Channel {
	cfg = cfg.withDefaults()
	if dialer == nil {
		dialer = WebSocketDialer{}
	}
	logger = logger.With().Str("component", "channel").Str("url", cfg.URL).Logger()
	return &Channel{
		cfg:           cfg,
		dialer:        dialer,
		logger:        logger,
		loop:          loop.New(logger),
		after:         time.AfterFunc,
		status:        StatusDisconnected,
		autoReconnect: !cfg.DisableAutoReconnect,
		backoff:       newReconnectBackOff(cfg.ReconnectDelay, cfg.MaxReconnectAttempts),
		watchers:      make(map[int]func(Status)),
	}
}

// URL returns the endpoint this channel dials.
func (c *Channel) URL() string { return c.cfg.URL }

// Status returns the current connection state.
func (c *Channel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Attempts returns the number of reconnects scheduled since the last open.
func (c *Channel) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Connect opens the connection. It is a no-op while connecting or connected.
// A manual connect re-arms auto-reconnect and restarts the backoff schedule.
func (c *Channel) Connect() {
	c.connect(true)
}

func (c *Channel) connect(manual bool) {
	c.mu.Lock()
	if c.status == StatusConnecting || c.status == StatusConnected {
		c.mu.Unlock()
		return
	}
	if manual {
		c.autoReconnect = !c.cfg.DisableAutoReconnect
		c.stopReconnectLocked()
		c.backoff.Reset()
	}
	c.gen++
	gen := c.gen
	c.setStatusLocked(StatusConnecting)
	c.mu.Unlock()

	go c.dial(gen)
}

func (c *Channel) dial(gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.DialTimeout)
	defer cancel()
	conn, err := c.dialer.Dial(ctx, c.cfg.URL)

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		// Disconnected while dialing.
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		c.logger.Warn().Err(err).Msg("connect failed")
		c.setStatusLocked(StatusError)
		c.closedLocked()
		return
	}

	c.conn = conn
	c.attempts = 0
	c.backoff.Reset()
	c.setStatusLocked(StatusConnected)
	if !c.cfg.DisableHeartbeat {
		c.startHeartbeatLocked()
	}
	for _, hook := range c.onConnect {
		c.loop.Post(hook)
	}
	c.logger.Info().Msg("connected")

	go c.readLoop(gen, conn)
}

func (c *Channel) readLoop(gen uint64, conn types.Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(gen, err)
			return
		}
		frame, err := types.ParseFrame(data)
		if err != nil {
			c.logger.Error().Err(err).Msg("failed to parse frame")
			continue
		}
		if frame.Type == types.FramePong {
			continue
		}
		c.loop.Post(func() { c.dispatch(frame) })
	}
}

func (c *Channel) handleClose(gen uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		return
	}
	if normalClose(err) {
		c.logger.Info().Msg("connection closed")
	} else {
		c.logger.Warn().Err(err).Msg("connection lost")
		c.setStatusLocked(StatusError)
	}
	c.closedLocked()
}

// closedLocked moves to disconnected and schedules a reconnect if allowed.
func (c *Channel) closedLocked() {
	c.stopHeartbeatLocked()
	c.conn = nil
	c.setStatusLocked(StatusDisconnected)

	if !c.autoReconnect {
		return
	}
	delay := c.backoff.NextBackOff()
	if delay == backoff.Stop {
		c.logger.Warn().Int("attempts", c.attempts).Msg("reconnect attempts exhausted")
		return
	}
	c.attempts++
	c.logger.Info().
		Int("attempt", c.attempts).
		Int("max", c.cfg.MaxReconnectAttempts).
		Dur("delay", delay).
		Msg("reconnect scheduled")

	gen := c.gen
	c.stopReconnectLocked()
	c.reconnect = c.after(delay, func() {
		c.mu.Lock()
		if gen != c.gen {
			c.mu.Unlock()
			return
		}
		c.reconnect = nil
		c.mu.Unlock()
		c.connect(false)
	})
}

// Disconnect closes the connection, cancels every timer and disables
// auto-reconnect until the next Connect.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectLocked()
}

func (c *Channel) disconnectLocked() {
	c.stopIdleLocked()
	c.stopHeartbeatLocked()
	c.stopReconnectLocked()
	c.autoReconnect = false
	c.gen++
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.setStatusLocked(StatusDisconnected)
}

// ScheduleDisconnect disconnects after delay (IdleTimeout when delay <= 0).
// Re-arming replaces the pending timer. Auto-reconnect is restored once
// the idle disconnect has fired.
func (c *Channel) ScheduleDisconnect(delay time.Duration) {
	if delay <= 0 {
		delay = c.cfg.IdleTimeout
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopIdleLocked()

	var t *time.Timer
	t = c.after(delay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.idle != t {
			return
		}
		c.idle = nil
		c.logger.Info().Dur("idle", delay).Msg("idle, disconnecting")
		c.disconnectLocked()
		c.autoReconnect = !c.cfg.DisableAutoReconnect
	})
	c.idle = t
}

// CancelScheduledDisconnect stops a pending idle disconnect.
func (c *Channel) CancelScheduledDisconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopIdleLocked()
}

// Send serializes payload and writes it if connected. It reports whether
// the write was attempted.
func (c *Channel) Send(payload any) bool {
	c.mu.Lock()
	conn := c.conn
	ready := c.status == StatusConnected && conn != nil
	c.mu.Unlock()
	if !ready {
		return false
	}

	c.writeMu.Lock()
	err := conn.WriteJSON(payload)
	c.writeMu.Unlock()
	if err != nil {
		c.logger.Error().Err(err).Msg("write failed")
	}
	return true
}

// AddHandler registers h behind the existing handlers.
func (c *Channel) AddHandler(h Handler) HandlerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	c.handlers = append(c.handlers, handlerEntry{id: c.nextID, fn: h})
	return c.nextID
}

// RemoveHandler unregisters a handler. Unknown ids are ignored.
func (c *Channel) RemoveHandler(id HandlerID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, e := range c.handlers {
		if e.id == id {
			c.handlers = append(c.handlers[:i:i], c.handlers[i+1:]...)
			return
		}
	}
}

// ClearHandlers removes every handler.
func (c *Channel) ClearHandlers() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = nil
}

// Watch calls fn with the current status and then with every change,
// in order, until the returned cancel func is called.
func (c *Channel) Watch(fn func(Status)) (cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextWatch++
	id := c.nextWatch
	c.watchers[id] = fn
	current := c.status
	c.loop.Post(func() {
		if c.watching(id) {
			fn(current)
		}
	})
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.watchers, id)
	}
}

// OnConnected registers a hook run after every successful open.
func (c *Channel) OnConnected(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnect = append(c.onConnect, fn)
}

// Close tears the channel down: handlers, watchers and hooks are dropped
// and the connection is closed.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = nil
	c.watchers = make(map[int]func(Status))
	c.onConnect = nil
	c.disconnectLocked()
}

// Flush blocks until every queued handler and watcher call has run.
func (c *Channel) Flush() {
	c.loop.Wait()
}

func (c *Channel) watching(id int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.watchers[id]
	return ok
}

func (c *Channel) setStatusLocked(s Status) {
	if c.status == s {
		return
	}
	c.status = s
	for id, fn := range c.watchers {
		id, fn := id, fn
		c.loop.Post(func() {
			if c.watching(id) {
				fn(s)
			}
		})
	}
}

func (c *Channel) dispatch(frame types.Frame) {
	c.mu.Lock()
	handlers := make([]handlerEntry, len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.Unlock()

	for _, h := range handlers {
		c.invoke(h, frame)
	}
}

func (c *Channel) invoke(h handlerEntry, frame types.Frame) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().
				Interface("panic", r).
				Str("type", frame.Type).
				Msg("message handler failed")
		}
	}()
	if err := h.fn(frame); err != nil {
		c.logger.Error().Err(err).Str("type", frame.Type).Msg("message handler error")
	}
}

func (c *Channel) startHeartbeatLocked() {
	c.stopHeartbeatLocked()
	stop := make(chan struct{})
	c.heartbeatStop = stop
	interval := c.cfg.HeartbeatTime

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.Send(types.NewPing(time.Now()))
			case <-stop:
				return
			}
		}
	}()
}

func (c *Channel) stopHeartbeatLocked() {
	if c.heartbeatStop != nil {
		close(c.heartbeatStop)
		c.heartbeatStop = nil
	}
}

func (c *Channel) stopReconnectLocked() {
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
}

func (c *Channel) stopIdleLocked() {
	if c.idle != nil {
		c.idle.Stop()
		c.idle = nil
	}
}
