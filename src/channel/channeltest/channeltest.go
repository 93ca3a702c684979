// Package channeltest provides in-memory connections for tests of code
// built on channel.Channel.
package channeltest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/ojhub/realtime/src/types"
)

var (
	// ErrClosed is returned by reads and writes on a closed Conn.
	ErrClosed = errors.New("channeltest: connection closed")
	// ErrDial is returned by a failing Dialer.
	ErrDial = errors.New("channeltest: dial refused")
)

// Conn implements types.Conn over channels.
type Conn struct {
	mu       sync.Mutex
	written  []types.Frame
	readCh   chan []byte
	closed   bool
	closedCh chan struct{}
}

// NewConn returns an open Conn.
func NewConn() *Conn {
	return &Conn{
		readCh:   make(chan []byte, 64),
		closedCh: make(chan struct{}),
	}
}

func (c *Conn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.readCh:
		return data, nil
	case <-c.closedCh:
		return nil, ErrClosed
	}
}

func (c *Conn) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	frame, err := types.ParseFrame(data)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.written = append(c.written, frame)
	return nil
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.closedCh)
	}
	return nil
}

// Push delivers v, encoded as JSON, to the reader.
func (c *Conn) Push(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	c.readCh <- data
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Written returns the frames written so far.
func (c *Conn) Written() []types.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.Frame(nil), c.written...)
}

// WrittenOfType returns the written frames whose type is typ.
func (c *Conn) WrittenOfType(typ string) []types.Frame {
	var out []types.Frame
	for _, f := range c.Written() {
		if f.Type == typ {
			out = append(out, f)
		}
	}
	return out
}

// Dialer hands out Conns. While failing it refuses every dial.
type Dialer struct {
	mu    sync.Mutex
	fail  bool
	conns []*Conn
	dials int
}

func (d *Dialer) Dial(_ context.Context, _ string) (types.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.fail {
		return nil, ErrDial
	}
	conn := NewConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

// SetFail toggles dial failures.
func (d *Dialer) SetFail(fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = fail
}

// Dials returns the number of dial attempts.
func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// Last returns the most recently opened Conn, or nil.
func (d *Dialer) Last() *Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}
