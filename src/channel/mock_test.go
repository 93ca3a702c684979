package channel

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/ojhub/realtime/src/types"
)

var (
	errConnReset = errors.New("connection reset by peer")
	errDial      = errors.New("dial refused")
)

// mockConn implements types.Conn for testing without a real WebSocket.
type mockConn struct {
	mu       sync.Mutex
	written  []any
	readCh   chan []byte
	closed   bool
	closedCh chan struct{}
}

func newMockConn() *mockConn {
	return &mockConn{
		readCh:   make(chan []byte, 16),
		closedCh: make(chan struct{}),
	}
}

func (m *mockConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-m.readCh:
		return data, nil
	case <-m.closedCh:
		return nil, errConnReset
	}
}

func (m *mockConn) WriteJSON(v any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errConnReset
	}
	m.written = append(m.written, v)
	return nil
}

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.closedCh)
	}
	return nil
}

func (m *mockConn) push(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	m.readCh <- data
}

func (m *mockConn) pushRaw(data string) {
	m.readCh <- []byte(data)
}

func (m *mockConn) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockConn) getWritten() []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]any, len(m.written))
	copy(cp, m.written)
	return cp
}

// mockDialer hands out mockConns, or fails while fail is set.
type mockDialer struct {
	mu    sync.Mutex
	fail  bool
	dials int
	conns []*mockConn
}

func (d *mockDialer) Dial(_ context.Context, _ string) (types.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.fail {
		return nil, errDial
	}
	conn := newMockConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *mockDialer) setFail(fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = fail
}

func (d *mockDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *mockDialer) last() *mockConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// statusRecorder collects every status a watcher observes.
type statusRecorder struct {
	mu   sync.Mutex
	seen []Status
}

func (r *statusRecorder) record(s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, s)
}

func (r *statusRecorder) get() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make([]Status, len(r.seen))
	copy(cp, r.seen)
	return cp
}
