package rooms

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/ojhub/realtime/src/channel"
	"github.com/ojhub/realtime/src/channel/channeltest"
	"github.com/ojhub/realtime/src/crdt"
	"github.com/ojhub/realtime/src/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRoom = "problem-42"

type events struct {
	mu       sync.Mutex
	peers    []PeersEvent
	states   []map[string]types.PeerMeta
	synced   int
	roomFull int
	statuses []channel.Status
}

func (e *events) attach(p *Provider) {
	p.OnPeers(func(ev PeersEvent) {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.peers = append(e.peers, ev)
	})
	p.OnAwareness(func(s map[string]types.PeerMeta) {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.states = append(e.states, s)
	})
	p.OnSynced(func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.synced++
	})
	p.OnRoomFull(func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.roomFull++
	})
	p.OnStatus(func(s channel.Status) {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.statuses = append(e.statuses, s)
	})
}

func (e *events) peerEvents() []PeersEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]PeersEvent(nil), e.peers...)
}

func (e *events) syncedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.synced
}

func (e *events) lastStates() map[string]types.PeerMeta {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.states) == 0 {
		return nil
	}
	return e.states[len(e.states)-1]
}

func newTestProvider(t *testing.T, meta types.PeerMeta) (*Provider, *channeltest.Dialer, *events) {
	t.Helper()
	d := &channeltest.Dialer{}
	ch := channel.New(channel.Config{
		URL:              channel.EndpointURL("ws://relay.test/ws", Path),
		ReconnectDelay:   time.Hour,
		DisableHeartbeat: true,
	}, d, zerolog.Nop())
	p := New(ch, crdt.NewWithSite("local"), testRoom, meta, zerolog.Nop())
	ev := &events{}
	ev.attach(p)
	t.Cleanup(p.Destroy)
	return p, d, ev
}

func connect(t *testing.T, p *Provider, d *channeltest.Dialer) *channeltest.Conn {
	t.Helper()
	p.Connect()
	require.Eventually(t, func() bool {
		c := d.Last()
		return c != nil && len(c.WrittenOfType(types.FrameJoin)) == 1
	}, time.Second, 5*time.Millisecond)
	return d.Last()
}

func encodeOps(t *testing.T, ops []crdt.Op) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(ops)
	require.NoError(t, err)
	return raw
}

func TestJoinSendsMeta(t *testing.T) {
	meta := types.PeerMeta{Name: "alice", Color: "#4dabf7"}
	p, d, _ := newTestProvider(t, meta)
	conn := connect(t, p, d)

	var join types.JoinFrame
	require.NoError(t, conn.WrittenOfType(types.FrameJoin)[0].Decode(&join))
	assert.Equal(t, testRoom, join.Room)
	assert.Equal(t, meta, join.Meta)
}

func TestJoinedAloneIsSynced(t *testing.T) {
	p, d, ev := newTestProvider(t, types.PeerMeta{Name: "alice"})
	conn := connect(t, p, d)

	conn.Push(types.JoinedFrame{Type: types.FrameJoined, Room: testRoom, ClientID: "c1"})
	require.Eventually(t, func() bool { return ev.syncedCount() == 1 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, "c1", p.ClientID())
	assert.Empty(t, ev.peerEvents())
	assert.Empty(t, conn.WrittenOfType(types.FrameSyncRequest))
	assert.Equal(t, map[string]types.PeerMeta{"c1": {Name: "alice"}}, ev.lastStates())
}

func TestJoinedWithPeerRequestsSync(t *testing.T) {
	p, d, ev := newTestProvider(t, types.PeerMeta{Name: "alice"})
	conn := connect(t, p, d)

	admin := types.Peer{ClientID: "c0", Meta: types.PeerMeta{Name: "root", IsSuperAdmin: true}}
	conn.Push(types.JoinedFrame{Type: types.FrameJoined, Room: testRoom, ClientID: "c1", Peers: []types.Peer{admin}})
	require.Eventually(t, func() bool { return len(conn.WrittenOfType(types.FrameSyncRequest)) == 1 }, time.Second, 5*time.Millisecond)

	peers := ev.peerEvents()
	require.Len(t, peers, 1)
	assert.Equal(t, []types.Peer{admin}, peers[0].Added)
	assert.Equal(t, 1, peers[0].Count)
	assert.Equal(t, 0, ev.syncedCount())

	remote := crdt.NewWithSite("remote")
	ops, _ := remote.Insert(0, "print(1)")
	conn.Push(types.DocFrame{Type: types.FrameSyncState, Room: testRoom, From: "c0", Ops: encodeOps(t, ops)})
	require.Eventually(t, func() bool { return ev.syncedCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "print(1)", p.Doc().String())
	assert.Empty(t, conn.WrittenOfType(types.FrameDocUpdate), "remote ops must not be echoed")
}

func TestPeerJoinAndLeave(t *testing.T) {
	p, d, ev := newTestProvider(t, types.PeerMeta{Name: "root", IsSuperAdmin: true})
	conn := connect(t, p, d)
	conn.Push(types.JoinedFrame{Type: types.FrameJoined, Room: testRoom, ClientID: "c1"})

	student := types.Peer{ClientID: "c2", Meta: types.PeerMeta{Name: "bob"}}
	conn.Push(types.PeerFrame{Type: types.FramePeerJoined, Room: testRoom, Peer: student})
	conn.Push(types.PeerFrame{Type: types.FrameAwareness, Room: testRoom, Peer: types.Peer{ClientID: "c2", Meta: types.PeerMeta{Name: "bobby"}}})
	conn.Push(types.PeerFrame{Type: types.FramePeerLeft, Room: testRoom, Peer: types.Peer{ClientID: "c2"}})
	conn.Push(types.PeerFrame{Type: types.FramePeerLeft, Room: testRoom, Peer: types.Peer{ClientID: "ghost"}})

	require.Eventually(t, func() bool { return len(ev.peerEvents()) == 2 }, time.Second, 5*time.Millisecond)
	p.ch.Flush()
	peers := ev.peerEvents()
	require.Len(t, peers, 2)
	assert.Equal(t, []types.Peer{student}, peers[0].Added)
	assert.Equal(t, 1, peers[0].Count)
	assert.Equal(t, []types.Peer{{ClientID: "c2", Meta: types.PeerMeta{Name: "bobby"}}}, peers[1].Removed)
	assert.Equal(t, 0, peers[1].Count)
	assert.Equal(t, 0, p.PeerCount())
}

func TestLocalEditsArePublished(t *testing.T) {
	p, d, ev := newTestProvider(t, types.PeerMeta{Name: "alice"})
	conn := connect(t, p, d)
	conn.Push(types.JoinedFrame{Type: types.FrameJoined, Room: testRoom, ClientID: "c1"})
	require.Eventually(t, func() bool { return ev.syncedCount() == 1 }, time.Second, 5*time.Millisecond)

	_, err := p.Doc().Insert(0, "ab")
	require.NoError(t, err)

	frames := conn.WrittenOfType(types.FrameDocUpdate)
	require.Len(t, frames, 1)
	var msg types.DocFrame
	require.NoError(t, frames[0].Decode(&msg))
	var ops []crdt.Op
	require.NoError(t, json.Unmarshal(msg.Ops, &ops))

	replica := crdt.NewWithSite("replica")
	require.NoError(t, replica.Apply(ops, nil))
	assert.Equal(t, "ab", replica.String())
}

func TestSyncRequestIsAnswered(t *testing.T) {
	p, d, _ := newTestProvider(t, types.PeerMeta{Name: "alice"})
	conn := connect(t, p, d)
	_, _ = p.Doc().Insert(0, "seed")

	conn.Push(types.RoomFrame{Type: types.FrameSyncRequest, Room: testRoom, ClientID: "c9"})
	require.Eventually(t, func() bool { return len(conn.WrittenOfType(types.FrameSyncState)) == 1 }, time.Second, 5*time.Millisecond)

	var msg types.DocFrame
	require.NoError(t, conn.WrittenOfType(types.FrameSyncState)[0].Decode(&msg))
	var ops []crdt.Op
	require.NoError(t, json.Unmarshal(msg.Ops, &ops))
	replica := crdt.NewWithSite("replica")
	require.NoError(t, replica.Apply(ops, nil))
	assert.Equal(t, "seed", replica.String())
}

func TestRoomFull(t *testing.T) {
	p, d, ev := newTestProvider(t, types.PeerMeta{Name: "eve"})
	conn := connect(t, p, d)

	conn.Push(types.RoomFrame{Type: types.FrameRoomFull, Room: testRoom})
	require.Eventually(t, func() bool {
		ev.mu.Lock()
		defer ev.mu.Unlock()
		return ev.roomFull == 1
	}, time.Second, 5*time.Millisecond)
}

func TestRejoinDiffsMembership(t *testing.T) {
	p, d, ev := newTestProvider(t, types.PeerMeta{Name: "alice"})
	conn := connect(t, p, d)
	admin := types.Peer{ClientID: "c0", Meta: types.PeerMeta{Name: "root", IsSuperAdmin: true}}
	conn.Push(types.JoinedFrame{Type: types.FrameJoined, Room: testRoom, ClientID: "c1", Peers: []types.Peer{admin}})
	require.Eventually(t, func() bool { return len(ev.peerEvents()) == 1 }, time.Second, 5*time.Millisecond)

	// Same connection, fresh membership list without the admin.
	conn.Push(types.JoinedFrame{Type: types.FrameJoined, Room: testRoom, ClientID: "c3"})
	require.Eventually(t, func() bool { return len(ev.peerEvents()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []types.Peer{admin}, ev.peerEvents()[1].Removed)
	assert.Equal(t, "c3", p.ClientID())
}

func TestDestroySendsLeave(t *testing.T) {
	p, d, _ := newTestProvider(t, types.PeerMeta{Name: "alice"})
	conn := connect(t, p, d)
	require.Eventually(t, func() bool { return p.ch.Status() == channel.StatusConnected }, time.Second, 5*time.Millisecond)

	p.Destroy()
	frames := conn.Written()
	require.NotEmpty(t, frames)
	assert.Equal(t, types.FrameLeave, frames[len(frames)-1].Type)
	assert.True(t, conn.Closed())

	_, err := p.Doc().Insert(0, "x")
	require.NoError(t, err, "the document outlives the provider")
	assert.Empty(t, conn.WrittenOfType(types.FrameDocUpdate))
}
