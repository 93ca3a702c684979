// Package rooms connects a shared document to the other members of a
// signaling room. Membership, per-peer metadata and document operations are
// relayed by the signaling server; the room is capped at MaxPeers members.
package rooms

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/ojhub/realtime/src/channel"
	"github.com/ojhub/realtime/src/crdt"
	"github.com/ojhub/realtime/src/types"
	"github.com/rs/zerolog"
)

// Path is the signaling endpoint segment.
const Path = "signaling"

// MaxPeers is the member cap enforced by the relay.
const MaxPeers = 2

// PeersEvent reports a membership change. Removed peers carry the last
// metadata seen for them.
type PeersEvent struct {
	Added   []types.Peer
	Removed []types.Peer
	Count   int // remote members after the change
}

// Provider binds one crdt.Doc to one room.
type Provider struct {
	ch     *channel.Channel
	doc    *crdt.Doc
	room   string
	logger zerolog.Logger

	mu        sync.Mutex
	clientID  string
	local     types.PeerMeta
	peers     map[string]types.PeerMeta
	synced    bool
	destroyed bool
	unobserve func()
	unwatch   func()

	onStatus    []func(channel.Status)
	onPeers     []func(PeersEvent)
	onAwareness []func(map[string]types.PeerMeta)
	onSynced    []func()
	onRoomFull  []func()
}

// New creates a provider for room over ch. The provider owns ch and
// publishes local edits of doc to the room once connected.
func New(ch *channel.Channel, doc *crdt.Doc, room string, meta types.PeerMeta, logger zerolog.Logger) *Provider {
	p := &Provider{
		ch:     ch,
		doc:    doc,
		room:   room,
		local:  meta,
		peers:  make(map[string]types.PeerMeta),
		logger: logger.With().Str("component", "rooms").Str("room", room).Logger(),
	}
	ch.AddHandler(p.handle)
	ch.OnConnected(p.join)
	p.unwatch = ch.Watch(p.statusChanged)
	p.unobserve = doc.Observe(p.docChanged)
	return p
}

// Room returns the room name.
func (p *Provider) Room() string { return p.room }

// Doc returns the bound document.
func (p *Provider) Doc() *crdt.Doc { return p.doc }

// OnStatus registers fn for connection status changes.
func (p *Provider) OnStatus(fn func(channel.Status)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onStatus = append(p.onStatus, fn)
}

// OnPeers registers fn for membership changes.
func (p *Provider) OnPeers(fn func(PeersEvent)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onPeers = append(p.onPeers, fn)
}

// OnAwareness registers fn for metadata changes; fn receives every known
// member including the local one.
func (p *Provider) OnAwareness(fn func(map[string]types.PeerMeta)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onAwareness = append(p.onAwareness, fn)
}

// OnSynced registers fn, called once the document has caught up with the room.
func (p *Provider) OnSynced(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onSynced = append(p.onSynced, fn)
}

// OnRoomFull registers fn, called when the relay refuses the join.
func (p *Provider) OnRoomFull(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onRoomFull = append(p.onRoomFull, fn)
}

// Connect opens the signaling connection and joins the room.
func (p *Provider) Connect() {
	p.mu.Lock()
	destroyed := p.destroyed
	p.mu.Unlock()
	if destroyed {
		return
	}
	p.ch.Connect()
}

// Disconnect leaves the room and closes the connection.
func (p *Provider) Disconnect() {
	p.ch.Send(types.RoomFrame{Type: types.FrameLeave, Room: p.room})
	p.ch.Disconnect()
}

// Destroy disconnects and releases the channel and document observers.
func (p *Provider) Destroy() {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.destroyed = true
	unobserve, unwatch := p.unobserve, p.unwatch
	p.mu.Unlock()

	unobserve()
	unwatch()
	p.Disconnect()
	p.ch.Close()
}

// SetLocalState replaces the local metadata and publishes it.
func (p *Provider) SetLocalState(meta types.PeerMeta) {
	p.mu.Lock()
	p.local = meta
	id := p.clientID
	p.mu.Unlock()
	p.ch.Send(types.PeerFrame{Type: types.FrameAwareness, Room: p.room, Peer: types.Peer{ClientID: id, Meta: meta}})
}

// LocalState returns the local metadata.
func (p *Provider) LocalState() types.PeerMeta {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.local
}

// States returns the metadata of every member, keyed by client id.
func (p *Provider) States() map[string]types.PeerMeta {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statesLocked()
}

// ClientID returns the id assigned by the relay, empty before joining.
func (p *Provider) ClientID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clientID
}

// PeerCount returns the number of remote members.
func (p *Provider) PeerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.peers)
}

// Synced reports whether the document has caught up with the room.
func (p *Provider) Synced() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.synced
}

func (p *Provider) join() {
	p.mu.Lock()
	meta := p.local
	p.mu.Unlock()
	p.logger.Debug().Msg("joining room")
	p.ch.Send(types.JoinFrame{Type: types.FrameJoin, Room: p.room, Meta: meta})
}

func (p *Provider) statusChanged(s channel.Status) {
	p.mu.Lock()
	fns := append([]func(channel.Status){}, p.onStatus...)
	p.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

func (p *Provider) docChanged(u crdt.Update) {
	if u.Origin == p {
		return
	}
	raw, err := json.Marshal(u.Ops)
	if err != nil {
		p.logger.Error().Err(err).Msg("encode document update")
		return
	}
	p.ch.Send(types.DocFrame{Type: types.FrameDocUpdate, Room: p.room, Ops: raw})
}

func (p *Provider) handle(f types.Frame) error {
	switch f.Type {
	case types.FrameJoined:
		var m types.JoinedFrame
		if err := f.Decode(&m); err != nil {
			return fmt.Errorf("decode joined: %w", err)
		}
		p.handleJoined(m)
	case types.FramePeerJoined, types.FrameAwareness:
		var m types.PeerFrame
		if err := f.Decode(&m); err != nil {
			return fmt.Errorf("decode %s: %w", f.Type, err)
		}
		p.handlePeer(m.Peer)
	case types.FramePeerLeft:
		var m types.PeerFrame
		if err := f.Decode(&m); err != nil {
			return fmt.Errorf("decode peer_left: %w", err)
		}
		p.handlePeerLeft(m.Peer.ClientID)
	case types.FrameDocUpdate, types.FrameSyncState:
		var m types.DocFrame
		if err := f.Decode(&m); err != nil {
			return fmt.Errorf("decode %s: %w", f.Type, err)
		}
		var ops []crdt.Op
		if err := json.Unmarshal(m.Ops, &ops); err != nil {
			return fmt.Errorf("decode ops: %w", err)
		}
		if err := p.doc.Apply(ops, p); err != nil {
			return err
		}
		if f.Type == types.FrameSyncState {
			p.markSynced()
		}
	case types.FrameSyncRequest:
		raw, err := json.Marshal(p.doc.Snapshot())
		if err != nil {
			return fmt.Errorf("encode snapshot: %w", err)
		}
		p.ch.Send(types.DocFrame{Type: types.FrameSyncState, Room: p.room, Ops: raw})
	case types.FrameRoomFull:
		p.logger.Warn().Msg("room is full")
		p.mu.Lock()
		fns := append([]func(){}, p.onRoomFull...)
		p.mu.Unlock()
		for _, fn := range fns {
			fn()
		}
	}
	return nil
}

func (p *Provider) handleJoined(m types.JoinedFrame) {
	p.mu.Lock()
	p.clientID = m.ClientID
	next := make(map[string]types.PeerMeta, len(m.Peers))
	var ev PeersEvent
	for _, peer := range m.Peers {
		next[peer.ClientID] = peer.Meta
		if _, known := p.peers[peer.ClientID]; !known {
			ev.Added = append(ev.Added, peer)
		}
	}
	for id, meta := range p.peers {
		if _, still := next[id]; !still {
			ev.Removed = append(ev.Removed, types.Peer{ClientID: id, Meta: meta})
		}
	}
	p.peers = next
	ev.Count = len(next)
	alone := len(next) == 0
	p.mu.Unlock()

	p.logger.Info().Str("client_id", m.ClientID).Int("peers", ev.Count).Msg("joined room")
	if len(ev.Added) > 0 || len(ev.Removed) > 0 {
		p.emitPeers(ev)
	}
	p.emitAwareness()
	if alone {
		p.markSynced()
		return
	}
	p.ch.Send(types.RoomFrame{Type: types.FrameSyncRequest, Room: p.room})
}

func (p *Provider) handlePeer(peer types.Peer) {
	if peer.ClientID == "" {
		return
	}
	p.mu.Lock()
	_, known := p.peers[peer.ClientID]
	p.peers[peer.ClientID] = peer.Meta
	count := len(p.peers)
	p.mu.Unlock()

	if !known {
		p.logger.Info().Str("client_id", peer.ClientID).Str("name", peer.Meta.Name).Msg("peer joined")
		p.emitPeers(PeersEvent{Added: []types.Peer{peer}, Count: count})
	}
	p.emitAwareness()
}

func (p *Provider) handlePeerLeft(id string) {
	p.mu.Lock()
	meta, known := p.peers[id]
	delete(p.peers, id)
	count := len(p.peers)
	p.mu.Unlock()
	if !known {
		return
	}

	p.logger.Info().Str("client_id", id).Str("name", meta.Name).Msg("peer left")
	p.emitPeers(PeersEvent{Removed: []types.Peer{{ClientID: id, Meta: meta}}, Count: count})
	p.emitAwareness()
}

func (p *Provider) markSynced() {
	p.mu.Lock()
	if p.synced {
		p.mu.Unlock()
		return
	}
	p.synced = true
	fns := append([]func(){}, p.onSynced...)
	p.mu.Unlock()

	p.logger.Debug().Msg("document synced")
	for _, fn := range fns {
		fn()
	}
}

func (p *Provider) emitPeers(ev PeersEvent) {
	sortPeers(ev.Added)
	sortPeers(ev.Removed)
	p.mu.Lock()
	fns := append([]func(PeersEvent){}, p.onPeers...)
	p.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (p *Provider) emitAwareness() {
	p.mu.Lock()
	states := p.statesLocked()
	fns := append([]func(map[string]types.PeerMeta){}, p.onAwareness...)
	p.mu.Unlock()
	for _, fn := range fns {
		fn(states)
	}
}

func (p *Provider) statesLocked() map[string]types.PeerMeta {
	out := make(map[string]types.PeerMeta, len(p.peers)+1)
	for id, meta := range p.peers {
		out[id] = meta
	}
	out[p.clientID] = p.local
	return out
}

func sortPeers(peers []types.Peer) {
	sort.Slice(peers, func(i, j int) bool { return peers[i].ClientID < peers[j].ClientID })
}
