package hub

import (
	"errors"

	"github.com/ojhub/realtime/src/types"
)

var (
	// ErrRoomFull is returned by JoinRoom when the room is at capacity.
	ErrRoomFull = errors.New("hub: room is full")
	// ErrNotInRoom is returned for room traffic from a client outside any room.
	ErrNotInRoom = errors.New("hub: client is not in a room")
)

// JoinRoom adds c to room with meta, leaving any room it was in. The
// joiner gets a joined frame listing the current members; they get
// peer_joined. A full room answers room_full and returns ErrRoomFull.
func (h *Hub) JoinRoom(c *Client, room string, meta types.PeerMeta) error {
	if current, _ := c.membership(); current != "" {
		h.leaveRoom(c)
	}

	h.mu.Lock()
	members := h.rooms[room]
	if len(members) >= h.maxPeers {
		h.mu.Unlock()
		c.trySend(types.RoomFrame{Type: types.FrameRoomFull, Room: room})
		h.logger.Warn().Str("room", room).Str("client_id", c.ID).Msg("room full, join refused")
		return ErrRoomFull
	}
	peers := h.peersLocked(members)
	h.rooms[room] = append(members, c.ID)
	h.mu.Unlock()

	c.setRoom(room, meta)
	c.trySend(types.JoinedFrame{Type: types.FrameJoined, Room: room, ClientID: c.ID, Peers: peers})
	h.sendToRoom(c, room, types.PeerFrame{
		Type: types.FramePeerJoined,
		Room: room,
		Peer: types.Peer{ClientID: c.ID, Meta: meta},
	})
	h.logger.Info().Str("room", room).Str("client_id", c.ID).Int("members", len(peers)+1).Msg("joined room")
	return nil
}

// LeaveRoom removes c from its room and tells the remaining members.
func (h *Hub) LeaveRoom(c *Client) {
	h.leaveRoom(c)
}

func (h *Hub) leaveRoom(c *Client) {
	room, meta := c.membership()
	if room == "" {
		return
	}
	h.mu.Lock()
	members := h.rooms[room]
	for i, id := range members {
		if id == c.ID {
			members = append(members[:i:i], members[i+1:]...)
			break
		}
	}
	if len(members) == 0 {
		delete(h.rooms, room)
	} else {
		h.rooms[room] = members
	}
	h.mu.Unlock()

	c.setRoom("", types.PeerMeta{})
	h.sendToRoom(c, room, types.PeerFrame{
		Type: types.FramePeerLeft,
		Room: room,
		Peer: types.Peer{ClientID: c.ID, Meta: meta},
	})
	h.logger.Info().Str("room", room).Str("client_id", c.ID).Msg("left room")
}

// UpdateMeta replaces the metadata of c and relays it as awareness.
func (h *Hub) UpdateMeta(c *Client, meta types.PeerMeta) error {
	room, _ := c.membership()
	if room == "" {
		return ErrNotInRoom
	}
	c.setRoom(room, meta)
	h.sendToRoom(c, room, types.PeerFrame{
		Type: types.FrameAwareness,
		Room: room,
		Peer: types.Peer{ClientID: c.ID, Meta: meta},
	})
	return nil
}

// RelayToRoom sends v to every other member of the room of c.
func (h *Hub) RelayToRoom(c *Client, v any) error {
	room, _ := c.membership()
	if room == "" {
		return ErrNotInRoom
	}
	h.sendToRoom(c, room, v)
	return nil
}

func (h *Hub) sendToRoom(from *Client, room string, v any) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[room]))
	for _, id := range h.rooms[room] {
		if id == from.ID {
			continue
		}
		if c, ok := h.clients[id]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !c.trySend(v) {
			h.logger.Warn().Str("client_id", c.ID).Str("room", room).Msg("send buffer full, dropping")
		}
	}
}

func (h *Hub) peersLocked(ids []string) []types.Peer {
	peers := make([]types.Peer, 0, len(ids))
	for _, id := range ids {
		c, ok := h.clients[id]
		if !ok {
			continue
		}
		_, meta := c.membership()
		peers = append(peers, types.Peer{ClientID: id, Meta: meta})
	}
	return peers
}
