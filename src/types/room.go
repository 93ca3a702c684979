package types

import "encoding/json"

// Signaling frames exchanged on the room endpoint.
const (
	FrameJoin        = "join"
	FrameLeave       = "leave"
	FrameJoined      = "joined"
	FrameRoomFull    = "room_full"
	FramePeerJoined  = "peer_joined"
	FramePeerLeft    = "peer_left"
	FrameAwareness   = "awareness"
	FrameDocUpdate   = "doc_update"
	FrameSyncRequest = "sync_request"
	FrameSyncState   = "sync_state"
)

// PeerMeta is the identity a peer publishes to its room.
type PeerMeta struct {
	Name         string `json:"name"`
	Color        string `json:"color,omitempty"`
	IsSuperAdmin bool   `json:"isSuperAdmin"`
}

// Peer is one member of a room.
type Peer struct {
	ClientID string   `json:"client_id"`
	Meta     PeerMeta `json:"meta"`
}

// JoinFrame requests membership of a room.
type JoinFrame struct {
	Type string   `json:"type"`
	Room string   `json:"room"`
	Meta PeerMeta `json:"meta"`
}

// JoinedFrame confirms membership and lists the members already present.
type JoinedFrame struct {
	Type     string `json:"type"`
	Room     string `json:"room"`
	ClientID string `json:"client_id"`
	Peers    []Peer `json:"peers"`
}

// RoomFrame carries a room name only (leave, room_full, sync_request).
type RoomFrame struct {
	Type     string `json:"type"`
	Room     string `json:"room"`
	ClientID string `json:"client_id,omitempty"`
}

// PeerFrame announces a member or its updated metadata.
type PeerFrame struct {
	Type string `json:"type"`
	Room string `json:"room"`
	Peer Peer   `json:"peer"`
}

// DocFrame carries encoded document operations (doc_update, sync_state).
type DocFrame struct {
	Type string          `json:"type"`
	Room string          `json:"room"`
	From string          `json:"from,omitempty"`
	Ops  json.RawMessage `json:"ops"`
}
