package hub_test

import (
	"testing"
	"time"

	"github.com/ojhub/realtime/src/hub"
	"github.com/ojhub/realtime/src/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	student = types.PeerMeta{Name: "alice", Color: "#4dabf7"}
	coach = types.PeerMeta{Name: "root", Color: "#ff6b6b", IsSuperAdmin: true}
)

func decodeJoined(t *testing.T, f types.Frame) types.JoinedFrame {
	t.Helper()
	var m types.JoinedFrame
	require.NoError(t, f.Decode(&m))
	return m
}

func decodePeer(t *testing.T, f types.Frame) types.PeerFrame {
	t.Helper()
	var m types.PeerFrame
	require.NoError(t, f.Decode(&m))
	return m
}

func TestJoinRoomAnnouncesMembers(t *testing.T) {
	h := newTestHub(t)
	a, connA := registerClient(t, h, "a", types.EndpointSignaling)
	b, connB := registerClient(t, h, "b", types.EndpointSignaling)

	require.NoError(t, h.JoinRoom(a, "problem-1", student))
	require.Eventually(t, frames(connA, types.FrameJoined), wait, time.Millisecond)
	first := decodeJoined(t, connA.WrittenOfType(types.FrameJoined)[0])
	assert.Equal(t, "a", first.ClientID)
	assert.Empty(t, first.Peers)

	require.NoError(t, h.JoinRoom(b, "problem-1", coach))
	require.Eventually(t, frames(connB, types.FrameJoined), wait, time.Millisecond)
	second := decodeJoined(t, connB.WrittenOfType(types.FrameJoined)[0])
	assert.Equal(t, []types.Peer{{ClientID: "a", Meta: student}}, second.Peers)

	require.Eventually(t, frames(connA, types.FramePeerJoined), wait, time.Millisecond)
	joined := decodePeer(t, connA.WrittenOfType(types.FramePeerJoined)[0])
	assert.Equal(t, types.Peer{ClientID: "b", Meta: coach}, joined.Peer)
	assert.Empty(t, connB.WrittenOfType(types.FramePeerJoined))

	assert.Equal(t, map[string]int{"problem-1": 2}, h.Rooms())
	assert.Equal(t, "problem-1", h.ClientInfo("b").Room)
}

func TestJoinRoomRefusesThirdMember(t *testing.T) {
	h := newTestHub(t)
	a, _ := registerClient(t, h, "a", types.EndpointSignaling)
	b, _ := registerClient(t, h, "b", types.EndpointSignaling)
	c, connC := registerClient(t, h, "c", types.EndpointSignaling)

	require.NoError(t, h.JoinRoom(a, "problem-1", student))
	require.NoError(t, h.JoinRoom(b, "problem-1", coach))
	assert.ErrorIs(t, h.JoinRoom(c, "problem-1", student), hub.ErrRoomFull)

	require.Eventually(t, frames(connC, types.FrameRoomFull), wait, time.Millisecond)
	assert.Empty(t, connC.WrittenOfType(types.FrameJoined))
	assert.Equal(t, 2, h.Rooms()["problem-1"])
	assert.Empty(t, h.ClientInfo("c").Room)
}

func TestSetMaxPeers(t *testing.T) {
	h := newTestHub(t)
	h.SetMaxPeers(1)
	h.SetMaxPeers(0)
	a, _ := registerClient(t, h, "a", types.EndpointSignaling)
	b, _ := registerClient(t, h, "b", types.EndpointSignaling)

	require.NoError(t, h.JoinRoom(a, "solo", student))
	assert.ErrorIs(t, h.JoinRoom(b, "solo", student), hub.ErrRoomFull)
}

func TestDisconnectSendsPeerLeft(t *testing.T) {
	h := newTestHub(t)
	a, connA := registerClient(t, h, "a", types.EndpointSignaling)
	b, connB := registerClient(t, h, "b", types.EndpointSignaling)
	require.NoError(t, h.JoinRoom(a, "problem-1", student))
	require.NoError(t, h.JoinRoom(b, "problem-1", coach))

	connB.Close()
	require.Eventually(t, frames(connA, types.FramePeerLeft), wait, time.Millisecond)
	left := decodePeer(t, connA.WrittenOfType(types.FramePeerLeft)[0])
	assert.Equal(t, types.Peer{ClientID: "b", Meta: coach}, left.Peer)
	assert.Equal(t, 1, h.Rooms()["problem-1"])

	h.LeaveRoom(a)
	assert.Empty(t, h.Rooms())
}

func TestRejoinLeavesPreviousRoom(t *testing.T) {
	h := newTestHub(t)
	a, _ := registerClient(t, h, "a", types.EndpointSignaling)
	b, connB := registerClient(t, h, "b", types.EndpointSignaling)
	require.NoError(t, h.JoinRoom(b, "problem-1", coach))
	require.NoError(t, h.JoinRoom(a, "problem-1", student))

	require.NoError(t, h.JoinRoom(a, "problem-2", student))
	require.Eventually(t, frames(connB, types.FramePeerLeft), wait, time.Millisecond)
	assert.Equal(t, map[string]int{"problem-1": 1, "problem-2": 1}, h.Rooms())
}

func TestRelayToRoomSkipsSender(t *testing.T) {
	h := newTestHub(t)
	a, connA := registerClient(t, h, "a", types.EndpointSignaling)
	b, connB := registerClient(t, h, "b", types.EndpointSignaling)
	outsider, _ := registerClient(t, h, "o", types.EndpointSignaling)
	require.NoError(t, h.JoinRoom(a, "problem-1", student))
	require.NoError(t, h.JoinRoom(b, "problem-1", coach))

	require.NoError(t, h.RelayToRoom(a, types.DocFrame{Type: types.FrameDocUpdate, Room: "problem-1", From: "a"}))
	require.Eventually(t, frames(connB, types.FrameDocUpdate), wait, time.Millisecond)
	assert.Empty(t, connA.WrittenOfType(types.FrameDocUpdate))

	assert.ErrorIs(t, h.RelayToRoom(outsider, types.DocFrame{Type: types.FrameDocUpdate}), hub.ErrNotInRoom)
	assert.ErrorIs(t, h.UpdateMeta(outsider, student), hub.ErrNotInRoom)
}

func TestUpdateMetaRelaysAwareness(t *testing.T) {
	h := newTestHub(t)
	a, _ := registerClient(t, h, "a", types.EndpointSignaling)
	b, connB := registerClient(t, h, "b", types.EndpointSignaling)
	require.NoError(t, h.JoinRoom(a, "problem-1", student))
	require.NoError(t, h.JoinRoom(b, "problem-1", coach))

	renamed := types.PeerMeta{Name: "alice2", Color: "#4dabf7"}
	require.NoError(t, h.UpdateMeta(a, renamed))
	require.Eventually(t, frames(connB, types.FrameAwareness), wait, time.Millisecond)
	assert.Equal(t, renamed, decodePeer(t, connB.WrittenOfType(types.FrameAwareness)[0]).Peer.Meta)

	c, connC := registerClient(t, h, "c", types.EndpointSignaling)
	h.LeaveRoom(b)
	require.NoError(t, h.JoinRoom(c, "problem-1", coach))
	require.Eventually(t, frames(connC, types.FrameJoined), wait, time.Millisecond)
	assert.Equal(t, []types.Peer{{ClientID: "a", Meta: renamed}}, decodeJoined(t, connC.WrittenOfType(types.FrameJoined)[0]).Peers)
}
