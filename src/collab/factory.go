package collab

import (
	"github.com/ojhub/realtime/src/channel"
	"github.com/ojhub/realtime/src/crdt"
	"github.com/ojhub/realtime/src/rooms"
	"github.com/ojhub/realtime/src/types"
	"github.com/rs/zerolog"
)

// RoomsFactory returns a Factory that dials the signaling endpoint under
// base for every session start. chCfg.URL is ignored; dialer may be nil.
func RoomsFactory(base string, chCfg channel.Config, dialer channel.Dialer, logger zerolog.Logger) Factory {
	chCfg.URL = channel.EndpointURL(base, rooms.Path)
	return func(room string, meta types.PeerMeta) (*crdt.Doc, Provider, error) {
		doc := crdt.New()
		ch := channel.New(chCfg, dialer, logger)
		return doc, rooms.New(ch, doc, room, meta, logger), nil
	}
}
