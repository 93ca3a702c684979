package configsync

import (
	"sync"

	"github.com/ojhub/realtime/src/auth"
	"github.com/ojhub/realtime/src/channel"
	"github.com/ojhub/realtime/src/types"
	"github.com/rs/zerolog"
)

// Syncer feeds config broadcasts into a Store while the user is logged in.
type Syncer struct {
	ch     *Channel
	store  *Store
	auth   auth.Source
	logger zerolog.Logger

	mu        sync.Mutex
	handlerID channel.HandlerID
	cancel    func()
	running   bool
}

// NewSyncer wires ch into store, gated on src.
func NewSyncer(ch *Channel, store *Store, src auth.Source, logger zerolog.Logger) *Syncer {
	return &Syncer{
		ch:     ch,
		store:  store,
		auth:   src,
		logger: logger.With().Str("component", "config-sync").Logger(),
	}
}

// Start connects whenever the user is authenticated and disconnects
// whenever they are not, for as long as the syncer runs.
func (s *Syncer) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.handlerID = s.ch.AddUpdateHandler(func(u types.ConfigUpdate) {
		if s.store.Apply(u.Key, u.Value) {
			s.logger.Debug().Str("key", u.Key).Msg("config updated")
		}
	})
	s.cancel = s.auth.Watch(func(id auth.Identity) {
		if id.Authenticated {
			s.ch.Connect()
			return
		}
		s.ch.Disconnect()
	})
}

// Stop detaches from auth changes and closes the channel.
func (s *Syncer) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.ch.RemoveHandler(s.handlerID)
	s.ch.Disconnect()
}
