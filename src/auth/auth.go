// Package auth holds the observable identity of the local user.
package auth

import (
	"sync"

	"github.com/ojhub/realtime/src/loop"
	"github.com/rs/zerolog"
)

// DefaultName is shown for users without a display name.
const DefaultName = "匿名用户"

// Identity describes the local user as far as realtime features care.
type Identity struct {
	Name          string
	Authenticated bool
	SuperAdmin    bool
}

// DisplayName returns Name, or DefaultName when it is empty.
func (i Identity) DisplayName() string {
	if i.Name == "" {
		return DefaultName
	}
	return i.Name
}

// Source is read by features gated on the local identity.
type Source interface {
	Current() Identity
	Watch(fn func(Identity)) (cancel func())
}

// State is an in-memory Source. The host application calls Set on login,
// logout and profile refresh.
type State struct {
	loop *loop.Loop

	mu       sync.Mutex
	identity Identity
	watchers map[int]func(Identity)
	next     int
}

// NewState returns an unauthenticated State.
func NewState(logger zerolog.Logger) *State {
	return &State{
		loop:     loop.New(logger.With().Str("component", "auth").Logger()),
		watchers: make(map[int]func(Identity)),
	}
}

// Current returns the identity at call time.
func (s *State) Current() Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// Set replaces the identity and notifies watchers when it changed.
func (s *State) Set(id Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == id {
		return
	}
	s.identity = id
	for wid, fn := range s.watchers {
		s.post(wid, fn, id)
	}
}

// Watch calls fn with the current identity and then with every change,
// in order, until cancel is called.
func (s *State) Watch(fn func(Identity)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	s.watchers[id] = fn
	s.post(id, fn, s.identity)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.watchers, id)
	}
}

// Flush waits for pending watcher calls.
func (s *State) Flush() {
	s.loop.Wait()
}

func (s *State) post(wid int, fn func(Identity), id Identity) {
	s.loop.Post(func() {
		s.mu.Lock()
		_, live := s.watchers[wid]
		s.mu.Unlock()
		if live {
			fn(id)
		}
	})
}
