// Package collab runs a two-person collaborative editing session for one
// problem: a regular user and a super admin share a document through a
// signaling room, and the session enforces who may be in that room.
package collab

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ojhub/realtime/src/auth"
	"github.com/ojhub/realtime/src/channel"
	"github.com/ojhub/realtime/src/crdt"
	"github.com/ojhub/realtime/src/loop"
	"github.com/ojhub/realtime/src/rooms"
	"github.com/ojhub/realtime/src/types"
	"github.com/rs/zerolog"
)

// Provider is the room transport a session runs on.
type Provider interface {
	Connect()
	Disconnect()
	Destroy()
	ClientID() string
	OnStatus(fn func(channel.Status))
	OnPeers(fn func(rooms.PeersEvent))
	OnAwareness(fn func(map[string]types.PeerMeta))
	OnSynced(fn func())
	OnRoomFull(fn func())
}

// Factory builds the document and transport for one session start.
type Factory func(room string, meta types.PeerMeta) (*crdt.Doc, Provider, error)

type syncState string

const (
	syncNone    syncState = ""
	syncWaiting syncState = "waiting"
	syncActive  syncState = "active"
	syncError   syncState = "error"
)

// Session binds one editor to one room at a time.
type Session struct {
	factory Factory
	auth    auth.Source
	notify  Notifier
	cfg     Config
	logger  zerolog.Logger
	events  *loop.Loop

	mu             sync.Mutex
	state          State
	gen            uint64
	identity       auth.Identity
	room           string
	doc            *crdt.Doc
	provider       Provider
	editor         Editor
	attached       bool
	connected      bool
	members        map[string]UserInfo
	seen           map[string]UserInfo
	lastSync       syncState
	superLeftShown bool
	hasInitialized bool
	bootstrapTimer *time.Timer
	settleTimer    *time.Timer
	listeners      []func(Status)
}

// NewSession creates an idle session. notify may be nil.
func NewSession(factory Factory, src auth.Source, notify Notifier, cfg Config, logger zerolog.Logger) *Session {
	if notify == nil {
		notify = nopNotifier{}
	}
	logger = logger.With().Str("component", "collab").Logger()
	return &Session{
		factory: factory,
		auth:    src,
		notify:  notify,
		cfg:     cfg.withDefaults(),
		logger:  logger,
		events:  loop.New(logger),
		state:   StateIdle,
	}
}

// OnStatus registers fn for status updates.
func (s *Session) OnStatus(fn func(Status)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// State returns the lifecycle stage.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Room returns the room of the current or last session.
func (s *Session) Room() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// Flush waits until queued status updates and notifications are delivered.
func (s *Session) Flush() {
	s.events.Wait()
}

// Start joins the room of problemID with editor. Unauthenticated users get
// a no-op. A session that is already running is not replaced.
func (s *Session) Start(problemID string, editor Editor) (stop func(), err error) {
	id := s.auth.Current()
	if !id.Authenticated {
		s.logger.Debug().Str("problem_id", problemID).Msg("not authenticated, collaboration disabled")
		return func() {}, nil
	}

	s.mu.Lock()
	if s.state.running() {
		s.mu.Unlock()
		return nil, ErrSessionActive
	}
	s.gen++
	gen := s.gen
	s.state = StateStarting
	s.identity = id
	s.room = RoomName(problemID)
	room := s.room
	s.mu.Unlock()

	meta := types.PeerMeta{Name: id.DisplayName(), Color: s.color(id), IsSuperAdmin: id.SuperAdmin}
	doc, provider, err := s.factory(room, meta)
	if err != nil {
		s.mu.Lock()
		if s.gen == gen {
			s.state = StateError
		}
		s.mu.Unlock()
		return nil, fmt.Errorf("create room provider: %w", err)
	}

	saved := editor.Text()

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		provider.Destroy()
		doc.Destroy()
		return func() {}, nil
	}
	s.doc, s.provider, s.editor = doc, provider, editor
	s.members = make(map[string]UserInfo)
	s.seen = make(map[string]UserInfo)
	s.lastSync = syncNone
	s.superLeftShown = false
	s.hasInitialized = false
	s.connected = false
	s.mu.Unlock()

	provider.OnStatus(func(st channel.Status) { s.transportStatus(gen, st) })
	provider.OnPeers(func(ev rooms.PeersEvent) { s.peersChanged(gen, ev) })
	provider.OnAwareness(func(states map[string]types.PeerMeta) {
		s.awarenessChanged(gen, provider.ClientID(), states)
	})
	provider.OnSynced(func() { s.bootstrap(gen, saved) })
	provider.OnRoomFull(func() { s.roomFull(gen, s.cfg.MaxRoomUsers+1) })

	editor.SetText("")
	if err := editor.Attach(doc); err != nil {
		s.teardown(gen, StateError)
		return nil, fmt.Errorf("attach editor: %w", err)
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return func() {}, nil
	}
	s.attached = true
	s.bootstrapTimer = time.AfterFunc(s.cfg.BootstrapTimeout, func() { s.bootstrap(gen, saved) })
	s.state = StateWaiting
	s.lastSync = syncWaiting
	s.emitLocked(Status{Connected: true, RoomUsers: 1, Message: msgReady})
	if id.SuperAdmin {
		s.toastLocked(s.notify.Info, msgWaitStudent)
	} else {
		s.toastLocked(s.notify.Info, msgWaitSuperAdmin)
	}
	s.mu.Unlock()

	s.logger.Info().Str("room", room).Bool("super_admin", id.SuperAdmin).Msg("collaboration started")
	provider.Connect()
	return func() { s.teardown(gen, StateStopped) }, nil
}

// Stop tears the current session down. Every step runs even if an
// earlier one fails.
func (s *Session) Stop() {
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()
	s.teardown(gen, StateStopped)
}

func (s *Session) color(id auth.Identity) string {
	if id.SuperAdmin {
		return s.cfg.SuperAdminColor
	}
	return s.cfg.RegularColor
}

// bootstrap seeds the empty shared document with the editor's text from
// before the session started. The first of the timeout and the synced
// event wins; the other is a no-op.
func (s *Session) bootstrap(gen uint64, saved string) {
	s.mu.Lock()
	if s.gen != gen || s.hasInitialized {
		s.mu.Unlock()
		return
	}
	s.hasInitialized = true
	if s.bootstrapTimer != nil {
		s.bootstrapTimer.Stop()
		s.bootstrapTimer = nil
	}
	doc := s.doc
	s.mu.Unlock()

	if doc == nil || saved == "" {
		return
	}
	ops, err := doc.InsertIfEmpty(saved)
	if err != nil {
		s.logger.Warn().Err(err).Msg("seed shared document")
		return
	}
	if len(ops) == 0 {
		return
	}
	s.logger.Debug().Int("chars", doc.Length()).Msg("seeded shared document")
}

func (s *Session) transportStatus(gen uint64, st channel.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return
	}
	if st == channel.StatusConnected {
		s.connected = true
		return
	}
	if !s.connected {
		return
	}
	s.connected = false
	s.logger.Warn().Str("room", s.room).Str("status", string(st)).Msg("signaling connection lost")
	s.emitLocked(Status{
		Message:   msgDisconnected,
		Error:     errDisconnected,
		ErrorCode: CodeConnectionLost,
	})
	s.toastLocked(s.notify.Warning, toastDisconnected)
}

func (s *Session) peersChanged(gen uint64, ev rooms.PeersEvent) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	size := ev.Count + 1
	for _, p := range ev.Added {
		info := UserInfo{Name: p.Meta.Name, IsSuperAdmin: p.Meta.IsSuperAdmin}
		s.seen[p.ClientID] = info
		s.members[p.ClientID] = info
	}

	if size > s.cfg.MaxRoomUsers {
		s.mu.Unlock()
		s.roomFull(gen, size)
		return
	}

	if left, ok := s.superAdminLeftLocked(ev.Removed); ok {
		s.superLeftShown = true
		s.logger.Warn().Str("room", s.room).Str("name", left.Name).Msg("super admin left")
		s.emitLocked(Status{
			Message:   superAdminLeftMessage(left.Name),
			Error:     errSuperAdminLeft,
			ErrorCode: CodeSuperAdminLeft,
		})
		s.toastLocked(s.notify.Warning, superAdminLeftToast(left.Name))
		s.mu.Unlock()
		s.teardown(gen, StateError)
		return
	}
	for _, p := range ev.Removed {
		delete(s.members, p.ClientID)
	}

	if s.settleTimer != nil {
		s.settleTimer.Stop()
	}
	s.settleTimer = time.AfterFunc(s.cfg.AwarenessDelay, func() { s.checkPermissions(gen, size) })
	s.mu.Unlock()
}

func (s *Session) superAdminLeftLocked(removed []types.Peer) (UserInfo, bool) {
	if s.identity.SuperAdmin || s.superLeftShown {
		return UserInfo{}, false
	}
	for _, p := range removed {
		info, ok := s.seen[p.ClientID]
		if !ok {
			info = UserInfo{Name: p.Meta.Name, IsSuperAdmin: p.Meta.IsSuperAdmin}
		}
		if info.IsSuperAdmin {
			return info, true
		}
	}
	return UserInfo{}, false
}

func (s *Session) awarenessChanged(gen uint64, self string, states map[string]types.PeerMeta) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	members := make(map[string]UserInfo, len(states))
	for id, meta := range states {
		if id == self {
			continue
		}
		info := UserInfo{Name: meta.Name, IsSuperAdmin: meta.IsSuperAdmin}
		members[id] = info
		s.seen[id] = info
	}
	s.members = members
	s.mu.Unlock()

	s.checkPermissions(gen, len(states))
}

// checkPermissions applies the room policy: two members with at least one
// super admin may edit; two members without one is fatal; fewer waits.
func (s *Session) checkPermissions(gen uint64, size int) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	hasSuper := s.identity.SuperAdmin
	for _, m := range s.members {
		hasSuper = hasSuper || m.IsSuperAdmin
	}
	other := s.otherUserLocked()
	max := s.cfg.MaxRoomUsers

	switch {
	case size == max && !hasSuper:
		s.emitLocked(Status{
			Connected: true,
			RoomUsers: size,
			Message:   msgMissingSuperAdmin,
			Error:     errMissingSuperAdmin,
			ErrorCode: CodeMissingSuperAdmin,
			OtherUser: other,
		})
		if s.lastSync != syncError {
			s.toastLocked(s.notify.Warning, toastMissingSuperAdmin)
			s.lastSync = syncError
		}
		s.logger.Warn().Str("room", s.room).Msg("room has no super admin")
		s.mu.Unlock()
		s.teardown(gen, StateError)
		return

	case CanSync(size, max, hasSuper):
		s.emitLocked(Status{
			Connected: true,
			RoomUsers: size,
			CanSync:   true,
			Message:   msgActive,
			OtherUser: other,
		})
		if s.lastSync != syncActive {
			s.toastLocked(s.notify.Success, msgActive)
			s.lastSync = syncActive
			s.logger.Info().Str("room", s.room).Msg("collaboration active")
		}
		s.state = StateActive
		attach := !s.attached
		s.attached = true
		editor, doc := s.editor, s.doc
		s.mu.Unlock()
		if attach && editor != nil {
			if err := editor.Attach(doc); err != nil {
				s.logger.Error().Err(err).Msg("reattach editor")
			}
		}
		return

	default:
		msg := msgWaitSuperAdmin
		if s.identity.SuperAdmin {
			msg = msgWaitStudent
		}
		s.emitLocked(Status{
			Connected: true,
			RoomUsers: size,
			Message:   msg,
			OtherUser: other,
		})
		s.state = StateWaiting
		s.lastSync = syncWaiting
		s.mu.Unlock()
	}
}

func (s *Session) roomFull(gen uint64, size int) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	max := s.cfg.MaxRoomUsers
	s.logger.Warn().Str("room", s.room).Int("size", size).Msg("room full")
	s.emitLocked(Status{
		RoomUsers: size,
		Message:   msgRoomFull,
		Error:     roomFullError(max),
		ErrorCode: CodeRoomFull,
	})
	s.toastLocked(s.notify.Warning, roomFullToast(max))
	s.mu.Unlock()
	s.teardown(gen, StateError)
}

// teardown releases everything the session gen holds and leaves the
// session in final. Stale generations are ignored.
func (s *Session) teardown(gen uint64, final State) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.gen++
	editor, provider, doc := s.editor, s.provider, s.doc
	attached := s.attached
	s.editor, s.provider, s.doc = nil, nil, nil
	s.attached = false
	s.connected = false
	if s.bootstrapTimer != nil {
		s.bootstrapTimer.Stop()
		s.bootstrapTimer = nil
	}
	if s.settleTimer != nil {
		s.settleTimer.Stop()
		s.settleTimer = nil
	}
	s.members = nil
	s.seen = nil
	s.lastSync = syncNone
	s.superLeftShown = false
	s.state = final
	room := s.room
	s.mu.Unlock()

	if editor != nil && attached {
		s.step("detach editor", editor.Detach)
	}
	if provider != nil {
		s.step("disconnect provider", func() error { provider.Disconnect(); return nil })
		s.step("destroy provider", func() error { provider.Destroy(); return nil })
	}
	if doc != nil {
		s.step("destroy document", func() error { doc.Destroy(); return nil })
	}
	if provider != nil {
		s.logger.Info().Str("room", room).Str("state", string(final)).Msg("collaboration stopped")
	}
}

func (s *Session) step(name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn().Interface("panic", r).Str("step", name).Msg("teardown step failed")
		}
	}()
	if err := fn(); err != nil {
		s.logger.Warn().Err(err).Str("step", name).Msg("teardown step failed")
	}
}

func (s *Session) otherUserLocked() *UserInfo {
	if len(s.members) == 0 {
		return nil
	}
	ids := make([]string, 0, len(s.members))
	for id := range s.members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	info := s.members[ids[0]]
	return &info
}

func (s *Session) emitLocked(st Status) {
	fns := append([]func(Status){}, s.listeners...)
	s.events.Post(func() {
		for _, fn := range fns {
			fn(st)
		}
	})
}

func (s *Session) toastLocked(show func(string), msg string) {
	s.events.Post(func() { show(msg) })
}
