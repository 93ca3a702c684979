package collab_test

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/ojhub/realtime/src/auth"
	"github.com/ojhub/realtime/src/channel"
	"github.com/ojhub/realtime/src/collab"
	"github.com/ojhub/realtime/src/hub"
	"github.com/ojhub/realtime/src/server"
	"github.com/ojhub/realtime/src/service"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wait = 3 * time.Second

func startRelay(t *testing.T) string {
	t.Helper()
	h := hub.New(zerolog.Nop())
	go h.Run()
	srv := server.New(server.DefaultConfig(), service.New(h, zerolog.Nop()), zerolog.Nop())
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve(ln)
	t.Cleanup(func() { _ = srv.Shutdown() })
	return "ws://" + ln.Addr().String() + "/ws"
}

type warnings struct {
	mu   sync.Mutex
	msgs []string
}

func (w *warnings) Info(string)    {}
func (w *warnings) Success(string) {}
func (w *warnings) Warning(msg string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msg)
}

func (w *warnings) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.msgs)
}

type participant struct {
	session *collab.Session
	editor  *collab.TextEditor
	toasts  *warnings
	stop    func()

	mu   sync.Mutex
	last collab.Status
}

func (p *participant) status() collab.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

func join(t *testing.T, base string, id auth.Identity, problem, text string) *participant {
	t.Helper()
	chCfg := channel.DefaultConfig("")
	chCfg.DisableHeartbeat = true
	factory := collab.RoomsFactory(base, chCfg, channel.WebSocketDialer{}, zerolog.Nop())

	state := auth.NewState(zerolog.Nop())
	state.Set(id)
	cfg := collab.DefaultConfig()
	cfg.AwarenessDelay = 50 * time.Millisecond
	cfg.BootstrapTimeout = 100 * time.Millisecond

	p := &participant{editor: collab.NewTextEditor(text), toasts: &warnings{}}
	p.session = collab.NewSession(factory, state, p.toasts, cfg, zerolog.Nop())
	p.session.OnStatus(func(s collab.Status) {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.last = s
	})
	stop, err := p.session.Start(problem, p.editor)
	require.NoError(t, err)
	p.stop = stop
	t.Cleanup(stop)
	return p
}

var (
	student = auth.Identity{Name: "alice", Authenticated: true}
	admin   = auth.Identity{Name: "root", Authenticated: true, SuperAdmin: true}
)

func activePair(t *testing.T, base string) (*participant, *participant) {
	t.Helper()
	s := join(t, base, student, "7", "print(1)")
	require.Eventually(t, func() bool { return s.editor.Text() == "print(1)" }, wait, 10*time.Millisecond)

	a := join(t, base, admin, "7", "")
	require.Eventually(t, func() bool {
		return s.session.State() == collab.StateActive && a.session.State() == collab.StateActive
	}, wait, 10*time.Millisecond)
	require.Eventually(t, func() bool { return a.editor.Text() == "print(1)" }, wait, 10*time.Millisecond)
	return s, a
}

func TestStudentAndSuperAdminEditTogether(t *testing.T) {
	base := startRelay(t)
	s, a := activePair(t, base)

	st := s.status()
	assert.True(t, st.CanSync)
	assert.Equal(t, 2, st.RoomUsers)
	require.NotNil(t, st.OtherUser)
	assert.Equal(t, "root", st.OtherUser.Name)
	assert.True(t, st.OtherUser.IsSuperAdmin)

	require.NoError(t, a.editor.Type(0, "# "))
	require.Eventually(t, func() bool { return s.editor.Text() == "# print(1)" }, wait, 10*time.Millisecond)

	require.NoError(t, s.editor.Type(len([]rune("# print(1)")), "\n"))
	require.Eventually(t, func() bool { return a.editor.Text() == "# print(1)\n" }, wait, 10*time.Millisecond)
}

func TestSuperAdminLeavingEndsSession(t *testing.T) {
	base := startRelay(t)
	s, a := activePair(t, base)

	a.stop()
	require.Eventually(t, func() bool { return s.session.State() == collab.StateError }, wait, 10*time.Millisecond)
	s.session.Flush()

	st := s.status()
	assert.Equal(t, collab.CodeSuperAdminLeft, st.ErrorCode)
	assert.False(t, st.Connected)
	assert.Equal(t, 1, s.toasts.count())
	assert.Equal(t, collab.StateStopped, a.session.State())
}

func TestThirdMemberIsTurnedAway(t *testing.T) {
	base := startRelay(t)
	s, a := activePair(t, base)

	late := join(t, base, student, "7", "")
	require.Eventually(t, func() bool { return late.session.State() == collab.StateError }, wait, 10*time.Millisecond)
	late.session.Flush()
	assert.Equal(t, collab.CodeRoomFull, late.status().ErrorCode)

	assert.Equal(t, collab.StateActive, s.session.State())
	assert.Equal(t, collab.StateActive, a.session.State())
}

func TestTwoStudentsCannotCollaborate(t *testing.T) {
	base := startRelay(t)
	first := join(t, base, student, "8", "")
	second := join(t, base, auth.Identity{Name: "bob", Authenticated: true}, "8", "")

	require.Eventually(t, func() bool {
		return first.session.State() == collab.StateError && second.session.State() == collab.StateError
	}, wait, 10*time.Millisecond)
	first.session.Flush()
	second.session.Flush()
	assert.Equal(t, collab.CodeMissingSuperAdmin, first.status().ErrorCode)
	assert.Equal(t, collab.CodeMissingSuperAdmin, second.status().ErrorCode)
}
