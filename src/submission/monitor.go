package submission

import (
	"context"
	"sync"
	"time"

	"github.com/ojhub/realtime/src/channel"
	"github.com/ojhub/realtime/src/loop"
	"github.com/ojhub/realtime/src/types"
	"github.com/rs/zerolog"
)

// Fetcher loads the authoritative submission record.
type Fetcher interface {
	GetSubmission(ctx context.Context, id string) (*types.Submission, error)
}

// MonitorConfig tunes the push/poll race.
type MonitorConfig struct {
	PollInterval   time.Duration `yaml:"poll_interval"`
	FallbackDelay  time.Duration `yaml:"fallback_delay"`
	IdleDisconnect time.Duration `yaml:"idle_disconnect"`
	FetchTimeout   time.Duration `yaml:"fetch_timeout"`
}

// DefaultMonitorConfig polls every 2s once push has been silent for 5s.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		PollInterval:   2 * time.Second,
		FallbackDelay:  5 * time.Second,
		IdleDisconnect: 15 * time.Minute,
		FetchTimeout:   10 * time.Second,
	}
}

func (c MonitorConfig) withDefaults() MonitorConfig {
	d := DefaultMonitorConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.FallbackDelay <= 0 {
		c.FallbackDelay = d.FallbackDelay
	}
	if c.IdleDisconnect <= 0 {
		c.IdleDisconnect = d.IdleDisconnect
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = d.FetchTimeout
	}
	return c
}

// Monitor tracks one submission at a time until its judge result is final.
// Push updates are the primary path; polling starts when push has not
// settled the result within FallbackDelay. A terminal push is never trusted
// on its own: the record is always re-fetched before it is published.
type Monitor struct {
	ch        *Channel
	fetch     Fetcher
	cfg       MonitorConfig
	logger    zerolog.Logger
	events    *loop.Loop
	handlerID channel.HandlerID

	mu        sync.Mutex
	gen       uint64
	id        string
	sub       *types.Submission
	settled   bool
	closed    bool
	pollStop  chan struct{}
	fallback  *time.Timer
	unwatch   func()
	onChange  []func(types.Submission)
	onSettled []func(types.Submission)
}

// NewMonitor attaches a monitor to ch. The monitor owns ch from now on.
func NewMonitor(ch *Channel, fetch Fetcher, cfg MonitorConfig, logger zerolog.Logger) *Monitor {
	logger = logger.With().Str("component", "submission-monitor").Logger()
	m := &Monitor{
		ch:     ch,
		fetch:  fetch,
		cfg:    cfg.withDefaults(),
		logger: logger,
		events: loop.New(logger),
	}
	m.handlerID = ch.AddUpdateHandler(m.handleUpdate)
	return m
}

// OnChange registers fn for every change of the tracked record.
func (m *Monitor) OnChange(fn func(types.Submission)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, fn)
}

// OnSettled registers fn, called once per tracked submission when its
// result stops being pending, judging or submitting.
func (m *Monitor) OnSettled(fn func(types.Submission)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSettled = append(m.onSettled, fn)
}

// StartMonitoring tracks id, replacing any previously tracked submission.
func (m *Monitor) StartMonitoring(id string) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.gen++
	gen := m.gen
	m.id = id
	m.sub = &types.Submission{ID: id, Result: types.ResultSubmitting}
	m.settled = false
	m.stopPollingLocked()
	m.stopFallbackLocked()
	m.stopWatchLocked()
	m.fallback = time.AfterFunc(m.cfg.FallbackDelay, func() { m.fallbackFired(gen) })
	m.postChangeLocked(*m.sub, false)
	m.mu.Unlock()

	m.logger.Info().Str("submission_id", id).Msg("monitoring started")

	m.ch.CancelScheduledDisconnect()
	if m.ch.Status() != channel.StatusConnected {
		m.ch.Connect()
	}

	var once sync.Once
	unwatch := m.ch.Watch(func(s channel.Status) {
		if s != channel.StatusConnected {
			return
		}
		once.Do(func() {
			if m.isCurrent(gen) {
				m.ch.Subscribe(id)
			}
		})
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen || m.closed {
		unwatch()
		return
	}
	m.unwatch = unwatch
}

// PausePolling stops the poll loop if it is running.
func (m *Monitor) PausePolling() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopPollingLocked()
}

// Close stops every timer, removes the push handler and closes the channel.
func (m *Monitor) Close() {
	m.mu.Lock()
	m.closed = true
	m.gen++
	m.stopPollingLocked()
	m.stopFallbackLocked()
	m.stopWatchLocked()
	m.mu.Unlock()

	m.ch.RemoveHandler(m.handlerID)
	m.ch.Close()
}

// SubmissionID returns the tracked id.
func (m *Monitor) SubmissionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id
}

// Submission returns a copy of the tracked record.
func (m *Monitor) Submission() (types.Submission, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sub == nil {
		return types.Submission{}, false
	}
	return *m.sub, true
}

func (m *Monitor) result() (types.JudgeResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sub == nil {
		return 0, false
	}
	return m.sub.Result, true
}

// Judging reports whether the judge is running the submission.
func (m *Monitor) Judging() bool {
	r, ok := m.result()
	return ok && r == types.ResultJudging
}

// Pending reports whether the submission is queued.
func (m *Monitor) Pending() bool {
	r, ok := m.result()
	return ok && r == types.ResultPending
}

// Submitting reports whether the submission has not been acknowledged yet.
func (m *Monitor) Submitting() bool {
	r, ok := m.result()
	return ok && r == types.ResultSubmitting
}

// IsProcessing reports whether the result may still change.
func (m *Monitor) IsProcessing() bool {
	r, ok := m.result()
	return ok && r.Processing()
}

// Polling reports whether the fallback poll loop is running.
func (m *Monitor) Polling() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pollStop != nil
}

// Flush waits until queued change notifications have been delivered.
func (m *Monitor) Flush() {
	m.events.Wait()
}

func (m *Monitor) handleUpdate(u types.SubmissionUpdate) {
	m.mu.Lock()
	if m.closed || m.sub == nil || u.SubmissionID != m.id {
		m.mu.Unlock()
		m.logger.Debug().Str("submission_id", u.SubmissionID).Msg("ignoring update for untracked submission")
		return
	}
	gen := m.gen
	id := m.id

	if !u.Status.Terminal() {
		if !m.settled {
			m.sub.Result = u.Result
			m.postChangeLocked(*m.sub, false)
		}
		m.mu.Unlock()
		return
	}

	m.stopPollingLocked()
	m.stopFallbackLocked()
	m.mu.Unlock()

	m.logger.Info().
		Str("submission_id", id).
		Str("status", string(u.Status)).
		Msg("judge finished, confirming result")
	go m.confirm(gen, id)
}

// confirm re-fetches the record after a terminal push. When the fetch
// fails, polling takes over so the result still converges.
func (m *Monitor) confirm(gen uint64, id string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.FetchTimeout)
	defer cancel()

	sub, err := m.fetch.GetSubmission(ctx, id)
	if err != nil {
		m.logger.Error().Err(err).Str("submission_id", id).Msg("confirm fetch failed, polling instead")
		m.mu.Lock()
		if m.gen == gen && !m.settled {
			m.startPollingLocked(gen, id)
		}
		m.mu.Unlock()
		return
	}
	if m.apply(gen, sub) {
		m.ch.ScheduleDisconnect(m.cfg.IdleDisconnect)
	}
}

func (m *Monitor) fallbackFired(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.sub == nil {
		return
	}
	m.fallback = nil
	if m.sub.Result.Processing() {
		m.logger.Info().Str("submission_id", m.id).Msg("push silent, starting poll fallback")
		m.startPollingLocked(gen, m.id)
	}
}

func (m *Monitor) startPollingLocked(gen uint64, id string) {
	if m.pollStop != nil {
		return
	}
	stop := make(chan struct{})
	m.pollStop = stop
	go m.poll(gen, id, stop)
}

func (m *Monitor) poll(gen uint64, id string, stop chan struct{}) {
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.FetchTimeout)
		sub, err := m.fetch.GetSubmission(ctx, id)
		cancel()
		if err != nil {
			m.logger.Error().Err(err).Str("submission_id", id).Msg("poll failed")
			m.stopPollingIf(stop)
			return
		}
		if !m.apply(gen, sub) {
			return
		}
		if sub.Result != types.ResultJudging && sub.Result != types.ResultPending {
			m.stopPollingIf(stop)
			return
		}
	}
}

// apply stores a fetched record if gen is still current.
func (m *Monitor) apply(gen uint64, sub *types.Submission) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return false
	}
	rec := *sub
	if rec.ID == "" {
		rec.ID = m.id
	}
	m.sub = &rec
	settledNow := !m.settled && !rec.Result.Processing()
	if settledNow {
		m.settled = true
		m.logger.Info().
			Str("submission_id", rec.ID).
			Str("result", rec.Result.String()).
			Msg("judge result settled")
	}
	m.postChangeLocked(rec, settledNow)
	return true
}

func (m *Monitor) postChangeLocked(sub types.Submission, settled bool) {
	change := append([]func(types.Submission){}, m.onChange...)
	var done []func(types.Submission)
	if settled {
		done = append(done, m.onSettled...)
	}
	m.events.Post(func() {
		for _, fn := range change {
			fn(sub)
		}
		for _, fn := range done {
			fn(sub)
		}
	})
}

func (m *Monitor) isCurrent(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.gen && !m.closed
}

func (m *Monitor) stopPollingIf(stop chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pollStop == stop {
		close(stop)
		m.pollStop = nil
	}
}

func (m *Monitor) stopPollingLocked() {
	if m.pollStop != nil {
		close(m.pollStop)
		m.pollStop = nil
	}
}

func (m *Monitor) stopFallbackLocked() {
	if m.fallback != nil {
		m.fallback.Stop()
		m.fallback = nil
	}
}

func (m *Monitor) stopWatchLocked() {
	if m.unwatch != nil {
		m.unwatch()
		m.unwatch = nil
	}
}
