// Package flowchart tracks the asynchronous grading of flowchart submissions.
package flowchart

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ojhub/realtime/src/channel"
	"github.com/ojhub/realtime/src/types"
	"github.com/rs/zerolog"
)

// Path is the push endpoint segment for flowchart grading.
const Path = "flowchart"

// ErrEvaluationFailed wraps the grader's error message.
var ErrEvaluationFailed = errors.New("flowchart evaluation failed")

// Channel receives flowchart evaluation results.
type Channel struct {
	*channel.Channel
	logger zerolog.Logger
}

// NewChannel wraps a push channel bound to the flowchart endpoint.
func NewChannel(ch *channel.Channel, logger zerolog.Logger) *Channel {
	return &Channel{
		Channel: ch,
		logger:  logger.With().Str("component", "flowchart-channel").Logger(),
	}
}

// Subscribe asks for the evaluation of submission id.
func (c *Channel) Subscribe(id string) bool {
	ok := c.Send(types.SubscribeFrame{Type: types.FrameSubscribe, SubmissionID: id})
	if !ok {
		c.logger.Error().Str("submission_id", id).Msg("subscribe failed: channel not connected")
	}
	return ok
}

// AddEvaluationHandler registers fn for completed and failed evaluations.
func (c *Channel) AddEvaluationHandler(fn func(types.FlowchartEvaluation)) channel.HandlerID {
	return c.AddHandler(func(f types.Frame) error {
		if f.Type != types.FrameFlowchartCompleted && f.Type != types.FrameFlowchartFailed {
			return nil
		}
		var ev types.FlowchartEvaluation
		if err := f.Decode(&ev); err != nil {
			return fmt.Errorf("decode flowchart evaluation: %w", err)
		}
		fn(ev)
		return nil
	})
}

// Result is a successful evaluation.
type Result struct {
	Score    float64
	Grade    string
	Feedback string
}

// Tracker follows the evaluation of one submission at a time.
type Tracker struct {
	ch        *Channel
	logger    zerolog.Logger
	handlerID channel.HandlerID

	mu      sync.Mutex
	id      string
	loading bool
	result  *Result
	err     error
	unwatch func()
	done    []func(Result, error)
}

// NewTracker attaches a tracker to ch.
func NewTracker(ch *Channel, logger zerolog.Logger) *Tracker {
	t := &Tracker{
		ch:     ch,
		logger: logger.With().Str("component", "flowchart-tracker").Logger(),
	}
	t.handlerID = ch.AddEvaluationHandler(t.handle)
	return t
}

// OnDone registers fn, called when the tracked evaluation completes or fails.
func (t *Tracker) OnDone(fn func(Result, error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.done = append(t.done, fn)
}

// Track starts waiting for the evaluation of id.
func (t *Tracker) Track(id string) {
	t.mu.Lock()
	t.id = id
	t.loading = true
	t.result = nil
	t.err = nil
	if t.unwatch != nil {
		t.unwatch()
		t.unwatch = nil
	}
	t.mu.Unlock()

	t.ch.CancelScheduledDisconnect()
	t.ch.Connect()

	var once sync.Once
	unwatch := t.ch.Watch(func(s channel.Status) {
		if s != channel.StatusConnected {
			return
		}
		once.Do(func() {
			if t.tracking(id) {
				t.ch.Subscribe(id)
			}
		})
	})

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.id != id {
		unwatch()
		return
	}
	t.unwatch = unwatch
}

// Loading reports whether an evaluation is outstanding.
func (t *Tracker) Loading() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loading
}

// Result returns the last completed evaluation, or nil.
func (t *Tracker) Result() *Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.result == nil {
		return nil
	}
	r := *t.result
	return &r
}

// Err returns the last failure, or nil.
func (t *Tracker) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Close detaches the tracker and closes its channel.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.unwatch != nil {
		t.unwatch()
		t.unwatch = nil
	}
	t.id = ""
	t.loading = false
	t.mu.Unlock()

	t.ch.RemoveHandler(t.handlerID)
	t.ch.Close()
}

func (t *Tracker) tracking(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.id == id && t.loading
}

func (t *Tracker) handle(ev types.FlowchartEvaluation) {
	t.mu.Lock()
	if !t.loading || (ev.SubmissionID != "" && ev.SubmissionID != t.id) {
		t.mu.Unlock()
		return
	}
	t.loading = false
	var (
		res Result
		err error
	)
	if ev.Type == types.FrameFlowchartFailed {
		err = fmt.Errorf("%w: %s", ErrEvaluationFailed, ev.Error)
		t.err = err
	} else {
		res = Result{Score: ev.Score, Grade: ev.Grade, Feedback: ev.Feedback}
		t.result = &res
	}
	done := append([]func(Result, error){}, t.done...)
	id := t.id
	t.mu.Unlock()

	t.logger.Info().Str("submission_id", id).Bool("failed", err != nil).Msg("flowchart evaluated")
	for _, fn := range done {
		fn(res, err)
	}
	t.ch.ScheduleDisconnect(0)
}
