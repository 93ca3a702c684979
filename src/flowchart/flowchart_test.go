package flowchart

import (
	"sync"
	"testing"
	"time"

	"github.com/ojhub/realtime/src/channel"
	"github.com/ojhub/realtime/src/channel/channeltest"
	"github.com/ojhub/realtime/src/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker(t *testing.T, d *channeltest.Dialer) (*Tracker, *Channel) {
	t.Helper()
	ch := NewChannel(channel.New(channel.Config{
		URL:              channel.EndpointURL("ws://push.test/ws", Path),
		ReconnectDelay:   time.Hour,
		DisableHeartbeat: true,
	}, d, zerolog.Nop()), zerolog.Nop())
	tr := NewTracker(ch, zerolog.Nop())
	t.Cleanup(tr.Close)
	return tr, ch
}

func subscribed(d *channeltest.Dialer, id string) bool {
	conn := d.Last()
	if conn == nil {
		return false
	}
	for _, f := range conn.WrittenOfType(types.FrameSubscribe) {
		var sub types.SubscribeFrame
		if f.Decode(&sub) == nil && sub.SubmissionID == id {
			return true
		}
	}
	return false
}

func TestTrackerCompleted(t *testing.T) {
	d := &channeltest.Dialer{}
	tr, _ := newTestTracker(t, d)

	var mu sync.Mutex
	var calls int
	tr.OnDone(func(r Result, err error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		assert.NoError(t, err)
		assert.Equal(t, "A", r.Grade)
	})

	tr.Track("fc-1")
	assert.True(t, tr.Loading())
	require.Eventually(t, func() bool { return subscribed(d, "fc-1") }, time.Second, 5*time.Millisecond)

	d.Last().Push(types.FlowchartEvaluation{
		Type:     types.FrameFlowchartCompleted,
		Score:    92.5,
		Grade:    "A",
		Feedback: "clear branches",
	})
	require.Eventually(t, func() bool { return !tr.Loading() }, time.Second, 5*time.Millisecond)

	res := tr.Result()
	require.NotNil(t, res)
	assert.Equal(t, 92.5, res.Score)
	assert.Equal(t, "clear branches", res.Feedback)
	assert.NoError(t, tr.Err())

	// A second frame for the same evaluation is not reported twice.
	d.Last().Push(types.FlowchartEvaluation{Type: types.FrameFlowchartCompleted, Grade: "A"})
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestTrackerFailed(t *testing.T) {
	d := &channeltest.Dialer{}
	tr, _ := newTestTracker(t, d)

	tr.Track("fc-2")
	require.Eventually(t, func() bool { return subscribed(d, "fc-2") }, time.Second, 5*time.Millisecond)

	d.Last().Push(types.FlowchartEvaluation{
		Type:         types.FrameFlowchartFailed,
		SubmissionID: "fc-2",
		Error:        "grader timeout",
	})
	require.Eventually(t, func() bool { return !tr.Loading() }, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, tr.Err(), ErrEvaluationFailed)
	assert.Contains(t, tr.Err().Error(), "grader timeout")
	assert.Nil(t, tr.Result())
}

func TestTrackerIgnoresOtherSubmissions(t *testing.T) {
	d := &channeltest.Dialer{}
	tr, _ := newTestTracker(t, d)

	tr.Track("fc-3")
	require.Eventually(t, func() bool { return subscribed(d, "fc-3") }, time.Second, 5*time.Millisecond)

	d.Last().Push(types.FlowchartEvaluation{
		Type:         types.FrameFlowchartCompleted,
		SubmissionID: "fc-old",
		Grade:        "F",
	})
	d.Last().Push(types.SubmissionUpdate{Type: types.FrameSubmissionUpdate, SubmissionID: "fc-3"})
	time.Sleep(30 * time.Millisecond)

	assert.True(t, tr.Loading())
	assert.Nil(t, tr.Result())
}
