package types

import (
	"encoding/json"
	"errors"
	"time"
)

// Frame types understood on the push and signaling endpoints.
const (
	FramePing             = "ping"
	FramePong             = "pong"
	FrameSubscribe        = "subscribe"
	FrameSubmissionUpdate = "submission_update"
	FrameConfigUpdate     = "config_update"

	FrameFlowchartCompleted = "flowchart_evaluation_completed"
	FrameFlowchartFailed    = "flowchart_evaluation_failed"
)

// ErrMissingType is returned by ParseFrame for objects without a type discriminator.
var ErrMissingType = errors.New("frame has no type")

// Frame is one decoded JSON object received from a connection.
// Raw keeps the full object so typed handlers can decode it again.
type Frame struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// ParseFrame decodes the type discriminator of a frame.
func ParseFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, err
	}
	if f.Type == "" {
		return Frame{}, ErrMissingType
	}
	f.Raw = append(json.RawMessage(nil), data...)
	return f, nil
}

// Decode unmarshals the whole frame into v.
func (f Frame) Decode(v any) error {
	return json.Unmarshal(f.Raw, v)
}

// PingFrame is the heartbeat sent by a channel.
type PingFrame struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// NewPing builds a ping frame stamped with t in milliseconds.
func NewPing(t time.Time) PingFrame {
	return PingFrame{Type: FramePing, Timestamp: t.UnixMilli()}
}

// PongFrame acknowledges a ping.
type PongFrame struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// SubscribeFrame asks the relay for updates about one submission.
type SubscribeFrame struct {
	Type         string `json:"type"`
	SubmissionID string `json:"submission_id"`
}

// UpdateStatus is the coarse judge progress carried by a submission update.
type UpdateStatus string

const (
	UpdatePending  UpdateStatus = "pending"
	UpdateJudging  UpdateStatus = "judging"
	UpdateFinished UpdateStatus = "finished"
	UpdateError    UpdateStatus = "error"
)

// Terminal reports whether no further updates follow this status.
func (s UpdateStatus) Terminal() bool {
	return s == UpdateFinished || s == UpdateError
}

// SubmissionUpdate is pushed by the judge for a subscribed submission.
type SubmissionUpdate struct {
	Type         string       `json:"type"`
	SubmissionID string       `json:"submission_id"`
	Result       JudgeResult  `json:"result"`
	Status       UpdateStatus `json:"status"`
	TimeCost     *int         `json:"time_cost,omitempty"`
	MemoryCost   *int         `json:"memory_cost,omitempty"`
	Score        *int         `json:"score,omitempty"`
	ErrInfo      string       `json:"err_info,omitempty"`
}

// ConfigUpdate announces a new value for one site configuration key.
type ConfigUpdate struct {
	Type  string          `json:"type"`
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// FlowchartEvaluation is pushed when a flowchart submission has been graded.
type FlowchartEvaluation struct {
	Type         string  `json:"type"`
	SubmissionID string  `json:"submission_id,omitempty"`
	Score        float64 `json:"score,omitempty"`
	Grade        string  `json:"grade,omitempty"`
	Feedback     string  `json:"feedback,omitempty"`
	Error        string  `json:"error,omitempty"`
}

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteJSON(v any) error
	Close() error
}
