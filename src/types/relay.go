package types

import (
	"encoding/json"
	"time"
)

// Endpoints served by the relay under /ws/.
const (
	EndpointSubmission = "submission"
	EndpointConfig     = "config"
	EndpointFlowchart  = "flowchart"
	EndpointSignaling  = "signaling"
)

// Envelope is one publication on a relay topic. Payload is the frame
// delivered verbatim to every subscriber.
type Envelope struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// ClientInfo describes a connection held by the relay.
type ClientInfo struct {
	ID          string    `json:"id"`
	Endpoint    string    `json:"endpoint"`
	ConnectedAt time.Time `json:"connected_at"`
	Topics      []string  `json:"topics"`
	Room        string    `json:"room,omitempty"`
}
