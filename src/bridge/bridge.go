package bridge

import "github.com/ojhub/realtime/src/types"

// Bridge defines the interface for cross-instance topic fan-out.
// Implementations relay publications between multiple relay instances.
type Bridge interface {
	// Publish sends an envelope to all other instances via the bridge.
	Publish(env types.Envelope) error

	// Start begins listening for envelopes from other instances.
	Start() error

	// Stop shuts down the bridge connection.
	Stop() error

	// Available reports whether the bridge is connected and operational.
	Available() bool
}

// BroadcastTarget is implemented by the Hub to receive envelopes from the bridge.
type BroadcastTarget interface {
	BroadcastToLocal(env types.Envelope)
}
