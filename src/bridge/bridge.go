package bridge

import "github.com/orchestra-mcp/canvasbus/src/types"

// Bridge defines the interface for cross-instance message broadcasting.
// Implementations relay broadcasts between multiple bus instances.
type Bridge interface {
	// Publish sends a broadcast to all other instances via the bridge.
	Publish(out types.Outbound) error

	// Start begins listening for broadcasts from other instances.
	Start() error

	// Stop shuts down the bridge connection.
	Stop() error

	// Available reports whether the bridge is connected and operational.
	Available() bool
}

// BroadcastTarget is implemented by the Hub to receive broadcasts from the bridge.
type BroadcastTarget interface {
	BroadcastToLocal(out types.Outbound)
}
