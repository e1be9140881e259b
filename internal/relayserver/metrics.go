package relayserver

import "sync/atomic"

// Metrics captures lightweight in-process counters for observability.
type Metrics struct {
	RelayRequests    atomic.Uint64
	Connects         atomic.Uint64
	FramesIn         atomic.Uint64
	Forwarded        atomic.Uint64
	QueuedOffline    atomic.Uint64
	RegisterAttempts atomic.Uint64
	LoginAttempts    atomic.Uint64
	HealthChecks     atomic.Uint64
}
