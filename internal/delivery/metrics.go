package delivery

import (
	"fmt"
	"sync/atomic"
)

// Metrics captures lightweight in-process counters for the delivery paths.
type Metrics struct {
	Sent      atomic.Uint64
	Acked     atomic.Uint64
	Persisted atomic.Uint64
	Replayed  atomic.Uint64
	Dropped   atomic.Uint64
	Received  atomic.Uint64
}

// Snapshot renders the counters for the /stats command.
func (m *Metrics) Snapshot() string {
	if m == nil {
		return "metrics disabled"
	}
	return fmt.Sprintf("sent=%d acked=%d persisted=%d replayed=%d dropped=%d received=%d",
		m.Sent.Load(), m.Acked.Load(), m.Persisted.Load(),
		m.Replayed.Load(), m.Dropped.Load(), m.Received.Load())
}
