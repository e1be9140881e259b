package delivery

import "fmt"

// Phase is the lifecycle position of one transport channel.
type Phase int

const (
	PhaseStopped Phase = iota
	PhaseStarting
	PhaseActive
	PhaseDegraded
	PhaseReconnecting
)

func (p Phase) String() string {
	switch p {
	case PhaseStopped:
		return "stopped"
	case PhaseStarting:
		return "starting"
	case PhaseActive:
		return "active"
	case PhaseDegraded:
		return "degraded"
	case PhaseReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// ChannelState describes one channel at a point in time. Exactly one instance
// exists per channel inside the engine.
type ChannelState struct {
	Phase   Phase
	Peers   []string
	Attempt int
}

func (s ChannelState) String() string {
	switch s.Phase {
	case PhaseActive:
		return fmt.Sprintf("active (%d peers)", len(s.Peers))
	case PhaseReconnecting:
		return fmt.Sprintf("reconnecting (attempt %d)", s.Attempt)
	default:
		return s.Phase.String()
	}
}
