// Package control owns the "which source feeds the slot" decision:
// switching, probing, liveness failover. Exactly one acquirer is live
// at a time; switches are serialized so two producers can never write
// the slot concurrently.
package control

import "hands/streamstudio/internal/source"

// State is the source lifecycle state. It is owned and mutated only by
// the Controller; everyone else reads snapshots.
type State int

const (
	// Disconnected means no acquirer is running.
	Disconnected State = iota
	// Connecting means a switch is in flight waiting for a first frame.
	Connecting
	// Streaming means the requested source is producing frames.
	Streaming
	// Degraded means even the fallback device failed; the reason says why.
	Degraded
	// FallenBack means the requested source failed and the default
	// local device took over.
	FallenBack
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Streaming:
		return "streaming"
	case Degraded:
		return "degraded"
	case FallenBack:
		return "fallen_back"
	default:
		return "unknown"
	}
}

// Status is a point-in-time snapshot of the controller state.
type Status struct {
	State State
	// Source is the origin currently feeding frames. Meaningful for
	// Streaming and FallenBack.
	Source source.Descriptor
	// FellBackFrom records the origin that failed, when State is
	// FallenBack.
	FellBackFrom *source.Descriptor
	// Reason carries the failure explanation for Degraded/FallenBack.
	Reason string
}

// Report is the outcome of a connection probe.
type Report struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	Resolution string `json:"resolution,omitempty"`
}
