// Package overlay defines the overlay records drawn onto outgoing
// frames and the snapshot provider contract. The records themselves
// are owned by the external CRUD subsystem; this core only consumes
// point-in-time snapshots of them.
package overlay

import "context"

// Kind is the overlay payload type.
type Kind string

const (
	// Text renders Content as a string inside the record rectangle.
	Text Kind = "text"
	// Image fetches Content as an image URL and stretches it to fill
	// the record rectangle.
	Image Kind = "image"
)

// Record is one overlay in stream-pixel coordinates. Snapshot order is
// draw order: later records draw on top.
type Record struct {
	ID      string `json:"_id"`
	Kind    Kind   `json:"type"`
	Content string `json:"content"`
	X       int    `json:"x"`
	Y       int    `json:"y"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
}

// Snapshotter supplies the current ordered overlay list. Implementations
// must return quickly; the compositor applies a short timeout and
// composites with zero overlays when the provider misbehaves.
type Snapshotter interface {
	Snapshot(ctx context.Context) ([]Record, error)
}

// Static is a fixed snapshot, useful for tests and for deployments
// without the CRUD subsystem.
type Static []Record

// Snapshot returns the fixed record list.
func (s Static) Snapshot(ctx context.Context) ([]Record, error) {
	return s, nil
}
