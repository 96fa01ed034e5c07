// Package frame holds the decoded video frame type and the shared
// single-slot buffer that bridges the one active acquirer and all
// connected viewers.
//
// The slot is overwrite-on-publish: if the producer outruns the
// consumers, intermediate frames are discarded. Drop frames, never
// queue - latency over completeness.
package frame

import (
	"image"
	"sync"
	"time"
)

// Frame is a single decoded video frame. Once published to a Slot it
// must be treated as immutable; consumers that need to draw on it work
// on a private copy.
type Frame struct {
	Image     image.Image
	Width     int
	Height    int
	Timestamp time.Time
}

// New builds a Frame from a decoded image, capturing dimensions and
// the capture timestamp.
func New(img image.Image, ts time.Time) *Frame {
	b := img.Bounds()
	return &Frame{
		Image:     img,
		Width:     b.Dx(),
		Height:    b.Dy(),
		Timestamp: ts,
	}
}

// Slot is the single-item shared buffer between one producer and many
// readers. Readers never observe a partially written frame: the frame
// pointer, sequence number and capture timestamp swap under one lock.
type Slot struct {
	mu          sync.RWMutex
	frame       *Frame
	seq         uint64
	lastCapture time.Time
}

// NewSlot returns an empty slot. Seq starts at zero; the first
// published frame observes seq 1.
func NewSlot() *Slot {
	return &Slot{}
}

// Publish overwrites the slot with f and bumps the sequence number.
// Latest-wins: no queueing, no back-pressure on the producer.
func (s *Slot) Publish(f *Frame) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.frame = f
	s.lastCapture = f.Timestamp
	return s.seq
}

// Latest returns the current frame and its sequence number. ok is
// false while the slot is empty (no frame captured yet, or after a
// Reset).
func (s *Slot) Latest() (f *Frame, seq uint64, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.frame == nil {
		return nil, s.seq, false
	}
	return s.frame, s.seq, true
}

// Seq returns the current sequence number without the frame.
func (s *Slot) Seq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seq
}

// Age reports how long ago the last frame was captured. Returns false
// if nothing has ever been published.
func (s *Slot) Age(now time.Time) (time.Duration, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastCapture.IsZero() {
		return 0, false
	}
	return now.Sub(s.lastCapture), true
}

// Reset clears the held frame, typically on a source switch. The
// sequence number keeps increasing so viewers never see it move
// backwards within one process lifetime.
func (s *Slot) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frame = nil
	s.lastCapture = time.Time{}
}
