package source

import (
	"context"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"hands/streamstudio/internal/frame"
)

// fakeSession produces synthetic frames at a fixed interval and can be
// told to start failing, emulating a source that drops mid-stream.
type fakeSession struct {
	interval time.Duration
	width    int
	height   int

	mu      sync.Mutex
	failErr error
	closed  bool
	done    chan struct{}
}

func newFakeSession(interval time.Duration) *fakeSession {
	return &fakeSession{
		interval: interval,
		width:    64,
		height:   48,
		done:     make(chan struct{}),
	}
}

func (s *fakeSession) fail() { s.failWith(ReasonDecode) }

func (s *fakeSession) failWith(r Reason) {
	s.mu.Lock()
	s.failErr = &Error{Reason: r, Msg: "synthetic failure"}
	s.mu.Unlock()
}

func (s *fakeSession) ReadFrame() (*frame.Frame, error) {
	s.mu.Lock()
	failErr, closed := s.failErr, s.closed
	s.mu.Unlock()
	if closed {
		return nil, &Error{Reason: ReasonUnreachable, Msg: "session closed"}
	}
	if failErr != nil {
		return nil, failErr
	}

	select {
	case <-time.After(s.interval):
	case <-s.done:
		return nil, &Error{Reason: ReasonUnreachable, Msg: "session closed"}
	}

	img := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	return frame.New(img, time.Now()), nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	return nil
}

// blockingSession never produces a frame until closed, emulating a
// hung network source.
type blockingSession struct {
	once sync.Once
	done chan struct{}
}

func newBlockingSession() *blockingSession {
	return &blockingSession{done: make(chan struct{})}
}

func (s *blockingSession) ReadFrame() (*frame.Frame, error) {
	<-s.done
	return nil, &Error{Reason: ReasonUnreachable, Msg: "session closed"}
}

func (s *blockingSession) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

// fakeOpener hands out sessions from a factory and counts opens.
type fakeOpener struct {
	opens   atomic.Int32
	failFor atomic.Int32 // number of leading opens that fail
	factory func() Session
}

func (o *fakeOpener) open(ctx context.Context, d Descriptor) (Session, error) {
	n := o.opens.Add(1)
	if n <= o.failFor.Load() {
		return nil, &Error{Reason: ReasonUnreachable, Msg: "synthetic open failure"}
	}
	return o.factory(), nil
}
