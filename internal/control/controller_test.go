package control

import (
	"context"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hands/streamstudio/internal/frame"
	"hands/streamstudio/internal/source"
)

// stubSession produces synthetic frames; after emitting `stallAfter`
// frames (if > 0) it blocks until closed, emulating a stalled source.
type stubSession struct {
	interval   time.Duration
	stallAfter int

	mu      sync.Mutex
	emitted int
	closed  bool
	done    chan struct{}
}

func newStubSession(interval time.Duration, stallAfter int) *stubSession {
	return &stubSession{interval: interval, stallAfter: stallAfter, done: make(chan struct{})}
}

func (s *stubSession) ReadFrame() (*frame.Frame, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, &source.Error{Reason: source.ReasonUnreachable, Msg: "closed"}
	}
	stalled := s.stallAfter > 0 && s.emitted >= s.stallAfter
	s.mu.Unlock()

	if stalled {
		<-s.done
		return nil, &source.Error{Reason: source.ReasonUnreachable, Msg: "closed"}
	}

	select {
	case <-time.After(s.interval):
	case <-s.done:
		return nil, &source.Error{Reason: source.ReasonUnreachable, Msg: "closed"}
	}

	s.mu.Lock()
	s.emitted++
	s.mu.Unlock()
	return frame.New(image.NewRGBA(image.Rect(0, 0, 64, 48)), time.Now()), nil
}

func (s *stubSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	return nil
}

// testOpener simulates a world where local devices work and remote
// streams behave per the urls map.
type testOpener struct {
	mu         sync.Mutex
	deviceOK   bool
	stallAfter map[string]int // url -> frames before stalling; missing url = unreachable
	opened     []string
}

func newTestOpener() *testOpener {
	return &testOpener{deviceOK: true, stallAfter: map[string]int{}}
}

func (o *testOpener) open(ctx context.Context, d source.Descriptor) (source.Session, error) {
	o.mu.Lock()
	o.opened = append(o.opened, d.String())
	deviceOK := o.deviceOK
	o.mu.Unlock()

	switch d.Kind {
	case source.LocalDevice:
		if !deviceOK {
			return nil, &source.Error{Reason: source.ReasonUnreachable, Msg: "no device"}
		}
		return newStubSession(time.Millisecond, 0), nil
	default:
		o.mu.Lock()
		stall, ok := o.stallAfter[d.URL]
		o.mu.Unlock()
		if !ok {
			return nil, &source.Error{Reason: source.ReasonUnreachable, Msg: "unreachable"}
		}
		return newStubSession(time.Millisecond, stall), nil
	}
}

func testConfig() Config {
	return Config{
		StartupWindow:  300 * time.Millisecond,
		LivenessWindow: 100 * time.Millisecond,
		WatchInterval:  20 * time.Millisecond,
		ProbeTimeout:   300 * time.Millisecond,
		Acquirer: source.AcquirerConfig{
			OpenTimeout:   100 * time.Millisecond,
			MaxRetries:    1,
			RetryDelay:    10 * time.Millisecond,
			MaxRetryDelay: 20 * time.Millisecond,
			StopGrace:     200 * time.Millisecond,
		},
		Fallback: source.DefaultDevice(),
	}
}

func newTestController(t *testing.T, o *testOpener) (*Controller, *frame.Slot) {
	t.Helper()
	slot := frame.NewSlot()
	c := New(o.open, slot, testConfig())
	c.Start(context.Background())
	t.Cleanup(c.Stop)
	return c, slot
}

func TestControllerStartsDisconnected(t *testing.T) {
	c, _ := newTestController(t, newTestOpener())
	assert.Equal(t, Disconnected, c.Status().State)
}

func TestSwitchToWorkingSource(t *testing.T) {
	c, slot := newTestController(t, newTestOpener())

	st, err := c.Switch(context.Background(), source.DefaultDevice())
	require.NoError(t, err)
	assert.Equal(t, Streaming, st.State)
	assert.Equal(t, source.DefaultDevice(), st.Source)

	_, _, ok := slot.Latest()
	assert.True(t, ok, "slot should hold a frame after a successful switch")
}

func TestSwitchNeverLeavesConnecting(t *testing.T) {
	o := newTestOpener()
	c, _ := newTestController(t, o)

	// Working and unreachable sources both settle within the window.
	st, _ := c.Switch(context.Background(), source.DefaultDevice())
	assert.NotEqual(t, Connecting, st.State)

	st, _ = c.Switch(context.Background(),
		source.Descriptor{Kind: source.RemoteStream, URL: "rtsp://unreachable/stream"})
	assert.NotEqual(t, Connecting, st.State)
	assert.NotEqual(t, Connecting, c.Status().State)
}

func TestSwitchUnreachableFallsBack(t *testing.T) {
	c, slot := newTestController(t, newTestOpener())

	bad := source.Descriptor{Kind: source.RemoteStream, URL: "rtsp://unreachable/stream"}
	st, err := c.Switch(context.Background(), bad)

	require.Error(t, err)
	assert.Equal(t, source.ReasonTimeout, source.ReasonOf(err))

	assert.Equal(t, FallenBack, st.State)
	assert.Equal(t, source.DefaultDevice(), st.Source)
	require.NotNil(t, st.FellBackFrom)
	assert.Equal(t, bad, *st.FellBackFrom)

	// The fallback device is actually feeding frames.
	require.Eventually(t, func() bool {
		_, _, ok := slot.Latest()
		return ok
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSwitchDegradedWhenFallbackFails(t *testing.T) {
	o := newTestOpener()
	o.deviceOK = false
	c, _ := newTestController(t, o)

	bad := source.Descriptor{Kind: source.RemoteStream, URL: "rtsp://unreachable/stream"}
	st, err := c.Switch(context.Background(), bad)

	require.Error(t, err)
	assert.Equal(t, Degraded, st.State)
	assert.NotEmpty(t, st.Reason)
}

func TestProbeDoesNotTouchLiveStream(t *testing.T) {
	o := newTestOpener()
	o.stallAfter["rtsp://cam/live"] = 0 // healthy, never stalls
	c, slot := newTestController(t, o)

	_, err := c.Switch(context.Background(), source.DefaultDevice())
	require.NoError(t, err)

	before := c.Status()

	report := c.Probe(context.Background(),
		source.Descriptor{Kind: source.RemoteStream, URL: "rtsp://cam/live"})
	assert.True(t, report.Success)
	assert.Equal(t, "64x48", report.Resolution)

	// State untouched, live frames still flowing.
	assert.Equal(t, before, c.Status())
	seq := slot.Seq()
	require.Eventually(t, func() bool {
		return slot.Seq() > seq
	}, 2*time.Second, 5*time.Millisecond, "live acquirer stalled during probe")
}

func TestProbeUnreachableReportsFailure(t *testing.T) {
	c, _ := newTestController(t, newTestOpener())

	report := c.Probe(context.Background(),
		source.Descriptor{Kind: source.RemoteStream, URL: "rtsp://nowhere/x"})
	assert.False(t, report.Success)
	assert.NotEmpty(t, report.Message)
	assert.Equal(t, Disconnected, c.Status().State, "probe must not mutate state")
}

func TestLivenessFailoverToDefaultDevice(t *testing.T) {
	o := newTestOpener()
	o.stallAfter["rtsp://cam/flaky"] = 3 // a few frames, then silence
	c, _ := newTestController(t, o)

	flaky := source.Descriptor{Kind: source.RemoteStream, URL: "rtsp://cam/flaky"}
	st, err := c.Switch(context.Background(), flaky)
	require.NoError(t, err)
	require.Equal(t, Streaming, st.State)

	// The watchdog should notice the stall and revert to the webcam.
	require.Eventually(t, func() bool {
		s := c.Status()
		return s.State == FallenBack && s.Source == source.DefaultDevice()
	}, 3*time.Second, 10*time.Millisecond)

	s := c.Status()
	require.NotNil(t, s.FellBackFrom)
	assert.Equal(t, flaky, *s.FellBackFrom)
}

func TestConcurrentSwitchesSerialized(t *testing.T) {
	o := newTestOpener()
	o.stallAfter["rtsp://cam/a"] = 0
	o.stallAfter["rtsp://cam/b"] = 0
	c, _ := newTestController(t, o)

	a := source.Descriptor{Kind: source.RemoteStream, URL: "rtsp://cam/a"}
	b := source.Descriptor{Kind: source.RemoteStream, URL: "rtsp://cam/b"}

	var wg sync.WaitGroup
	for _, d := range []source.Descriptor{a, b} {
		wg.Add(1)
		go func(d source.Descriptor) {
			defer wg.Done()
			_, err := c.Switch(context.Background(), d)
			assert.NoError(t, err)
		}(d)
	}
	wg.Wait()

	st := c.Status()
	assert.Equal(t, Streaming, st.State)
	assert.Contains(t, []source.Descriptor{a, b}, st.Source)
}

func TestStopLeavesDisconnected(t *testing.T) {
	o := newTestOpener()
	slot := frame.NewSlot()
	c := New(o.open, slot, testConfig())
	c.Start(context.Background())

	_, err := c.Switch(context.Background(), source.DefaultDevice())
	require.NoError(t, err)

	c.Stop()
	assert.Equal(t, Disconnected, c.Status().State)
}
