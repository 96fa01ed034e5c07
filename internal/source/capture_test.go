package source

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func newTestCaptureSession() *captureSession {
	return &captureSession{
		desc:   DefaultDevice(),
		opts:   DefaultCaptureOptions(),
		buf:    gocv.NewMat(),
		scaled: gocv.NewMat(),
	}
}

// Close must not free the Mats while a read still holds the session
// lock: the in-flight read writes into them. Releasing the capture is
// allowed (that is what unblocks a wedged read), Mat cleanup has to
// wait its turn.
func TestCaptureCloseWaitsForInFlightRead(t *testing.T) {
	s := newTestCaptureSession()

	s.mu.Lock() // stand in for a read stuck inside the decoder

	done := make(chan struct{})
	go func() {
		s.Close()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Close freed the frame buffers while the read lock was held")
	case <-time.After(50 * time.Millisecond):
	}

	// The read returns, Close may now finish.
	s.mu.Unlock()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not complete after the read released the lock")
	}
}

func TestCaptureCloseIdempotent(t *testing.T) {
	s := newTestCaptureSession()
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	// A read after close must refuse cleanly instead of touching the
	// freed buffers.
	_, err := s.ReadFrame()
	require.Error(t, err)
	assert.Equal(t, ReasonUnreachable, ReasonOf(err))
}

func TestOpenCaptureRejectsUnknownKind(t *testing.T) {
	_, err := openCapture(context.Background(), Descriptor{Kind: Kind(99)}, DefaultCaptureOptions())
	require.Error(t, err)
	assert.Equal(t, ReasonUnsupported, ReasonOf(err))
}

func TestOpenCaptureHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := openCapture(ctx, DefaultDevice(), DefaultCaptureOptions())
	require.Error(t, err)
	assert.Equal(t, ReasonTimeout, ReasonOf(err))
}
