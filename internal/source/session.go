package source

import (
	"context"
	"fmt"
	"time"

	"hands/streamstudio/internal/frame"
)

// Session is an open capture/decoding session against one origin.
//
// Implementations must guarantee:
//   - ReadFrame blocks until a frame is decoded or the session fails
//   - Close is idempotent and unblocks an in-flight ReadFrame
//   - a Session is owned by exactly one reader goroutine at a time
type Session interface {
	// ReadFrame decodes and returns the next frame.
	ReadFrame() (*frame.Frame, error)

	// Close releases the underlying capture resources.
	Close() error
}

// Opener opens a Session for a descriptor. The context bounds the open
// itself; implementations must not block past its deadline.
type Opener func(ctx context.Context, d Descriptor) (Session, error)

// openResult carries the outcome of a blocking open across the timeout
// boundary in OpenWithTimeout.
type openResult struct {
	sess Session
	err  error
}

// OpenWithTimeout wraps an Opener whose underlying open call may block
// indefinitely (a hung network source) so that callers always get an
// answer within the context deadline. If the open completes after the
// deadline has passed, the late session is closed rather than leaked.
func OpenWithTimeout(open Opener, timeout time.Duration) Opener {
	return func(ctx context.Context, d Descriptor) (Session, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		ch := make(chan openResult, 1)
		go func() {
			sess, err := open(ctx, d)
			select {
			case ch <- openResult{sess, err}:
			default:
				// Nobody is listening anymore: the deadline fired.
				if sess != nil {
					sess.Close()
				}
			}
		}()

		select {
		case res := <-ch:
			return res.sess, res.err
		case <-ctx.Done():
			return nil, &Error{
				Reason: ReasonTimeout,
				Msg:    fmt.Sprintf("opening %s exceeded %v", d, timeout),
				Cause:  ctx.Err(),
			}
		}
	}
}

// ReadFirstFrame reads a single frame from an already open session,
// bounded by the context. Used by probes and by the controller's
// startup window.
func ReadFirstFrame(ctx context.Context, sess Session) (*frame.Frame, error) {
	type readResult struct {
		f   *frame.Frame
		err error
	}

	ch := make(chan readResult, 1)
	go func() {
		f, err := sess.ReadFrame()
		ch <- readResult{f, err}
	}()

	select {
	case res := <-ch:
		return res.f, res.err
	case <-ctx.Done():
		// Force the blocking read to return.
		sess.Close()
		return nil, &Error{
			Reason: ReasonTimeout,
			Msg:    "no frame within the startup window",
			Cause:  ctx.Err(),
		}
	}
}
