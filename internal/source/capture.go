package source

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"

	"hands/streamstudio/internal/frame"
)

// CaptureOptions tune the OpenCV-backed capture sessions.
type CaptureOptions struct {
	// TargetWidth/TargetHeight bound the decoded frame size. Frames
	// wider than TargetWidth are downscaled before publishing so the
	// browser never has to wrestle a 4k image.
	TargetWidth  int
	TargetHeight int

	// FrameSkip keeps 1 out of every N decoded frames to bound CPU and
	// bandwidth. 0 and 1 both mean "keep every frame".
	FrameSkip int
}

// DefaultCaptureOptions mirror the tuning the dashboard was built
// around: 720p ceiling, every second frame.
func DefaultCaptureOptions() CaptureOptions {
	return CaptureOptions{
		TargetWidth:  1280,
		TargetHeight: 720,
		FrameSkip:    2,
	}
}

// NewOpener returns an Opener backed by OpenCV video capture. It
// handles both descriptor kinds: device indexes and stream URIs.
func NewOpener(opts CaptureOptions) Opener {
	return func(ctx context.Context, d Descriptor) (Session, error) {
		return openCapture(ctx, d, opts)
	}
}

// captureSession wraps a gocv.VideoCapture behind the Session
// contract. One reader goroutine owns ReadFrame; Close may be called
// from any goroutine to unblock it.
type captureSession struct {
	desc Descriptor
	opts CaptureOptions

	mu        sync.Mutex
	cap       *gocv.VideoCapture
	buf       gocv.Mat
	scaled    gocv.Mat
	closed    atomic.Bool
	closeOnce sync.Once
}

func openCapture(ctx context.Context, d Descriptor, opts CaptureOptions) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Reason: ReasonTimeout, Cause: err}
	}

	var (
		cap *gocv.VideoCapture
		err error
	)
	switch d.Kind {
	case LocalDevice:
		cap, err = gocv.OpenVideoCapture(d.Device)
	case RemoteStream:
		// Force TCP transport for RTSP; UDP loss shows up as smearing
		// and green/grey artifacts.
		os.Setenv("OPENCV_FFMPEG_CAPTURE_OPTIONS", "rtsp_transport;tcp")
		cap, err = gocv.OpenVideoCapture(d.URL)
	default:
		return nil, &Error{Reason: ReasonUnsupported, Msg: fmt.Sprintf("unknown source kind %d", d.Kind)}
	}
	if err != nil {
		return nil, &Error{
			Reason: ReasonUnreachable,
			Msg:    fmt.Sprintf("could not open video source %s", d),
			Cause:  err,
		}
	}
	if !cap.IsOpened() {
		cap.Close()
		return nil, &Error{
			Reason: ReasonUnreachable,
			Msg:    fmt.Sprintf("could not open video source %s", d),
		}
	}

	// Keep the internal OpenCV buffer at one frame to bound latency.
	cap.Set(gocv.VideoCaptureBufferSize, 1)

	slog.Info("source: capture session opened", "source", d.String(), "kind", d.Kind.String())

	return &captureSession{
		desc:   d,
		opts:   opts,
		cap:    cap,
		buf:    gocv.NewMat(),
		scaled: gocv.NewMat(),
	}, nil
}

// ReadFrame decodes the next frame, honoring the frame-skip ratio and
// the downscale ceiling, and returns it as an immutable frame.Frame.
func (s *captureSession) ReadFrame() (*frame.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return nil, &Error{Reason: ReasonUnreachable, Msg: "session closed"}
	}

	reads := s.opts.FrameSkip
	if reads < 1 {
		reads = 1
	}
	for i := 0; i < reads; i++ {
		if ok := s.cap.Read(&s.buf); !ok {
			return nil, &Error{
				Reason: ReasonDecode,
				Msg:    fmt.Sprintf("failed to read frame from %s", s.desc),
			}
		}
	}
	if s.buf.Empty() {
		return nil, &Error{
			Reason: ReasonDecode,
			Msg:    fmt.Sprintf("empty frame from %s", s.desc),
		}
	}

	src := s.buf
	if s.opts.TargetWidth > 0 && s.buf.Cols() > s.opts.TargetWidth {
		gocv.Resize(s.buf, &s.scaled,
			image.Pt(s.opts.TargetWidth, s.opts.TargetHeight), 0, 0,
			gocv.InterpolationArea)
		src = s.scaled
	}

	img, err := src.ToImage()
	if err != nil {
		return nil, &Error{
			Reason: ReasonDecode,
			Msg:    "failed to convert frame",
			Cause:  err,
		}
	}

	return frame.New(img, time.Now()), nil
}

// Close releases the capture device. Idempotent; also used to force an
// in-flight ReadFrame on a wedged source to return.
func (s *captureSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		// Releasing the capture happens without s.mu so it can yank a
		// blocked Read. The Mats must not be freed until that read has
		// returned: ReadFrame writes into them under s.mu.
		if s.cap != nil {
			err = s.cap.Close()
		}
		s.mu.Lock()
		s.buf.Close()
		s.scaled.Close()
		s.mu.Unlock()
		slog.Debug("source: capture session closed", "source", s.desc.String())
	})
	return err
}
