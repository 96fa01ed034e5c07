package httpapi

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"hands/streamstudio/internal/compose"
	"hands/streamstudio/internal/control"
)

// streamBoundary delimits frames in the multipart stream. Browsers
// render multipart/x-mixed-replace natively in an <img> tag.
const streamBoundary = "frame"

// handleVideoFeed runs one viewer's streaming loop: on each tick, send
// the latest frame if its sequence number advanced, composited and
// encoded fresh for this viewer. The loop exits when the client goes
// away; one viewer's fate never touches another's.
func (s *Server) handleVideoFeed(c *gin.Context) {
	viewer := uuid.NewString()[:8]
	total := s.viewers.Add(1)
	defer s.viewers.Add(-1)

	slog.Info("stream: viewer connected", "viewer", viewer, "active_streams", total)
	defer slog.Info("stream: viewer disconnected", "viewer", viewer)

	header := c.Writer.Header()
	header.Set("Content-Type", "multipart/x-mixed-replace; boundary="+streamBoundary)
	header.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	header.Set("Connection", "close")
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	ctx := c.Request.Context()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var lastSeq uint64

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		f, seq, ok := s.slot.Latest()
		if !ok {
			// Nothing captured yet (or the source just switched). Show
			// the viewer a status card instead of a frozen player. Sent
			// every tick so the client always has a terminated part.
			if err := s.writePlaceholder(c); err != nil {
				return
			}
			continue
		}

		// Sequence unchanged means the source stalled but has not
		// failed; resending the same frame would just burn bandwidth.
		if seq == lastSeq {
			continue
		}

		img := s.compositor.Compose(ctx, f)
		data, err := s.encoder.Encode(img)
		if err != nil {
			slog.Error("stream: encode failed", "viewer", viewer, "error", err)
			continue
		}

		if err := writeChunk(c.Writer, data); err != nil {
			// Write failure is the disconnect signal.
			return
		}
		c.Writer.Flush()

		lastSeq = seq
	}
}

// writeChunk emits one JPEG as a multipart chunk.
func writeChunk(w io.Writer, jpeg []byte) error {
	if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n",
		streamBoundary, len(jpeg)); err != nil {
		return err
	}
	if _, err := w.Write(jpeg); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}

// writePlaceholder sends a rendered status frame describing why no
// video is flowing.
func (s *Server) writePlaceholder(c *gin.Context) error {
	st := s.controller.Status()

	var msg string
	switch st.State {
	case control.Degraded:
		msg = "Failed to connect"
	case control.Disconnected:
		msg = "No video source"
	default:
		msg = "Connecting..."
	}

	data, err := s.placeholder(msg)
	if err != nil {
		return nil // rendering trouble is not a viewer failure
	}
	if err := writeChunk(c.Writer, data); err != nil {
		return err
	}
	c.Writer.Flush()
	return nil
}

// placeholder returns the encoded status frame for msg, rendering and
// caching it on first use.
func (s *Server) placeholder(msg string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if data, ok := s.placeholders[msg]; ok {
		return data, nil
	}
	data, err := s.encoder.Encode(compose.ErrorFrame(msg))
	if err != nil {
		return nil, err
	}
	s.placeholders[msg] = data
	return data, nil
}
