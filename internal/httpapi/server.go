// Package httpapi exposes the streaming pipeline over HTTP: the
// multipart video feed, the source settings endpoints, and the
// connection probe.
package httpapi

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"hands/streamstudio/internal/compose"
	"hands/streamstudio/internal/control"
	"hands/streamstudio/internal/frame"
	"hands/streamstudio/internal/source"
)

// Server wires the pipeline components behind the HTTP surface.
type Server struct {
	controller *control.Controller
	slot       *frame.Slot
	compositor *compose.Compositor
	encoder    *compose.Encoder
	interval   time.Duration

	viewers atomic.Int64

	mu           sync.Mutex
	placeholders map[string][]byte // encoded error frames by message
}

// NewServer builds the HTTP surface over the pipeline. interval is the
// minimum inter-frame interval per viewer.
func NewServer(controller *control.Controller, slot *frame.Slot, compositor *compose.Compositor, encoder *compose.Encoder, interval time.Duration) *Server {
	return &Server{
		controller:   controller,
		slot:         slot,
		compositor:   compositor,
		encoder:      encoder,
		interval:     interval,
		placeholders: make(map[string][]byte),
	}
}

// ActiveViewers reports the number of open stream connections.
func (s *Server) ActiveViewers() int64 { return s.viewers.Load() }

// Router builds the gin engine with all routes attached.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.Use(func(c *gin.Context) {
		slog.Debug("http: request", "method", c.Request.Method, "path", c.Request.URL.Path)
		c.Next()
	})

	router.GET("/", s.handleIndex)
	router.GET("/health", s.handleHealth)
	router.GET("/video_feed", s.handleVideoFeed)
	router.GET("/settings", s.handleGetSettings)
	router.POST("/settings", s.handleUpdateSettings)
	router.POST("/test_connection", s.handleTestConnection)

	return router
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// currentSource reports the origin feeding frames in the settings wire
// shape, or nil while nothing is streaming: a degraded or disconnected
// pipeline must not claim device 0 is live.
func currentSource(st control.Status) any {
	switch st.State {
	case control.Disconnected, control.Degraded:
		return nil
	default:
		return st.Source.Value()
	}
}

func (s *Server) handleIndex(c *gin.Context) {
	st := s.controller.Status()
	c.JSON(http.StatusOK, gin.H{
		"status":         "Backend running",
		"state":          st.State.String(),
		"current_source": currentSource(st),
		"active_streams": s.viewers.Load(),
	})
}

func (s *Server) handleGetSettings(c *gin.Context) {
	st := s.controller.Status()
	c.JSON(http.StatusOK, gin.H{
		"current_source": currentSource(st),
		"active_streams": s.viewers.Load(),
	})
}

// sourceRequest is the body of POST /settings and POST /test_connection.
type sourceRequest struct {
	RTSPURL string `json:"rtsp_url"`
}

func (s *Server) handleUpdateSettings(c *gin.Context) {
	var req sourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	desc, err := source.Parse(req.RTSPURL)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid source. Use webcam (0) or valid RTSP/HTTP URL",
		})
		return
	}

	st, err := s.controller.Switch(c.Request.Context(), desc)
	if err != nil {
		// The requested source failed; the controller has already
		// fallen back (or degraded). Report the typed failure along
		// with where the system actually landed.
		c.JSON(http.StatusBadGateway, gin.H{
			"error":          err.Error(),
			"error_reason":   source.ReasonOf(err).String(),
			"state":          st.State.String(),
			"current_source": currentSource(st),
			"active_streams": s.viewers.Load(),
		})
		return
	}

	var msg string
	if desc.Kind == source.LocalDevice {
		msg = fmt.Sprintf("Switched to Webcam (Device %d)", desc.Device)
	} else {
		msg = fmt.Sprintf("Switched to stream: %s", desc.URL)
	}
	slog.Info("http: settings updated", "message", msg)

	c.JSON(http.StatusOK, gin.H{
		"message":        msg,
		"current_source": st.Source.Value(),
		"source_type":    desc.Kind.String(),
		"active_streams": s.viewers.Load(),
	})
}

func (s *Server) handleTestConnection(c *gin.Context) {
	var req sourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid request body"})
		return
	}

	desc, err := source.Parse(req.RTSPURL)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "Invalid source. Use webcam (0) or valid RTSP/HTTP URL",
		})
		return
	}

	report := s.controller.Probe(c.Request.Context(), desc)
	if !report.Success {
		c.JSON(http.StatusBadRequest, report)
		return
	}
	c.JSON(http.StatusOK, report)
}
