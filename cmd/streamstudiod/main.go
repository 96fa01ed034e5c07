// Command streamstudiod serves a live MJPEG video feed over HTTP. It
// acquires frames from a webcam or network stream, composites overlays
// onto them, and fans the result out to any number of viewers as a
// multipart/x-mixed-replace stream.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"hands/streamstudio/internal/compose"
	"hands/streamstudio/internal/config"
	"hands/streamstudio/internal/control"
	"hands/streamstudio/internal/frame"
	"hands/streamstudio/internal/httpapi"
	"hands/streamstudio/internal/overlay"
	"hands/streamstudio/internal/source"
)

func main() {
	configPath := flag.String("config", "", "Path to the YAML configuration file.")
	verbose := flag.Bool("verbose", false, "Enable debug logging.")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	if !*verbose {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slot := frame.NewSlot()
	opener := source.NewOpener(cfg.CaptureOptions())

	var snapshots overlay.Snapshotter
	if cfg.OverlayProviderURL != "" {
		snapshots = overlay.NewHTTPProvider(cfg.OverlayProviderURL, cfg.ComposeOptions().FetchTimeout)
		slog.Info("overlay provider enabled", "url", cfg.OverlayProviderURL)
	}
	compositor := compose.New(snapshots, cfg.ComposeOptions())
	encoder := compose.NewEncoder(cfg.Stream.JPEGQuality)

	controller := control.New(opener, slot, cfg.ControlConfig())
	controller.Start(ctx)
	defer controller.Stop()

	// Connect the default source in the background so the HTTP surface
	// comes up immediately. A dead camera at boot degrades the stream,
	// it does not take the daemon down.
	initial, err := source.Parse(cfg.DefaultSource)
	if err != nil {
		initial = source.DefaultDevice()
	}
	go func() {
		if st, err := controller.Switch(ctx, initial); err != nil {
			slog.Warn("initial source unavailable", "source", initial.String(),
				"state", st.State.String(), "error", err)
		} else {
			slog.Info("streaming", "source", initial.String())
		}
	}()

	server := httpapi.NewServer(controller, slot, compositor, encoder, cfg.FrameInterval())
	httpSrv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", cfg.ListenAddr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("shutdown incomplete", "error", err)
	}
}
