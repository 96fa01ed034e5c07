// Package config loads the streamstudiod YAML configuration and maps
// it onto the tuning knobs of the pipeline packages. Every threshold
// that drives failover policy lives here rather than in code.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"hands/streamstudio/internal/compose"
	"hands/streamstudio/internal/control"
	"hands/streamstudio/internal/source"
)

// EnvDefaultSource overrides the configured default source token.
const EnvDefaultSource = "STREAMSTUDIO_SOURCE"

// Config is the complete daemon configuration.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	// DefaultSource is the source token used at startup: "", "0" or
	// "webcam" for the default device, a device index, or a stream URI.
	DefaultSource string `yaml:"default_source"`
	// OverlayProviderURL points at the external overlay CRUD service.
	// Empty disables overlay compositing.
	OverlayProviderURL string `yaml:"overlay_provider_url"`

	Stream   StreamConfig   `yaml:"stream"`
	Capture  CaptureConfig  `yaml:"capture"`
	Failover FailoverConfig `yaml:"failover"`
	Overlays OverlayConfig  `yaml:"overlays"`
}

// StreamConfig tunes the per-viewer multipart stream.
type StreamConfig struct {
	// FrameIntervalMS is the minimum interval between frames sent to
	// one viewer; it caps per-viewer bandwidth.
	FrameIntervalMS int `yaml:"frame_interval_ms"`
	JPEGQuality     int `yaml:"jpeg_quality"`
}

// CaptureConfig tunes the capture sessions.
type CaptureConfig struct {
	TargetWidth  int `yaml:"target_width"`
	TargetHeight int `yaml:"target_height"`
	FrameSkip    int `yaml:"frame_skip"`
}

// FailoverConfig tunes the source controller and acquirer retry
// policy. All thresholds are deployment policy.
type FailoverConfig struct {
	StartupWindowS  int `yaml:"startup_window_s"`
	LivenessWindowS int `yaml:"liveness_window_s"`
	WatchIntervalMS int `yaml:"watch_interval_ms"`
	ProbeTimeoutS   int `yaml:"probe_timeout_s"`
	OpenTimeoutS    int `yaml:"open_timeout_s"`
	MaxRetries      int `yaml:"max_retries"`
	RetryDelayS     int `yaml:"retry_delay_s"`
	MaxRetryDelayS  int `yaml:"max_retry_delay_s"`
	StopGraceS      int `yaml:"stop_grace_s"`
}

// OverlayConfig tunes overlay snapshotting and image fetching.
type OverlayConfig struct {
	SnapshotTimeoutMS int `yaml:"snapshot_timeout_ms"`
	FetchTimeoutMS    int `yaml:"fetch_timeout_ms"`
	CacheTTLMS        int `yaml:"cache_ttl_ms"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		ListenAddr:    ":5000",
		DefaultSource: "",
		Stream: StreamConfig{
			FrameIntervalMS: 33,
			JPEGQuality:     85,
		},
		Capture: CaptureConfig{
			TargetWidth:  1280,
			TargetHeight: 720,
			FrameSkip:    2,
		},
		Failover: FailoverConfig{
			StartupWindowS:  4,
			LivenessWindowS: 3,
			WatchIntervalMS: 1000,
			ProbeTimeoutS:   5,
			OpenTimeoutS:    5,
			MaxRetries:      5,
			RetryDelayS:     1,
			MaxRetryDelayS:  30,
			StopGraceS:      3,
		},
		Overlays: OverlayConfig{
			SnapshotTimeoutMS: 200,
			FetchTimeoutMS:    2000,
			CacheTTLMS:        30000,
		},
	}
}

// Load reads and parses a YAML configuration file, layering it over
// the defaults. An empty path returns the defaults. The
// STREAMSTUDIO_SOURCE environment variable overrides the default
// source token either way.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: failed to parse config: %w", err)
		}
	}

	if env := os.Getenv(EnvDefaultSource); env != "" {
		cfg.DefaultSource = env
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func Validate(cfg *Config) error {
	if cfg.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if cfg.Stream.JPEGQuality < 1 || cfg.Stream.JPEGQuality > 100 {
		return fmt.Errorf("stream.jpeg_quality must be 1-100, got %d", cfg.Stream.JPEGQuality)
	}
	if cfg.Stream.FrameIntervalMS < 1 {
		return fmt.Errorf("stream.frame_interval_ms must be positive, got %d", cfg.Stream.FrameIntervalMS)
	}
	if cfg.Failover.StartupWindowS < 1 {
		return fmt.Errorf("failover.startup_window_s must be positive, got %d", cfg.Failover.StartupWindowS)
	}
	if cfg.Failover.LivenessWindowS < 1 {
		return fmt.Errorf("failover.liveness_window_s must be positive, got %d", cfg.Failover.LivenessWindowS)
	}
	if cfg.Failover.MaxRetries < 0 {
		return fmt.Errorf("failover.max_retries must not be negative, got %d", cfg.Failover.MaxRetries)
	}
	if _, err := source.Parse(cfg.DefaultSource); err != nil {
		return fmt.Errorf("default_source: %w", err)
	}
	return nil
}

// FrameInterval returns the per-viewer minimum inter-frame interval.
func (c *Config) FrameInterval() time.Duration {
	return time.Duration(c.Stream.FrameIntervalMS) * time.Millisecond
}

// CaptureOptions maps the config onto the capture session tuning.
func (c *Config) CaptureOptions() source.CaptureOptions {
	return source.CaptureOptions{
		TargetWidth:  c.Capture.TargetWidth,
		TargetHeight: c.Capture.TargetHeight,
		FrameSkip:    c.Capture.FrameSkip,
	}
}

// ControlConfig maps the config onto the source controller policy.
func (c *Config) ControlConfig() control.Config {
	return control.Config{
		StartupWindow:  time.Duration(c.Failover.StartupWindowS) * time.Second,
		LivenessWindow: time.Duration(c.Failover.LivenessWindowS) * time.Second,
		WatchInterval:  time.Duration(c.Failover.WatchIntervalMS) * time.Millisecond,
		ProbeTimeout:   time.Duration(c.Failover.ProbeTimeoutS) * time.Second,
		Acquirer: source.AcquirerConfig{
			OpenTimeout:   time.Duration(c.Failover.OpenTimeoutS) * time.Second,
			MaxRetries:    c.Failover.MaxRetries,
			RetryDelay:    time.Duration(c.Failover.RetryDelayS) * time.Second,
			MaxRetryDelay: time.Duration(c.Failover.MaxRetryDelayS) * time.Second,
			StopGrace:     time.Duration(c.Failover.StopGraceS) * time.Second,
		},
		Fallback: source.DefaultDevice(),
	}
}

// ComposeOptions maps the config onto the compositor tuning.
func (c *Config) ComposeOptions() compose.Options {
	return compose.Options{
		SnapshotTimeout: time.Duration(c.Overlays.SnapshotTimeoutMS) * time.Millisecond,
		FetchTimeout:    time.Duration(c.Overlays.FetchTimeoutMS) * time.Millisecond,
		CacheTTL:        time.Duration(c.Overlays.CacheTTLMS) * time.Millisecond,
	}
}
