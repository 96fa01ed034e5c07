package control

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"hands/streamstudio/internal/frame"
	"hands/streamstudio/internal/source"
)

// Config bounds the controller's timing policy. The thresholds are
// deliberately configurable: how long a source may stall before
// failover is a deployment choice, not a protocol constant.
type Config struct {
	// StartupWindow is how long a newly switched source gets to
	// produce its first frame before the controller falls back.
	StartupWindow time.Duration
	// LivenessWindow is how long a live source may go without a frame
	// before automatic failover kicks in.
	LivenessWindow time.Duration
	// WatchInterval is the liveness check cadence.
	WatchInterval time.Duration
	// ProbeTimeout bounds a whole connection test.
	ProbeTimeout time.Duration
	// Acquirer is the per-worker retry policy.
	Acquirer source.AcquirerConfig
	// Fallback is the origin the controller reverts to after sustained
	// failure. Zero value means the default local device.
	Fallback source.Descriptor
}

// DefaultConfig returns the timing policy used when the config file
// does not override it.
func DefaultConfig() Config {
	return Config{
		StartupWindow:  4 * time.Second,
		LivenessWindow: 3 * time.Second,
		WatchInterval:  1 * time.Second,
		ProbeTimeout:   5 * time.Second,
		Acquirer:       source.DefaultAcquirerConfig(),
		Fallback:       source.DefaultDevice(),
	}
}

// Controller is the single authority over the live acquirer. Switch
// and failover are serialized through one mutex; Probe never touches
// the live path.
type Controller struct {
	open source.Opener
	slot *frame.Slot
	cfg  Config

	// switchMu serializes Switch, failover and Stop. Never held while
	// waiting on anything that needs a failure callback to complete.
	switchMu sync.Mutex

	mu     sync.RWMutex
	status Status
	acq    *source.Acquirer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a controller over the given session opener and slot. The
// initial state is Disconnected.
func New(open source.Opener, slot *frame.Slot, cfg Config) *Controller {
	return &Controller{
		open:   open,
		slot:   slot,
		cfg:    cfg,
		status: Status{State: Disconnected},
	}
}

// Start launches the liveness watchdog. ctx scopes all acquirers the
// controller will ever start.
func (c *Controller) Start(ctx context.Context) {
	c.ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go c.watch()
}

// Stop tears down the watchdog and the live acquirer.
func (c *Controller) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()

	c.switchMu.Lock()
	defer c.switchMu.Unlock()

	c.mu.Lock()
	acq := c.acq
	c.acq = nil
	c.status = Status{State: Disconnected}
	c.mu.Unlock()

	if acq != nil {
		acq.Stop()
	}
}

// Status returns a read-only snapshot for status reporting.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Switch stops the live acquirer and binds a new one to desc. On
// success the state is Streaming(desc); if desc produces no frame
// within the startup window the controller falls back to the default
// device (FallenBack) and the requested source's failure is returned
// as a typed error. Concurrent switches are serialized, never
// interleaved.
func (c *Controller) Switch(ctx context.Context, desc source.Descriptor) (Status, error) {
	c.switchMu.Lock()
	defer c.switchMu.Unlock()

	slog.Info("control: switching source", "source", desc.String())

	c.stopCurrent()
	c.setStatus(Status{State: Connecting, Source: desc})
	c.slot.Reset()

	if c.startAndAwait(desc) {
		st := Status{State: Streaming, Source: desc}
		c.setStatus(st)
		slog.Info("control: source streaming", "source", desc.String())
		return st, nil
	}

	cause := &source.Error{
		Reason: source.ReasonTimeout,
		Msg:    fmt.Sprintf("%s produced no frame within %v", desc, c.cfg.StartupWindow),
	}
	st := c.fallBackLocked(desc, cause.Error())
	return st, cause
}

// Probe opens a separate, throwaway session against desc, tries to
// read one frame, and reports the outcome. It never touches the slot,
// the live acquirer, or the controller state: testing a connection
// does not interrupt the active stream.
func (c *Controller) Probe(ctx context.Context, desc source.Descriptor) Report {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()

	slog.Info("control: probing source", "source", desc.String())

	open := source.OpenWithTimeout(c.open, c.cfg.ProbeTimeout)
	sess, err := open(ctx, desc)
	if err != nil {
		return Report{Success: false, Message: "Failed to connect to source"}
	}
	defer sess.Close()

	f, err := source.ReadFirstFrame(ctx, sess)
	if err != nil {
		return Report{Success: false, Message: "Connected but failed to read frame"}
	}

	return Report{
		Success:    true,
		Message:    "Connection successful!",
		Resolution: fmt.Sprintf("%dx%d", f.Width, f.Height),
	}
}

// setStatus replaces the status snapshot. Callers hold switchMu.
func (c *Controller) setStatus(st Status) {
	c.mu.Lock()
	c.status = st
	c.mu.Unlock()
}

// stopCurrent stops the live acquirer, if any. Callers hold switchMu.
func (c *Controller) stopCurrent() {
	c.mu.Lock()
	acq := c.acq
	c.acq = nil
	c.mu.Unlock()

	if acq != nil {
		acq.Stop()
	}
}

// startAndAwait launches an acquirer for desc and waits for its first
// frame within the startup window. On timeout the worker is stopped
// again. Callers hold switchMu.
func (c *Controller) startAndAwait(desc source.Descriptor) bool {
	ctx := c.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	var acq *source.Acquirer
	acq = source.NewAcquirer(desc, c.open, c.slot, c.cfg.Acquirer, func(err error) {
		// Called from the worker goroutine; hop off it so a failover
		// can stop the worker without deadlocking.
		go c.handleFailure(acq, err)
	})

	c.mu.Lock()
	c.acq = acq
	c.mu.Unlock()

	acq.Start(ctx)

	select {
	case <-acq.FirstFrame():
		return true
	case <-time.After(c.cfg.StartupWindow):
	case <-ctx.Done():
	}

	c.mu.Lock()
	c.acq = nil
	c.mu.Unlock()
	acq.Stop()
	return false
}

// fallBackLocked reverts to the fallback device after desc failed.
// Callers hold switchMu.
func (c *Controller) fallBackLocked(from source.Descriptor, reason string) Status {
	if from == c.cfg.Fallback {
		// The fallback itself failed; nothing left to revert to.
		st := Status{State: Degraded, Reason: reason}
		c.setStatus(st)
		slog.Error("control: fallback source failed, degraded", "reason", reason)
		return st
	}

	slog.Warn("control: falling back to default device",
		"from", from.String(), "reason", reason)

	c.slot.Reset()
	if c.startAndAwait(c.cfg.Fallback) {
		fromCopy := from
		st := Status{
			State:        FallenBack,
			Source:       c.cfg.Fallback,
			FellBackFrom: &fromCopy,
			Reason:       reason,
		}
		c.setStatus(st)
		return st
	}

	st := Status{State: Degraded, Reason: reason}
	c.setStatus(st)
	slog.Error("control: fallback device produced no frames, degraded", "reason", reason)
	return st
}

// handleFailure reacts to an acquirer exhausting its retry budget.
// Stale reports from already replaced workers are ignored.
func (c *Controller) handleFailure(failed *source.Acquirer, err error) {
	c.switchMu.Lock()
	defer c.switchMu.Unlock()

	c.mu.RLock()
	current := c.acq
	c.mu.RUnlock()
	if current != failed {
		return
	}

	slog.Warn("control: live source failed permanently",
		"source", failed.Descriptor().String(), "error", err)

	c.stopCurrent()
	c.fallBackLocked(failed.Descriptor(), err.Error())
}

// watch runs the liveness check: a streaming source that stops
// producing frames for longer than the liveness window is treated as
// failed and replaced by the fallback device.
func (c *Controller) watch() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.WatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.checkLiveness()
		}
	}
}

func (c *Controller) checkLiveness() {
	c.mu.RLock()
	st := c.status
	c.mu.RUnlock()

	if st.State != Streaming && st.State != FallenBack {
		return
	}

	age, ok := c.slot.Age(time.Now())
	if !ok || age <= c.cfg.LivenessWindow {
		return
	}

	c.switchMu.Lock()
	defer c.switchMu.Unlock()

	// Re-check under the lock; a concurrent switch may have landed.
	c.mu.RLock()
	st = c.status
	c.mu.RUnlock()
	if st.State != Streaming && st.State != FallenBack {
		return
	}
	age, ok = c.slot.Age(time.Now())
	if !ok || age <= c.cfg.LivenessWindow {
		return
	}

	slog.Warn("control: source liveness window exceeded",
		"source", st.Source.String(), "age", age)

	c.stopCurrent()
	c.fallBackLocked(st.Source, fmt.Sprintf("no frames for %v", age.Round(time.Millisecond)))
}
