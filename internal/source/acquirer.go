package source

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"hands/streamstudio/internal/frame"
)

// AcquirerState tracks where the worker is in its lifecycle.
type AcquirerState int32

const (
	// StateStarting means the worker exists but has not decoded a frame.
	StateStarting AcquirerState = iota
	// StateReading means frames are flowing into the slot.
	StateReading
	// StateReconnecting means the session failed and is being reopened.
	StateReconnecting
	// StateStopped means the worker has exited for good.
	StateStopped
)

func (s AcquirerState) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateReading:
		return "reading"
	case StateReconnecting:
		return "reconnecting"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// AcquirerConfig bounds the retry and shutdown behavior of one worker.
// The thresholds are policy, not protocol: callers tune them per
// deployment.
type AcquirerConfig struct {
	// OpenTimeout bounds a single session open attempt.
	OpenTimeout time.Duration
	// MaxRetries is the number of reopen attempts after a failure
	// before the worker gives up and reports permanent failure.
	MaxRetries int
	// RetryDelay is the initial backoff; doubled per attempt.
	RetryDelay time.Duration
	// MaxRetryDelay caps the exponential backoff.
	MaxRetryDelay time.Duration
	// StopGrace is how long Stop waits for the in-flight read before
	// force-closing the session.
	StopGrace time.Duration
}

// DefaultAcquirerConfig returns the retry policy used when the config
// file does not override it.
func DefaultAcquirerConfig() AcquirerConfig {
	return AcquirerConfig{
		OpenTimeout:   5 * time.Second,
		MaxRetries:    5,
		RetryDelay:    1 * time.Second,
		MaxRetryDelay: 30 * time.Second,
		StopGrace:     3 * time.Second,
	}
}

// AcquirerStats is a snapshot of the worker's counters.
type AcquirerStats struct {
	FramesCaptured uint64
	DecodeErrors   uint64
	Reconnects     uint32
	State          AcquirerState
}

// Acquirer continuously converts one Descriptor into frames published
// to the shared slot. Exactly one acquirer writes a slot at a time;
// serialization is the controller's job.
type Acquirer struct {
	desc Descriptor
	open Opener
	slot *frame.Slot
	cfg  AcquirerConfig

	// onFailure is invoked once, from the worker goroutine, when
	// retries are exhausted.
	onFailure func(err error)

	cancel     context.CancelFunc
	wg         sync.WaitGroup
	firstFrame chan struct{}
	firstOnce  sync.Once
	stopOnce   sync.Once

	mu   sync.Mutex
	sess Session

	state          atomic.Int32
	framesCaptured atomic.Uint64
	decodeErrors   atomic.Uint64
	reconnects     atomic.Uint32
}

// NewAcquirer builds a worker bound to desc. onFailure may be nil.
func NewAcquirer(desc Descriptor, open Opener, slot *frame.Slot, cfg AcquirerConfig, onFailure func(error)) *Acquirer {
	return &Acquirer{
		desc:       desc,
		open:       OpenWithTimeout(open, cfg.OpenTimeout),
		slot:       slot,
		cfg:        cfg,
		onFailure:  onFailure,
		firstFrame: make(chan struct{}),
	}
}

// Descriptor returns the origin this worker is bound to.
func (a *Acquirer) Descriptor() Descriptor { return a.desc }

// FirstFrame is closed once the first frame lands in the slot. The
// controller uses it for the startup window.
func (a *Acquirer) FirstFrame() <-chan struct{} { return a.firstFrame }

// State reports the worker's current lifecycle state.
func (a *Acquirer) State() AcquirerState {
	return AcquirerState(a.state.Load())
}

// Stats returns a snapshot of the worker counters.
func (a *Acquirer) Stats() AcquirerStats {
	return AcquirerStats{
		FramesCaptured: a.framesCaptured.Load(),
		DecodeErrors:   a.decodeErrors.Load(),
		Reconnects:     a.reconnects.Load(),
		State:          a.State(),
	}
}

// Start launches the background worker. It returns immediately; frames
// arrive in the slot asynchronously.
func (a *Acquirer) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)

	a.wg.Add(1)
	go a.run(ctx)
}

// Stop shuts the worker down: request stop, wait a bounded grace
// period for the in-flight read, then force-terminate the session.
// Idempotent.
func (a *Acquirer) Stop() {
	a.stopOnce.Do(func() {
		if a.cancel == nil {
			a.state.Store(int32(StateStopped))
			return
		}
		a.cancel()

		done := make(chan struct{})
		go func() {
			a.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(a.cfg.StopGrace):
			slog.Warn("source: stop grace exceeded, forcing session close",
				"source", a.desc.String())
			a.closeSession()
			<-done
		}
	})
}

func (a *Acquirer) setSession(s Session) {
	a.mu.Lock()
	a.sess = s
	a.mu.Unlock()
}

func (a *Acquirer) closeSession() {
	a.mu.Lock()
	s := a.sess
	a.sess = nil
	a.mu.Unlock()
	if s != nil {
		s.Close()
	}
}

func (a *Acquirer) run(ctx context.Context) {
	defer a.wg.Done()
	defer a.state.Store(int32(StateStopped))
	defer a.closeSession()

	retries := 0
	for {
		if ctx.Err() != nil {
			return
		}

		sess, err := a.open(ctx, a.desc)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("source: open failed",
				"source", a.desc.String(), "error", err)
			if !a.backoff(ctx, &retries, err) {
				return
			}
			continue
		}
		a.setSession(sess)

		err = a.readLoop(ctx, sess, &retries)
		a.closeSession()
		if ctx.Err() != nil {
			return
		}

		// Only genuine decode failures count as decode errors; a session
		// dropped by an unreachable or timed-out source is not one.
		if ReasonOf(err) == ReasonDecode {
			a.decodeErrors.Add(1)
		}
		slog.Warn("source: stream dropped, reconnecting",
			"source", a.desc.String(), "error", err)
		a.state.Store(int32(StateReconnecting))
		if !a.backoff(ctx, &retries, err) {
			return
		}
	}
}

// readLoop publishes frames until the session fails or ctx is done.
// The first successful frame resets the retry budget.
func (a *Acquirer) readLoop(ctx context.Context, sess Session, retries *int) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f, err := sess.ReadFrame()
		if err != nil {
			return err
		}

		a.slot.Publish(f)
		a.framesCaptured.Add(1)
		a.state.Store(int32(StateReading))
		a.firstOnce.Do(func() { close(a.firstFrame) })
		*retries = 0
	}
}

// backoff sleeps the exponential delay for the current attempt.
// Returns false when the retry budget is exhausted or ctx is done; the
// permanent failure is reported through onFailure.
//
// Schedule with the defaults: 1s, 2s, 4s, 8s, 16s, then give up.
func (a *Acquirer) backoff(ctx context.Context, retries *int, cause error) bool {
	*retries++
	a.reconnects.Add(1)

	if *retries > a.cfg.MaxRetries {
		err := fmt.Errorf("source: %s failed after %d attempts: %w",
			a.desc, a.cfg.MaxRetries, cause)
		slog.Error("source: retries exhausted",
			"source", a.desc.String(),
			"attempts", a.cfg.MaxRetries,
			"error", cause)
		if a.onFailure != nil {
			a.onFailure(err)
		}
		return false
	}

	delay := a.cfg.RetryDelay * time.Duration(1<<uint(*retries-1))
	if delay > a.cfg.MaxRetryDelay {
		delay = a.cfg.MaxRetryDelay
	}

	slog.Warn("source: retrying",
		"source", a.desc.String(),
		"attempt", *retries,
		"max_retries", a.cfg.MaxRetries,
		"delay", delay)

	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}
