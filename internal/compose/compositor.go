// Package compose renders overlay records onto captured frames and
// encodes the result for the wire.
package compose

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	// Overlay image resources may arrive in any of the common formats.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"hands/streamstudio/internal/frame"
	"hands/streamstudio/internal/overlay"
)

// Options tune the compositor.
type Options struct {
	// SnapshotTimeout bounds the overlay provider call. On timeout or
	// error the frame is composited with zero overlays.
	SnapshotTimeout time.Duration
	// FetchTimeout bounds one overlay image download.
	FetchTimeout time.Duration
	// CacheTTL is how long a fetched overlay image is reused before it
	// is fetched again, so an image replaced at the same URL shows up.
	CacheTTL time.Duration
}

// DefaultOptions returns the compositor tuning used when the config
// file does not override it.
func DefaultOptions() Options {
	return Options{
		SnapshotTimeout: 200 * time.Millisecond,
		FetchTimeout:    2 * time.Second,
		CacheTTL:        30 * time.Second,
	}
}

// maxCachedImages caps the overlay image cache; inserting past the cap
// evicts the entry that has gone longest without a fetch.
const maxCachedImages = 64

// Compositor draws overlay snapshots onto private copies of captured
// frames. It never mutates the frame it is given.
type Compositor struct {
	snapshots overlay.Snapshotter
	opts      Options
	client    *http.Client

	mu    sync.Mutex
	cache map[string]cachedImage // decoded overlay images by URL

	skipped atomic.Uint64
}

// cachedImage is one decoded overlay image plus its fetch time for TTL
// expiry and eviction ordering.
type cachedImage struct {
	img       image.Image
	fetchedAt time.Time
}

// New builds a compositor over the given snapshot provider. snapshots
// may be nil, in which case every frame composites with zero overlays.
func New(snapshots overlay.Snapshotter, opts Options) *Compositor {
	return &Compositor{
		snapshots: snapshots,
		opts:      opts,
		client:    &http.Client{Timeout: opts.FetchTimeout},
		cache:     make(map[string]cachedImage),
	}
}

// SkippedOverlays reports how many overlay draws have been skipped due
// to fetch or decode failures since startup.
func (c *Compositor) SkippedOverlays() uint64 { return c.skipped.Load() }

// Compose fetches the current overlay snapshot and renders it onto a
// copy of f. Provider failure degrades to zero overlays, never to a
// failed frame.
func (c *Compositor) Compose(ctx context.Context, f *frame.Frame) *image.RGBA {
	var records []overlay.Record
	if c.snapshots != nil {
		snapCtx, cancel := context.WithTimeout(ctx, c.opts.SnapshotTimeout)
		defer cancel()

		var err error
		records, err = c.snapshots.Snapshot(snapCtx)
		if err != nil {
			slog.Warn("compose: overlay snapshot unavailable, compositing without overlays",
				"error", err)
			records = nil
		}
	}
	return c.Render(ctx, f, records)
}

// Render draws records onto a private copy of f in snapshot order:
// later records draw on top. Rectangles are clamped to the frame
// bounds; a record that fails to render is skipped and the rest still
// draw.
func (c *Compositor) Render(ctx context.Context, f *frame.Frame, records []overlay.Record) *image.RGBA {
	bounds := f.Image.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), f.Image, bounds.Min, draw.Src)

	for _, rec := range records {
		if err := c.drawRecord(ctx, dst, rec); err != nil {
			c.skipped.Add(1)
			slog.Warn("compose: skipping overlay",
				"overlay_id", rec.ID, "kind", string(rec.Kind), "error", err)
		}
	}
	return dst
}

func (c *Compositor) drawRecord(ctx context.Context, dst *image.RGBA, rec overlay.Record) error {
	rect := image.Rect(rec.X, rec.Y, rec.X+rec.Width, rec.Y+rec.Height)

	switch rec.Kind {
	case overlay.Text:
		clipped := rect.Intersect(dst.Bounds())
		if clipped.Empty() {
			return nil
		}
		drawText(dst, clipped, rec.Content)
		return nil

	case overlay.Image:
		src, err := c.fetchImage(ctx, rec.Content)
		if err != nil {
			return err
		}
		// Stretch to fill the full record rectangle; the scaler clips
		// against the frame bounds. Free-resize in the editor means no
		// aspect-ratio preservation here.
		xdraw.ApproxBiLinear.Scale(dst, rect, src, src.Bounds(), xdraw.Over, nil)
		return nil

	default:
		return fmt.Errorf("unknown overlay kind %q", rec.Kind)
	}
}

// drawText renders a single line, clipped to rect.
func drawText(dst *image.RGBA, rect image.Rectangle, text string) {
	clip, ok := dst.SubImage(rect).(*image.RGBA)
	if !ok {
		return
	}

	face := basicfont.Face7x13
	d := font.Drawer{
		Dst:  clip,
		Src:  image.White,
		Face: face,
		Dot:  fixed.P(rect.Min.X+2, rect.Min.Y+face.Ascent+2),
	}
	d.DrawString(text)
}

// fetchImage downloads and decodes an overlay image resource. Decoded
// results are cached by URL, expire after CacheTTL, and the cache is
// capped at maxCachedImages.
func (c *Compositor) fetchImage(ctx context.Context, url string) (image.Image, error) {
	now := time.Now()

	c.mu.Lock()
	if entry, ok := c.cache[url]; ok && now.Sub(entry.fetchedAt) < c.opts.CacheTTL {
		c.mu.Unlock()
		return entry.img, nil
	}
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building fetch request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: %s", url, resp.Status)
	}

	img, _, err := image.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", url, err)
	}

	c.mu.Lock()
	if _, ok := c.cache[url]; !ok && len(c.cache) >= maxCachedImages {
		c.evictOldestLocked()
	}
	c.cache[url] = cachedImage{img: img, fetchedAt: time.Now()}
	c.mu.Unlock()
	return img, nil
}

// evictOldestLocked drops the cache entry with the oldest fetch time.
// Callers hold c.mu. Linear scan; the cache is small by construction.
func (c *Compositor) evictOldestLocked() {
	var oldestURL string
	var oldestAt time.Time
	for url, entry := range c.cache {
		if oldestURL == "" || entry.fetchedAt.Before(oldestAt) {
			oldestURL = url
			oldestAt = entry.fetchedAt
		}
	}
	if oldestURL != "" {
		delete(c.cache, oldestURL)
	}
}
