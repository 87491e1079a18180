// Package compositor stacks the camera frame and the overlay layers into a
// single canvas at a fixed rate. The canvas is the only pixel source the
// recorder and the snapshot endpoint read.
package compositor

import (
	"context"
	"fmt"
	"image"
	"sort"
	"sync"
	"time"

	"golang.org/x/image/draw"

	"github.com/okian/facefx/internal/adapters/mq/worker"
	"github.com/okian/facefx/internal/domain/model"
	"github.com/okian/facefx/internal/domain/overlay"
	"github.com/okian/facefx/pkg/logger"
)

// DefaultFPS is the tick rate when none is configured.
const DefaultFPS = 30

// VideoSource provides the most recent camera frame.
type VideoSource interface {
	Latest() *model.Frame
}

// LayerSource is a drawn overlay layer.
type LayerSource interface {
	View(fn func(img *image.RGBA, blend overlay.BlendMode))
	ZIndex() int
}

// Stats reports compositor progress.
type Stats struct {
	Running     bool      `json:"running"`
	FPS         int       `json:"fps"`
	Published   uint64    `json:"published"`
	Ticks       uint64    `json:"ticks"`
	Skipped     uint64    `json:"skipped"`
	LastFrame   uint64    `json:"last_frame_seq"`
	PublishedAt time.Time `json:"published_at"`
}

// Compositor owns the composite canvas.
type Compositor struct {
	fps        int
	beforeTick func(now time.Time)
	log        logger.Logger

	// tick state, owned by the loop goroutine
	video    VideoSource
	layers   []LayerSource
	ordered  []LayerSource
	geometry model.CanvasGeometry
	back     *image.RGBA

	runMu  sync.Mutex
	loop   *worker.Loop
	cancel context.CancelFunc

	mu          sync.RWMutex
	front       *image.RGBA
	published   uint64
	publishedAt time.Time
	lastSeq     uint64
}

// New creates a stopped compositor.
func New(opts ...Option) *Compositor {
	c := &Compositor{
		fps: DefaultFPS,
		log: logger.Named("compositor"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start begins ticking at the configured rate onto a canvas of g's size.
func (c *Compositor) Start(ctx context.Context, video VideoSource, layers []LayerSource, g model.CanvasGeometry) error {
	if !g.Valid() {
		return fmt.Errorf("%w: %dx%d", ErrInvalidGeometry, g.Width, g.Height)
	}
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.loop != nil {
		return ErrAlreadyRunning
	}

	c.prepare(video, layers, g)

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.loop = worker.NewLoop(time.Second/time.Duration(c.fps), c.tick, worker.WithLoopName("compositor"))
	go c.loop.Run(runCtx)
	c.log.Info(ctx, "compositor started",
		logger.Int("width", g.Width),
		logger.Int("height", g.Height),
		logger.Bool("mirrored", g.Mirrored),
		logger.Int("fps", c.fps))
	return nil
}

// Stop halts ticking. The last canvas stays readable.
func (c *Compositor) Stop(ctx context.Context) error {
	c.runMu.Lock()
	loop, cancel := c.loop, c.cancel
	c.loop, c.cancel = nil, nil
	c.runMu.Unlock()
	if loop == nil {
		return nil
	}
	err := loop.Shutdown(ctx)
	cancel()
	return err
}

// prepare allocates the canvases for a run. Callers hold runMu.
func (c *Compositor) prepare(video VideoSource, layers []LayerSource, g model.CanvasGeometry) {
	rect := image.Rect(0, 0, g.Width, g.Height)
	c.video = video
	c.layers = append([]LayerSource(nil), layers...)
	c.ordered = make([]LayerSource, len(layers))
	c.geometry = g
	c.back = image.NewRGBA(rect)
	c.mu.Lock()
	c.front = image.NewRGBA(rect)
	c.published = 0
	c.publishedAt = time.Time{}
	c.mu.Unlock()
}

// tick composes one canvas: video, then layers by ascending z-index, then
// the mirror flip, then the buffer swap.
func (c *Compositor) tick(_ context.Context, now time.Time) {
	if c.beforeTick != nil {
		c.beforeTick(now)
	}
	dst := c.back
	clear(dst.Pix)

	var seq uint64
	if f := c.video.Latest(); f != nil && f.Image != nil {
		seq = f.Seq
		if f.Image.Rect.Size() == dst.Rect.Size() {
			draw.Draw(dst, dst.Rect, f.Image, f.Image.Rect.Min, draw.Src)
		} else {
			draw.ApproxBiLinear.Scale(dst, dst.Rect, f.Image, f.Image.Rect, draw.Src, nil)
		}
	}

	copy(c.ordered, c.layers)
	sort.SliceStable(c.ordered, func(i, j int) bool {
		return c.ordered[i].ZIndex() < c.ordered[j].ZIndex()
	})
	for _, l := range c.ordered {
		l.View(func(img *image.RGBA, blend overlay.BlendMode) {
			if img.Rect.Size() == dst.Rect.Size() {
				composite(dst, img, blend)
			}
		})
	}

	if c.geometry.Mirrored {
		mirror(dst)
	}

	c.mu.Lock()
	c.front, c.back = dst, c.front
	c.published++
	c.publishedAt = now
	c.lastSeq = seq
	c.mu.Unlock()
}

// Snapshot copies the current canvas into dst, which must match its size,
// and returns when the canvas was composed.
func (c *Compositor) Snapshot(dst *image.RGBA) (time.Time, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.front == nil || c.published == 0 {
		return time.Time{}, ErrNoFrame
	}
	if dst.Rect.Size() != c.front.Rect.Size() {
		return time.Time{}, fmt.Errorf("%w: want %v, got %v", ErrSizeMismatch, c.front.Rect.Size(), dst.Rect.Size())
	}
	copy(dst.Pix, c.front.Pix)
	return c.publishedAt, nil
}

// Latest returns a copy of the current canvas, or nil before the first tick.
func (c *Compositor) Latest() *image.RGBA {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.front == nil || c.published == 0 {
		return nil
	}
	out := image.NewRGBA(c.front.Rect)
	copy(out.Pix, c.front.Pix)
	return out
}

// Geometry returns the canvas geometry of the current or last run.
func (c *Compositor) Geometry() model.CanvasGeometry {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	return c.geometry
}

// Stats returns progress counters.
func (c *Compositor) Stats() Stats {
	c.runMu.Lock()
	loop := c.loop
	c.runMu.Unlock()
	c.mu.RLock()
	st := Stats{
		Running:     loop != nil,
		FPS:         c.fps,
		Published:   c.published,
		LastFrame:   c.lastSeq,
		PublishedAt: c.publishedAt,
	}
	c.mu.RUnlock()
	if loop != nil {
		ls := loop.Stats()
		st.Ticks, st.Skipped = ls.Ticks, ls.Skipped
	}
	return st
}
