// Package layer draws one overlay kind into its own transparent,
// double-buffered canvas. The writer draws into the back buffer and swaps;
// readers only ever see the front buffer.
package layer

import (
	"context"
	"image"
	"math"
	"sync"
	"time"

	"golang.org/x/image/vector"

	"github.com/okian/facefx/internal/domain/dedupe"
	"github.com/okian/facefx/internal/domain/model"
	"github.com/okian/facefx/internal/domain/overlay"
	"github.com/okian/facefx/internal/domain/placement"
	"github.com/okian/facefx/pkg/logger"
	"github.com/okian/facefx/pkg/metrics"
)

// DefaultStaleness is the oldest landmark set a layer will draw from.
const DefaultStaleness = 200 * time.Millisecond

type loaded struct {
	img     image.Image
	err     error
	pending bool
}

// Renderer owns the layer canvas of one overlay kind. Draw, Resize and Clear
// must be called from a single goroutine; View may be called concurrently.
type Renderer struct {
	kind      overlay.Kind
	engine    *placement.Engine
	smoother  *placement.Smoother
	images    ImageSource
	staleness time.Duration
	failures  dedupe.Deduper
	log       logger.Logger
	raster    *vector.Rasterizer

	mu     sync.RWMutex
	front  *image.RGBA
	back   *image.RGBA
	blend  overlay.BlendMode
	zIndex int
	last   model.Placement

	cacheMu sync.Mutex
	cache   map[string]*loaded // by overlay id
}

// New creates a renderer for kind with empty 0×0 canvases.
func New(kind overlay.Kind, opts ...Option) *Renderer {
	r := &Renderer{
		kind:      kind,
		engine:    placement.New(),
		smoother:  placement.NewSmoother(),
		images:    NewLoader(0),
		staleness: DefaultStaleness,
		failures:  dedupe.NewInMemoryDeduper(),
		log:       logger.Named("layer." + string(kind)),
		raster:    vector.NewRasterizer(0, 0),
		front:     image.NewRGBA(image.Rectangle{}),
		back:      image.NewRGBA(image.Rectangle{}),
		blend:     overlay.BlendSourceOver,
		zIndex:    kind.DefaultZIndex(),
		cache:     make(map[string]*loaded),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Kind returns the overlay kind this layer draws.
func (r *Renderer) Kind() overlay.Kind { return r.kind }

// Resize reallocates both canvases at w×h and clears them.
func (r *Renderer) Resize(w, h int) {
	if w < 0 || h < 0 {
		return
	}
	rect := image.Rect(0, 0, w, h)
	r.mu.Lock()
	r.front = image.NewRGBA(rect)
	r.back = image.NewRGBA(rect)
	r.last = model.Placement{}
	r.mu.Unlock()
	r.smoother.Reset()
}

// Clear empties the visible canvas.
func (r *Renderer) Clear() {
	clear(r.back.Pix)
	r.smoother.Reset()
	r.swap(model.Invalid(ReasonInactive), r.blend, r.zIndex)
}

// Preload fetches the image for def so Draw never waits on I/O.
func (r *Renderer) Preload(ctx context.Context, def overlay.Def) error {
	r.cacheMu.Lock()
	if e, ok := r.cache[def.ID]; ok && !e.pending {
		r.cacheMu.Unlock()
		return e.err
	}
	r.cache[def.ID] = &loaded{pending: true}
	r.cacheMu.Unlock()

	img, err := r.images.Load(ctx, def.ImageURL)
	r.cacheMu.Lock()
	r.cache[def.ID] = &loaded{img: img, err: err}
	r.cacheMu.Unlock()
	if err != nil {
		r.reportFailure(ctx, def, err)
	}
	return err
}

// Forget drops the cached image of an overlay and re-arms its failure log.
func (r *Renderer) Forget(id string) {
	r.cacheMu.Lock()
	delete(r.cache, id)
	r.cacheMu.Unlock()
	r.failures.Unrecord(context.Background(), id)
}

// lookup returns the cached image for def, starting a background load the
// first time an id is seen.
func (r *Renderer) lookup(def overlay.Def) *loaded {
	r.cacheMu.Lock()
	e, ok := r.cache[def.ID]
	if !ok {
		e = &loaded{pending: true}
		r.cache[def.ID] = e
	}
	r.cacheMu.Unlock()
	if !ok {
		go func() { _ = r.Preload(context.Background(), def) }()
	}
	return e
}

func (r *Renderer) reportFailure(ctx context.Context, def overlay.Def, err error) {
	if r.failures.SeenAndRecord(ctx, def.ID) {
		return
	}
	metrics.RecordImageLoadFailure(def.ID)
	r.log.Warn(ctx, "overlay image unavailable, drawing outline",
		logger.String("overlay", def.ID),
		logger.String("image", def.ImageURL),
		logger.Error(err))
}

// Draw repaints the layer for one tick and returns the placement it used.
// The layer is left empty when active is nil or hidden, when landmarks are
// missing or older than the staleness bound at now, and when the placement
// is invalid. Drawing happens in unmirrored canvas space.
func (r *Renderer) Draw(active *overlay.ActiveOverlay, set *model.LandmarkSet, g model.CanvasGeometry, now time.Time) model.Placement {
	start := time.Now()
	if g.Valid() && (r.back.Rect.Dx() != g.Width || r.back.Rect.Dy() != g.Height) {
		r.Resize(g.Width, g.Height)
	}
	clear(r.back.Pix)

	blend, z := r.blend, r.zIndex
	var p model.Placement
	switch {
	case active == nil || !active.Enabled || !active.Rendering.Visible:
		p = model.Invalid(ReasonInactive)
		r.smoother.Reset()
	case set == nil:
		p = model.Invalid(placement.ReasonNoLandmarks)
		r.smoother.Reset()
	case now.Sub(set.CapturedAt) > r.staleness:
		p = model.Invalid(ReasonStale)
		p.ComputedAt = set.CapturedAt
		r.smoother.Reset()
	default:
		rend := active.Rendering.Clamped()
		blend, z = rend.BlendMode, active.Def.ZIndex
		p = r.engine.Place(set, active.Def, g.Canonical())
		p = r.smoother.Apply(p, rend.Scale, now)
		if p.Valid {
			r.paint(active.Def, p, rend.Opacity)
		}
	}

	outcome := "valid"
	if !p.Valid {
		outcome = p.Reason
	}
	metrics.RecordPlacement(string(r.kind), outcome)
	r.swap(p, blend, z)
	metrics.RecordLayerDrawLatency(float64(time.Since(start).Microseconds()) / 1000)
	return p
}

func (r *Renderer) paint(def overlay.Def, p model.Placement, opacity float64) {
	theta := p.RotationRad
	if def.ArtUpsideDown {
		theta += math.Pi
	}
	e := r.lookup(def)
	switch {
	case e.img != nil:
		drawImage(r.back, e.img, p, theta, opacity)
	case e.err != nil:
		strokeBox(r.raster, r.back, p, theta)
	}
}

func (r *Renderer) swap(p model.Placement, blend overlay.BlendMode, z int) {
	r.mu.Lock()
	r.front, r.back = r.back, r.front
	r.blend, r.zIndex, r.last = blend, z, p
	r.mu.Unlock()
}

// View calls fn with the front canvas and its blend mode. The canvas must not
// be retained or modified after fn returns.
func (r *Renderer) View(fn func(img *image.RGBA, blend overlay.BlendMode)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn(r.front, r.blend)
}

// ZIndex returns the stacking order of the last drawn overlay.
func (r *Renderer) ZIndex() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.zIndex
}

// Last returns the placement behind the front canvas.
func (r *Renderer) Last() model.Placement {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}

// Snapshot copies the front canvas.
func (r *Renderer) Snapshot() *image.RGBA {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := image.NewRGBA(r.front.Rect)
	copy(out.Pix, r.front.Pix)
	return out
}
