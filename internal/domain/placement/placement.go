// Package placement computes where an overlay sits on the canvas for one
// landmark snapshot. Engine is pure: the same inputs always give the same
// Placement. Smoother carries the only per-overlay state.
package placement

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/okian/facefx/internal/domain/model"
	"github.com/okian/facefx/internal/domain/overlay"
)

// Reasons attached to invalid placements.
const (
	ReasonNoLandmarks     = "no_landmarks"
	ReasonLowVisibility   = "low_visibility"
	ReasonLowConfidence   = "low_confidence"
	ReasonOutOfBounds     = "out_of_bounds"
	ReasonDegenerate      = "degenerate"
	ReasonInvalidGeometry = "invalid_geometry"
	ReasonUnsupportedKind = "unsupported_kind"
)

// Kind default box factors.
const (
	GlassesWidthFactor  = 1.3
	GlassesHeightFactor = 0.4
	GlassesFallbackSpan = 100.0 // px, when the outer eye corners are not visible

	HatWidthFactor  = 1.1
	HatHeightFactor = 0.6
	HatLift         = 0.4 // fraction of head height the hat rises above the forehead

	MaskWidthFactor  = 1.2
	MaskHeightFactor = 1.1
)

// EdgePolicy selects when a box past the edge tolerance is rejected.
type EdgePolicy int

const (
	// EdgeAnySide rejects a box that leaves the canvas on any side.
	EdgeAnySide EdgePolicy = iota
	// EdgeAllSides rejects a box only when it leaves the canvas on all four sides.
	EdgeAllSides
)

// ErrUnknownEdgePolicy is returned by ParseEdgePolicy for unrecognized names.
var ErrUnknownEdgePolicy = errors.New("unknown edge policy")

// ParseEdgePolicy maps "any" and "all" to their policies.
func ParseEdgePolicy(s string) (EdgePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "any":
		return EdgeAnySide, nil
	case "all":
		return EdgeAllSides, nil
	}
	return EdgeAnySide, fmt.Errorf("%w: %q", ErrUnknownEdgePolicy, s)
}

// Engine turns landmarks into placements.
type Engine struct {
	minConfidence float64
	edgeTolerance float64
	edgePolicy    EdgePolicy
}

// New creates an engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		minConfidence: 0.3,
		edgeTolerance: 0.1,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var defaultEngine = New()

// Compute places def with the default engine.
func Compute(set *model.LandmarkSet, def overlay.Def, g model.CanvasGeometry) model.Placement {
	return defaultEngine.Place(set, def, g)
}

// Place computes the placement of def for set on g. Geometry is computed in
// unmirrored pixel space and the center is reflected at the end when g is
// mirrored, so the rotation is identical for both orientations.
func (e *Engine) Place(set *model.LandmarkSet, def overlay.Def, g model.CanvasGeometry) model.Placement {
	if !g.Valid() {
		return model.Invalid(ReasonInvalidGeometry)
	}
	if set == nil {
		return model.Invalid(ReasonNoLandmarks)
	}
	if def.Scaling.Base == 0 {
		def.Scaling.Base = 1
	}

	var (
		b   box
		why string
	)
	switch def.Kind {
	case overlay.KindGlasses:
		b, why = glasses(set, def, g)
	case overlay.KindHat:
		b, why = hat(set, def, g)
	case overlay.KindMask:
		b, why = mask(set, def, g)
	default:
		why = ReasonUnsupportedKind
	}
	if why != "" {
		p := model.Invalid(why)
		p.Confidence = b.confidence
		p.ComputedAt = set.CapturedAt
		return p
	}

	b.cx += def.Anchor.Offset.X * b.w
	b.cy += def.Anchor.Offset.Y * b.h
	if g.Mirrored {
		b.cx = model.MirrorX(b.cx, g.Width)
	}

	p := model.Placement{
		CX:          b.cx,
		CY:          b.cy,
		W:           b.w,
		H:           b.h,
		RotationRad: b.rotation,
		Scale:       1,
		Valid:       true,
		Confidence:  b.confidence,
		ComputedAt:  set.CapturedAt,
	}
	switch {
	case !finite(p.CX, p.CY, p.W, p.H, p.RotationRad) || p.W <= 0 || p.H <= 0:
		p.Valid, p.Reason = false, ReasonDegenerate
	case p.Confidence < e.minConfidence:
		p.Valid, p.Reason = false, ReasonLowConfidence
	case e.outOfBounds(p, g):
		p.Valid, p.Reason = false, ReasonOutOfBounds
	}
	return p
}

// outOfBounds reports whether the box leaves the canvas by more than the edge
// tolerance of its own extent, on any side or on all sides per the policy.
func (e *Engine) outOfBounds(p model.Placement, g model.CanvasGeometry) bool {
	x0, y0, x1, y1 := p.Bounds()
	tx, ty := e.edgeTolerance*p.W, e.edgeTolerance*p.H
	left, top := x0 < -tx, y0 < -ty
	right, bottom := x1 > float64(g.Width)+tx, y1 > float64(g.Height)+ty
	if e.edgePolicy == EdgeAllSides {
		return left && top && right && bottom
	}
	return left || top || right || bottom
}

// box is a placement in unmirrored pixel space.
type box struct {
	cx, cy, w, h float64
	rotation     float64
	confidence   float64
}

type point struct{ x, y float64 }

func px(set *model.LandmarkSet, i int, g model.CanvasGeometry) point {
	x, y := g.Canonical().ToCanvas(set.At(i))
	return point{x, y}
}

func mid(a, b point) point {
	return point{(a.x + b.x) / 2, (a.y + b.y) / 2}
}

func angle(from, to point) float64 {
	return math.Atan2(to.y-from.y, to.x-from.x)
}

func factor(override, def float64) float64 {
	if override > 0 {
		return override
	}
	return def
}

func glasses(set *model.LandmarkSet, def overlay.Def, g model.CanvasGeometry) (box, string) {
	conf := confidence(set, def.Anchor.Primary, def.Anchor.Secondary)
	if !set.AllVisible(model.LeftEyeCenter, model.RightEyeCenter) {
		return box{confidence: conf}, ReasonLowVisibility
	}
	l, r := px(set, model.LeftEyeCenter, g), px(set, model.RightEyeCenter, g)
	c := mid(l, r)

	span := GlassesFallbackSpan
	if set.AllVisible(model.LeftEyeOuter, model.RightEyeOuter) {
		span = math.Abs(px(set, model.RightEyeOuter, g).x - px(set, model.LeftEyeOuter, g).x)
	}
	w := factor(def.Scaling.WidthFactor, GlassesWidthFactor) * span * def.Scaling.Base
	h := factor(def.Scaling.HeightFactor, GlassesHeightFactor) * w

	return box{cx: c.x, cy: c.y, w: w, h: h, rotation: angle(l, r), confidence: conf}, ""
}

func hat(set *model.LandmarkSet, def overlay.Def, g model.CanvasGeometry) (box, string) {
	fb, hasBox := set.FaceBox()
	if !hasBox {
		return box{}, ReasonNoLandmarks
	}
	W, H := float64(g.Width), float64(g.Height)
	boxBottom := (fb.Y + fb.H) * H

	var (
		foreheadY, cx, rotation, conf float64
	)
	switch {
	case set.AllVisible(model.LeftForehead, model.RightForehead, model.ForeheadTop, model.Nasion):
		l, r := px(set, model.LeftForehead, g), px(set, model.RightForehead, g)
		foreheadY = minY(set, g, model.LeftForehead, model.RightForehead, model.ForeheadTop, model.Nasion)
		cx = mid(l, r).x
		rotation = angle(l, r)
		conf = confidence(set, def.Anchor.Primary, def.Anchor.Secondary)
	case set.AllVisible(model.ForeheadCenter, model.RightForehead, model.Nasion):
		l, r := px(set, model.ForeheadCenter, g), px(set, model.RightForehead, g)
		foreheadY = minY(set, g, model.ForeheadCenter, model.RightForehead, model.Nasion)
		cx = mid(l, r).x
		rotation = angle(l, r)
		conf = confidence(set, model.Nasion, []int{model.ForeheadCenter, model.RightForehead})
	default:
		foreheadY = fb.Y * H
		cx = (fb.X + fb.W/2) * W
		conf = 0.7*set.Confidence + 0.3*meanVisible(set)
	}

	chinY, ok := chin(set, g)
	if !ok {
		chinY = boxBottom
	}
	headHeight := chinY - foreheadY
	headWidth := fb.W * W
	if headHeight <= 0 || headWidth <= 0 {
		return box{confidence: conf}, ReasonDegenerate
	}

	h := factor(def.Scaling.HeightFactor, HatHeightFactor) * headHeight * def.Scaling.Base
	w := factor(def.Scaling.WidthFactor, HatWidthFactor) * headWidth * def.Scaling.Base
	cy := foreheadY - HatLift*headHeight + h/2
	return box{cx: cx, cy: cy, w: w, h: h, rotation: rotation, confidence: conf}, ""
}

func mask(set *model.LandmarkSet, def overlay.Def, g model.CanvasGeometry) (box, string) {
	conf := confidence(set, def.Anchor.Primary, def.Anchor.Secondary)
	if !set.At(model.NoseTip).Visible() {
		return box{confidence: conf}, ReasonLowVisibility
	}
	fb, hasBox := set.FaceBox()
	nose := px(set, model.NoseTip, g)
	W, H := float64(g.Width), float64(g.Height)

	var (
		span     float64
		rotation float64
	)
	if set.AllVisible(model.LeftEyeOuter, model.RightEyeOuter) {
		l, r := px(set, model.LeftEyeOuter, g), px(set, model.RightEyeOuter, g)
		span = math.Abs(r.x - l.x)
		rotation = angle(l, r)
	} else if hasBox {
		span = fb.W * W / MaskWidthFactor
	}
	w := factor(def.Scaling.WidthFactor, MaskWidthFactor) * span * def.Scaling.Base

	top := fb.Y * H
	if set.At(model.Nasion).Visible() {
		top = px(set, model.Nasion, g).y
	}
	chinY, ok := chin(set, g)
	if !ok {
		chinY = (fb.Y + fb.H) * H
	}
	h := factor(def.Scaling.HeightFactor, MaskHeightFactor) * (chinY - top) * def.Scaling.Base
	if h <= 0 {
		h = 0.8 * w
	}
	return box{cx: nose.x, cy: nose.y, w: w, h: h, rotation: rotation, confidence: conf}, ""
}

// chin returns the lowest visible face contour point.
func chin(set *model.LandmarkSet, g model.CanvasGeometry) (float64, bool) {
	found := false
	y := math.Inf(-1)
	for i := 0; i <= model.ContourLastIndex; i++ {
		if set.At(i).Visible() {
			y = math.Max(y, px(set, i, g).y)
			found = true
		}
	}
	return y, found
}

func minY(set *model.LandmarkSet, g model.CanvasGeometry, indices ...int) float64 {
	y := math.Inf(1)
	for _, i := range indices {
		y = math.Min(y, px(set, i, g).y)
	}
	return y
}

// confidence is 0.7 x primary visibility + 0.3 x mean secondary visibility.
func confidence(set *model.LandmarkSet, primary int, secondary []int) float64 {
	p := set.At(primary).Visibility
	if len(secondary) == 0 {
		return p
	}
	sum := 0.0
	for _, i := range secondary {
		sum += set.At(i).Visibility
	}
	return 0.7*p + 0.3*(sum/float64(len(secondary)))
}

func meanVisible(set *model.LandmarkSet) float64 {
	sum, n := 0.0, 0
	for i := range set.Points {
		if set.Points[i].Visible() {
			sum += set.Points[i].Visibility
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
