// Package overlay holds overlay definitions and the set of overlays that are
// currently active for a session.
package overlay

import (
	"fmt"
	"math"
	"strings"
)

// Kind is the slot an overlay occupies on the face.
type Kind string

const (
	KindGlasses Kind = "GLASSES"
	KindHat     Kind = "HAT"
	KindMask    Kind = "MASK"
)

// Kinds lists every kind in draw order.
var Kinds = []Kind{KindGlasses, KindHat, KindMask}

// ParseKind parses a kind name case-insensitively.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToUpper(strings.TrimSpace(s)))
	switch k {
	case KindGlasses, KindHat, KindMask:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// DefaultZIndex is the stacking order used when a definition does not set one.
func (k Kind) DefaultZIndex() int {
	switch k {
	case KindGlasses:
		return 1
	case KindHat:
		return 2
	case KindMask:
		return 3
	}
	return 0
}

// BlendMode is the compositing operator used when a layer is stacked.
type BlendMode string

const (
	BlendSourceOver BlendMode = "source-over"
	BlendMultiply   BlendMode = "multiply"
	BlendScreen     BlendMode = "screen"
	BlendDarken     BlendMode = "darken"
	BlendLighten    BlendMode = "lighten"
	BlendCopy       BlendMode = "copy"
)

// Valid reports whether the blend mode is supported.
func (b BlendMode) Valid() bool {
	switch b {
	case BlendSourceOver, BlendMultiply, BlendScreen, BlendDarken, BlendLighten, BlendCopy:
		return true
	}
	return false
}

// Rendering limits.
const (
	MinScale = 0.5
	MaxScale = 2.0
)

// Point is a normalized offset.
type Point struct {
	X float64 `json:"x" koanf:"x"`
	Y float64 `json:"y" koanf:"y"`
}

// Anchor names the landmarks an overlay is positioned from.
// Primary and Secondary drive the placement confidence.
type Anchor struct {
	Primary   int   `json:"primary" koanf:"primary"`
	Secondary []int `json:"secondary" koanf:"secondary"`
	// Offset shifts the placement center by a fraction of its width and height.
	Offset Point `json:"offset" koanf:"offset"`
}

// Scaling adjusts the kind's default box size. Zero factors keep the defaults.
type Scaling struct {
	Base         float64 `json:"base" koanf:"base"`
	WidthFactor  float64 `json:"width_factor" koanf:"width_factor"`
	HeightFactor float64 `json:"height_factor" koanf:"height_factor"`
}

// Rendering controls how a placed overlay is drawn.
type Rendering struct {
	Opacity   float64   `json:"opacity" koanf:"opacity"`
	BlendMode BlendMode `json:"blend_mode" koanf:"blend_mode"`
	Scale     float64   `json:"scale" koanf:"scale"`
	Visible   bool      `json:"visible" koanf:"visible"`
}

// DefaultRendering is applied to definitions that leave rendering unset.
func DefaultRendering() Rendering {
	return Rendering{Opacity: 1, BlendMode: BlendSourceOver, Scale: 1, Visible: true}
}

// ClampScale clamps a rendering scale into [MinScale, MaxScale].
func ClampScale(v float64) float64 {
	return clamp(v, MinScale, MaxScale)
}

// Clamped returns r with scale and opacity inside their limits and an unknown
// blend mode replaced by source-over.
func (r Rendering) Clamped() Rendering {
	r.Scale = ClampScale(r.Scale)
	r.Opacity = clamp(r.Opacity, 0, 1)
	if !r.BlendMode.Valid() {
		r.BlendMode = BlendSourceOver
	}
	return r
}

// RenderingPatch is a partial rendering update; nil fields are left unchanged.
type RenderingPatch struct {
	Opacity   *float64   `json:"opacity,omitempty"`
	BlendMode *BlendMode `json:"blend_mode,omitempty"`
	Scale     *float64   `json:"scale,omitempty"`
	Visible   *bool      `json:"visible,omitempty"`
}

// Apply returns r updated by the patch and clamped.
func (p RenderingPatch) Apply(r Rendering) Rendering {
	if p.Opacity != nil {
		r.Opacity = *p.Opacity
	}
	if p.BlendMode != nil {
		r.BlendMode = *p.BlendMode
	}
	if p.Scale != nil {
		r.Scale = *p.Scale
	}
	if p.Visible != nil {
		r.Visible = *p.Visible
	}
	return r.Clamped()
}

// Def is an overlay definition. The registry keeps its own copy.
type Def struct {
	ID               string    `json:"id" koanf:"id"`
	Kind             Kind      `json:"kind" koanf:"kind"`
	ImageURL         string    `json:"image_url" koanf:"image_url"`
	Anchor           Anchor    `json:"anchor" koanf:"anchor"`
	Scaling          Scaling   `json:"scaling" koanf:"scaling"`
	DefaultRendering Rendering `json:"default_rendering" koanf:"default_rendering"`
	ZIndex           int       `json:"z_index" koanf:"z_index"`
	// ArtUpsideDown marks images painted head-down; they are turned by pi when drawn.
	ArtUpsideDown bool `json:"art_upside_down" koanf:"art_upside_down"`
}

// Clone returns a deep copy of d.
func (d Def) Clone() Def {
	if d.Anchor.Secondary != nil {
		d.Anchor.Secondary = append([]int(nil), d.Anchor.Secondary...)
	}
	return d
}

// DefaultAnchor returns the anchor landmarks used for confidence by kind.
func DefaultAnchor(k Kind) Anchor {
	switch k {
	case KindGlasses:
		return Anchor{Primary: 159, Secondary: []int{386, 33, 263}}
	case KindHat:
		return Anchor{Primary: 10, Secondary: []int{108, 337, 9}}
	case KindMask:
		return Anchor{Primary: 1, Secondary: []int{33, 263, 10}}
	}
	return Anchor{}
}

// normalize validates d and fills defaults.
func (d Def) normalize() (Def, error) {
	d = d.Clone()
	if strings.TrimSpace(d.ID) == "" {
		return d, fmt.Errorf("%w: empty id", ErrInvalidDefinition)
	}
	kind, err := ParseKind(string(d.Kind))
	if err != nil {
		return d, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	d.Kind = kind
	if d.ZIndex == 0 {
		d.ZIndex = kind.DefaultZIndex()
	}
	if d.Anchor.Primary == 0 && len(d.Anchor.Secondary) == 0 {
		offset := d.Anchor.Offset
		d.Anchor = DefaultAnchor(kind)
		d.Anchor.Offset = offset
	}
	if d.Scaling.Base == 0 {
		d.Scaling.Base = 1
	}
	if d.Scaling.Base < 0 || d.Scaling.WidthFactor < 0 || d.Scaling.HeightFactor < 0 {
		return d, fmt.Errorf("%w: negative scaling", ErrInvalidDefinition)
	}
	if d.DefaultRendering == (Rendering{}) {
		d.DefaultRendering = DefaultRendering()
	}
	d.DefaultRendering = d.DefaultRendering.Clamped()
	return d, nil
}

// ActiveOverlay is an enabled overlay together with its current rendering.
type ActiveOverlay struct {
	Def          Def       `json:"def"`
	Enabled      bool      `json:"enabled"`
	Rendering    Rendering `json:"rendering"`
	ActivatedSeq uint64    `json:"activated_seq"`
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
