package model

import (
	"image"
	"time"
)

// CanvasGeometry describes the pixel space placements are computed in.
// Mirrored is a presentation flag: the preview is flipped horizontally.
type CanvasGeometry struct {
	Width    int  `json:"width"`
	Height   int  `json:"height"`
	Mirrored bool `json:"mirrored"`
}

// Valid reports whether both dimensions are positive.
func (g CanvasGeometry) Valid() bool {
	return g.Width > 0 && g.Height > 0
}

// Canonical returns the same geometry in unmirrored sample space.
func (g CanvasGeometry) Canonical() CanvasGeometry {
	g.Mirrored = false
	return g
}

// ToCanvas converts a normalized landmark to canvas pixels, applying the
// horizontal mirror when the geometry is mirrored.
func (g CanvasGeometry) ToCanvas(l Landmark) (x, y float64) {
	x = l.X * float64(g.Width)
	y = l.Y * float64(g.Height)
	if g.Mirrored {
		x = MirrorX(x, g.Width)
	}
	return x, y
}

// MirrorX reflects a canvas x coordinate around the vertical center line.
// Applying it twice returns the original coordinate.
func MirrorX(x float64, width int) float64 {
	return float64(width) - x
}

// Placement is the affine position of one overlay for one frame, in canvas
// pixels with (CX, CY) at the image center.
type Placement struct {
	CX          float64 `json:"cx"`
	CY          float64 `json:"cy"`
	W           float64 `json:"w"`
	H           float64 `json:"h"`
	RotationRad float64 `json:"rotation_rad"`
	Scale       float64 `json:"scale"`
	Valid       bool    `json:"valid"`
	Confidence  float64 `json:"confidence"`
	// Reason explains an invalid placement; empty when valid.
	Reason string `json:"reason,omitempty"`
	// ComputedAt is the CapturedAt of the landmark set the placement came from.
	ComputedAt time.Time `json:"computed_at"`
}

// Invalid returns a placement marked invalid for reason.
func Invalid(reason string) Placement {
	return Placement{Valid: false, Reason: reason}
}

// Bounds returns the axis-aligned footprint of the unrotated placement box.
func (p Placement) Bounds() (x0, y0, x1, y1 float64) {
	return p.CX - p.W/2, p.CY - p.H/2, p.CX + p.W/2, p.CY + p.H/2
}

// FrameMeta describes a frame source.
type FrameMeta struct {
	Width    int  `json:"width"`
	Height   int  `json:"height"`
	Mirrored bool `json:"mirrored"`
}

// Geometry returns the canvas geometry matching the source.
func (m FrameMeta) Geometry() CanvasGeometry {
	return CanvasGeometry{Width: m.Width, Height: m.Height, Mirrored: m.Mirrored}
}

// Frame is one captured video frame in native (unmirrored) orientation.
// Image must not be modified after the frame is published.
type Frame struct {
	Seq        uint64
	Image      *image.RGBA
	CapturedAt time.Time
}

// Bounds returns the frame size.
func (f *Frame) Bounds() image.Rectangle {
	if f == nil || f.Image == nil {
		return image.Rectangle{}
	}
	return f.Image.Bounds()
}

// Chunk is one piece of encoded container output, in arrival order.
type Chunk struct {
	Seq       uint64
	Data      []byte
	ArrivedAt time.Time
}
