// Package simulate drives the pipeline without hardware: a face that moves on
// a smooth path, a detector that reports its landmarks, a painter that draws
// it into synthetic camera frames, and an HTTP driver that exercises a
// running service.
package simulate

import (
	"math"
	"time"

	"github.com/okian/facefx/internal/domain/model"
)

const (
	DefaultPeriod        = 8 * time.Second
	DefaultAmplitude     = 0.15
	DefaultFaceSize      = 0.28
	DefaultRollAmplitude = 0.25 // radians
	faceAspect           = 1.3  // height over width
)

// Motion is a face moving on a Lissajous path with a gentle head roll.
type Motion struct {
	Period        time.Duration
	Amplitude     float64
	Size          float64
	RollAmplitude float64
	Start         time.Time
}

// NewMotion returns a motion with the default path starting at start.
func NewMotion(start time.Time) *Motion {
	return &Motion{
		Period:        DefaultPeriod,
		Amplitude:     DefaultAmplitude,
		Size:          DefaultFaceSize,
		RollAmplitude: DefaultRollAmplitude,
		Start:         start,
	}
}

// Pose is the face at one instant. CX and CY are normalized; Size is the
// face width as a fraction of the frame width; Roll is in radians.
type Pose struct {
	CX   float64
	CY   float64
	Size float64
	Roll float64
}

// At returns the pose at t.
func (m *Motion) At(t time.Time) Pose {
	phase := 0.0
	if m.Period > 0 {
		phase = 2 * math.Pi * float64(t.Sub(m.Start)) / float64(m.Period)
	}
	return Pose{
		CX:   0.5 + m.Amplitude*math.Sin(phase),
		CY:   0.5 + m.Amplitude/2*math.Sin(2*phase),
		Size: m.Size,
		Roll: m.RollAmplitude * math.Sin(phase+math.Pi/3),
	}
}

// Face-local anchor positions: u across the face, v down it, both in half
// extents of the face ellipse.
var anchors = map[int][2]float64{
	model.NoseTip:        {0, 0.2},
	model.ForeheadTop:    {0, -0.75},
	model.Nasion:         {0, -0.25},
	model.LeftEyeOuter:   {-0.6, -0.13},
	model.LeftForehead:   {-0.35, -0.7},
	model.ForeheadCenter: {0, -0.6},
	model.LeftEyeCenter:  {-0.38, -0.15},
	model.RightEyeOuter:  {0.6, -0.13},
	model.RightForehead:  {0.35, -0.7},
	model.RightEyeCenter: {0.38, -0.15},
}

// local returns the face-local position of landmark i. Indices up to
// ContourLastIndex trace the jaw; the rest fill the face on a spiral.
func local(i int) (u, v float64) {
	if a, ok := anchors[i]; ok {
		return a[0], a[1]
	}
	if i <= model.ContourLastIndex {
		t := math.Pi * float64(i) / float64(model.ContourLastIndex)
		return math.Cos(t), math.Sin(t)
	}
	const golden = 2.399963229728653
	k := float64(i - model.ContourLastIndex)
	n := float64(model.NumLandmarks - model.ContourLastIndex)
	r := 0.85 * math.Sqrt(k/n)
	return r * math.Cos(k*golden), r * math.Sin(k*golden)
}

// pixel maps face-local (u, v) into frame pixels for a w×h frame.
func (p Pose) pixel(u, v float64, w, h int) (x, y float64) {
	hw := p.Size * float64(w) / 2
	hh := hw * faceAspect
	sin, cos := math.Sincos(p.Roll)
	dx, dy := u*hw, v*hh
	return p.CX*float64(w) + dx*cos - dy*sin, p.CY*float64(h) + dx*sin + dy*cos
}

// Landmarks returns the full mesh for a w×h frame.
func (p Pose) Landmarks(w, h int) []model.Landmark {
	out := make([]model.Landmark, model.NumLandmarks)
	for i := range out {
		u, v := local(i)
		x, y := p.pixel(u, v, w, h)
		out[i] = model.Landmark{X: x / float64(w), Y: y / float64(h), Visibility: 0.95}
	}
	return out
}

// Box returns the normalized bounding box of the face ellipse.
func (p Pose) Box(w, h int) model.FaceBox {
	hw := p.Size * float64(w) / 2
	hh := hw * faceAspect
	sin, cos := math.Abs(math.Sin(p.Roll)), math.Abs(math.Cos(p.Roll))
	ex := hw*cos + hh*sin
	ey := hw*sin + hh*cos
	cx, cy := p.CX*float64(w), p.CY*float64(h)
	return model.FaceBox{
		X: (cx - ex) / float64(w),
		Y: (cy - ey) / float64(h),
		W: 2 * ex / float64(w),
		H: 2 * ey / float64(h),
	}
}
