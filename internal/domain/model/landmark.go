// Package model contains domain models passed between pipeline stages.
package model

import (
	"math"
	"time"
)

// NumLandmarks is the fixed length of a face mesh landmark set.
const NumLandmarks = 468

// Face mesh landmark indices with fixed meaning.
const (
	NoseTip          = 1
	ForeheadTop      = 9
	Nasion           = 10
	LeftEyeOuter     = 33
	LeftForehead     = 108
	ForeheadCenter   = 151
	LeftEyeCenter    = 159
	RightEyeOuter    = 263
	RightForehead    = 337
	RightEyeCenter   = 386
	ContourLastIndex = 49 // indices 0..49 bound the chin search
)

// VisibleThreshold is the visibility at or above which a landmark counts as present.
const VisibleThreshold = 0.5

// Landmark is one normalized face mesh point relative to the native, unmirrored frame.
type Landmark struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	Visibility float64 `json:"visibility"`
}

// Visible reports whether the landmark meets VisibleThreshold.
func (l Landmark) Visible() bool {
	return l.Visibility >= VisibleThreshold
}

// LandmarkSet is a full face mesh snapshot. Its length never changes; missing
// points carry Visibility 0.
type LandmarkSet struct {
	Points     [NumLandmarks]Landmark `json:"points"`
	Confidence float64                `json:"confidence"`
	CapturedAt time.Time              `json:"captured_at"`
}

// At returns the landmark at index i, or a zero (invisible) landmark when i is out of range.
func (s *LandmarkSet) At(i int) Landmark {
	if s == nil || i < 0 || i >= NumLandmarks {
		return Landmark{}
	}
	return s.Points[i]
}

// AllVisible reports whether every listed index is visible.
func (s *LandmarkSet) AllVisible(indices ...int) bool {
	for _, i := range indices {
		if !s.At(i).Visible() {
			return false
		}
	}
	return true
}

// VisibleCount returns the number of visible landmarks.
func (s *LandmarkSet) VisibleCount() int {
	if s == nil {
		return 0
	}
	n := 0
	for i := range s.Points {
		if s.Points[i].Visible() {
			n++
		}
	}
	return n
}

// Age returns how old the set is at now.
func (s *LandmarkSet) Age(now time.Time) time.Duration {
	if s == nil {
		return math.MaxInt64
	}
	return now.Sub(s.CapturedAt)
}

// FaceBox returns the normalized bounding box of all visible landmarks.
// ok is false when no landmark is visible.
func (s *LandmarkSet) FaceBox() (box FaceBox, ok bool) {
	if s == nil {
		return FaceBox{}, false
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for i := range s.Points {
		p := s.Points[i]
		if !p.Visible() {
			continue
		}
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
		maxX = math.Max(maxX, p.X)
		maxY = math.Max(maxY, p.Y)
		ok = true
	}
	if !ok {
		return FaceBox{}, false
	}
	return FaceBox{X: minX, Y: minY, W: maxX - minX, H: maxY - minY}, true
}

// FaceBox is a normalized face bounding box used for fallback scaling.
type FaceBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// NewLandmarkSet normalizes raw detector points into a fixed-length set.
// Extra points are ignored, missing ones stay invisible, and every
// coordinate and visibility is clamped to [0,1]. Z is passed through.
func NewLandmarkSet(points []Landmark, confidence float64, capturedAt time.Time) *LandmarkSet {
	set := &LandmarkSet{
		Confidence: Clamp01(confidence),
		CapturedAt: capturedAt,
	}
	n := len(points)
	if n > NumLandmarks {
		n = NumLandmarks
	}
	for i := 0; i < n; i++ {
		p := points[i]
		set.Points[i] = Landmark{
			X:          Clamp01(p.X),
			Y:          Clamp01(p.Y),
			Z:          finiteOrZero(p.Z),
			Visibility: Clamp01(p.Visibility),
		}
	}
	return set
}

// Clamp01 clamps v into [0,1]; NaN becomes 0.
func Clamp01(v float64) float64 {
	return Clamp(v, 0, 1)
}

// Clamp clamps v into [lo,hi]; NaN becomes lo.
func Clamp(v, lo, hi float64) float64 {
	switch {
	case math.IsNaN(v), v < lo:
		return lo
	case v > hi:
		return hi
	default:
		return v
	}
}

func finiteOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
