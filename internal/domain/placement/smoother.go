package placement

import (
	"math"
	"time"

	"github.com/okian/facefx/internal/domain/model"
	"github.com/okian/facefx/internal/domain/overlay"
)

// Smoother applies an exponential moving average to consecutive placements
// of one overlay. It is not safe for concurrent use; each layer owns one.
type Smoother struct {
	factor float64
	maxAge time.Duration
	prev   model.Placement
	prevAt time.Time
}

// NewSmoother creates a smoother with factor 0.3 and a 250ms max age.
func NewSmoother(opts ...SmootherOption) *Smoother {
	s := &Smoother{
		factor: 0.3,
		maxAge: 250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Apply blends p with the previous placement and then sets the clamped scale.
// Blending happens only when both placements are valid and the previous one
// is no older than maxAge at now; otherwise p replaces it unchanged.
func (s *Smoother) Apply(p model.Placement, scale float64, now time.Time) model.Placement {
	if p.Valid && s.prev.Valid && now.Sub(s.prevAt) <= s.maxAge && s.factor < 1 {
		a := s.factor
		w := a*p.W + (1-a)*s.prev.W
		if p.W > 0 {
			p.H *= w / p.W
		}
		p.W = w
		p.CX = a*p.CX + (1-a)*s.prev.CX
		p.CY = a*p.CY + (1-a)*s.prev.CY
		p.RotationRad = wrap(s.prev.RotationRad + a*wrap(p.RotationRad-s.prev.RotationRad))
	}
	s.prev = p
	s.prevAt = now
	p.Scale = overlay.ClampScale(scale)
	return p
}

// Reset forgets the previous placement.
func (s *Smoother) Reset() {
	s.prev = model.Placement{}
	s.prevAt = time.Time{}
}

// wrap maps an angle into (-pi, pi].
func wrap(a float64) float64 {
	a = math.Mod(a+math.Pi, 2*math.Pi)
	if a <= 0 {
		a += 2 * math.Pi
	}
	return a - math.Pi
}
