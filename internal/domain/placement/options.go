package placement

import "time"

// Option configures an Engine.
type Option func(*Engine)

// WithMinConfidence sets the confidence below which placements are invalid.
func WithMinConfidence(c float64) Option {
	return func(e *Engine) {
		e.minConfidence = c
	}
}

// WithEdgeTolerance sets how far, as a fraction of its own size, a box may
// leave the canvas before it is rejected.
func WithEdgeTolerance(t float64) Option {
	return func(e *Engine) {
		if t >= 0 {
			e.edgeTolerance = t
		}
	}
}

// WithEdgePolicy sets whether leaving the canvas on one side or on all four
// sides invalidates a placement.
func WithEdgePolicy(p EdgePolicy) Option {
	return func(e *Engine) {
		e.edgePolicy = p
	}
}

// SmootherOption configures a Smoother.
type SmootherOption func(*Smoother)

// WithFactor sets the EMA weight of the newest placement.
func WithFactor(f float64) SmootherOption {
	return func(s *Smoother) {
		if f > 0 && f <= 1 {
			s.factor = f
		}
	}
}

// WithMaxAge sets how old the previous placement may be and still be blended.
func WithMaxAge(d time.Duration) SmootherOption {
	return func(s *Smoother) {
		if d > 0 {
			s.maxAge = d
		}
	}
}

// Disabled turns smoothing off; Apply only clamps scale.
func Disabled() SmootherOption {
	return func(s *Smoother) {
		s.factor = 1
	}
}
