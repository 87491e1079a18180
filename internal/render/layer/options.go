package layer

import (
	"time"

	"github.com/okian/facefx/internal/domain/dedupe"
	"github.com/okian/facefx/internal/domain/placement"
	"github.com/okian/facefx/pkg/logger"
)

// Option configures a Renderer.
type Option func(*Renderer)

// WithEngine sets the positioning engine.
func WithEngine(e *placement.Engine) Option {
	return func(r *Renderer) {
		if e != nil {
			r.engine = e
		}
	}
}

// WithSmoother sets the per-layer smoother.
func WithSmoother(s *placement.Smoother) Option {
	return func(r *Renderer) {
		if s != nil {
			r.smoother = s
		}
	}
}

// WithImageSource sets where overlay images come from.
func WithImageSource(src ImageSource) Option {
	return func(r *Renderer) {
		if src != nil {
			r.images = src
		}
	}
}

// WithStaleness sets the landmark age beyond which the layer is cleared.
func WithStaleness(d time.Duration) Option {
	return func(r *Renderer) {
		if d > 0 {
			r.staleness = d
		}
	}
}

// WithFailureLog sets the deduper used to report each failing image once.
func WithFailureLog(d dedupe.Deduper) Option {
	return func(r *Renderer) {
		if d != nil {
			r.failures = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Renderer) {
		if l != nil {
			r.log = l
		}
	}
}
