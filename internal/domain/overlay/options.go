package overlay

import "github.com/okian/facefx/pkg/logger"

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// WithOnChange registers a callback invoked after the active set changes.
// It runs outside the registry lock.
func WithOnChange(fn func(active []ActiveOverlay)) Option {
	return func(r *Registry) {
		r.onChange = fn
	}
}
