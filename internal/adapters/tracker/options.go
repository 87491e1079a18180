package tracker

import (
	"time"

	"github.com/okian/facefx/pkg/logger"
)

// Option configures an Adapter.
type Option func(*Adapter)

// WithMaxResultAge sets how old a frame may be when its result arrives
// before the result is discarded.
func WithMaxResultAge(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.maxAge = d
		}
	}
}

// WithDetectTimeout bounds a single detector call.
func WithDetectTimeout(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithName sets the frame subscription name.
func WithName(name string) Option {
	return func(a *Adapter) {
		if name != "" {
			a.name = name
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(a *Adapter) {
		if l != nil {
			a.log = l
		}
	}
}
