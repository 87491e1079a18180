package compositor

import (
	"time"

	"github.com/okian/facefx/pkg/logger"
)

// Option configures a Compositor.
type Option func(*Compositor)

// WithFPS sets the target tick rate.
func WithFPS(fps int) Option {
	return func(c *Compositor) {
		if fps > 0 {
			c.fps = fps
		}
	}
}

// WithBeforeTick registers a hook run at the start of every tick, before any
// layer is read. Layers redrawn here are consistent within the tick.
func WithBeforeTick(fn func(now time.Time)) Option {
	return func(c *Compositor) {
		c.beforeTick = fn
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Compositor) {
		if l != nil {
			c.log = l
		}
	}
}
