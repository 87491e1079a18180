package encoder

import (
	"time"

	"github.com/okian/facefx/pkg/logger"
)

// Option configures a Factory.
type Option func(*Factory)

// WithBinary sets the ffmpeg executable and arguments placed before the
// generated ones.
func WithBinary(path string, prefix ...string) Option {
	return func(f *Factory) {
		if path != "" {
			f.binary = path
			f.prefix = prefix
		}
	}
}

// WithEnv adds KEY=VALUE pairs to the process environment.
func WithEnv(kv ...string) Option {
	return func(f *Factory) {
		f.env = append(f.env, kv...)
	}
}

// WithoutProbe trusts the codec table instead of asking ffmpeg for its encoders.
func WithoutProbe() Option {
	return func(f *Factory) {
		f.probe = false
	}
}

// WithCloseTimeout bounds how long ffmpeg may take to finalize after Stop
// before it is killed.
func WithCloseTimeout(d time.Duration) Option {
	return func(f *Factory) {
		if d > 0 {
			f.closeTimeout = d
		}
	}
}

// WithLogger sets the encoder logger.
func WithLogger(l logger.Logger) Option {
	return func(f *Factory) {
		if l != nil {
			f.logger = l
		}
	}
}
