package detector

import (
	"time"

	"github.com/okian/facefx/pkg/logger"
)

// Option configures a Process.
type Option func(*Process)

// WithCodec selects the wire codec by name: "jsonl" (default) or "msgpack".
// Unknown names make Init fail with ErrUnknownCodec.
func WithCodec(name string) Option {
	return func(p *Process) {
		p.codecName = name
	}
}

// WithInitTimeout bounds how long Init waits for the ready message.
func WithInitTimeout(d time.Duration) Option {
	return func(p *Process) {
		if d > 0 {
			p.initTimeout = d
		}
	}
}

// WithWriteTimeout bounds a single request write.
func WithWriteTimeout(d time.Duration) Option {
	return func(p *Process) {
		if d > 0 {
			p.writeTimeout = d
		}
	}
}

// WithCloseTimeout bounds the graceful exit after stdin is closed.
func WithCloseTimeout(d time.Duration) Option {
	return func(p *Process) {
		if d > 0 {
			p.closeTimeout = d
		}
	}
}

// WithJPEGQuality sets the quality frames are encoded with.
func WithJPEGQuality(q int) Option {
	return func(p *Process) {
		if q > 0 && q <= 100 {
			p.quality = q
		}
	}
}

// WithEnv appends KEY=VALUE pairs to the inherited environment.
func WithEnv(kv ...string) Option {
	return func(p *Process) {
		p.env = append(p.env, kv...)
	}
}

// WithDir sets the process working directory.
func WithDir(dir string) Option {
	return func(p *Process) {
		p.dir = dir
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(p *Process) {
		if l != nil {
			p.log = l
		}
	}
}
