package worker

import (
	"github.com/okian/facefx/pkg/logger"
)

// Option configures an InMemoryWorker.
type Option func(*InMemoryWorker)

// WithName sets the worker name used in logs and metrics.
func WithName(name string) Option {
	return func(w *InMemoryWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(l logger.Logger) Option {
	return func(w *InMemoryWorker) {
		if l != nil {
			w.logger = l
		}
	}
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithLoopName sets the loop name used in logs and metrics.
func WithLoopName(name string) LoopOption {
	return func(l *Loop) {
		if name != "" {
			l.name = name
		}
	}
}

// WithLoopLogger sets a custom logger for the loop.
func WithLoopLogger(lg logger.Logger) LoopOption {
	return func(l *Loop) {
		if lg != nil {
			l.logger = lg
		}
	}
}
