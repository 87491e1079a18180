package repository

import (
	"time"

	"github.com/okian/facefx/pkg/logger"
)

// CacheOption configures a LandmarkCache.
type CacheOption func(*LandmarkCache)

// WithDefaultFreshness sets the bound used when Fresh is called with zero.
func WithDefaultFreshness(d time.Duration) CacheOption {
	return func(c *LandmarkCache) {
		if d > 0 {
			c.freshness = d
		}
	}
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithDir sets the directory recordings are written to.
func WithDir(dir string) Option {
	return func(s *SQLiteStore) {
		if dir != "" {
			s.dir = dir
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(l logger.Logger) Option {
	return func(s *SQLiteStore) {
		if l != nil {
			s.log = l
		}
	}
}
