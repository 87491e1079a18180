package camera

import (
	"github.com/okian/facefx/pkg/logger"
)

// settings are shared by all sources.
type settings struct {
	device   string
	width    int
	height   int
	fps      int
	mirrored bool
	logger   logger.Logger
}

func defaultSettings() settings {
	return settings{
		device: "/dev/video0",
		width:  640,
		height: 480,
		fps:    30,
	}
}

// Option configures a source.
type Option func(*settings)

// WithDevice sets the default device path.
func WithDevice(path string) Option {
	return func(s *settings) {
		if path != "" {
			s.device = path
		}
	}
}

// WithSize sets the requested capture size.
func WithSize(width, height int) Option {
	return func(s *settings) {
		if width > 0 && height > 0 {
			s.width, s.height = width, height
		}
	}
}

// WithFPS sets the requested frame rate.
func WithFPS(fps int) Option {
	return func(s *settings) {
		if fps > 0 {
			s.fps = fps
		}
	}
}

// WithMirrored marks the preview as horizontally flipped.
func WithMirrored(m bool) Option {
	return func(s *settings) {
		s.mirrored = m
	}
}

// WithLogger sets the source logger.
func WithLogger(l logger.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}
