package service

import (
	"time"

	"github.com/okian/facefx/internal/adapters/camera"
	"github.com/okian/facefx/internal/adapters/repository"
	"github.com/okian/facefx/internal/adapters/tracker"
	"github.com/okian/facefx/internal/domain/overlay"
	"github.com/okian/facefx/internal/domain/placement"
	"github.com/okian/facefx/internal/recorder"
	"github.com/okian/facefx/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithCamera sets the frame source.
func WithCamera(src camera.Source) Option {
	return func(s *Service) {
		s.source = src
	}
}

// WithDetector sets the landmark detector.
func WithDetector(det tracker.Detector) Option {
	return func(s *Service) {
		s.detector = det
	}
}

// WithEncoderFactory sets the encoder capability used by the recorder.
func WithEncoderFactory(f recorder.EncoderFactory) Option {
	return func(s *Service) {
		s.encoders = f
	}
}

// WithMicrophone sets the audio capability used by the recorder.
func WithMicrophone(m recorder.Microphone) Option {
	return func(s *Service) {
		s.mic = m
	}
}

// WithRecordingStore sets where finished recordings are persisted.
func WithRecordingStore(st repository.RecordingStore) Option {
	return func(s *Service) {
		s.store = st
	}
}

// WithOverlays sets the overlay catalog and the IDs activated at start.
func WithOverlays(defs []overlay.Def, active []string) Option {
	return func(s *Service) {
		s.defs = append([]overlay.Def(nil), defs...)
		s.initial = append([]string(nil), active...)
	}
}

// WithRenderFPS sets the compositor tick rate.
func WithRenderFPS(fps int) Option {
	return func(s *Service) {
		if fps > 0 {
			s.fps = fps
		}
	}
}

// WithSmoothing sets the placement EMA factor and the age past which the
// previous placement is ignored.
func WithSmoothing(factor float64, maxAge time.Duration) Option {
	return func(s *Service) {
		s.smoothing = factor
		s.smoothingMaxAge = maxAge
	}
}

// WithEdgePolicy sets when a placement leaving the canvas is dropped.
func WithEdgePolicy(p placement.EdgePolicy) Option {
	return func(s *Service) {
		s.edgePolicy = p
	}
}

// WithStaleness sets the oldest landmark set a layer draws from.
func WithStaleness(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.staleness = d
		}
	}
}

// WithMaxResultAge sets the oldest source frame a detection may land for.
func WithMaxResultAge(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.maxResultAge = d
		}
	}
}

// WithImageTimeout bounds overlay image loads.
func WithImageTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.imageTimeout = d
		}
	}
}

// WithRecordingDefaults sets the options used for fields a start request leaves empty.
func WithRecordingDefaults(so recorder.StartOptions) Option {
	return func(s *Service) {
		s.defaults = so
	}
}

// WithTimeslice sets the encoder chunk interval.
func WithTimeslice(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeslice = d
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
