package service

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/facefx/internal/adapters/camera"
	"github.com/okian/facefx/internal/adapters/detector"
	"github.com/okian/facefx/internal/adapters/encoder"
	"github.com/okian/facefx/internal/adapters/microphone"
	"github.com/okian/facefx/internal/adapters/repository"
	"github.com/okian/facefx/internal/adapters/tracker"
	"github.com/okian/facefx/internal/config"
	"github.com/okian/facefx/internal/domain/placement"
	"github.com/okian/facefx/internal/recorder"
	"github.com/okian/facefx/internal/simulate"
	"github.com/okian/facefx/pkg/logger"
)

// FromConfig builds the adapters described by cfg and returns the options
// for New. The synthetic camera and detector share one face motion so the
// tracked landmarks follow the painted face.
func FromConfig(ctx context.Context, cfg *config.Config) ([]Option, error) {
	log := logger.Get()
	motion := simulate.NewMotion(time.Now())

	camOpts := []camera.Option{
		camera.WithSize(cfg.Camera.Width, cfg.Camera.Height),
		camera.WithFPS(cfg.Camera.FPS),
		camera.WithMirrored(cfg.Camera.Mirrored),
		camera.WithLogger(log.Named("camera")),
	}
	var src camera.Source
	if cfg.Camera.Synthetic() {
		src = camera.NewSyntheticSource(motion.Paint, camOpts...)
	} else {
		src = camera.NewV4L2Source(append(camOpts, camera.WithDevice(cfg.Camera.Device))...)
	}

	var det tracker.Detector
	if cfg.Detector.Synthetic() {
		det = simulate.NewDetector(motion)
	} else {
		det = detector.New(cfg.Detector.Command, cfg.Detector.Args,
			detector.WithCodec(cfg.Detector.Codec),
			detector.WithInitTimeout(cfg.Detector.InitTimeout()),
			detector.WithLogger(log.Named("detector")))
	}

	edge, err := placement.ParseEdgePolicy(cfg.Render.EdgePolicy)
	if err != nil {
		return nil, fmt.Errorf("render edge policy: %w", err)
	}

	store, err := repository.OpenSQLiteStore(ctx, cfg.Recording.Catalog,
		repository.WithDir(cfg.Recording.Dir),
		repository.WithLogger(log.Named("recordings")))
	if err != nil {
		return nil, fmt.Errorf("open recordings catalog: %w", err)
	}

	mic := microphone.New(
		microphone.WithDevice(cfg.Microphone.Device),
		microphone.WithSampleRate(cfg.Microphone.SampleRate),
		microphone.WithChannels(cfg.Microphone.Channels),
		microphone.WithLogger(log.Named("microphone")))

	return []Option{
		WithCamera(src),
		WithDetector(det),
		WithEncoderFactory(encoder.NewFactory(
			encoder.WithBinary(cfg.Recording.FFmpeg),
			encoder.WithLogger(log.Named("encoder")))),
		WithMicrophone(mic),
		WithRecordingStore(store),
		WithOverlays(cfg.Overlays, cfg.ActiveOverlays),
		WithRenderFPS(cfg.Render.FPS),
		WithSmoothing(cfg.Render.SmoothingFactor, cfg.Render.SmoothingMaxAge()),
		WithEdgePolicy(edge),
		WithStaleness(cfg.Tracker.Staleness()),
		WithMaxResultAge(cfg.Tracker.MaxResultAge()),
		WithImageTimeout(cfg.Render.ImageTimeout()),
		WithTimeslice(cfg.Recording.Timeslice()),
		WithRecordingDefaults(recorder.StartOptions{
			Format:       cfg.Recording.Format,
			Preset:       cfg.Recording.Preset,
			Quality:      cfg.Recording.Quality,
			IncludeAudio: cfg.Recording.IncludeAudio,
		}),
		WithLogger(log.Named("service")),
	}, nil
}
