package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/okian/facefx/internal/domain/overlay"
	"github.com/okian/facefx/internal/domain/placement"
	"github.com/okian/facefx/internal/recorder"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FACEFX_"

// EnvConfigFile names the variable holding the optional YAML file path.
const EnvConfigFile = EnvPrefix + "CONFIG"

// sections are the nested key groups; the first env segment matching one
// becomes the koanf path separator.
var sections = []string{"camera", "detector", "tracker", "render", "recording", "microphone"}

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if FACEFX_CONFIG is set
//  3. env (prefix FACEFX_)
func Load(_ context.Context) (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
		}
	}

	// FACEFX_CAMERA_DEVICE -> camera.device, FACEFX_LOG_LEVEL -> log_level.
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}
	k.Delete("config")

	cfg := *base
	// Lists replace the defaults instead of merging into them.
	if k.Exists("overlays") {
		cfg.Overlays = nil
	}
	if k.Exists("active_overlays") {
		cfg.ActiveOverlays = nil
	}
	if k.Exists("detector.args") {
		cfg.Detector.Args = nil
	}
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	for _, sec := range sections {
		if strings.HasPrefix(s, sec+"_") {
			return sec + "." + strings.TrimPrefix(s, sec+"_")
		}
	}
	return s
}

// Validate checks value ranges and cross references.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.Camera.Width <= 0 || c.Camera.Height <= 0:
		return fmt.Errorf("%w: camera size %dx%d", ErrInvalidConfig, c.Camera.Width, c.Camera.Height)
	case c.Camera.FPS <= 0:
		return fmt.Errorf("%w: camera.fps must be positive", ErrInvalidConfig)
	case c.Render.FPS <= 0:
		return fmt.Errorf("%w: render.fps must be positive", ErrInvalidConfig)
	case c.Render.SmoothingFactor <= 0 || c.Render.SmoothingFactor > 1:
		return fmt.Errorf("%w: render.smoothing_factor must be in (0,1]", ErrInvalidConfig)
	case c.Recording.Quality < 0 || c.Recording.Quality > 1:
		return fmt.Errorf("%w: recording.quality must be in [0,1]", ErrInvalidConfig)
	case c.Recording.TimesliceMS <= 0:
		return fmt.Errorf("%w: recording.timeslice_ms must be positive", ErrInvalidConfig)
	case c.Microphone.SampleRate <= 0:
		return fmt.Errorf("%w: microphone.sample_rate must be positive", ErrInvalidConfig)
	}
	if _, err := recorder.LookupPreset(c.Recording.Preset); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if _, err := placement.ParseEdgePolicy(c.Render.EdgePolicy); err != nil {
		return fmt.Errorf("%w: render.edge_policy: %w", ErrInvalidConfig, err)
	}

	ids := make(map[string]struct{}, len(c.Overlays))
	for _, d := range c.Overlays {
		if d.ID == "" {
			return fmt.Errorf("%w: overlay without id", ErrInvalidConfig)
		}
		if _, dup := ids[d.ID]; dup {
			return fmt.Errorf("%w: duplicate overlay %q", ErrInvalidConfig, d.ID)
		}
		if _, err := overlay.ParseKind(string(d.Kind)); err != nil {
			return fmt.Errorf("%w: overlay %q: %w", ErrInvalidConfig, d.ID, err)
		}
		ids[d.ID] = struct{}{}
	}
	for _, id := range c.ActiveOverlays {
		if _, ok := ids[id]; !ok {
			return fmt.Errorf("%w: active overlay %q is not defined", ErrInvalidConfig, id)
		}
	}
	return nil
}
