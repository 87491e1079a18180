// Package config defines service configuration structures and loading hooks.
//
// Conventions:
//   - Provide New() to build a Config with defaults.
//   - Durations are expressed in milliseconds to keep env overrides simple.
//   - External errors are wrapped with this package's sentinel errors.
package config

import (
	"time"

	"github.com/okian/facefx/internal/domain/overlay"
)

// SyntheticDevice selects the generated camera and detector instead of hardware.
const SyntheticDevice = "synthetic"

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the encoder: json or console.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address. Loopback by default.
	Addr string `koanf:"addr"`

	Camera     CameraConfig     `koanf:"camera"`
	Detector   DetectorConfig   `koanf:"detector"`
	Tracker    TrackerConfig    `koanf:"tracker"`
	Render     RenderConfig     `koanf:"render"`
	Recording  RecordingConfig  `koanf:"recording"`
	Microphone MicrophoneConfig `koanf:"microphone"`

	// Overlays is the catalog loaded into the registry at startup.
	Overlays []overlay.Def `koanf:"overlays"`

	// ActiveOverlays lists the IDs enabled at startup.
	ActiveOverlays []string `koanf:"active_overlays"`
}

// CameraConfig selects and sizes the video source.
type CameraConfig struct {
	// Device is a V4L2 path such as /dev/video0, or "synthetic".
	Device   string `koanf:"device"`
	Width    int    `koanf:"width"`
	Height   int    `koanf:"height"`
	FPS      int    `koanf:"fps"`
	Mirrored bool   `koanf:"mirrored"`
}

// Synthetic reports whether the generated source is selected.
func (c CameraConfig) Synthetic() bool {
	return c.Device == "" || c.Device == SyntheticDevice
}

// DetectorConfig describes the landmark detector subprocess.
type DetectorConfig struct {
	// Command is the detector executable. Empty or "synthetic" uses the
	// built-in simulated detector.
	Command       string   `koanf:"command"`
	Args          []string `koanf:"args"`
	Codec         string   `koanf:"codec"`
	InitTimeoutMS int      `koanf:"init_timeout_ms"`
}

// Synthetic reports whether the simulated detector is selected.
func (d DetectorConfig) Synthetic() bool {
	return d.Command == "" || d.Command == SyntheticDevice
}

// InitTimeout returns InitTimeoutMS as a duration.
func (d DetectorConfig) InitTimeout() time.Duration {
	return ms(d.InitTimeoutMS)
}

// TrackerConfig bounds landmark freshness.
type TrackerConfig struct {
	MaxResultAgeMS int `koanf:"max_result_age_ms"`
	StalenessMS    int `koanf:"staleness_ms"`
}

// MaxResultAge returns MaxResultAgeMS as a duration.
func (t TrackerConfig) MaxResultAge() time.Duration {
	return ms(t.MaxResultAgeMS)
}

// Staleness returns StalenessMS as a duration.
func (t TrackerConfig) Staleness() time.Duration {
	return ms(t.StalenessMS)
}

// RenderConfig drives the compositor and placement smoothing.
type RenderConfig struct {
	FPS               int     `koanf:"fps"`
	SmoothingFactor   float64 `koanf:"smoothing_factor"`
	SmoothingMaxAgeMS int     `koanf:"smoothing_max_age_ms"`
	ImageTimeoutMS    int     `koanf:"image_timeout_ms"`
	// EdgePolicy is "any" to drop a box leaving the canvas on one side, or
	// "all" to drop it only when it leaves on every side.
	EdgePolicy string `koanf:"edge_policy"`
}

// SmoothingMaxAge returns SmoothingMaxAgeMS as a duration.
func (r RenderConfig) SmoothingMaxAge() time.Duration {
	return ms(r.SmoothingMaxAgeMS)
}

// ImageTimeout returns ImageTimeoutMS as a duration.
func (r RenderConfig) ImageTimeout() time.Duration {
	return ms(r.ImageTimeoutMS)
}

// RecordingConfig holds recorder defaults and storage locations.
type RecordingConfig struct {
	Format       string  `koanf:"format"`
	Preset       string  `koanf:"preset"`
	Quality      float64 `koanf:"quality"`
	IncludeAudio bool    `koanf:"include_audio"`
	// Dir receives downloaded recordings.
	Dir string `koanf:"dir"`
	// Catalog is the sqlite database indexing finished recordings.
	Catalog     string `koanf:"catalog"`
	TimesliceMS int    `koanf:"timeslice_ms"`
	// FFmpeg is the encoder binary.
	FFmpeg string `koanf:"ffmpeg"`
}

// Timeslice returns TimesliceMS as a duration.
func (r RecordingConfig) Timeslice() time.Duration {
	return ms(r.TimesliceMS)
}

// MicrophoneConfig selects the audio capture device.
type MicrophoneConfig struct {
	Device     string `koanf:"device"`
	SampleRate int    `koanf:"sample_rate"`
	Channels   int    `koanf:"channels"`
}

// New returns a Config holding defaults.
func New() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Addr:      "127.0.0.1:9080",
		Camera: CameraConfig{
			Device:   SyntheticDevice,
			Width:    640,
			Height:   480,
			FPS:      30,
			Mirrored: true,
		},
		Detector: DetectorConfig{
			Command:       SyntheticDevice,
			Codec:         "jsonl",
			InitTimeoutMS: 10_000,
		},
		Tracker: TrackerConfig{
			MaxResultAgeMS: 200,
			StalenessMS:    200,
		},
		Render: RenderConfig{
			FPS:               30,
			SmoothingFactor:   0.3,
			SmoothingMaxAgeMS: 250,
			ImageTimeoutMS:    5_000,
			EdgePolicy:        "any",
		},
		Recording: RecordingConfig{
			Format:       "video/webm;codecs=vp9",
			Preset:       "medium",
			Quality:      1,
			IncludeAudio: false,
			Dir:          "recordings",
			Catalog:      "recordings/catalog.db",
			TimesliceMS:  250,
			FFmpeg:       "ffmpeg",
		},
		Microphone: MicrophoneConfig{
			Device:     "default",
			SampleRate: 48_000,
			Channels:   1,
		},
		Overlays:       DefaultOverlays(),
		ActiveOverlays: []string{"glasses-classic"},
	}
}

// DefaultOverlays is the catalog used when no overlays are configured. The
// definitions carry no image, so layers draw their outline until one is set.
func DefaultOverlays() []overlay.Def {
	return []overlay.Def{
		{ID: "glasses-classic", Kind: overlay.KindGlasses},
		{ID: "hat-top", Kind: overlay.KindHat},
		{ID: "mask-plain", Kind: overlay.KindMask},
	}
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}
