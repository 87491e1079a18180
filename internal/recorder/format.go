package recorder

import (
	"fmt"
	"strings"
	"time"
)

// Container formats in order of preference.
const (
	FormatWebMVP9 = "video/webm;codecs=vp9"
	FormatWebMVP8 = "video/webm;codecs=vp8"
	FormatWebM    = "video/webm"
	FormatMP4     = "video/mp4"
)

// PreferredFormats is the negotiation order.
var PreferredFormats = []string{FormatWebMVP9, FormatWebMVP8, FormatWebM, FormatMP4}

// Negotiate picks the requested format when supported, otherwise the first
// supported preferred format. substituted reports a replaced request.
func Negotiate(requested string, supported func(mime string) bool) (mime string, substituted bool, err error) {
	if requested != "" && supported(requested) {
		return requested, false, nil
	}
	for _, f := range PreferredFormats {
		if supported(f) {
			return f, requested != "", nil
		}
	}
	return "", false, fmt.Errorf("%w: requested %q", ErrEncoderUnsupported, requested)
}

// Extension returns the file extension for a container MIME type.
func Extension(mime string) string {
	base, _, _ := strings.Cut(mime, ";")
	switch strings.TrimSpace(base) {
	case "video/mp4":
		return "mp4"
	case "video/x-matroska":
		return "mkv"
	default:
		return "webm"
	}
}

// Filename returns the default download name for a recording started at t,
// an ISO-8601 UTC timestamp with colons replaced by dashes.
func Filename(t time.Time, ext string) string {
	stamp := strings.ReplaceAll(t.UTC().Format("2006-01-02T15:04:05.000Z"), ":", "-")
	return "recording-" + stamp + "." + ext
}

// Preset is a named output size and rate. A zero Width or Height keeps the
// canvas size; a zero Bitrate leaves the computed bitrate unclamped.
type Preset struct {
	Name    string `json:"name"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	FPS     int    `json:"fps"`
	Bitrate int    `json:"bitrate"`
}

// Presets are the built-in quality presets.
var Presets = map[string]Preset{
	"low":    {Name: "low", Width: 640, Height: 360, FPS: 24, Bitrate: 1_000_000},
	"medium": {Name: "medium", Width: 1280, Height: 720, FPS: 30, Bitrate: 2_500_000},
	"high":   {Name: "high", Width: 1920, Height: 1080, FPS: 30, Bitrate: 5_000_000},
	"native": {Name: "native", FPS: 30},
}

// LookupPreset returns the preset called name; empty selects "native".
func LookupPreset(name string) (Preset, error) {
	if name == "" {
		name = "native"
	}
	p, ok := Presets[strings.ToLower(name)]
	if !ok {
		return Preset{}, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
	return p, nil
}

// Resolve fills a canvas-sized preset with the canvas dimensions.
func (p Preset) Resolve(canvasW, canvasH int) Preset {
	if p.Width <= 0 || p.Height <= 0 {
		p.Width, p.Height = canvasW, canvasH
	}
	if p.FPS <= 0 {
		p.FPS = 30
	}
	return p
}

// Bitrate is width × height × fps × 0.1 × quality, clamped to the preset's
// declared bitrate when it has one. Quality is clamped to (0, 1].
func (p Preset) BitrateFor(quality float64) int {
	if quality <= 0 || quality > 1 {
		quality = 1
	}
	bps := int(float64(p.Width) * float64(p.Height) * float64(p.FPS) * 0.1 * quality)
	if p.Bitrate > 0 && bps > p.Bitrate {
		bps = p.Bitrate
	}
	return bps
}
