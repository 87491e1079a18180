package recorder

import (
	"context"
	"image"
	"time"

	"github.com/okian/facefx/internal/domain/model"
)

// Handlers receive encoder output. Implementations call them from their own
// goroutines, never from inside Start, Pause, Resume or Stop, and never
// concurrently with each other. The last OnData precedes OnStop.
type Handlers struct {
	OnData  func(chunk []byte)
	OnStop  func()
	OnError func(err error)
}

// EncoderOptions configure one encoding session.
type EncoderOptions struct {
	MimeType           string
	VideoBitsPerSecond int
	// Width and Height are the output size; input frames are scaled when they differ.
	Width  int
	Height int
	FPS    int
}

// Tracks are the inputs muxed into the container. Audio is nil for video-only.
type Tracks struct {
	Video *VideoTrack
	Audio AudioTrack
}

// EncoderFactory creates encoders for supported container formats.
type EncoderFactory interface {
	IsTypeSupported(mime string) bool
	New(tracks Tracks, opts EncoderOptions, h Handlers) (Encoder, error)
}

// Encoder turns tracks into container chunks delivered through Handlers.
type Encoder interface {
	// Start begins encoding, emitting a chunk roughly every timeslice.
	Start(timeslice time.Duration) error
	Pause() error
	Resume() error
	// Stop flushes and ends the stream. OnStop follows the final chunk.
	Stop() error
}

// FrameSource is the composite canvas the capture track reads from.
type FrameSource interface {
	Snapshot(dst *image.RGBA) (time.Time, error)
	Geometry() model.CanvasGeometry
}

// AudioFormat describes interleaved signed 16-bit little endian PCM.
type AudioFormat struct {
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Device     string `json:"device,omitempty"`
}

// AudioTrack is a live PCM stream.
type AudioTrack interface {
	Format() AudioFormat
	// Read blocks until PCM is available or the track ends.
	Read(p []byte) (int, error)
	// Timestamp is the media time of the last sample read.
	Timestamp() time.Duration
}

// AudioInfo is reported on a result when audio was muxed.
type AudioInfo struct {
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Device     string `json:"device,omitempty"`
}

// MicState is the microphone permission and stream state.
type MicState int

const (
	MicUninitialized MicState = iota
	MicInitializing
	MicReady
	MicError
)

func (s MicState) String() string {
	switch s {
	case MicInitializing:
		return "INITIALIZING"
	case MicReady:
		return "READY"
	case MicError:
		return "ERROR"
	}
	return "UNINITIALIZED"
}

// MarshalText renders the state name in JSON.
func (s MicState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Microphone is an audio capture device.
type Microphone interface {
	RequestAccess(ctx context.Context) error
	State() MicState
	// AudioTrack returns the live track, or nil unless the state is MicReady.
	AudioTrack() AudioTrack
	StartRecording() error
	PauseRecording()
	ResumeRecording()
	StopRecording() error
	// RecordedAudio returns the PCM captured since StartRecording.
	RecordedAudio() []byte
}
