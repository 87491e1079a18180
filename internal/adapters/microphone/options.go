package microphone

import (
	"time"

	"github.com/okian/facefx/pkg/logger"
)

// Option configures an ARecord microphone.
type Option func(*ARecord)

// WithDevice selects the ALSA capture device, e.g. "hw:1,0".
func WithDevice(device string) Option {
	return func(m *ARecord) {
		if device != "" {
			m.device = device
		}
	}
}

// WithSampleRate sets the capture rate in Hz.
func WithSampleRate(rate int) Option {
	return func(m *ARecord) {
		if rate > 0 {
			m.format.SampleRate = rate
		}
	}
}

// WithChannels sets the channel count.
func WithChannels(n int) Option {
	return func(m *ARecord) {
		if n > 0 {
			m.format.Channels = n
		}
	}
}

// WithBinary sets the capture executable and arguments placed before the
// generated ones.
func WithBinary(path string, prefix ...string) Option {
	return func(m *ARecord) {
		if path != "" {
			m.binary = path
			m.prefix = prefix
		}
	}
}

// WithEnv adds KEY=VALUE pairs to the process environment.
func WithEnv(kv ...string) Option {
	return func(m *ARecord) {
		m.env = append(m.env, kv...)
	}
}

// WithAccessTimeout bounds how long RequestAccess waits for the first samples.
func WithAccessTimeout(d time.Duration) Option {
	return func(m *ARecord) {
		if d > 0 {
			m.accessTimeout = d
		}
	}
}

// WithMaxRecorded caps the PCM kept for RecordedAudio.
func WithMaxRecorded(n int) Option {
	return func(m *ARecord) {
		if n > 0 {
			m.maxRecorded = n
		}
	}
}

// WithLogger sets the microphone logger.
func WithLogger(l logger.Logger) Option {
	return func(m *ARecord) {
		if l != nil {
			m.logger = l
		}
	}
}
