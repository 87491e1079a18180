package recorder

import (
	"time"

	"github.com/okian/facefx/pkg/logger"
)

// Option configures a Recorder.
type Option func(*Recorder)

// WithMicrophone sets the audio source used when a start requests audio.
func WithMicrophone(m Microphone) Option {
	return func(r *Recorder) {
		r.mic = m
	}
}

// WithTimeslice sets how often the encoder emits a chunk.
func WithTimeslice(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.timeslice = d
		}
	}
}

// WithSyncInterval sets the sync monitor period.
func WithSyncInterval(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.syncInterval = d
		}
	}
}

// WithFinalChunkWait bounds how long Stop waits for the encoder to finish.
func WithFinalChunkWait(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.finalWait = d
		}
	}
}

// WithStopBudget bounds the whole Stop call.
func WithStopBudget(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.stopBudget = d
		}
	}
}

// WithLogger sets the recorder logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Recorder) {
		if l != nil {
			r.logger = l
		}
	}
}
