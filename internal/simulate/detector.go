package simulate

import (
	"context"
	"errors"
	"image"
	"sync/atomic"
	"time"

	"github.com/okian/facefx/internal/adapters/tracker"
	"github.com/okian/facefx/internal/domain/model"
)

// ErrNotInitialized is returned by Detect before Init.
var ErrNotInitialized = errors.New("synthetic detector not initialized")

var _ tracker.Detector = (*Detector)(nil)

// Detector reports the landmarks of a Motion as if a model had found them.
type Detector struct {
	motion      *Motion
	latency     time.Duration
	confidence  float64
	noFaceEvery uint64
	initErr     error
	now         func() time.Time

	ready atomic.Bool
	calls atomic.Uint64
}

// DetectorOption configures a Detector.
type DetectorOption func(*Detector)

// WithLatency delays every detection.
func WithLatency(latency time.Duration) DetectorOption {
	return func(d *Detector) { d.latency = latency }
}

// WithConfidence sets the reported face confidence.
func WithConfidence(c float64) DetectorOption {
	return func(d *Detector) { d.confidence = model.Clamp01(c) }
}

// WithNoFaceEvery makes every nth detection report no face.
func WithNoFaceEvery(n int) DetectorOption {
	return func(d *Detector) {
		if n > 0 {
			d.noFaceEvery = uint64(n)
		}
	}
}

// WithInitError makes Init fail.
func WithInitError(err error) DetectorOption {
	return func(d *Detector) { d.initErr = err }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) DetectorOption {
	return func(d *Detector) {
		if now != nil {
			d.now = now
		}
	}
}

// NewDetector returns a detector that follows m.
func NewDetector(m *Motion, opts ...DetectorOption) *Detector {
	d := &Detector{motion: m, confidence: 0.95, now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Init marks the detector ready.
func (d *Detector) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.initErr != nil {
		return d.initErr
	}
	d.ready.Store(true)
	return nil
}

// Detect returns the face at the current instant, sized to img.
func (d *Detector) Detect(ctx context.Context, img image.Image) (*model.Detection, error) {
	if !d.ready.Load() {
		return nil, ErrNotInitialized
	}
	if d.latency > 0 {
		t := time.NewTimer(d.latency)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	n := d.calls.Add(1)
	if d.noFaceEvery > 0 && n%d.noFaceEvery == 0 {
		return nil, nil
	}
	b := img.Bounds()
	pose := d.motion.At(d.now())
	box := pose.Box(b.Dx(), b.Dy())
	return &model.Detection{
		Landmarks:  pose.Landmarks(b.Dx(), b.Dy()),
		Confidence: d.confidence,
		Box:        &box,
	}, nil
}

// Close marks the detector stopped.
func (d *Detector) Close() error {
	d.ready.Store(false)
	return nil
}
