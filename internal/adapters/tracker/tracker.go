// Package tracker feeds camera frames to a landmark detector one at a time
// and publishes normalized results into the landmark cache.
package tracker

import (
	"context"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/facefx/internal/adapters/mq/mailbox"
	"github.com/okian/facefx/internal/adapters/repository"
	"github.com/okian/facefx/internal/domain/model"
	"github.com/okian/facefx/pkg/logger"
	"github.com/okian/facefx/pkg/metrics"
)

const (
	// DefaultMaxResultAge is the oldest a source frame may be when its result lands.
	DefaultMaxResultAge  = 200 * time.Millisecond
	defaultDetectTimeout = time.Second
)

// Detector finds face landmarks in an image. A nil Detection means no face.
type Detector interface {
	Init(ctx context.Context) error
	Detect(ctx context.Context, img image.Image) (*model.Detection, error)
	Close() error
}

// Stream is the frame subscription the adapter reads from.
type Stream interface {
	Subscribe(name string) mailbox.ReadFunc
	Unsubscribe(name string)
}

// Stats counts frame outcomes since creation.
type Stats struct {
	Attached  bool   `json:"attached"`
	Submitted uint64 `json:"submitted"`
	Dropped   uint64 `json:"dropped"`
	Completed uint64 `json:"completed"`
	NoFace    uint64 `json:"no_face"`
	Discarded uint64 `json:"discarded"`
	Failed    uint64 `json:"failed"`
}

// Adapter runs at most one detection at a time. Frames arriving while a
// detection is in flight are dropped, not queued.
type Adapter struct {
	det   Detector
	cache repository.LandmarkStore

	maxAge  time.Duration
	timeout time.Duration
	name    string
	log     logger.Logger

	busy atomic.Bool

	mu          sync.Mutex
	initialized bool
	stream      Stream
	cancel      context.CancelFunc
	done        chan struct{}
	inflight    sync.WaitGroup

	submitted atomic.Uint64
	dropped   atomic.Uint64
	completed atomic.Uint64
	noFace    atomic.Uint64
	discarded atomic.Uint64
	failed    atomic.Uint64
}

// New creates an adapter writing results for det into cache.
func New(det Detector, cache repository.LandmarkStore, opts ...Option) *Adapter {
	a := &Adapter{
		det:     det,
		cache:   cache,
		maxAge:  DefaultMaxResultAge,
		timeout: defaultDetectTimeout,
		name:    "tracker",
		log:     logger.Named("tracker"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Attach initializes the detector on first use and starts consuming frames
// from stream. An init failure is returned as ErrTrackerUnavailable.
func (a *Adapter) Attach(ctx context.Context, stream Stream) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stream != nil {
		return ErrAlreadyAttached
	}
	if !a.initialized {
		if err := a.det.Init(ctx); err != nil {
			metrics.RecordErrorByComponent("tracker", "init")
			a.log.Error(ctx, "detector init failed", logger.Error(err))
			return fmt.Errorf("%w: %w", ErrTrackerUnavailable, err)
		}
		a.initialized = true
		a.cache.MarkInitialized()
	}

	runCtx, cancel := context.WithCancel(ctx)
	read := stream.Subscribe(a.name)
	a.stream = stream
	a.cancel = cancel
	a.done = make(chan struct{})
	go a.run(runCtx, read, a.done)
	a.log.Info(ctx, "tracker attached", logger.Duration("max_result_age", a.maxAge))
	return nil
}

func (a *Adapter) run(ctx context.Context, read mailbox.ReadFunc, done chan struct{}) {
	defer close(done)
	for {
		frame := read()
		if frame == nil || ctx.Err() != nil {
			return
		}
		_ = a.Offer(ctx, frame)
	}
}

// Offer submits frame unless a detection is already running.
func (a *Adapter) Offer(ctx context.Context, frame *model.Frame) error {
	if frame == nil || frame.Image == nil {
		return nil
	}
	if !a.busy.CompareAndSwap(false, true) {
		a.dropped.Add(1)
		metrics.RecordFrameDropped("tracker_busy")
		return ErrFrameDropped
	}
	a.submitted.Add(1)
	a.inflight.Add(1)
	go func() {
		defer a.inflight.Done()
		defer a.busy.Store(false)
		a.detect(ctx, frame)
	}()
	return nil
}

func (a *Adapter) detect(ctx context.Context, frame *model.Frame) {
	dctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	det, err := a.det.Detect(dctx, frame.Image)
	metrics.RecordDetectionLatency(float64(time.Since(start).Microseconds()) / 1000)

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		a.failed.Add(1)
		metrics.RecordDetection("error")
		a.cache.RecordError(err)
		a.log.Debug(ctx, "detection failed", logger.Uint64("seq", frame.Seq), logger.Error(err))
		return
	}
	if age := time.Since(frame.CapturedAt); age > a.maxAge {
		a.discarded.Add(1)
		metrics.RecordDetection("stale")
		a.log.Debug(ctx, "discarding stale result",
			logger.Uint64("seq", frame.Seq), logger.Duration("age", age))
		return
	}
	if det == nil {
		a.noFace.Add(1)
		metrics.RecordDetection("no_face")
		a.cache.RecordNoFace(frame.CapturedAt)
		return
	}
	a.completed.Add(1)
	metrics.RecordDetection("ok")
	a.cache.Write(model.NewLandmarkSet(det.Landmarks, det.Confidence, frame.CapturedAt))
}

// Detach stops consuming frames and waits for the in-flight detection.
// The detector stays initialized for a later Attach.
func (a *Adapter) Detach() {
	a.mu.Lock()
	stream, cancel, done := a.stream, a.cancel, a.done
	a.stream, a.cancel, a.done = nil, nil, nil
	a.mu.Unlock()
	if stream == nil {
		return
	}
	stream.Unsubscribe(a.name)
	cancel()
	<-done
	a.inflight.Wait()
	a.log.Info(context.Background(), "tracker detached")
}

// Close detaches and releases the detector.
func (a *Adapter) Close() error {
	a.Detach()
	return a.det.Close()
}

// Stats returns frame outcome counters.
func (a *Adapter) Stats() Stats {
	a.mu.Lock()
	attached := a.stream != nil
	a.mu.Unlock()
	return Stats{
		Attached:  attached,
		Submitted: a.submitted.Load(),
		Dropped:   a.dropped.Load(),
		Completed: a.completed.Load(),
		NoFace:    a.noFace.Load(),
		Discarded: a.discarded.Load(),
		Failed:    a.failed.Load(),
	}
}
