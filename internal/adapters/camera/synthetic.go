package camera

import (
	"context"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/facefx/internal/adapters/mq/mailbox"
	"github.com/okian/facefx/internal/adapters/mq/worker"
	"github.com/okian/facefx/internal/domain/model"
	"github.com/okian/facefx/pkg/logger"
	"github.com/okian/facefx/pkg/metrics"
)

// PaintFunc draws frame seq into img. It runs on the source's loop goroutine.
type PaintFunc func(seq uint64, at time.Time, img *image.RGBA)

// SyntheticSource generates frames at a fixed rate without hardware.
type SyntheticSource struct {
	cfg    settings
	log    logger.Logger
	paint  PaintFunc
	events chan DeviceEvent

	mu   sync.Mutex
	mb   *mailbox.Mailbox
	loop *worker.Loop
	seq  atomic.Uint64
}

// NewSyntheticSource creates a synthetic source. A nil paint draws a moving
// test pattern.
func NewSyntheticSource(paint PaintFunc, opts ...Option) *SyntheticSource {
	cfg := defaultSettings()
	cfg.device = "synthetic"
	for _, opt := range opts {
		opt(&cfg)
	}
	if paint == nil {
		paint = TestPattern
	}
	s := &SyntheticSource{
		cfg:    cfg,
		log:    cfg.logger,
		paint:  paint,
		events: make(chan DeviceEvent, 8),
	}
	if s.log == nil {
		s.log = logger.Named("camera")
	}
	return s
}

// Open starts generating frames.
func (s *SyntheticSource) Open(ctx context.Context, deviceID string) (Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loop != nil {
		return nil, ErrAlreadyOpen
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if deviceID != "" && deviceID != s.cfg.device {
		return nil, classify(ErrDeviceUnavailable)
	}

	mb := mailbox.New()
	w, h := s.cfg.width, s.cfg.height
	loop := worker.NewLoop(time.Second/time.Duration(s.cfg.fps), func(ctx context.Context, now time.Time) {
		img := image.NewRGBA(image.Rect(0, 0, w, h))
		seq := s.seq.Add(1)
		s.paint(seq, now, img)
		mb.Publish(&model.Frame{Seq: seq, Image: img, CapturedAt: now})
		metrics.RecordFrameCaptured("synthetic")
	}, worker.WithLoopName("synthetic_camera"), worker.WithLoopLogger(s.log))

	s.mb = mb
	s.loop = loop
	go loop.Run(context.Background())

	s.log.Info(ctx, "synthetic camera opened", logger.Int("width", w), logger.Int("height", h))
	emit(s.events, DeviceEvent{Type: DeviceOpened, Device: s.cfg.device, At: time.Now()})
	return mb, nil
}

// Close stops frame generation.
func (s *SyntheticSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loop == nil {
		return nil
	}
	err := s.loop.Shutdown(context.Background())
	s.mb.Close()
	s.loop, s.mb = nil, nil
	emit(s.events, DeviceEvent{Type: DeviceClosed, Device: s.cfg.device, At: time.Now()})
	return err
}

// Fail simulates loss of the device: generation stops and DeviceLost is emitted.
func (s *SyntheticSource) Fail(err error) {
	s.mu.Lock()
	loop := s.loop
	s.mu.Unlock()
	if loop == nil {
		return
	}
	_ = loop.Shutdown(context.Background())
	emit(s.events, DeviceEvent{Type: DeviceLost, Device: s.cfg.device, Err: classify(err), At: time.Now()})
}

// Meta returns the configured geometry.
func (s *SyntheticSource) Meta() model.FrameMeta {
	return model.FrameMeta{Width: s.cfg.width, Height: s.cfg.height, Mirrored: s.cfg.mirrored}
}

// Events returns the device event channel.
func (s *SyntheticSource) Events() <-chan DeviceEvent {
	return s.events
}

// TestPattern paints vertical color bars that scroll one pixel per frame.
func TestPattern(seq uint64, _ time.Time, img *image.RGBA) {
	bars := []color.RGBA{
		{192, 192, 192, 255}, {192, 192, 0, 255}, {0, 192, 192, 255},
		{0, 192, 0, 255}, {192, 0, 192, 255}, {192, 0, 0, 255}, {0, 0, 192, 255},
	}
	b := img.Bounds()
	width := b.Dx()
	for x := b.Min.X; x < b.Max.X; x++ {
		c := bars[((x+int(seq))%width)*len(bars)/width]
		for y := b.Min.Y; y < b.Max.Y; y++ {
			img.SetRGBA(x, y, c)
		}
	}
}
