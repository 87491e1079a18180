package camera

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blackjack/webcam"
	"github.com/pkg/errors"

	"github.com/okian/facefx/internal/adapters/mq/mailbox"
	"github.com/okian/facefx/internal/domain/model"
	"github.com/okian/facefx/pkg/logger"
	"github.com/okian/facefx/pkg/metrics"
)

const waitTimeoutSeconds = 1

// V4L2Source captures from a Linux video device.
type V4L2Source struct {
	cfg    settings
	log    logger.Logger
	events chan DeviceEvent

	mu     sync.Mutex
	cam    *webcam.Webcam
	device string
	mb     *mailbox.Mailbox
	meta   model.FrameMeta
	cancel context.CancelFunc
	done   chan struct{}
	seq    atomic.Uint64
}

// NewV4L2Source creates a source; nothing is opened until Open.
func NewV4L2Source(opts ...Option) *V4L2Source {
	cfg := defaultSettings()
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &V4L2Source{
		cfg:    cfg,
		log:    cfg.logger,
		events: make(chan DeviceEvent, 8),
	}
	if s.log == nil {
		s.log = logger.Named("camera")
	}
	return s
}

// Open negotiates YUYV or MJPEG at the configured size and starts streaming.
func (s *V4L2Source) Open(ctx context.Context, deviceID string) (Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cam != nil {
		return nil, ErrAlreadyOpen
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	device := deviceID
	if device == "" {
		device = s.cfg.device
	}

	cam, err := webcam.Open(device)
	if err != nil {
		return nil, errors.Wrap(classify(err), "can not open device "+device)
	}

	format, err := pickFormat(cam.GetSupportedFormats())
	if err != nil {
		cam.Close()
		return nil, errors.Wrap(err, "can not negotiate format")
	}
	got, w, h, err := cam.SetImageFormat(format, uint32(s.cfg.width), uint32(s.cfg.height))
	if err != nil {
		cam.Close()
		return nil, errors.Wrap(classify(err), "can not set image format")
	}
	conv, err := newConverter(uint32(got), int(w), int(h))
	if err != nil {
		cam.Close()
		return nil, errors.Wrap(err, "can not convert device format")
	}
	if err := cam.StartStreaming(); err != nil {
		cam.Close()
		return nil, errors.Wrap(classify(err), "can not start streaming")
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cam = cam
	s.device = device
	s.mb = mailbox.New()
	s.meta = model.FrameMeta{Width: int(w), Height: int(h), Mirrored: s.cfg.mirrored}
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.capture(loopCtx, cam, conv, s.mb, s.done)

	s.log.Info(ctx, "camera opened",
		logger.String("device", device),
		logger.Int("width", int(w)),
		logger.Int("height", int(h)))
	emit(s.events, DeviceEvent{Type: DeviceOpened, Device: device, At: time.Now()})
	return s.mb, nil
}

func pickFormat(formats map[webcam.PixelFormat]string) (webcam.PixelFormat, error) {
	for _, want := range []uint32{fourccYUYV, fourccMJPG} {
		if _, ok := formats[webcam.PixelFormat(want)]; ok {
			return webcam.PixelFormat(want), nil
		}
	}
	return 0, errors.Wrap(ErrDeviceUnavailable, "no YUYV or MJPEG support")
}

// capture reads frames until canceled or the device fails.
func (s *V4L2Source) capture(ctx context.Context, cam *webcam.Webcam, conv *converter, mb *mailbox.Mailbox, done chan struct{}) {
	defer close(done)
	for {
		if ctx.Err() != nil {
			return
		}
		err := cam.WaitForFrame(waitTimeoutSeconds)
		switch err.(type) {
		case nil:
		case *webcam.Timeout:
			continue
		default:
			s.lost(ctx, errors.Wrap(err, "frame wait failed"))
			return
		}
		if ctx.Err() != nil {
			return
		}

		raw, err := cam.ReadFrame()
		if err != nil {
			s.lost(ctx, errors.Wrap(err, "read frame failed"))
			return
		}
		if len(raw) == 0 {
			continue
		}
		img, err := conv.convert(raw)
		if err != nil {
			metrics.RecordFrameDropped("decode")
			s.log.Debug(ctx, "frame decode failed", logger.Error(err))
			continue
		}
		mb.Publish(&model.Frame{Seq: s.seq.Add(1), Image: img, CapturedAt: time.Now()})
		metrics.RecordFrameCaptured("v4l2")
	}
}

func (s *V4L2Source) lost(ctx context.Context, err error) {
	metrics.RecordErrorByComponent("camera", "device_lost")
	s.log.Error(ctx, "camera lost", logger.String("device", s.device), logger.Error(err))
	emit(s.events, DeviceEvent{Type: DeviceLost, Device: s.device, Err: errors.Wrap(ErrDeviceUnavailable, err.Error()), At: time.Now()})
}

// Close stops streaming and releases the device. Closing a closed source is a no-op.
func (s *V4L2Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cam == nil {
		return nil
	}
	s.cancel()
	<-s.done
	s.mb.Close()
	var firstErr error
	if err := s.cam.StopStreaming(); err != nil {
		firstErr = errors.Wrap(err, "stop streaming")
	}
	if err := s.cam.Close(); err != nil && firstErr == nil {
		firstErr = errors.Wrap(err, "close device")
	}
	emit(s.events, DeviceEvent{Type: DeviceClosed, Device: s.device, At: time.Now()})
	s.cam = nil
	s.mb = nil
	return firstErr
}

// Meta returns the negotiated frame size, or the requested size before Open.
func (s *V4L2Source) Meta() model.FrameMeta {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.meta.Width == 0 {
		return model.FrameMeta{Width: s.cfg.width, Height: s.cfg.height, Mirrored: s.cfg.mirrored}
	}
	return s.meta
}

// Events returns the device event channel.
func (s *V4L2Source) Events() <-chan DeviceEvent {
	return s.events
}
