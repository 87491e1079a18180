package service_test

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/okian/facefx/internal/adapters/camera"
	service "github.com/okian/facefx/internal/app"
	"github.com/okian/facefx/internal/domain/overlay"
	"github.com/okian/facefx/internal/recorder"
	"github.com/okian/facefx/internal/simulate"
	"github.com/okian/facefx/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	// Initialize logging for tests
	err := logger.Init()
	if err != nil {
		panic(err)
	}
}

// fakeFactory hands out fakeEncoders that read one composite frame and emit
// one chunk per timeslice.
type fakeFactory struct {
	supported map[string]bool
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{supported: map[string]bool{
		recorder.FormatWebMVP9: true,
		recorder.FormatWebM:    true,
	}}
}

func (f *fakeFactory) IsTypeSupported(mime string) bool { return f.supported[mime] }

func (f *fakeFactory) New(t recorder.Tracks, _ recorder.EncoderOptions, h recorder.Handlers) (recorder.Encoder, error) {
	return &fakeEncoder{tracks: t, h: h, quit: make(chan struct{})}, nil
}

type fakeEncoder struct {
	tracks recorder.Tracks
	h      recorder.Handlers

	mu       sync.Mutex
	paused   bool
	quit     chan struct{}
	quitOnce sync.Once
}

func (e *fakeEncoder) Start(timeslice time.Duration) error {
	w, h := e.tracks.Video.Size()
	buf := image.NewRGBA(image.Rect(0, 0, w, h))
	go func() {
		t := time.NewTicker(timeslice)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				e.mu.Lock()
				paused := e.paused
				e.mu.Unlock()
				if paused {
					continue
				}
				if _, err := e.tracks.Video.ReadFrame(buf); err == nil {
					e.h.OnData([]byte("chunk;"))
				}
			case <-e.quit:
				e.h.OnData([]byte("final"))
				e.h.OnStop()
				return
			}
		}
	}()
	return nil
}

func (e *fakeEncoder) Pause() error  { e.setPaused(true); return nil }
func (e *fakeEncoder) Resume() error { e.setPaused(false); return nil }

func (e *fakeEncoder) Stop() error {
	e.quitOnce.Do(func() { close(e.quit) })
	return nil
}

func (e *fakeEncoder) setPaused(p bool) {
	e.mu.Lock()
	e.paused = p
	e.mu.Unlock()
}

func catalog() []overlay.Def {
	return []overlay.Def{
		{ID: "glasses-a", Kind: overlay.KindGlasses},
		{ID: "glasses-b", Kind: overlay.KindGlasses},
		{ID: "hat-a", Kind: overlay.KindHat},
	}
}

func newSyntheticService(opts ...service.Option) (*service.Service, *camera.SyntheticSource) {
	motion := simulate.NewMotion(time.Now())
	src := camera.NewSyntheticSource(motion.Paint, camera.WithSize(320, 240), camera.WithFPS(30), camera.WithMirrored(true))
	base := []service.Option{
		service.WithCamera(src),
		service.WithDetector(simulate.NewDetector(motion)),
		service.WithEncoderFactory(newFakeFactory()),
		service.WithOverlays(catalog(), []string{"glasses-a"}),
		service.WithTimeslice(50 * time.Millisecond),
	}
	return service.New(append(base, opts...)...), src
}

func waitFor(d time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestService_New(t *testing.T) {
	Convey("Given a new service with default options", t, func() {
		svc := service.New()

		Convey("Then it should not be started", func() {
			So(svc, ShouldNotBeNil)
			So(svc.GetStats().Started, ShouldBeFalse)
			So(svc.RecordingDefaults().Format, ShouldEqual, recorder.FormatWebMVP9)
		})

		Convey("When starting without a camera", func() {
			err := svc.Start(context.Background())

			Convey("Then the missing dependency is reported", func() {
				So(errors.Is(err, service.ErrMissingDependency), ShouldBeTrue)
			})
		})

		Convey("When using session operations before Start", func() {
			_, err := svc.StartRecording(context.Background(), recorder.StartOptions{})
			_, trackErr := svc.Tracking()
			_, snapErr := svc.Snapshot()

			Convey("Then they report the service is not started", func() {
				So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
				So(errors.Is(trackErr, service.ErrNotStarted), ShouldBeTrue)
				So(errors.Is(snapErr, service.ErrNotStarted), ShouldBeTrue)
				So(errors.Is(svc.PauseRecording(), service.ErrNotStarted), ShouldBeTrue)
			})
		})

		Convey("When listing recordings without a store", func() {
			_, err := svc.Recordings(context.Background(), 10)

			Convey("Then the missing store is reported", func() {
				So(errors.Is(err, service.ErrNoRecordingStore), ShouldBeTrue)
			})
		})
	})
}

func TestService_StartStop(t *testing.T) {
	Convey("Given a synthetic service", t, func() {
		svc, _ := newSyntheticService()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		defer func() { _ = svc.Close(ctx) }()

		Convey("When starting the service", func() {
			err := svc.Start(ctx)

			Convey("Then it should start with the catalog registered", func() {
				So(err, ShouldBeNil)
				stats := svc.GetStats()
				So(stats.Started, ShouldBeTrue)
				So(stats.Geometry.Width, ShouldEqual, 320)
				So(stats.Geometry.Mirrored, ShouldBeTrue)
				So(stats.ActiveOverlays, ShouldResemble, []string{"glasses-a"})
				So(len(svc.Overlays()), ShouldEqual, 3)
			})

			Convey("And starting again is a no-op", func() {
				So(svc.Start(ctx), ShouldBeNil)
			})

			Convey("And the composite becomes available", func() {
				ok := waitFor(2*time.Second, func() bool {
					_, err := svc.Snapshot()
					return err == nil
				})
				So(ok, ShouldBeTrue)
				img, _ := svc.Snapshot()
				So(img.Rect.Dx(), ShouldEqual, 320)
				So(img.Rect.Dy(), ShouldEqual, 240)
			})
		})

		Convey("When stopping a started service", func() {
			So(svc.Start(ctx), ShouldBeNil)
			err := svc.Stop(ctx)

			Convey("Then it should be marked as stopped", func() {
				So(err, ShouldBeNil)
				So(svc.GetStats().Started, ShouldBeFalse)
			})

			Convey("And stopping again is a no-op", func() {
				So(svc.Stop(ctx), ShouldBeNil)
			})
		})
	})
}

func TestService_Overlays(t *testing.T) {
	Convey("Given a started synthetic service", t, func() {
		svc, _ := newSyntheticService()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Close(ctx) }()

		Convey("When activating a second overlay of the same kind", func() {
			So(svc.ActivateOverlay("glasses-b"), ShouldBeNil)

			Convey("Then it replaces the first", func() {
				So(svc.GetStats().ActiveOverlays, ShouldResemble, []string{"glasses-b"})
				a, err := svc.Overlay("glasses-a")
				So(err, ShouldBeNil)
				So(a.Enabled, ShouldBeFalse)
			})
		})

		Convey("When patching the rendering out of range", func() {
			scale := 5.0
			r, err := svc.SetOverlayRendering("glasses-a", overlay.RenderingPatch{Scale: &scale})

			Convey("Then the scale is clamped", func() {
				So(err, ShouldBeNil)
				So(r.Scale, ShouldEqual, 2.0)
			})
		})

		Convey("When activating an unknown overlay", func() {
			err := svc.ActivateOverlay("nope")

			Convey("Then it is not found", func() {
				So(errors.Is(err, overlay.ErrNotFound), ShouldBeTrue)
			})
		})
	})
}
