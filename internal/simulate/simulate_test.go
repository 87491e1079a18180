package simulate

import (
	"context"
	"errors"
	"image"
	"math"
	"testing"
	"time"

	"github.com/okian/facefx/internal/domain/model"
	"github.com/okian/facefx/internal/domain/overlay"
	"github.com/okian/facefx/internal/domain/placement"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMotion(t *testing.T) {
	Convey("Given the default face motion", t, func() {
		start := time.Unix(1_700_000_000, 0)
		m := NewMotion(start)

		Convey("Then it starts centered with a gentle roll", func() {
			p := m.At(start)
			So(p.CX, ShouldAlmostEqual, 0.5)
			So(p.CY, ShouldAlmostEqual, 0.5)
			So(p.Roll, ShouldAlmostEqual, DefaultRollAmplitude*math.Sin(math.Pi/3))
		})

		Convey("Then every landmark stays inside the frame over a full period", func() {
			for i := 0; i < 32; i++ {
				set := model.NewLandmarkSet(m.At(start.Add(DefaultPeriod*time.Duration(i)/32)).Landmarks(640, 480), 1, start)
				box, ok := set.FaceBox()
				So(ok, ShouldBeTrue)
				So(box.X, ShouldBeGreaterThan, 0)
				So(box.Y, ShouldBeGreaterThan, 0)
				So(box.X+box.W, ShouldBeLessThan, 1)
				So(box.Y+box.H, ShouldBeLessThan, 1)
			}
		})
	})

	Convey("Given a face without roll", t, func() {
		p := Pose{CX: 0.5, CY: 0.5, Size: 0.3}
		set := model.NewLandmarkSet(p.Landmarks(640, 480), 1, time.Now())

		Convey("Then the anatomy is in order", func() {
			l, r := set.At(model.LeftEyeCenter), set.At(model.RightEyeCenter)
			So(l.Y, ShouldAlmostEqual, r.Y)
			So(l.X, ShouldBeLessThan, r.X)
			So(set.At(model.ForeheadTop).Y, ShouldBeLessThan, set.At(model.Nasion).Y)
			So(set.At(model.Nasion).Y, ShouldBeLessThan, set.At(model.NoseTip).Y)
			chin := 0.0
			for i := 0; i <= model.ContourLastIndex; i++ {
				chin = math.Max(chin, set.At(i).Y)
			}
			So(chin, ShouldBeGreaterThan, set.At(model.NoseTip).Y)
			So(set.VisibleCount(), ShouldEqual, model.NumLandmarks)
		})

		Convey("Then glasses land between the eyes", func() {
			def := overlay.Def{
				ID:               "g",
				Kind:             overlay.KindGlasses,
				Anchor:           overlay.DefaultAnchor(overlay.KindGlasses),
				Scaling:          overlay.Scaling{Base: 1},
				DefaultRendering: overlay.DefaultRendering(),
			}
			pl := placement.Compute(set, def, model.CanvasGeometry{Width: 640, Height: 480})
			So(pl.Valid, ShouldBeTrue)
			So(pl.CX, ShouldAlmostEqual, 320, 0.5)
			So(pl.RotationRad, ShouldAlmostEqual, 0, 1e-9)
		})

		Convey("Then the box bounds the face ellipse", func() {
			b := p.Box(640, 480)
			So(b.W, ShouldAlmostEqual, 0.3)
			So(b.X, ShouldAlmostEqual, 0.35)
		})
	})
}

func TestDetector(t *testing.T) {
	Convey("Given a synthetic detector", t, func() {
		start := time.Now()
		img := image.NewRGBA(image.Rect(0, 0, 320, 240))
		ctx := context.Background()

		Convey("When detecting before Init", func() {
			_, err := NewDetector(NewMotion(start)).Detect(ctx, img)

			Convey("Then it refuses", func() {
				So(errors.Is(err, ErrNotInitialized), ShouldBeTrue)
			})
		})

		Convey("When every second detection drops the face", func() {
			d := NewDetector(NewMotion(start), WithNoFaceEvery(2), WithConfidence(0.8))
			So(d.Init(ctx), ShouldBeNil)
			first, err1 := d.Detect(ctx, img)
			second, err2 := d.Detect(ctx, img)

			Convey("Then faces and misses alternate", func() {
				So(err1, ShouldBeNil)
				So(err2, ShouldBeNil)
				So(first, ShouldNotBeNil)
				So(len(first.Landmarks), ShouldEqual, model.NumLandmarks)
				So(first.Confidence, ShouldEqual, 0.8)
				So(first.Box, ShouldNotBeNil)
				So(second, ShouldBeNil)
			})
		})

		Convey("When the caller gives up during the simulated latency", func() {
			d := NewDetector(NewMotion(start), WithLatency(time.Second))
			So(d.Init(ctx), ShouldBeNil)
			cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
			defer cancel()
			_, err := d.Detect(cctx, img)

			Convey("Then the context error is returned", func() {
				So(errors.Is(err, context.DeadlineExceeded), ShouldBeTrue)
			})
		})

		Convey("When Init is configured to fail", func() {
			boom := errors.New("model missing")
			err := NewDetector(NewMotion(start), WithInitError(boom)).Init(ctx)

			Convey("Then the failure surfaces", func() {
				So(err, ShouldEqual, boom)
			})
		})
	})
}

func TestPainter(t *testing.T) {
	Convey("Given a painted frame", t, func() {
		start := time.Now()
		m := NewMotion(start)
		m.RollAmplitude = 0
		img := image.NewRGBA(image.Rect(0, 0, 320, 240))
		m.Paint(1, start, img)

		Convey("Then the face center is skin and the corner is background", func() {
			So(img.RGBAAt(160, 120), ShouldResemble, skin.C)
			So(img.RGBAAt(0, 0), ShouldResemble, background[0])
		})

		Convey("Then the eyes are drawn where the detector reports them", func() {
			lm := m.At(start).Landmarks(320, 240)[model.LeftEyeCenter]
			So(img.RGBAAt(int(lm.X*320), int(lm.Y*240)), ShouldResemble, feature.C)
		})
	})
}
