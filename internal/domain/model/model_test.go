package model_test

import (
	"math"
	"testing"
	"time"

	model "github.com/okian/facefx/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestLandmarkSet(t *testing.T) {
	Convey("Given raw detector points", t, func() {
		now := time.Now()

		Convey("When fewer than 468 points are supplied", func() {
			set := model.NewLandmarkSet([]model.Landmark{{X: 0.5, Y: 0.5, Visibility: 1}}, 0.8, now)

			Convey("Then the set keeps its fixed length and pads with invisible points", func() {
				So(len(set.Points), ShouldEqual, model.NumLandmarks)
				So(set.At(0).Visible(), ShouldBeTrue)
				So(set.At(1).Visibility, ShouldEqual, 0)
				So(set.At(-1), ShouldResemble, model.Landmark{})
				So(set.At(model.NumLandmarks), ShouldResemble, model.Landmark{})
			})
		})

		Convey("When values are out of range", func() {
			pts := []model.Landmark{{X: -0.2, Y: 1.4, Z: math.NaN(), Visibility: 3}}
			set := model.NewLandmarkSet(pts, 1.7, now)

			Convey("Then coordinates, visibility and confidence are clamped", func() {
				p := set.At(0)
				So(p.X, ShouldEqual, 0)
				So(p.Y, ShouldEqual, 1)
				So(p.Z, ShouldEqual, 0)
				So(p.Visibility, ShouldEqual, 1)
				So(set.Confidence, ShouldEqual, 1)
			})
		})

		Convey("When computing the face box", func() {
			pts := make([]model.Landmark, model.NumLandmarks)
			pts[10] = model.Landmark{X: 0.4, Y: 0.2, Visibility: 0.9}
			pts[152] = model.Landmark{X: 0.6, Y: 0.8, Visibility: 0.9}
			pts[200] = model.Landmark{X: 0.0, Y: 0.0, Visibility: 0.1}
			set := model.NewLandmarkSet(pts, 0.9, now)
			box, ok := set.FaceBox()

			Convey("Then only visible points contribute", func() {
				So(ok, ShouldBeTrue)
				So(box.X, ShouldAlmostEqual, 0.4)
				So(box.Y, ShouldAlmostEqual, 0.2)
				So(box.W, ShouldAlmostEqual, 0.2)
				So(box.H, ShouldAlmostEqual, 0.6)
				So(set.VisibleCount(), ShouldEqual, 2)
			})
		})

		Convey("When no point is visible", func() {
			set := model.NewLandmarkSet(nil, 0, now)
			_, ok := set.FaceBox()

			Convey("Then there is no face box", func() {
				So(ok, ShouldBeFalse)
			})
		})
	})
}

func TestMirrorRoundTrip(t *testing.T) {
	Convey("Given landmarks across the frame and several canvas sizes", t, func() {
		widths := []int{1, 320, 640, 1280, 1919}
		xs := []float64{0, 0.1, 0.25, 0.333, 0.5, 0.77, 0.999, 1}

		Convey("Then mirroring twice returns the original canvas x", func() {
			for _, w := range widths {
				g := model.CanvasGeometry{Width: w, Height: 480, Mirrored: true}
				for _, x := range xs {
					l := model.Landmark{X: x, Y: 0.5, Visibility: 1}
					mx, my := g.ToCanvas(l)
					back := model.MirrorX(mx, w)
					So(back, ShouldAlmostEqual, x*float64(w), 1e-9)
					So(my, ShouldEqual, 240)
				}
			}
		})

		Convey("Then the canonical geometry never mirrors", func() {
			g := model.CanvasGeometry{Width: 640, Height: 480, Mirrored: true}.Canonical()
			x, _ := g.ToCanvas(model.Landmark{X: 0.25})
			So(g.Mirrored, ShouldBeFalse)
			So(x, ShouldEqual, 160)
		})
	})
}
