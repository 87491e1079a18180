package layer

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/okian/facefx/internal/domain/dedupe"
	"github.com/okian/facefx/internal/domain/model"
	"github.com/okian/facefx/internal/domain/overlay"
	"github.com/okian/facefx/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

type memImages map[string]image.Image

func (m memImages) Load(_ context.Context, ref string) (image.Image, error) {
	if img, ok := m[ref]; ok {
		return img, nil
	}
	return nil, ErrImageLoadFailed
}

// twoTone is red on its top half and blue on its bottom half.
func twoTone(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		c := color.RGBA{R: 255, A: 255}
		if y >= h/2 {
			c = color.RGBA{B: 255, A: 255}
		}
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func glassesSet(at time.Time) *model.LandmarkSet {
	pts := make([]model.Landmark, model.NumLandmarks)
	pts[159] = model.Landmark{X: 0.40, Y: 0.45, Visibility: 0.9}
	pts[386] = model.Landmark{X: 0.60, Y: 0.45, Visibility: 0.9}
	pts[33] = model.Landmark{X: 0.35, Y: 0.46, Visibility: 0.8}
	pts[263] = model.Landmark{X: 0.65, Y: 0.46, Visibility: 0.8}
	return model.NewLandmarkSet(pts, 0.9, at)
}

func glasses(url string) *overlay.ActiveOverlay {
	return &overlay.ActiveOverlay{
		Def: overlay.Def{
			ID:       "g1",
			Kind:     overlay.KindGlasses,
			ImageURL: url,
			Anchor:   overlay.DefaultAnchor(overlay.KindGlasses),
			Scaling:  overlay.Scaling{Base: 1},
			ZIndex:   1,
		},
		Enabled:   true,
		Rendering: overlay.DefaultRendering(),
	}
}

func alphaAt(img *image.RGBA, x, y int) uint8 {
	return img.RGBAAt(x, y).A
}

func empty(img *image.RGBA) bool {
	for _, v := range img.Pix {
		if v != 0 {
			return false
		}
	}
	return true
}

func TestRenderer(t *testing.T) {
	geom := model.CanvasGeometry{Width: 640, Height: 480, Mirrored: true}
	now := time.Now()

	Convey("Given a glasses layer with a preloaded image", t, func() {
		r := New(overlay.KindGlasses, WithImageSource(memImages{"mem://tone": twoTone(100, 40)}))
		active := glasses("mem://tone")
		So(r.Preload(context.Background(), active.Def), ShouldBeNil)

		Convey("When drawn from fresh landmarks", func() {
			p := r.Draw(active, glassesSet(now), geom, now.Add(50*time.Millisecond))

			Convey("Then the image covers the placement in unmirrored space", func() {
				So(p.Valid, ShouldBeTrue)
				So(p.CX, ShouldAlmostEqual, 320, 1e-9)
				So(p.CY, ShouldAlmostEqual, 216, 1e-9)
				img := r.Snapshot()
				So(img.Rect.Dx(), ShouldEqual, 640)
				So(alphaAt(img, 320, 216), ShouldEqual, 255)
				So(img.RGBAAt(320, 200).R, ShouldEqual, 255)
				So(img.RGBAAt(320, 232).B, ShouldEqual, 255)
				So(alphaAt(img, 10, 10), ShouldEqual, 0)
				So(r.Last().Valid, ShouldBeTrue)
			})

			Convey("Then readers see the front buffer and its blend mode", func() {
				var blend overlay.BlendMode
				var a uint8
				r.View(func(img *image.RGBA, b overlay.BlendMode) {
					blend, a = b, alphaAt(img, 320, 216)
				})
				So(blend, ShouldEqual, overlay.BlendSourceOver)
				So(a, ShouldEqual, 255)
				So(r.ZIndex(), ShouldEqual, 1)
			})

			Convey("And the landmarks go stale", func() {
				p := r.Draw(active, glassesSet(now), geom, now.Add(201*time.Millisecond))

				Convey("Then the layer is cleared", func() {
					So(p.Valid, ShouldBeFalse)
					So(p.Reason, ShouldEqual, ReasonStale)
					So(empty(r.Snapshot()), ShouldBeTrue)
				})
			})

			Convey("And the overlay is hidden", func() {
				hidden := *active
				hidden.Rendering.Visible = false
				p := r.Draw(&hidden, glassesSet(now), geom, now)

				Convey("Then the layer is cleared", func() {
					So(p.Reason, ShouldEqual, ReasonInactive)
					So(empty(r.Snapshot()), ShouldBeTrue)
				})
			})

			Convey("And the eyes disappear", func() {
				p := r.Draw(active, model.NewLandmarkSet(nil, 0.9, now), geom, now)

				Convey("Then the placement is invalid and nothing is drawn", func() {
					So(p.Valid, ShouldBeFalse)
					So(empty(r.Snapshot()), ShouldBeTrue)
				})
			})
		})

		Convey("When the art is painted upside down", func() {
			active.Def.ArtUpsideDown = true
			r.Draw(active, glassesSet(now), geom, now)

			Convey("Then it is turned half a circle", func() {
				img := r.Snapshot()
				So(img.RGBAAt(320, 200).B, ShouldEqual, 255)
				So(img.RGBAAt(320, 232).R, ShouldEqual, 255)
			})
		})

		Convey("When drawn at half opacity with a blend mode", func() {
			active.Rendering.Opacity = 0.5
			active.Rendering.BlendMode = overlay.BlendMultiply
			r.Draw(active, glassesSet(now), geom, now)

			Convey("Then the pixels are half transparent and the mode is published", func() {
				a := alphaAt(r.Snapshot(), 320, 216)
				So(a, ShouldBeBetweenOrEqual, 126, 129)
				r.View(func(_ *image.RGBA, b overlay.BlendMode) {
					So(b, ShouldEqual, overlay.BlendMultiply)
				})
			})
		})
	})

	Convey("Given an overlay whose image cannot be loaded", t, func() {
		failures := dedupe.NewInMemoryDeduper()
		r := New(overlay.KindGlasses, WithImageSource(memImages{}), WithFailureLog(failures))
		active := glasses("mem://missing")
		err := r.Preload(context.Background(), active.Def)

		Convey("When the layer is drawn twice", func() {
			r.Draw(active, glassesSet(now), geom, now)
			p := r.Draw(active, glassesSet(now), geom, now)

			Convey("Then an outline of the footprint is stroked and the failure is reported once", func() {
				So(errors.Is(err, ErrImageLoadFailed), ShouldBeTrue)
				So(p.Valid, ShouldBeTrue)
				img := r.Snapshot()
				So(alphaAt(img, 196, 216), ShouldBeGreaterThan, 0)
				So(alphaAt(img, 320, 216), ShouldEqual, 0)
				So(failures.Size(), ShouldEqual, 1)
			})

			Convey("Then Forget re-arms the report", func() {
				r.Forget("g1")
				So(failures.Size(), ShouldEqual, 0)
			})
		})
	})

	Convey("Given a layer without landmarks", t, func() {
		r := New(overlay.KindHat, WithImageSource(memImages{}))
		p := r.Draw(&overlay.ActiveOverlay{Def: overlay.Def{ID: "h", Kind: overlay.KindHat}, Enabled: true, Rendering: overlay.DefaultRendering()}, nil, geom, now)

		Convey("Then it is sized to the canvas and empty", func() {
			So(p.Valid, ShouldBeFalse)
			img := r.Snapshot()
			So(img.Rect.Dx(), ShouldEqual, 640)
			So(img.Rect.Dy(), ShouldEqual, 480)
			So(empty(img), ShouldBeTrue)
			So(r.Kind(), ShouldEqual, overlay.KindHat)
		})
	})
}

func TestLoader(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	if err := png.Encode(&buf, twoTone(4, 2)); err != nil {
		t.Fatal(err)
	}

	Convey("Given a PNG on disk and over HTTP", t, func() {
		dir := t.TempDir()
		path := filepath.Join(dir, "hat.png")
		So(os.WriteFile(path, buf.Bytes(), 0o644), ShouldBeNil)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if req.URL.Path != "/hat.png" {
				http.NotFound(w, req)
				return
			}
			_, _ = w.Write(buf.Bytes())
		}))
		defer srv.Close()
		l := NewLoader(time.Second)

		Convey("Then paths, file URLs and http URLs decode", func() {
			for _, ref := range []string{path, "file://" + path, srv.URL + "/hat.png"} {
				img, err := l.Load(ctx, ref)
				So(err, ShouldBeNil)
				So(img.Bounds().Dx(), ShouldEqual, 4)
			}
		})

		Convey("Then failures are image load errors", func() {
			garbage := filepath.Join(dir, "garbage.png")
			So(os.WriteFile(garbage, []byte("not an image"), 0o644), ShouldBeNil)
			for _, ref := range []string{"", filepath.Join(dir, "missing.png"), garbage, srv.URL + "/nope.png", "ftp://host/x.png"} {
				_, err := l.Load(ctx, ref)
				So(errors.Is(err, ErrImageLoadFailed), ShouldBeTrue)
			}
		})
	})
}
