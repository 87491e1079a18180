package overlay_test

import (
	"errors"
	"math/rand"
	"testing"

	overlay "github.com/okian/facefx/internal/domain/overlay"
	"github.com/okian/facefx/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

func defs() []overlay.Def {
	return []overlay.Def{
		{ID: "glasses-round", Kind: overlay.KindGlasses, ImageURL: "round.png"},
		{ID: "glasses-aviator", Kind: overlay.KindGlasses, ImageURL: "aviator.png"},
		{ID: "hat-top", Kind: overlay.KindHat, ImageURL: "top.png"},
		{ID: "hat-cap", Kind: overlay.KindHat, ImageURL: "cap.png"},
		{ID: "mask-fox", Kind: overlay.KindMask, ImageURL: "fox.png"},
	}
}

func newRegistry() *overlay.Registry {
	r := overlay.NewRegistry()
	for _, d := range defs() {
		So(r.Register(d), ShouldBeNil)
	}
	return r
}

func floatPtr(v float64) *float64 { return &v }

func TestRegistry(t *testing.T) {
	Convey("Given a registry with a catalog", t, func() {
		r := newRegistry()

		Convey("When registering an invalid or duplicate definition", func() {
			errDup := r.Register(overlay.Def{ID: "hat-top", Kind: overlay.KindHat})
			errEmpty := r.Register(overlay.Def{Kind: overlay.KindHat})
			errKind := r.Register(overlay.Def{ID: "x", Kind: "SCARF"})

			Convey("Then each is rejected with its kind of error", func() {
				So(errors.Is(errDup, overlay.ErrDuplicateID), ShouldBeTrue)
				So(errors.Is(errEmpty, overlay.ErrInvalidDefinition), ShouldBeTrue)
				So(errors.Is(errKind, overlay.ErrInvalidDefinition), ShouldBeTrue)
			})
		})

		Convey("When a definition is registered", func() {
			got, err := r.Get("glasses-round")

			Convey("Then defaults are filled in", func() {
				So(err, ShouldBeNil)
				So(got.Def.ZIndex, ShouldEqual, 1)
				So(got.Def.Anchor.Primary, ShouldEqual, 159)
				So(got.Rendering, ShouldResemble, overlay.DefaultRendering())
				So(got.Enabled, ShouldBeFalse)
			})
		})

		Convey("When the caller mutates the definition it registered", func() {
			d := overlay.Def{ID: "mask-2", Kind: overlay.KindMask, Anchor: overlay.Anchor{Primary: 1, Secondary: []int{33, 263}}}
			So(r.Register(d), ShouldBeNil)
			d.Anchor.Secondary[0] = 999

			Convey("Then the stored copy is unaffected", func() {
				got, _ := r.Get("mask-2")
				So(got.Def.Anchor.Secondary[0], ShouldEqual, 33)
			})
		})

		Convey("When a second overlay of the same kind is activated", func() {
			So(r.Activate("glasses-round"), ShouldBeNil)
			So(r.Activate("glasses-aviator"), ShouldBeNil)

			Convey("Then the first is deactivated", func() {
				active := r.Active()
				So(len(active), ShouldEqual, 1)
				So(active[0].Def.ID, ShouldEqual, "glasses-aviator")
				first, _ := r.Get("glasses-round")
				So(first.Enabled, ShouldBeFalse)
			})
		})

		Convey("When overlays of several kinds are active", func() {
			So(r.Activate("mask-fox"), ShouldBeNil)
			So(r.Activate("hat-top"), ShouldBeNil)
			So(r.Activate("glasses-round"), ShouldBeNil)

			Convey("Then Active is ordered by ascending z-index", func() {
				active := r.Active()
				So(len(active), ShouldEqual, 3)
				So(active[0].Def.Kind, ShouldEqual, overlay.KindGlasses)
				So(active[1].Def.Kind, ShouldEqual, overlay.KindHat)
				So(active[2].Def.Kind, ShouldEqual, overlay.KindMask)
			})
		})

		Convey("When equal z-indexes collide", func() {
			So(r.Register(overlay.Def{ID: "hat-low", Kind: overlay.KindHat, ZIndex: 1}), ShouldBeNil)
			So(r.Activate("glasses-round"), ShouldBeNil)
			So(r.Activate("hat-low"), ShouldBeNil)

			Convey("Then activation order breaks the tie", func() {
				active := r.Active()
				So(active[0].Def.ID, ShouldEqual, "glasses-round")
				So(active[1].Def.ID, ShouldEqual, "hat-low")
			})
		})

		Convey("When rendering values are out of range", func() {
			mode := overlay.BlendMode("bogus")
			got, err := r.SetRendering("hat-top", overlay.RenderingPatch{
				Scale:     floatPtr(5),
				Opacity:   floatPtr(-1),
				BlendMode: &mode,
			})

			Convey("Then they are clamped", func() {
				So(err, ShouldBeNil)
				So(got.Scale, ShouldEqual, overlay.MaxScale)
				So(got.Opacity, ShouldEqual, 0)
				So(got.BlendMode, ShouldEqual, overlay.BlendSourceOver)
			})

			Convey("And a small scale clamps to the minimum", func() {
				got, _ := r.SetRendering("hat-top", overlay.RenderingPatch{Scale: floatPtr(0.1)})
				So(got.Scale, ShouldEqual, overlay.MinScale)
			})
		})

		Convey("When operating on an unknown id", func() {
			So(errors.Is(r.Activate("nope"), overlay.ErrNotFound), ShouldBeTrue)
			So(errors.Is(r.Deactivate("nope"), overlay.ErrNotFound), ShouldBeTrue)
			_, err := r.SetRendering("nope", overlay.RenderingPatch{})
			So(errors.Is(err, overlay.ErrNotFound), ShouldBeTrue)
		})
	})
}

func TestRegistrySingleActivePerKind(t *testing.T) {
	Convey("Given random activate and deactivate sequences", t, func() {
		r := newRegistry()
		ids := []string{"glasses-round", "glasses-aviator", "hat-top", "hat-cap", "mask-fox"}
		rng := rand.New(rand.NewSource(7))

		Convey("Then at most one overlay per kind is ever active", func() {
			for i := 0; i < 500; i++ {
				id := ids[rng.Intn(len(ids))]
				if rng.Intn(3) == 0 {
					So(r.Deactivate(id), ShouldBeNil)
				} else {
					So(r.Activate(id), ShouldBeNil)
				}
				perKind := map[overlay.Kind]int{}
				for _, a := range r.Active() {
					perKind[a.Def.Kind]++
				}
				for _, n := range perKind {
					So(n, ShouldBeLessThanOrEqualTo, 1)
				}
			}
		})
	})
}

func TestRegistryOnChange(t *testing.T) {
	Convey("Given a registry with a change callback", t, func() {
		var calls [][]overlay.ActiveOverlay
		r := overlay.NewRegistry(overlay.WithOnChange(func(a []overlay.ActiveOverlay) {
			calls = append(calls, a)
		}))
		So(r.Register(overlay.Def{ID: "g", Kind: overlay.KindGlasses}), ShouldBeNil)

		Convey("When the active set changes", func() {
			So(r.Activate("g"), ShouldBeNil)
			So(r.Activate("g"), ShouldBeNil)
			So(r.Deactivate("g"), ShouldBeNil)

			Convey("Then the callback sees each real change", func() {
				So(len(calls), ShouldEqual, 2)
				So(len(calls[0]), ShouldEqual, 1)
				So(len(calls[1]), ShouldEqual, 0)
			})
		})
	})
}

func TestParseKind(t *testing.T) {
	Convey("Given kind names", t, func() {
		k, err := overlay.ParseKind(" hat ")
		So(err, ShouldBeNil)
		So(k, ShouldEqual, overlay.KindHat)
		_, err = overlay.ParseKind("scarf")
		So(errors.Is(err, overlay.ErrUnknownKind), ShouldBeTrue)
	})
}
