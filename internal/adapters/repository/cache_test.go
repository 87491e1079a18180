package repository

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/okian/facefx/internal/domain/model"
	"github.com/okian/facefx/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

func landmarks(at time.Time, conf float64) *model.LandmarkSet {
	return model.NewLandmarkSet([]model.Landmark{{X: 0.5, Y: 0.5, Visibility: 1}}, conf, at)
}

func TestLandmarkCache(t *testing.T) {
	base := time.Unix(1000, 0)

	Convey("Given an empty cache", t, func() {
		c := NewLandmarkCache()

		Convey("Then it reports nothing tracked", func() {
			So(c.Read(), ShouldBeNil)
			So(c.Status(), ShouldResemble, Status{})
			So(c.Fresh(base, 0), ShouldBeFalse)
		})

		Convey("When a set is written", func() {
			So(c.Write(landmarks(base, 0.8)), ShouldBeTrue)

			Convey("Then readers see it and the status follows", func() {
				So(c.Read().Confidence, ShouldEqual, 0.8)
				st := c.Status()
				So(st.Initialized, ShouldBeTrue)
				So(st.Tracking, ShouldBeTrue)
				So(st.FaceCount, ShouldEqual, 1)
				So(st.LastUpdateAt, ShouldEqual, base)
			})

			Convey("And freshness uses the 100ms default bound", func() {
				So(c.Fresh(base.Add(100*time.Millisecond), 0), ShouldBeTrue)
				So(c.Fresh(base.Add(101*time.Millisecond), 0), ShouldBeFalse)
				So(c.Fresh(base.Add(150*time.Millisecond), 200*time.Millisecond), ShouldBeTrue)
			})

			Convey("And an older write is dropped", func() {
				So(c.Write(landmarks(base.Add(-time.Millisecond), 0.1)), ShouldBeFalse)
				So(c.Read().Confidence, ShouldEqual, 0.8)
			})

			Convey("And a newer write replaces it", func() {
				So(c.Write(landmarks(base.Add(time.Millisecond), 0.6)), ShouldBeTrue)
				So(c.Read().Confidence, ShouldEqual, 0.6)
			})

			Convey("And a later detection without a face clears it", func() {
				So(c.RecordNoFace(base.Add(time.Millisecond)), ShouldBeTrue)
				So(c.Read(), ShouldBeNil)
				So(c.Status().Tracking, ShouldBeFalse)
				So(c.Write(landmarks(base, 0.9)), ShouldBeFalse)
			})

			Convey("And an error keeps the snapshot", func() {
				c.RecordError(errors.New("detector timeout"))
				So(c.Read(), ShouldNotBeNil)
				So(c.Status().Err, ShouldEqual, "detector timeout")
				c.RecordError(nil)
				So(c.Status().Err, ShouldEqual, "detector timeout")
			})

			Convey("And Clear drops the face but keeps the detector initialized", func() {
				c.Clear()
				So(c.Read(), ShouldBeNil)
				So(c.Status(), ShouldResemble, Status{Initialized: true})
				So(c.Write(landmarks(base.Add(-time.Hour), 0.5)), ShouldBeTrue)
			})
		})

		Convey("When marked initialized", func() {
			c.MarkInitialized()
			So(c.Status().Initialized, ShouldBeTrue)
			So(c.Status().Tracking, ShouldBeFalse)
		})
	})

	Convey("Given concurrent writers and readers", t, func() {
		c := NewLandmarkCache(WithDefaultFreshness(time.Second))
		var wg sync.WaitGroup
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < 200; i++ {
					c.Write(landmarks(base.Add(time.Duration(i*4+w)*time.Millisecond), 0.5))
				}
			}(w)
		}
		var violations int
		var rmu sync.Mutex
		for r := 0; r < 4; r++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				var last time.Time
				for i := 0; i < 500; i++ {
					if s := c.Read(); s != nil {
						if s.CapturedAt.Before(last) {
							rmu.Lock()
							violations++
							rmu.Unlock()
						}
						last = s.CapturedAt
					}
				}
			}()
		}
		wg.Wait()

		Convey("Then readers never observe time going backwards", func() {
			So(violations, ShouldEqual, 0)
			So(c.Read().CapturedAt, ShouldEqual, base.Add(799*time.Millisecond))
		})
	})
}
