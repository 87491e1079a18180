package camera

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/okian/facefx/pkg/logger"
	pkgerrors "github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

func TestErrorKinds(t *testing.T) {
	Convey("Given OS-level open failures", t, func() {
		cases := []struct {
			err  error
			kind error
		}{
			{&os.PathError{Op: "open", Path: "/dev/video0", Err: syscall.EACCES}, ErrPermissionDenied},
			{&os.PathError{Op: "open", Path: "/dev/video0", Err: syscall.EBUSY}, ErrDeviceBusy},
			{&os.PathError{Op: "open", Path: "/dev/video9", Err: syscall.ENOENT}, ErrDeviceUnavailable},
		}

		Convey("Then each maps to its kind and to ErrCameraUnavailable even when wrapped", func() {
			for _, c := range cases {
				err := pkgerrors.Wrap(classify(c.err), "can not open device")
				So(errors.Is(err, c.kind), ShouldBeTrue)
				So(errors.Is(err, ErrCameraUnavailable), ShouldBeTrue)
			}
			So(classify(nil), ShouldBeNil)
			So(classify(ErrDeviceBusy), ShouldEqual, ErrDeviceBusy)
		})
	})
}

func TestConverter(t *testing.T) {
	Convey("Given a YUYV converter", t, func() {
		c, err := newConverter(fourccYUYV, 4, 2)
		So(err, ShouldBeNil)

		Convey("When a mid-gray frame is converted", func() {
			raw := bytes.Repeat([]byte{128, 128, 128, 128}, 4)
			img, err := c.convert(raw)

			Convey("Then every pixel is gray and opaque", func() {
				So(err, ShouldBeNil)
				So(img.Bounds().Dx(), ShouldEqual, 4)
				px := img.RGBAAt(3, 1)
				So(px.R, ShouldAlmostEqual, 128, 2)
				So(px.G, ShouldAlmostEqual, 128, 2)
				So(px.B, ShouldAlmostEqual, 128, 2)
				So(px.A, ShouldEqual, 255)
			})
		})

		Convey("When the buffer is short", func() {
			_, err := c.convert(make([]byte, 3))
			So(err, ShouldNotBeNil)
		})
	})

	Convey("Given an MJPEG converter", t, func() {
		c, err := newConverter(fourccMJPG, 8, 8)
		So(err, ShouldBeNil)
		src := image.NewRGBA(image.Rect(0, 0, 16, 16))
		for i := range src.Pix {
			src.Pix[i] = 200
		}
		var buf bytes.Buffer
		So(jpeg.Encode(&buf, src, nil), ShouldBeNil)

		Convey("When a larger jpeg is converted", func() {
			img, err := c.convert(buf.Bytes())

			Convey("Then it is scaled to the negotiated size", func() {
				So(err, ShouldBeNil)
				So(img.Bounds(), ShouldResemble, image.Rect(0, 0, 8, 8))
				So(img.RGBAAt(4, 4).R, ShouldAlmostEqual, 200, 4)
			})
		})

		Convey("When the data is not a jpeg", func() {
			_, err := c.convert([]byte("nope"))
			So(err, ShouldNotBeNil)
		})
	})

	Convey("Given an unknown pixel format", t, func() {
		_, err := newConverter(0x12345678, 4, 4)
		So(errors.Is(err, ErrDeviceUnavailable), ShouldBeTrue)
	})
}

func TestSyntheticSource(t *testing.T) {
	Convey("Given a synthetic source at 100 fps", t, func() {
		src := NewSyntheticSource(nil, WithSize(64, 48), WithFPS(100), WithMirrored(true))
		ctx := context.Background()

		Convey("When it is opened", func() {
			stream, err := src.Open(ctx, "")
			So(err, ShouldBeNil)
			defer src.Close()
			read := stream.Subscribe("test")
			f1 := read()
			f2 := read()

			Convey("Then frames arrive with increasing sequence numbers", func() {
				So(f1, ShouldNotBeNil)
				So(f2.Seq, ShouldBeGreaterThan, f1.Seq)
				So(f1.Image.Bounds().Dx(), ShouldEqual, 64)
				So(f1.Image.RGBAAt(0, 0), ShouldNotResemble, color.RGBA{})
				So(src.Meta().Mirrored, ShouldBeTrue)
			})

			Convey("And opening twice fails", func() {
				_, err := src.Open(ctx, "")
				So(errors.Is(err, ErrAlreadyOpen), ShouldBeTrue)
			})
		})

		Convey("When a different device is requested", func() {
			_, err := src.Open(ctx, "/dev/video3")
			So(errors.Is(err, ErrCameraUnavailable), ShouldBeTrue)
		})

		Convey("When the device fails", func() {
			_, err := src.Open(ctx, "")
			So(err, ShouldBeNil)
			defer src.Close()
			<-src.Events() // opened
			src.Fail(syscall.ENODEV)

			Convey("Then DeviceLost is emitted", func() {
				select {
				case ev := <-src.Events():
					So(ev.Type, ShouldEqual, DeviceLost)
					So(errors.Is(ev.Err, ErrCameraUnavailable), ShouldBeTrue)
				case <-time.After(time.Second):
					t.Fatal("no device event")
				}
			})
		})
	})
}

func TestListDevices(t *testing.T) {
	Convey("Given a fake /dev and sysfs tree", t, func() {
		dev, sys := t.TempDir(), t.TempDir()
		for _, n := range []string{"video2", "video0"} {
			So(os.WriteFile(filepath.Join(dev, n), nil, 0o600), ShouldBeNil)
		}
		So(os.MkdirAll(filepath.Join(sys, "video0"), 0o755), ShouldBeNil)
		So(os.WriteFile(filepath.Join(sys, "video0", "name"), []byte("Integrated Camera\n"), 0o600), ShouldBeNil)

		Convey("When listing devices", func() {
			devs, err := listDevices(dev, sys)

			Convey("Then nodes are sorted and named", func() {
				So(err, ShouldBeNil)
				So(len(devs), ShouldEqual, 2)
				So(devs[0].ID, ShouldEqual, "video0")
				So(devs[0].Name, ShouldEqual, "Integrated Camera")
				So(devs[1].Name, ShouldEqual, "video2")
			})
		})
	})
}
