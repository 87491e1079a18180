package detector

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/okian/facefx/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
	"github.com/vmihailenco/msgpack/v5"
)

func init() {
	_ = logger.Init()
}

// TestHelperProcess is not a test: it is the fake detector the other tests
// spawn by re-running the test binary.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	defer os.Exit(0)
	switch os.Getenv("HELPER_MODE") {
	case "fail":
		fmt.Fprintln(os.Stderr, "[ERROR] model file missing")
		os.Exit(3)
	case "silent":
		_, _ = io.Copy(io.Discard, os.Stdin)
	case "msgpack":
		serveMsgpack()
	default:
		serveJSONL()
	}
}

func helper(mode string, opts ...Option) *Process {
	opts = append([]Option{
		WithEnv("GO_WANT_HELPER_PROCESS=1", "HELPER_MODE="+mode),
		WithInitTimeout(5 * time.Second),
	}, opts...)
	return New(os.Args[0], []string{"-test.run=^TestHelperProcess$"}, opts...)
}

func fakeFace() wireFace {
	f := wireFace{Confidence: 0.87, Box: &wireBox{X: 0.3, Y: 0.2, W: 0.4, H: 0.5}}
	for i := 0; i < 468; i++ {
		f.Landmarks = append(f.Landmarks, []float64{0.5, 0.5, 0, 0.9})
	}
	return f
}

func answer(req request) wireResponse {
	if _, _, err := image.DecodeConfig(bytes.NewReader(req.Data)); err != nil {
		return wireResponse{Seq: req.Seq, Error: "bad image: " + err.Error()}
	}
	switch req.Width {
	case 1:
		return wireResponse{Seq: req.Seq}
	case 2:
		return wireResponse{Seq: req.Seq, Error: "model failure"}
	default:
		return wireResponse{Seq: req.Seq, Faces: []wireFace{fakeFace()}}
	}
}

func serveJSONL() {
	fmt.Println("loading model")
	fmt.Println(`{"ready":true}`)
	sc := bufio.NewScanner(os.Stdin)
	sc.Buffer(make([]byte, 1<<20), 1<<24)
	for sc.Scan() {
		var req request
		if err := json.Unmarshal(sc.Bytes(), &req); err != nil {
			continue
		}
		resp := answer(req)
		out := map[string]any{"seq": resp.Seq}
		if resp.Error != "" {
			out["error"] = resp.Error
		}
		faces := []map[string]any{}
		for _, f := range resp.Faces {
			faces = append(faces, map[string]any{
				"confidence": f.Confidence,
				"landmarks":  f.Landmarks,
				"box":        map[string]float64{"x": f.Box.X, "y": f.Box.Y, "w": f.Box.W, "h": f.Box.H},
			})
		}
		out["faces"] = faces
		b, _ := json.Marshal(out)
		fmt.Println(string(b))
	}
}

func serveMsgpack() {
	writeFrame := func(v any) {
		b, _ := msgpack.Marshal(v)
		var prefix [4]byte
		binary.BigEndian.PutUint32(prefix[:], uint32(len(b)))
		os.Stdout.Write(prefix[:])
		os.Stdout.Write(b)
	}
	writeFrame(wireResponse{Ready: true})
	in := bufio.NewReader(os.Stdin)
	for {
		var prefix [4]byte
		if _, err := io.ReadFull(in, prefix[:]); err != nil {
			return
		}
		body := make([]byte, binary.BigEndian.Uint32(prefix[:]))
		if _, err := io.ReadFull(in, body); err != nil {
			return
		}
		var req request
		if err := msgpack.Unmarshal(body, &req); err != nil {
			continue
		}
		writeFrame(answer(req))
	}
}

func TestProcess(t *testing.T) {
	ctx := context.Background()

	for _, codec := range []string{"jsonl", "msgpack"} {
		Convey("Given a running detector speaking "+codec, t, func() {
			p := helper(codec, WithCodec(codec))
			So(p.Init(ctx), ShouldBeNil)
			defer p.Close()

			Convey("When a frame with a face is sent", func() {
				det, err := p.Detect(ctx, image.NewRGBA(image.Rect(0, 0, 8, 8)))

				Convey("Then the face is returned as reported", func() {
					So(err, ShouldBeNil)
					So(det, ShouldNotBeNil)
					So(len(det.Landmarks), ShouldEqual, 468)
					So(det.Landmarks[0].Visibility, ShouldEqual, 0.9)
					So(det.Confidence, ShouldEqual, 0.87)
					So(det.Box, ShouldNotBeNil)
					So(det.Box.W, ShouldEqual, 0.4)
				})
			})

			Convey("When the detector finds no face", func() {
				det, err := p.Detect(ctx, image.NewRGBA(image.Rect(0, 0, 1, 4)))

				Convey("Then the detection is nil without error", func() {
					So(err, ShouldBeNil)
					So(det, ShouldBeNil)
				})
			})

			Convey("When the detector reports an error for a frame", func() {
				_, err := p.Detect(ctx, image.NewRGBA(image.Rect(0, 0, 2, 4)))

				Convey("Then it surfaces as a remote error and the process keeps serving", func() {
					So(errors.Is(err, ErrRemote), ShouldBeTrue)
					So(err.Error(), ShouldContainSubstring, "model failure")
					det, err := p.Detect(ctx, image.NewRGBA(image.Rect(0, 0, 8, 8)))
					So(err, ShouldBeNil)
					So(det, ShouldNotBeNil)
				})
			})

			Convey("When it is initialized twice", func() {
				So(p.Init(ctx), ShouldEqual, ErrAlreadyStarted)
			})

			Convey("When it is closed", func() {
				So(p.Close(), ShouldBeNil)
				_, err := p.Detect(ctx, image.NewRGBA(image.Rect(0, 0, 8, 8)))

				Convey("Then further detections fail", func() {
					So(errors.Is(err, ErrProcessExited), ShouldBeTrue)
					So(p.Close(), ShouldBeNil)
				})
			})
		})
	}

	Convey("Given a detector that exits during init", t, func() {
		p := helper("fail")
		err := p.Init(ctx)
		defer p.Close()

		Convey("Then Init fails with the process exit", func() {
			So(errors.Is(err, ErrInitFailed), ShouldBeTrue)
			So(errors.Is(err, ErrProcessExited), ShouldBeTrue)
		})
	})

	Convey("Given a detector that never becomes ready", t, func() {
		p := helper("silent", WithInitTimeout(200*time.Millisecond))
		start := time.Now()
		err := p.Init(ctx)

		Convey("Then Init times out and the process is stopped", func() {
			So(errors.Is(err, ErrInitFailed), ShouldBeTrue)
			So(time.Since(start), ShouldBeLessThan, 3*time.Second)
			So(p.Close(), ShouldBeNil)
		})
	})

	Convey("Given a detector that was never started", t, func() {
		p := New("true", nil)

		Convey("Then Detect refuses to run", func() {
			_, err := p.Detect(ctx, image.NewRGBA(image.Rect(0, 0, 4, 4)))
			So(err, ShouldEqual, ErrNotStarted)
			So(p.Close(), ShouldBeNil)
		})
	})

	Convey("Given an unknown codec", t, func() {
		err := New("true", nil, WithCodec("protobuf")).Init(ctx)

		Convey("Then Init fails before spawning", func() {
			So(errors.Is(err, ErrUnknownCodec), ShouldBeTrue)
			So(errors.Is(err, ErrInitFailed), ShouldBeTrue)
		})
	})
}

func TestJSONLCodec(t *testing.T) {
	Convey("Given detector output lines", t, func() {
		c := jsonlCodec{}
		in := strings.Join([]string{
			`{"ready":true}`,
			`garbage`,
			`{"seq":7,"faces":[{"confidence":0.5,"landmarks":[{"x":0.1,"y":0.2,"z":0.3},[0.4,0.5,0.6],[0.7,0.8,0,0.2]]}]}`,
		}, "\n")
		r := bufio.NewReader(strings.NewReader(in))

		Convey("Then each line decodes in order and bad lines are skippable", func() {
			resp, err := c.ReadResponse(r)
			So(err, ShouldBeNil)
			So(resp.Ready, ShouldBeTrue)

			_, err = c.ReadResponse(r)
			So(errors.Is(err, errMalformed), ShouldBeTrue)

			resp, err = c.ReadResponse(r)
			So(err, ShouldBeNil)
			So(resp.Seq, ShouldEqual, 7)
			So(len(resp.Faces), ShouldEqual, 1)
			pts := resp.Faces[0].Landmarks
			So(len(pts), ShouldEqual, 3)
			So(pts[0].Z, ShouldEqual, 0.3)
			So(pts[0].Visibility, ShouldEqual, 1)
			So(pts[1].X, ShouldEqual, 0.4)
			So(pts[1].Visibility, ShouldEqual, 1)
			So(pts[2].Visibility, ShouldEqual, 0.2)
			So(resp.Faces[0].Box, ShouldBeNil)

			_, err = c.ReadResponse(r)
			So(err, ShouldEqual, io.EOF)
		})
	})

	Convey("Given a request", t, func() {
		var buf bytes.Buffer
		So(jsonlCodec{}.WriteRequest(&buf, request{Seq: 3, Width: 2, Height: 1, Format: "jpeg", Data: []byte{1, 2}}), ShouldBeNil)

		Convey("Then it is one line with base64 data", func() {
			So(buf.String(), ShouldEqual, `{"seq":3,"width":2,"height":1,"format":"jpeg","data":"AQI="}`+"\n")
		})
	})
}

func TestMsgpackCodec(t *testing.T) {
	Convey("Given a framed response", t, func() {
		var buf bytes.Buffer
		b, err := msgpack.Marshal(wireResponse{Seq: 9, Faces: []wireFace{{Confidence: 0.4, Landmarks: [][]float64{{0.1, 0.2}}}}})
		So(err, ShouldBeNil)
		var prefix [4]byte
		binary.BigEndian.PutUint32(prefix[:], uint32(len(b)))
		buf.Write(prefix[:])
		buf.Write(b)

		Convey("Then it decodes with defaults for short tuples", func() {
			resp, err := msgpackCodec{}.ReadResponse(bufio.NewReader(&buf))
			So(err, ShouldBeNil)
			So(resp.Seq, ShouldEqual, 9)
			So(resp.Faces[0].Landmarks[0].Y, ShouldEqual, 0.2)
			So(resp.Faces[0].Landmarks[0].Visibility, ShouldEqual, 1)
		})
	})
}
