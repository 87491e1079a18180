package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/facefx/internal/adapters/http/api"
	app "github.com/okian/facefx/internal/app"
	"github.com/okian/facefx/internal/config"
	"github.com/okian/facefx/pkg/logger"
)

func setTestEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("FACEFX_ADDR", "127.0.0.1:0")
	t.Setenv("FACEFX_LOG_FORMAT", "text")
	t.Setenv("FACEFX_LOG_LEVEL", "warn")
	t.Setenv("FACEFX_CAMERA_WIDTH", "160")
	t.Setenv("FACEFX_CAMERA_HEIGHT", "120")
	t.Setenv("FACEFX_RECORDING_DIR", dir)
	t.Setenv("FACEFX_RECORDING_CATALOG", filepath.Join(dir, "catalog.db"))
	t.Setenv("FACEFX_RECORDING_FFMPEG", filepath.Join(dir, "no-ffmpeg"))
	_ = os.Unsetenv("FACEFX_CONFIG")
}

func get(t *testing.T, url string) (int, string) {
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(b)
}

func TestMainFunction(t *testing.T) {
	convey.Convey("Given the main application", t, func() {
		setTestEnv(t)

		convey.Convey("When testing configuration loading", func() {
			cfg, err := config.Load(context.Background())
			convey.So(err, convey.ShouldBeNil)
			convey.So(cfg.Addr, convey.ShouldEqual, "127.0.0.1:0")
			convey.So(cfg.Camera.Width, convey.ShouldEqual, 160)
			convey.So(cfg.Camera.Synthetic(), convey.ShouldBeTrue)
		})

		convey.Convey("When wiring the service from configuration", func() {
			_ = logger.Init()
			cfg, err := config.Load(context.Background())
			convey.So(err, convey.ShouldBeNil)

			opts, err := app.FromConfig(context.Background(), cfg)
			convey.So(err, convey.ShouldBeNil)
			svc := app.New(opts...)
			convey.So(svc, convey.ShouldNotBeNil)

			convey.Convey("Then the HTTP server can be built over it", func() {
				mux := http.NewServeMux()
				api.NewServer(svc).Register(mux)
				convey.So(mux, convey.ShouldNotBeNil)
				convey.So(func() { updateServiceMetrics(svc) }, convey.ShouldNotPanic)
			})

			convey.Reset(func() { _ = svc.Close(context.Background()) })
		})
	})
}

func TestRun(t *testing.T) {
	convey.Convey("Given a synthetic configuration", t, func() {
		setTestEnv(t)
		ctx, cancel := context.WithCancel(context.Background())
		ready := make(chan string, 1)
		done := make(chan error, 1)
		go func() { done <- run(ctx, ready) }()

		var addr string
		select {
		case addr = <-ready:
		case err := <-done:
			t.Fatalf("run exited early: %v", err)
		case <-time.After(10 * time.Second):
			t.Fatal("server did not start")
		}
		base := "http://" + addr

		convey.Convey("The control surface answers", func() {
			code, _ := get(t, base+"/healthz")
			convey.So(code, convey.ShouldEqual, http.StatusOK)

			code, body := get(t, base+"/stats")
			convey.So(code, convey.ShouldEqual, http.StatusOK)
			convey.So(body, convey.ShouldContainSubstring, `"started":true`)

			code, body = get(t, base+"/overlays")
			convey.So(code, convey.ShouldEqual, http.StatusOK)
			convey.So(body, convey.ShouldContainSubstring, "glasses-classic")

			deadline := time.Now().Add(3 * time.Second)
			for {
				code, _ = get(t, base+"/snapshot")
				if code == http.StatusOK || time.Now().After(deadline) {
					break
				}
				time.Sleep(20 * time.Millisecond)
			}
			convey.So(code, convey.ShouldEqual, http.StatusOK)
		})

		convey.Convey("Recording without an encoder is unsupported", func() {
			req, _ := http.NewRequest(http.MethodPost, base+"/recording/start", nil)
			resp, err := http.DefaultClient.Do(req)
			convey.So(err, convey.ShouldBeNil)
			_ = resp.Body.Close()
			convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusUnsupportedMediaType)
		})

		convey.Reset(func() {
			cancel()
			select {
			case err := <-done:
				convey.So(err, convey.ShouldBeNil)
			case <-time.After(10 * time.Second):
				t.Fatal("run did not stop")
			}
		})
	})
}

func TestRunErrors(t *testing.T) {
	convey.Convey("Given an invalid configuration", t, func() {
		setTestEnv(t)
		t.Setenv("FACEFX_ADDR", "")

		convey.Convey("Then run fails before serving", func() {
			err := run(context.Background(), nil)
			convey.So(err, convey.ShouldNotBeNil)
			convey.So(err.Error(), convey.ShouldContainSubstring, "failed to load config")
		})
	})
}
