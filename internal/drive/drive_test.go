package drive_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/facefx/internal/drive"
	"github.com/okian/facefx/pkg/logger"
)

func init() {
	_ = logger.Init()
}

// fakeService answers the routes the drive uses.
type fakeService struct {
	mu        sync.Mutex
	active    map[string]bool
	recording bool
	paused    int
	resumed   int
	blob      []byte
	stored    bool
	shortBody bool
}

func newFakeService() *fakeService {
	return &fakeService{active: map[string]bool{}, blob: []byte("webm-bytes")}
}

func (f *fakeService) handler() http.Handler {
	var buf bytes.Buffer
	_ = png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2)))
	snapshot := buf.Bytes()

	writeJSON := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# HELP up\n"))
	})
	mux.HandleFunc("GET /overlays", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"overlays": []map[string]any{
			{"def": map[string]any{"id": "glasses-a", "kind": "GLASSES"}},
			{"def": map[string]any{"id": "hat-a", "kind": "HAT"}},
		}})
	})
	mux.HandleFunc("POST /overlays/{id}/activate", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.active[r.PathValue("id")] = true
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"enabled": true, "def": map[string]any{"id": r.PathValue("id")}})
	})
	mux.HandleFunc("GET /tracking", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": map[string]any{"tracking": true}})
	})
	mux.HandleFunc("GET /snapshot", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(snapshot)
	})
	mux.HandleFunc("POST /recording/start", func(w http.ResponseWriter, _ *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.recording {
			writeJSON(w, http.StatusConflict, map[string]any{"code": "conflict"})
			return
		}
		f.recording = true
		writeJSON(w, http.StatusCreated, map[string]any{"id": "rec-1", "mime_type": "video/webm"})
	})
	mux.HandleFunc("POST /recording/pause", func(w http.ResponseWriter, _ *http.Request) {
		f.mu.Lock()
		f.paused++
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"active": true})
	})
	mux.HandleFunc("POST /recording/resume", func(w http.ResponseWriter, _ *http.Request) {
		f.mu.Lock()
		f.resumed++
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"active": true})
	})
	mux.HandleFunc("POST /recording/stop", func(w http.ResponseWriter, _ *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.recording = false
		f.stored = true
		writeJSON(w, http.StatusOK, map[string]any{
			"result":    map[string]any{"id": "rec-1", "size": len(f.blob), "chunks": 3},
			"recording": map[string]any{"id": "rec-1"},
		})
	})
	mux.HandleFunc("GET /recordings/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if !f.stored || r.PathValue("id") != "rec-1" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Disposition", `attachment; filename="facefx-rec-1.webm"`)
		body := f.blob
		if f.shortBody {
			body = body[:2]
		}
		_, _ = w.Write(body)
	})
	return mux
}

func TestRun(t *testing.T) {
	Convey("Given a running service", t, func() {
		fake := newFakeService()
		srv := httptest.NewServer(fake.handler())
		defer srv.Close()

		cfg := &drive.Config{
			BaseURL:      srv.URL + "/",
			Record:       80 * time.Millisecond,
			PollInterval: 10 * time.Millisecond,
			OutputDir:    t.TempDir(),
		}

		Convey("A full drive cycles overlays, records and downloads", func() {
			stats, err := drive.Run(context.Background(), cfg)
			So(err, ShouldBeNil)
			So(stats.OverlaysCycled, ShouldEqual, 2)
			So(stats.Snapshots, ShouldBeGreaterThan, 0)
			So(stats.TrackingHits, ShouldBeGreaterThan, 0)
			So(stats.RecordingID, ShouldEqual, "rec-1")
			So(stats.DownloadedBytes, ShouldEqual, int64(len(fake.blob)))
			So(stats.DownloadedFile, ShouldEqual, filepath.Join(cfg.OutputDir, "facefx-rec-1.webm"))

			data, err := os.ReadFile(stats.DownloadedFile)
			So(err, ShouldBeNil)
			So(string(data), ShouldEqual, "webm-bytes")
			So(fake.active["glasses-a"], ShouldBeTrue)
			So(fake.active["hat-a"], ShouldBeTrue)
			So(fake.paused, ShouldEqual, 0)
		})

		Convey("A pause is inserted mid recording", func() {
			cfg.Pause = 20 * time.Millisecond
			_, err := drive.Run(context.Background(), cfg)
			So(err, ShouldBeNil)
			So(fake.paused, ShouldEqual, 1)
			So(fake.resumed, ShouldEqual, 1)
		})

		Convey("Only the requested overlays are cycled", func() {
			cfg.Overlays = []string{"hat-a"}
			stats, err := drive.Run(context.Background(), cfg)
			So(err, ShouldBeNil)
			So(stats.OverlaysCycled, ShouldEqual, 1)
			So(fake.active["glasses-a"], ShouldBeFalse)
		})

		Convey("An undefined overlay fails verification", func() {
			cfg.Overlays = []string{"unicorn"}
			_, err := drive.Run(context.Background(), cfg)
			So(errors.Is(err, drive.ErrVerification), ShouldBeTrue)
		})

		Convey("A short download fails verification", func() {
			fake.shortBody = true
			_, err := drive.Run(context.Background(), cfg)
			So(errors.Is(err, drive.ErrVerification), ShouldBeTrue)
		})

		Convey("A busy recorder is reported", func() {
			fake.recording = true
			_, err := drive.Run(context.Background(), cfg)
			So(errors.Is(err, drive.ErrUnexpectedStatus), ShouldBeTrue)
		})
	})
}

func TestRunUnreachable(t *testing.T) {
	Convey("Given no service", t, func() {
		srv := httptest.NewServer(http.NotFoundHandler())
		srv.Close()

		Convey("The health check fails", func() {
			_, err := drive.Run(context.Background(), &drive.Config{BaseURL: srv.URL, Timeout: time.Second})
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "service health check failed")
		})
	})
}
