package api

import (
	"bytes"
	"image/png"
	"net/http"
	"strconv"

	"github.com/okian/facefx/internal/adapters/camera"
)

// TrackingHandler serves tracking state, composite snapshots and capture devices.
type TrackingHandler struct {
	deps TrackingDependencies
}

// NewTrackingHandler creates a new tracking handler.
func NewTrackingHandler(deps TrackingDependencies) *TrackingHandler {
	return &TrackingHandler{deps: deps}
}

// HandleTracking handles GET /tracking requests.
func (h *TrackingHandler) HandleTracking(w http.ResponseWriter, _ *http.Request) {
	v, err := h.deps.Tracking()
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// HandleSnapshot handles GET /snapshot requests with a PNG of the current
// composite canvas.
func (h *TrackingHandler) HandleSnapshot(w http.ResponseWriter, _ *http.Request) {
	img, err := h.deps.Snapshot()
	if err != nil {
		writeFailure(w, err)
		return
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		writeFailure(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

type devicesResponse struct {
	Devices []camera.Device `json:"devices"`
}

// HandleDevices handles GET /devices requests.
func (h *TrackingHandler) HandleDevices(w http.ResponseWriter, _ *http.Request) {
	list, err := h.deps.Devices()
	if err != nil {
		writeFailure(w, err)
		return
	}
	if list == nil {
		list = []camera.Device{}
	}
	writeJSON(w, http.StatusOK, devicesResponse{Devices: list})
}
