package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/okian/facefx/internal/adapters/repository"
	"github.com/okian/facefx/internal/recorder"
)

// RecordingHandler drives the recorder state machine.
type RecordingHandler struct {
	deps RecordingDependencies
}

// NewRecordingHandler creates a new recording handler.
func NewRecordingHandler(deps RecordingDependencies) *RecordingHandler {
	return &RecordingHandler{deps: deps}
}

type startRequest struct {
	Format       *string  `json:"format"`
	Preset       *string  `json:"preset"`
	Quality      *float64 `json:"quality"`
	IncludeAudio *bool    `json:"include_audio"`
}

// options merges the request over the configured defaults.
func (req startRequest) options(defaults recorder.StartOptions) (recorder.StartOptions, error) {
	so := defaults
	so.Overlays = nil
	if req.Format != nil {
		so.Format = *req.Format
	}
	if req.Preset != nil {
		so.Preset = *req.Preset
	}
	if req.Quality != nil {
		if *req.Quality < 0 || *req.Quality > 1 {
			return so, fmt.Errorf("%w: quality must be in [0,1]", ErrBadRequest)
		}
		so.Quality = *req.Quality
	}
	if req.IncludeAudio != nil {
		so.IncludeAudio = *req.IncludeAudio
	}
	return so, nil
}

type recordingResponse struct {
	Active  bool              `json:"active"`
	Session *recorder.Session `json:"session,omitempty"`
}

type formatsResponse struct {
	Formats  []string              `json:"formats"`
	Defaults recorder.StartOptions `json:"defaults"`
}

type stopResponse struct {
	Result    recorder.Result       `json:"result"`
	Recording *repository.Recording `json:"recording,omitempty"`
	Error     string                `json:"error,omitempty"`
}

// HandleGet handles GET /recording requests.
func (h *RecordingHandler) HandleGet(w http.ResponseWriter, _ *http.Request) {
	sess, ok := h.deps.Recording()
	resp := recordingResponse{Active: ok}
	if ok {
		resp.Session = &sess
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleFormats handles GET /recording/formats requests.
func (h *RecordingHandler) HandleFormats(w http.ResponseWriter, _ *http.Request) {
	formats := h.deps.SupportedFormats()
	if formats == nil {
		formats = []string{}
	}
	writeJSON(w, http.StatusOK, formatsResponse{Formats: formats, Defaults: h.deps.RecordingDefaults()})
}

// HandleStart handles POST /recording/start requests. An empty body starts
// with the configured defaults.
func (h *RecordingHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}
	so, err := req.options(h.deps.RecordingDefaults())
	if err != nil {
		writeFailure(w, err)
		return
	}
	sess, err := h.deps.StartRecording(r.Context(), so)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// HandlePause handles POST /recording/pause requests.
func (h *RecordingHandler) HandlePause(w http.ResponseWriter, _ *http.Request) {
	h.transition(w, h.deps.PauseRecording)
}

// HandleResume handles POST /recording/resume requests.
func (h *RecordingHandler) HandleResume(w http.ResponseWriter, _ *http.Request) {
	h.transition(w, h.deps.ResumeRecording)
}

func (h *RecordingHandler) transition(w http.ResponseWriter, fn func() error) {
	if err := fn(); err != nil {
		writeFailure(w, err)
		return
	}
	h.HandleGet(w, nil)
}

// HandleStop handles POST /recording/stop requests. A truncated recording
// caused by an encoder failure is still returned, with the failure in error.
func (h *RecordingHandler) HandleStop(w http.ResponseWriter, r *http.Request) {
	res, rec, err := h.deps.StopRecording(r.Context())
	if err != nil && res.ID == "" {
		writeFailure(w, err)
		return
	}
	resp := stopResponse{Result: res, Recording: rec}
	if err != nil {
		resp.Error = err.Error()
	} else if res.Err != nil {
		resp.Error = res.Err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}
