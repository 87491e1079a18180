// Package api exposes the session over a loopback HTTP control surface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"io"
	"net/http"

	"github.com/okian/facefx/internal/adapters/camera"
	"github.com/okian/facefx/internal/adapters/repository"
	service "github.com/okian/facefx/internal/app"
	"github.com/okian/facefx/internal/domain/overlay"
	"github.com/okian/facefx/internal/recorder"
	"github.com/okian/facefx/internal/render/compositor"
)

// OverlayDependencies manage the overlay catalog.
type OverlayDependencies interface {
	Overlays() []overlay.ActiveOverlay
	Overlay(id string) (overlay.ActiveOverlay, error)
	ActivateOverlay(id string) error
	DeactivateOverlay(id string) error
	SetOverlayRendering(id string, patch overlay.RenderingPatch) (overlay.Rendering, error)
}

// TrackingDependencies expose tracking state and the composite canvas.
type TrackingDependencies interface {
	Tracking() (service.TrackingView, error)
	Snapshot() (*image.RGBA, error)
	Devices() ([]camera.Device, error)
}

// RecordingDependencies drive the recorder.
type RecordingDependencies interface {
	RecordingDefaults() recorder.StartOptions
	SupportedFormats() []string
	StartRecording(ctx context.Context, so recorder.StartOptions) (recorder.Session, error)
	PauseRecording() error
	ResumeRecording() error
	StopRecording(ctx context.Context) (recorder.Result, *repository.Recording, error)
	Recording() (recorder.Session, bool)
}

// RecordingsDependencies read the recordings catalog.
type RecordingsDependencies interface {
	Recordings(ctx context.Context, limit int) ([]repository.Recording, error)
	OpenRecording(ctx context.Context, id string) (repository.Recording, io.ReadCloser, error)
	DeleteRecording(ctx context.Context, id string) error
}

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to the service implementation.
type Dependencies interface {
	StatsProvider
	OverlayDependencies
	TrackingDependencies
	RecordingDependencies
	RecordingsDependencies
}

// Server wires HTTP routes for the control surface.
type Server struct {
	healthHandler     *HealthHandler
	statsHandler      *StatsHandler
	overlaysHandler   *OverlaysHandler
	trackingHandler   *TrackingHandler
	recordingHandler  *RecordingHandler
	recordingsHandler *RecordingsHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies) *Server {
	return &Server{
		healthHandler:     NewHealthHandler(),
		statsHandler:      NewStatsHandler(deps),
		overlaysHandler:   NewOverlaysHandler(deps),
		trackingHandler:   NewTrackingHandler(deps),
		recordingHandler:  NewRecordingHandler(deps),
		recordingsHandler: NewRecordingsHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	mux.HandleFunc("GET /overlays", MetricsMiddleware(s.overlaysHandler.HandleList, "overlays"))
	mux.HandleFunc("GET /overlays/{id}", MetricsMiddleware(s.overlaysHandler.HandleGet, "overlay"))
	mux.HandleFunc("POST /overlays/{id}/activate", MetricsMiddleware(s.overlaysHandler.HandleActivate, "overlay_activate"))
	mux.HandleFunc("POST /overlays/{id}/deactivate", MetricsMiddleware(s.overlaysHandler.HandleDeactivate, "overlay_deactivate"))
	mux.HandleFunc("PATCH /overlays/{id}/rendering", MetricsMiddleware(s.overlaysHandler.HandleRendering, "overlay_rendering"))

	mux.HandleFunc("GET /tracking", MetricsMiddleware(s.trackingHandler.HandleTracking, "tracking"))
	mux.HandleFunc("GET /snapshot", MetricsMiddleware(s.trackingHandler.HandleSnapshot, "snapshot"))
	mux.HandleFunc("GET /devices", MetricsMiddleware(s.trackingHandler.HandleDevices, "devices"))

	mux.HandleFunc("GET /recording", MetricsMiddleware(s.recordingHandler.HandleGet, "recording"))
	mux.HandleFunc("GET /recording/formats", MetricsMiddleware(s.recordingHandler.HandleFormats, "recording_formats"))
	mux.HandleFunc("POST /recording/start", MetricsMiddleware(s.recordingHandler.HandleStart, "recording_start"))
	mux.HandleFunc("POST /recording/pause", MetricsMiddleware(s.recordingHandler.HandlePause, "recording_pause"))
	mux.HandleFunc("POST /recording/resume", MetricsMiddleware(s.recordingHandler.HandleResume, "recording_resume"))
	mux.HandleFunc("POST /recording/stop", MetricsMiddleware(s.recordingHandler.HandleStop, "recording_stop"))

	mux.HandleFunc("GET /recordings", MetricsMiddleware(s.recordingsHandler.HandleList, "recordings"))
	mux.HandleFunc("GET /recordings/{id}", MetricsMiddleware(s.recordingsHandler.HandleDownload, "recording_download"))
	mux.HandleFunc("DELETE /recordings/{id}", MetricsMiddleware(s.recordingsHandler.HandleDelete, "recording_delete"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeFailure maps a domain error onto a status code and error code.
func writeFailure(w http.ResponseWriter, err error) {
	status, code := classify(err)
	writeError(w, status, code, err)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, recorder.ErrUnknownPreset),
		errors.Is(err, repository.ErrInvalidLimit),
		errors.Is(err, overlay.ErrInvalidDefinition),
		errors.Is(err, overlay.ErrUnknownKind):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, overlay.ErrNotFound), errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, recorder.ErrInvalidState), errors.Is(err, overlay.ErrDuplicateID):
		return http.StatusConflict, "conflict"
	case errors.Is(err, recorder.ErrEncoderUnsupported):
		return http.StatusUnsupportedMediaType, "unsupported_format"
	case errors.Is(err, service.ErrNotStarted),
		errors.Is(err, service.ErrNoRecordingStore),
		errors.Is(err, recorder.ErrNoSource),
		errors.Is(err, compositor.ErrNoFrame),
		errors.Is(err, camera.ErrCameraUnavailable):
		return http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, recorder.ErrEncoderError):
		return http.StatusBadGateway, "encoder_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
