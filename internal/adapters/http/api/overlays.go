package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/okian/facefx/internal/domain/overlay"
)

// OverlaysHandler serves the overlay catalog and its activation state.
type OverlaysHandler struct {
	deps OverlayDependencies
}

// NewOverlaysHandler creates a new overlays handler.
func NewOverlaysHandler(deps OverlayDependencies) *OverlaysHandler {
	return &OverlaysHandler{deps: deps}
}

type overlaysResponse struct {
	Overlays []overlay.ActiveOverlay `json:"overlays"`
}

// HandleList handles GET /overlays requests.
func (h *OverlaysHandler) HandleList(w http.ResponseWriter, _ *http.Request) {
	list := h.deps.Overlays()
	if list == nil {
		list = []overlay.ActiveOverlay{}
	}
	writeJSON(w, http.StatusOK, overlaysResponse{Overlays: list})
}

// HandleGet handles GET /overlays/{id} requests.
func (h *OverlaysHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	o, err := h.deps.Overlay(r.PathValue("id"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// HandleActivate handles POST /overlays/{id}/activate requests. Activating
// replaces any active overlay of the same kind.
func (h *OverlaysHandler) HandleActivate(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, h.deps.ActivateOverlay)
}

// HandleDeactivate handles POST /overlays/{id}/deactivate requests.
func (h *OverlaysHandler) HandleDeactivate(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, h.deps.DeactivateOverlay)
}

func (h *OverlaysHandler) toggle(w http.ResponseWriter, r *http.Request, fn func(string) error) {
	id := r.PathValue("id")
	if err := fn(id); err != nil {
		writeFailure(w, err)
		return
	}
	o, err := h.deps.Overlay(id)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type renderingRequest struct {
	Opacity   *float64 `json:"opacity"`
	BlendMode *string  `json:"blend_mode"`
	Scale     *float64 `json:"scale"`
	Visible   *bool    `json:"visible"`
}

func (req renderingRequest) patch() (overlay.RenderingPatch, error) {
	p := overlay.RenderingPatch{
		Opacity: req.Opacity,
		Scale:   req.Scale,
		Visible: req.Visible,
	}
	if req.BlendMode != nil {
		mode := overlay.BlendMode(*req.BlendMode)
		if !mode.Valid() {
			return p, fmt.Errorf("%w: blend_mode %q", ErrBadRequest, *req.BlendMode)
		}
		p.BlendMode = &mode
	}
	return p, nil
}

// HandleRendering handles PATCH /overlays/{id}/rendering requests. Absent
// fields keep their current value; opacity and scale are clamped.
func (h *OverlaysHandler) HandleRendering(w http.ResponseWriter, r *http.Request) {
	var req renderingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}
	patch, err := req.patch()
	if err != nil {
		writeFailure(w, err)
		return
	}
	rendering, err := h.deps.SetOverlayRendering(r.PathValue("id"), patch)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rendering)
}
