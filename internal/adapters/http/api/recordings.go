package api

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/okian/facefx/internal/adapters/repository"
)

// defaultListLimit caps GET /recordings without a limit parameter.
const defaultListLimit = 50

// RecordingsHandler serves the catalog of finished recordings.
type RecordingsHandler struct {
	deps RecordingsDependencies
}

// NewRecordingsHandler creates a new recordings handler.
func NewRecordingsHandler(deps RecordingsDependencies) *RecordingsHandler {
	return &RecordingsHandler{deps: deps}
}

type recordingsResponse struct {
	Recordings []repository.Recording `json:"recordings"`
}

// HandleList handles GET /recordings requests, newest first.
func (h *RecordingsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: limit %q", ErrBadRequest, s))
			return
		}
		limit = n
	}
	list, err := h.deps.Recordings(r.Context(), limit)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if list == nil {
		list = []repository.Recording{}
	}
	writeJSON(w, http.StatusOK, recordingsResponse{Recordings: list})
}

// HandleDownload handles GET /recordings/{id} requests by streaming the
// recording as an attachment.
func (h *RecordingsHandler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	rec, body, err := h.deps.OpenRecording(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", rec.MimeType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": rec.Filename}))
	if rec.SizeBytes > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(rec.SizeBytes, 10))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, body)
}

// HandleDelete handles DELETE /recordings/{id} requests.
func (h *RecordingsHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.DeleteRecording(r.Context(), r.PathValue("id")); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
