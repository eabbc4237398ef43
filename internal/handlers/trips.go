package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/freight-ledger/internal/middleware"
	"github.com/ukydev/freight-ledger/internal/models"
	"github.com/ukydev/freight-ledger/internal/trips"
)

// DefaultPODMaxBytes caps an uploaded proof of delivery when no limit is configured.
const DefaultPODMaxBytes = 10 << 20

// TripHandler serves the trip endpoints.
type TripHandler struct {
	manager     *trips.Manager
	query       *trips.Query
	podMaxBytes int64
}

// NewTripHandler creates a trip handler. podMaxBytes <= 0 selects DefaultPODMaxBytes.
func NewTripHandler(manager *trips.Manager, query *trips.Query, podMaxBytes int64) *TripHandler {
	if podMaxBytes <= 0 {
		podMaxBytes = DefaultPODMaxBytes
	}
	return &TripHandler{manager: manager, query: query, podMaxBytes: podMaxBytes}
}

// List returns the trips visible to the caller, newest first.
// GET /api/trips
func (h *TripHandler) List(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrUnauthorized(w, r)
	if !ok {
		return
	}
	list, err := h.query.List(r.Context(), caller)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// Get returns one trip.
// GET /api/trips/{tripID}
func (h *TripHandler) Get(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrUnauthorized(w, r)
	if !ok {
		return
	}
	trip, err := h.query.Get(r.Context(), chi.URLParam(r, "tripID"), caller)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trip)
}

// Create records a new trip.
// POST /api/trips
func (h *TripHandler) Create(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrUnauthorized(w, r)
	if !ok {
		return
	}
	var in models.TripCreate
	if !decodeJSON(w, r, &in) {
		return
	}
	trip, err := h.manager.Create(r.Context(), in, caller)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, trip)
}

// Update applies a partial update. Keys sent as null clear optional fields.
// PUT /api/trips/{tripID}
func (h *TripHandler) Update(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrUnauthorized(w, r)
	if !ok {
		return
	}
	var in models.TripUpdate
	if !decodeJSON(w, r, &in) {
		return
	}
	trip, err := h.manager.Update(r.Context(), chi.URLParam(r, "tripID"), in, caller)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trip)
}

// Delete removes a trip.
// DELETE /api/trips/{tripID}
func (h *TripHandler) Delete(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrUnauthorized(w, r)
	if !ok {
		return
	}
	if err := h.manager.Delete(r.Context(), chi.URLParam(r, "tripID"), caller); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Trip deleted successfully"})
}

// PODUploadResponse reports where an uploaded proof of delivery was stored.
type PODUploadResponse struct {
	Message  string `json:"message"`
	Filename string `json:"filename"`
}

// UploadPOD stores the multipart field "file" as the trip's proof of delivery.
// POST /api/trips/{tripID}/pod
func (h *TripHandler) UploadPOD(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrUnauthorized(w, r)
	if !ok {
		return
	}

	// Multipart framing adds a little on top of the file itself.
	limit := h.podMaxBytes + 64<<10
	if r.ContentLength > limit {
		writeError(w, http.StatusRequestEntityTooLarge, "File too large")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Multipart field \"file\" is required")
		return
	}
	defer file.Close()
	if header.Size > h.podMaxBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "File too large")
		return
	}

	key, err := h.manager.AttachPOD(r.Context(), chi.URLParam(r, "tripID"), header.Filename, file, caller)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PODUploadResponse{Message: "POD uploaded successfully", Filename: key})
}

// DownloadPOD streams the trip's proof of delivery.
// GET /api/trips/{tripID}/pod
func (h *TripHandler) DownloadPOD(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrUnauthorized(w, r)
	if !ok {
		return
	}
	rc, key, err := h.query.OpenPOD(r.Context(), chi.URLParam(r, "tripID"), caller)
	if err != nil {
		respondError(w, r, err)
		return
	}
	defer rc.Close()

	contentType := mime.TypeByExtension(filepath.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", key))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		log.WithError(err).WithField("key", key).Warn("POD download interrupted")
	}
}

func callerOrUnauthorized(w http.ResponseWriter, r *http.Request) (models.Caller, bool) {
	caller, ok := middleware.GetCallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "User context not found")
	}
	return caller, ok
}
