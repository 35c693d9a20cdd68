package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"bankflow/internal/common/api"
	"bankflow/internal/common/middleware"
	"bankflow/internal/document"
)

// Handler handles document HTTP requests
type Handler struct {
	service *document.Service
}

// NewHandler creates a new document handler
func NewHandler(service *document.Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the document routes. owner guards the routes that act on
// the calling owner.
func (h *Handler) Routes(owner func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.With(owner).Get("/status", h.GetStatus)

	// Review routes
	r.Get("/pending", h.ListPending)
	r.Post("/{id}/approve", h.Approve)
	r.Post("/{id}/reject", h.Reject)

	return r
}

// StatusResponse is the review status reply
type StatusResponse struct {
	Status document.Status `json:"status"`
}

// GetStatus handles GET /status
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.Status(r.Context(), middleware.GetOwnerID(r.Context()))
	if err != nil {
		api.InternalError(w, "failed to get document status")
		return
	}
	api.WriteData(w, http.StatusOK, StatusResponse{Status: status})
}

// ListPending handles GET /pending
func (h *Handler) ListPending(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			api.BadRequest(w, "invalid limit")
			return
		}
		limit = n
	}

	docs, err := h.service.ListPending(r.Context(), limit)
	if err != nil {
		api.InternalError(w, "failed to list pending documents")
		return
	}
	if docs == nil {
		docs = []*document.Document{}
	}
	api.WriteData(w, http.StatusOK, docs)
}

// Approve handles POST /{id}/approve
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	doc, err := h.service.Approve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	api.WriteData(w, http.StatusOK, doc)
}

// Reject handles POST /{id}/reject
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	doc, err := h.service.Reject(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	api.WriteData(w, http.StatusOK, doc)
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, document.ErrNotFound):
		api.NotFound(w, "document not found")
	case errors.Is(err, document.ErrResolved):
		api.Conflict(w, "document already resolved")
	default:
		api.InternalError(w, "document operation failed")
	}
}
