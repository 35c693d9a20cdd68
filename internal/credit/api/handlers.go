package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"bankflow/internal/common/api"
	"bankflow/internal/common/middleware"
	"bankflow/internal/credit"
)

// Handler handles credit HTTP requests
type Handler struct {
	service *credit.Service
}

// NewHandler creates a new credit handler
func NewHandler(service *credit.Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the credit routes
func (h *Handler) Routes(owner func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(owner)
		r.Get("/status", h.GetStatus)
		r.Get("/preview", h.PreviewLimit)
	})

	// Review routes
	r.Get("/pending", h.ListPending)
	r.Post("/{id}/approve", h.Approve)
	r.Post("/{id}/reject", h.Reject)

	return r
}

// StatusResponse is the review status reply
type StatusResponse struct {
	Status credit.Status `json:"status"`
}

// GetStatus handles GET /status
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.Status(r.Context(), middleware.GetOwnerID(r.Context()))
	if err != nil {
		api.InternalError(w, "failed to get credit status")
		return
	}
	api.WriteData(w, http.StatusOK, StatusResponse{Status: status})
}

// PreviewResponse is the limit an application would grant
type PreviewResponse struct {
	Limit decimal.Decimal `json:"limit"`
}

// PreviewLimit handles GET /preview
func (h *Handler) PreviewLimit(w http.ResponseWriter, r *http.Request) {
	limit, err := h.service.PreviewLimit(r.Context(), middleware.GetOwnerID(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	api.WriteData(w, http.StatusOK, PreviewResponse{Limit: limit})
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

	apps, err := h.service.ListPending(r.Context(), limit)
	if err != nil {
		api.InternalError(w, "failed to list pending applications")
		return
	}
	if apps == nil {
		apps = []*credit.Application{}
	}
	api.WriteData(w, http.StatusOK, apps)
}

// Approve handles POST /{id}/approve
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	app, err := h.service.Approve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	api.WriteData(w, http.StatusOK, app)
}

// Reject handles POST /{id}/reject
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	app, err := h.service.Reject(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	api.WriteData(w, http.StatusOK, app)
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, credit.ErrNotFound):
		api.NotFound(w, "credit application not found")
	case errors.Is(err, credit.ErrResolved):
		api.Conflict(w, "credit application already resolved")
	default:
		api.InternalError(w, "credit operation failed")
	}
}
