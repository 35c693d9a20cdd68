package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"bankflow/internal/common/api"
	"bankflow/internal/common/middleware"
	"bankflow/internal/notification"
)

// Handler handles notification HTTP requests
type Handler struct {
	service *notification.Service
}

// NewHandler creates a new notification handler
func NewHandler(service *notification.Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the notification routes, all scoped to the calling owner
func (h *Handler) Routes(mw ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(mw...)

	r.Get("/", h.ListVisible)
	r.Get("/hidden", h.ListHidden)
	r.Get("/unviewed/count", h.CountUnviewed)
	r.Post("/viewed", h.MarkAllViewed)
	r.Post("/{id}/hide", h.Hide)

	return r
}

// ListVisible handles GET /
func (h *Handler) ListVisible(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, true)
}

// ListHidden handles GET /hidden
func (h *Handler) ListHidden(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, false)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request, visible bool) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			api.BadRequest(w, "invalid limit")
			return
		}
		limit = n
	}

	ownerID := middleware.GetOwnerID(r.Context())
	list := h.service.ListHidden
	if visible {
		list = h.service.ListVisible
	}

	items, err := list(r.Context(), ownerID, limit)
	if err != nil {
		api.InternalError(w, "failed to list notifications")
		return
	}
	if items == nil {
		items = []*notification.Notification{}
	}
	api.WriteData(w, http.StatusOK, items)
}

// CountResponse is the unviewed count reply
type CountResponse struct {
	Unviewed int `json:"unviewed"`
}

// CountUnviewed handles GET /unviewed/count
func (h *Handler) CountUnviewed(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.CountUnviewed(r.Context(), middleware.GetOwnerID(r.Context()))
	if err != nil {
		api.InternalError(w, "failed to count notifications")
		return
	}
	api.WriteData(w, http.StatusOK, CountResponse{Unviewed: n})
}

// MarkAllViewed handles POST /viewed
func (h *Handler) MarkAllViewed(w http.ResponseWriter, r *http.Request) {
	if err := h.service.MarkAllViewed(r.Context(), middleware.GetOwnerID(r.Context())); err != nil {
		api.InternalError(w, "failed to mark notifications viewed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Hide handles POST /{id}/hide
func (h *Handler) Hide(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Hide(r.Context(), middleware.GetOwnerID(r.Context()), chi.URLParam(r, "id")); err != nil {
		api.InternalError(w, "failed to hide notification")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
