package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"bankflow/internal/card"
	"bankflow/internal/common/api"
	"bankflow/internal/common/middleware"
	"bankflow/internal/common/money"
)

// Handler handles card HTTP requests
type Handler struct {
	service *card.Service
}

// NewHandler creates a new card handler
func NewHandler(service *card.Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the card holder's routes, all scoped to the calling owner
func (h *Handler) Routes(mw ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(mw...)

	r.Get("/", h.GetCard)
	r.Get("/status", h.GetStatus)
	r.Get("/limit", h.GetLimit)
	r.Post("/toggle", h.Toggle)

	return r
}

// InternalRoutes returns the service-to-service routes. {ownerID} is the
// card holder being charged; mw must authenticate the calling service.
func (h *Handler) InternalRoutes(mw ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(mw...)

	r.Post("/{ownerID}/debit", h.DebitCredit)

	return r
}

// GetCard handles GET /
func (h *Handler) GetCard(w http.ResponseWriter, r *http.Request) {
	c, err := h.service.Get(r.Context(), middleware.GetOwnerID(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	api.WriteData(w, http.StatusOK, c)
}

// StatusResponse is the card status reply
type StatusResponse struct {
	Status card.Status `json:"status"`
}

// GetStatus handles GET /status
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.Status(r.Context(), middleware.GetOwnerID(r.Context()))
	if err != nil {
		api.InternalError(w, "failed to get card status")
		return
	}
	api.WriteData(w, http.StatusOK, StatusResponse{Status: status})
}

// LimitResponse is the credit line reply; Limit is null without a credit line
type LimitResponse struct {
	Kind  card.Kind        `json:"kind"`
	Limit *decimal.Decimal `json:"limit"`
}

// GetLimit handles GET /limit
func (h *Handler) GetLimit(w http.ResponseWriter, r *http.Request) {
	c, err := h.service.Get(r.Context(), middleware.GetOwnerID(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	api.WriteData(w, http.StatusOK, LimitResponse{Kind: c.Kind, Limit: c.CreditLimit})
}

// Toggle handles POST /toggle
func (h *Handler) Toggle(w http.ResponseWriter, r *http.Request) {
	c, err := h.service.Toggle(r.Context(), middleware.GetOwnerID(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	api.WriteData(w, http.StatusOK, StatusResponse{Status: c.Status})
}

// DebitRequest is the credit-line debit request
type DebitRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference" validate:"required"`
}

// DebitResponse carries the debit outcome
type DebitResponse struct {
	Outcome card.DebitOutcome `json:"outcome"`
}

// DebitCredit handles POST /{ownerID}/debit. Every outcome is a 200; the
// caller decides what INSUFFICIENT and NOT_FOUND mean for its payment.
func (h *Handler) DebitCredit(w http.ResponseWriter, r *http.Request) {
	var req DebitRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.WriteDecodeError(w, err)
		return
	}
	if err := money.ValidateAmount(req.Amount); err != nil {
		api.BadRequest(w, err.Error())
		return
	}

	outcome, err := h.service.DebitCredit(r.Context(), chi.URLParam(r, "ownerID"), req.Amount, req.Reference)
	if err != nil {
		api.InternalError(w, "failed to debit credit line")
		return
	}
	api.WriteData(w, http.StatusOK, DebitResponse{Outcome: outcome})
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, card.ErrNotFound):
		api.NotFound(w, "card not found")
	case errors.Is(err, card.ErrCanceled):
		api.Conflict(w, "card is canceled")
	default:
		api.InternalError(w, "card operation failed")
	}
}
