package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"bankflow/internal/common/api"
	"bankflow/internal/common/middleware"
	"bankflow/internal/wallet"
)

// Handler handles wallet HTTP requests
type Handler struct {
	service *wallet.Service
}

// NewHandler creates a new wallet handler
func NewHandler(service *wallet.Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the wallet routes. Every route acts on the calling owner;
// mw must establish it.
func (h *Handler) Routes(mw ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(mw...)

	r.Get("/balance", h.GetBalance)
	r.Post("/payments", h.Pay)
	r.Get("/payments/sent", h.ListSent)
	r.Get("/payments/received", h.ListReceived)
	r.Post("/settle-credit", h.SettleCredit)

	return r
}

// BalanceResponse is the balance reply
type BalanceResponse struct {
	Balance decimal.Decimal `json:"balance"`
}

// GetBalance handles GET /balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	wal, err := h.service.Balance(r.Context(), middleware.GetOwnerID(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	api.WriteData(w, http.StatusOK, BalanceResponse{Balance: wal.Balance})
}

// Pay handles POST /payments
func (h *Handler) Pay(w http.ResponseWriter, r *http.Request) {
	var req wallet.PayRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.WriteDecodeError(w, err)
		return
	}

	payment, err := h.service.Pay(r.Context(), middleware.GetOwnerID(r.Context()), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	api.WriteData(w, http.StatusCreated, payment)
}

// SettleRequest is the credit settlement request
type SettleRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// SettleCredit handles POST /settle-credit
func (h *Handler) SettleCredit(w http.ResponseWriter, r *http.Request) {
	var req SettleRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.WriteDecodeError(w, err)
		return
	}

	payment, err := h.service.SettleCredit(r.Context(), middleware.GetOwnerID(r.Context()), req.Amount)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	api.WriteData(w, http.StatusCreated, payment)
}

// ListSent handles GET /payments/sent
func (h *Handler) ListSent(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.service.ListSent)
}

// ListReceived handles GET /payments/received
func (h *Handler) ListReceived(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.service.ListReceived)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request, fn func(context.Context, string, int) ([]*wallet.Payment, error)) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			api.BadRequest(w, "invalid limit")
			return
		}
		limit = n
	}

	payments, err := fn(r.Context(), middleware.GetOwnerID(r.Context()), limit)
	if err != nil {
		api.InternalError(w, "failed to list payments")
		return
	}
	if payments == nil {
		payments = []*wallet.Payment{}
	}
	api.WriteData(w, http.StatusOK, payments)
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, wallet.ErrInvalidPayment):
		api.BadRequest(w, err.Error())
	case errors.Is(err, wallet.ErrNotFound):
		api.NotFound(w, err.Error())
	case errors.Is(err, wallet.ErrInsufficientFunds):
		api.InsufficientFunds(w, "insufficient funds")
	default:
		api.InternalError(w, "wallet operation failed")
	}
}
