package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"bankflow/internal/common/api"
	"bankflow/internal/common/events"
	"bankflow/internal/common/middleware"
	"bankflow/internal/registration"
)

// Handler handles registration HTTP requests
type Handler struct {
	service *registration.Service
}

// NewHandler creates a new registration handler
func NewHandler(service *registration.Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the registration routes, all scoped to the calling owner
func (h *Handler) Routes(mw ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(mw...)

	r.Post("/verify-email", h.VerifyEmail)
	r.Post("/documents", h.SubmitDocuments)
	r.Post("/credit-documents", h.SubmitCreditDocuments)
	r.Delete("/account", h.DeleteAccount)

	return r
}

// VerifyEmailRequest carries the name used in the welcome message
type VerifyEmailRequest struct {
	FullName string `json:"full_name" validate:"required,max=255"`
}

// VerifyEmail handles POST /verify-email
func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req VerifyEmailRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.WriteDecodeError(w, err)
		return
	}

	if err := h.service.VerifyEmail(r.Context(), middleware.GetOwnerID(r.Context()), req.FullName); err != nil {
		api.InternalError(w, "failed to verify email")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// DocumentsRequest is the account-opening submission
type DocumentsRequest struct {
	FullName     string `json:"full_name" validate:"required,max=255"`
	NationalID   string `json:"national_id" validate:"required,max=50"`
	TaxID        string `json:"tax_id" validate:"required,max=50"`
	AddressProof string `json:"address_proof" validate:"required"`
	IncomeProof  string `json:"income_proof" validate:"required"`
}

// SubmitDocuments handles POST /documents
func (h *Handler) SubmitDocuments(w http.ResponseWriter, r *http.Request) {
	var req DocumentsRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.WriteDecodeError(w, err)
		return
	}

	err := h.service.SubmitDocuments(r.Context(), events.DocumentsSubmitted{
		OwnerID:      middleware.GetOwnerID(r.Context()),
		FullName:     req.FullName,
		NationalID:   req.NationalID,
		TaxID:        req.TaxID,
		AddressProof: req.AddressProof,
		IncomeProof:  req.IncomeProof,
	})
	if err != nil {
		api.InternalError(w, "failed to submit documents")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// CreditDocumentsRequest is the credit-line application
type CreditDocumentsRequest struct {
	FullName    string          `json:"full_name" validate:"required,max=255"`
	TaxID       string          `json:"tax_id" validate:"required,max=50"`
	BirthDate   string          `json:"birth_date" validate:"required,datetime=2006-01-02"`
	Occupation  string          `json:"occupation" validate:"required,max=255"`
	Income      decimal.Decimal `json:"income"`
	IncomeProof string          `json:"income_proof" validate:"required"`
}

// SubmitCreditDocuments handles POST /credit-documents
func (h *Handler) SubmitCreditDocuments(w http.ResponseWriter, r *http.Request) {
	var req CreditDocumentsRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.WriteDecodeError(w, err)
		return
	}

	err := h.service.SubmitCreditDocuments(r.Context(), events.CreditDocumentsSubmitted{
		OwnerID:     middleware.GetOwnerID(r.Context()),
		FullName:    req.FullName,
		TaxID:       req.TaxID,
		BirthDate:   req.BirthDate,
		Occupation:  req.Occupation,
		Income:      req.Income,
		IncomeProof: req.IncomeProof,
	})
	if errors.Is(err, registration.ErrInvalidSubmission) {
		api.BadRequest(w, "income must be positive")
		return
	}
	if err != nil {
		api.InternalError(w, "failed to submit credit documents")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// DeleteAccount handles DELETE /account
func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteAccount(r.Context(), middleware.GetOwnerID(r.Context())); err != nil {
		api.InternalError(w, "failed to delete account")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
