// Package credit reviews credit-line applications. Approval grants a limit
// proportional to the declared income.
package credit

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the review state of an application
type Status string

const (
	StatusNone     Status = "NONE"
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

var (
	ErrNotFound = errors.New("credit application not found")
	ErrResolved = errors.New("credit application already resolved")
)

// Application is one submission of the credit documents
type Application struct {
	ID          string          `json:"id"`
	OwnerID     string          `json:"owner_id"`
	FullName    string          `json:"full_name"`
	TaxID       string          `json:"tax_id"`
	BirthDate   string          `json:"birth_date"`
	Occupation  string          `json:"occupation"`
	Income      decimal.Decimal `json:"income"`
	IncomeProof string          `json:"income_proof"`
	Status      Status          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func (a *Application) resolve(to Status, now time.Time) error {
	if a.Status != StatusPending {
		return ErrResolved
	}
	a.Status = to
	a.UpdatedAt = now
	return nil
}
