// Package document runs the account-opening document review. Each owner has
// at most one pending submission; resolving it approves or cancels the card.
package document

import (
	"errors"
	"time"
)

// Status is the review state of a submission
type Status string

const (
	StatusNone     Status = "NONE" // reported when the owner never submitted
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

var (
	ErrNotFound = errors.New("document not found")
	ErrResolved = errors.New("document already resolved")
)

// Document is one submission of the account-opening documents
type Document struct {
	ID           string    `json:"id"`
	OwnerID      string    `json:"owner_id"`
	FullName     string    `json:"full_name"`
	NationalID   string    `json:"national_id"`
	TaxID        string    `json:"tax_id"`
	AddressProof string    `json:"address_proof"`
	IncomeProof  string    `json:"income_proof"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Resolve moves a pending document to to. Resolved documents are final.
func (d *Document) Resolve(to Status, now time.Time) error {
	if d.Status != StatusPending {
		return ErrResolved
	}
	d.Status = to
	d.UpdatedAt = now
	return nil
}
