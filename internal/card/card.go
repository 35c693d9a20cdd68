// Package card owns the card lifecycle: issuance on document approval,
// block/unblock, cancellation, credit limits and credit-line debits.
package card

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"bankflow/internal/common/money"
)

// Status is the lifecycle state of a card
type Status string

const (
	StatusEmpty    Status = "EMPTY" // reported when the owner has no card
	StatusApproved Status = "APPROVED"
	StatusBlocked  Status = "BLOCKED"
	StatusCanceled Status = "CANCELED"
)

// Kind tells debit-only cards from cards with a credit line
type Kind string

const (
	KindDebit    Kind = "DEBIT"
	KindMultiple Kind = "MULTIPLE"
)

// DebitOutcome is the reply to a credit-line debit
type DebitOutcome string

const (
	DebitOK           DebitOutcome = "OK"
	DebitInsufficient DebitOutcome = "INSUFFICIENT"
	DebitNotFound     DebitOutcome = "NOT_FOUND"
)

var (
	ErrNotFound = errors.New("card not found")
	ErrCanceled = errors.New("card is canceled")
)

// Card is the single card an owner holds
type Card struct {
	ID          string           `json:"id"`
	OwnerID     string           `json:"owner_id"`
	FullName    string           `json:"full_name"`
	NationalID  string           `json:"national_id"`
	TaxID       string           `json:"tax_id"`
	Number      string           `json:"number"`
	Expiry      string           `json:"expiry"`
	CVV         string           `json:"cvv"`
	Kind        Kind             `json:"kind"`
	Status      Status           `json:"status"`
	CreditLimit *decimal.Decimal `json:"credit_limit"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Reactivate moves a blocked or canceled card back to approved. It reports
// false when the card already was approved.
func (c *Card) Reactivate(now time.Time) bool {
	if c.Status == StatusApproved {
		return false
	}
	c.Status = StatusApproved
	c.UpdatedAt = now
	return true
}

// Cancel moves an approved card to canceled; other states are left alone.
func (c *Card) Cancel(now time.Time) bool {
	if c.Status != StatusApproved {
		return false
	}
	c.Status = StatusCanceled
	c.UpdatedAt = now
	return true
}

// Toggle flips between approved and blocked. Canceled is terminal here.
func (c *Card) Toggle(now time.Time) error {
	switch c.Status {
	case StatusApproved:
		c.Status = StatusBlocked
	case StatusBlocked:
		c.Status = StatusApproved
	default:
		return ErrCanceled
	}
	c.UpdatedAt = now
	return nil
}

// GrantLimit sets the credit line from a declared income.
func (c *Card) GrantLimit(income decimal.Decimal, now time.Time) {
	limit := money.CreditLimitFor(income)
	c.CreditLimit = &limit
	c.Kind = KindMultiple
	c.UpdatedAt = now
}

// RevokeLimit removes the credit line.
func (c *Card) RevokeLimit(now time.Time) {
	c.CreditLimit = nil
	c.Kind = KindDebit
	c.UpdatedAt = now
}

// Settle restores amount to the credit line.
func (c *Card) Settle(amount decimal.Decimal, now time.Time) {
	limit := c.limit().Add(amount)
	c.CreditLimit = &limit
	c.UpdatedAt = now
}

// Debit charges amount plus the credit fee to the credit line. Nothing
// changes unless the full charge fits in the remaining limit.
func (c *Card) Debit(amount decimal.Decimal, now time.Time) DebitOutcome {
	if c.Status != StatusApproved {
		return DebitNotFound
	}
	charge := money.WithCreditFee(amount)
	if c.limit().LessThan(charge) {
		return DebitInsufficient
	}
	limit := c.limit().Sub(charge)
	c.CreditLimit = &limit
	c.UpdatedAt = now
	return DebitOK
}

func (c *Card) limit() decimal.Decimal {
	if c.CreditLimit == nil {
		return decimal.Zero
	}
	return *c.CreditLimit
}
