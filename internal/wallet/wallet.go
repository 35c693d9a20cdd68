// Package wallet keeps owner balances and moves money between them, either
// from the balance or on the sender's credit line.
package wallet

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Method is how a payment is funded
type Method string

const (
	MethodInstantTransfer Method = "INSTANT_TRANSFER"
	MethodCreditLine      Method = "CREDIT_LINE"
)

// Valid reports whether m is a known method.
func (m Method) Valid() bool {
	return m == MethodInstantTransfer || m == MethodCreditLine
}

// Direction tells the two legs of a payment apart
type Direction string

const (
	DirectionSent     Direction = "SENT"
	DirectionReceived Direction = "RECEIVED"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidPayment    = errors.New("invalid payment")
)

// Wallet is an owner's balance
type Wallet struct {
	OwnerID   string          `json:"owner_id"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Debit takes amount from the balance, refusing to go below zero.
func (w *Wallet) Debit(amount decimal.Decimal, now time.Time) error {
	if w.Balance.LessThan(amount) {
		return ErrInsufficientFunds
	}
	w.Balance = w.Balance.Sub(amount)
	w.UpdatedAt = now
	return nil
}

// Credit adds amount to the balance.
func (w *Wallet) Credit(amount decimal.Decimal, now time.Time) {
	w.Balance = w.Balance.Add(amount)
	w.UpdatedAt = now
}

// Payment is one leg of a payment, owned by the sender (SENT) or the
// receiver (RECEIVED). ReceiverID is empty for a credit settlement.
type Payment struct {
	ID         string          `json:"id"`
	OwnerID    string          `json:"owner_id"`
	SenderID   string          `json:"sender_id"`
	ReceiverID string          `json:"receiver_id,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	Method     Method          `json:"method"`
	Direction  Direction       `json:"direction"`
	Reference  string          `json:"reference,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}
