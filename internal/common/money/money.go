// Package money holds the monetary policy constants and decimal helpers
// shared by the wallet and card stages.
package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Scale is the number of decimal places a wallet amount may carry.
const Scale = 2

var (
	// OpeningBonus is credited to every new wallet.
	OpeningBonus = decimal.RequireFromString("50.00")

	// CreditFeeRate is the markup charged on every credit-line payment.
	CreditFeeRate = decimal.RequireFromString("0.05")

	// CreditLimitRatio is the share of declared income granted as credit limit.
	CreditLimitRatio = decimal.RequireFromString("0.30")
)

var (
	ErrNotPositive  = errors.New("amount must be positive")
	ErrTooPrecise   = fmt.Errorf("amount must have at most %d decimal places", Scale)
	ErrInvalidValue = errors.New("amount is not a number")
)

// Parse reads a wallet amount, rejecting non-positive and over-precise values.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidValue
	}
	return d, ValidateAmount(d)
}

// ValidateAmount checks that d can be moved between wallets.
func ValidateAmount(d decimal.Decimal) error {
	if !d.IsPositive() {
		return ErrNotPositive
	}
	if !d.Equal(d.Truncate(Scale)) {
		return ErrTooPrecise
	}
	return nil
}

// WithCreditFee is the amount a credit line is charged for a payment of a.
func WithCreditFee(a decimal.Decimal) decimal.Decimal {
	return a.Add(a.Mul(CreditFeeRate))
}

// CreditLimitFor is the limit granted for a declared income.
func CreditLimitFor(income decimal.Decimal) decimal.Decimal {
	return income.Mul(CreditLimitRatio)
}

// Format renders d for user-facing messages, e.g. "1234.50".
func Format(d decimal.Decimal) string {
	return d.StringFixed(Scale)
}
