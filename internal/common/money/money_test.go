package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestWithCreditFee(t *testing.T) {
	tests := []struct {
		amount string
		want   string
	}{
		{"100", "105"},
		{"40", "42"},
		{"0.01", "0.0105"},
		{"19.99", "20.9895"},
	}

	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			assert.True(t, WithCreditFee(d(tt.amount)).Equal(d(tt.want)), "got %s", WithCreditFee(d(tt.amount)))
		})
	}
}

func TestCreditLimitFor(t *testing.T) {
	assert.True(t, CreditLimitFor(d("5000")).Equal(d("1500")))
	assert.True(t, CreditLimitFor(d("1234.56")).Equal(d("370.368")))
}

func TestParse(t *testing.T) {
	amount, err := Parse("40.50")
	require.NoError(t, err)
	assert.True(t, amount.Equal(d("40.5")))

	_, err = Parse("0")
	assert.ErrorIs(t, err, ErrNotPositive)

	_, err = Parse("-3")
	assert.ErrorIs(t, err, ErrNotPositive)

	_, err = Parse("1.001")
	assert.ErrorIs(t, err, ErrTooPrecise)

	_, err = Parse("ten")
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "40.00", Format(d("40")))
	assert.Equal(t, "50.00", Format(OpeningBonus))
}
