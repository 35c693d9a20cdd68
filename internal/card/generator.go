package card

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"
)

// Credentials are the printed card details
type Credentials struct {
	Number string
	Expiry string
	CVV    string
}

// Generator issues card credentials
type Generator interface {
	Generate(now time.Time) (Credentials, error)
}

// ValidityYears is how long an issued card stays valid.
const ValidityYears = 7

// RandomGenerator issues Luhn-valid 16 digit numbers from a random source.
type RandomGenerator struct {
	// Prefix is the issuer prefix the number starts with.
	Prefix string
	rand   io.Reader
}

// NewRandomGenerator creates a generator reading from crypto/rand
func NewRandomGenerator(prefix string) *RandomGenerator {
	return &RandomGenerator{Prefix: prefix, rand: rand.Reader}
}

// Generate returns a fresh number, an expiry ValidityYears from now and a CVV
func (g *RandomGenerator) Generate(now time.Time) (Credentials, error) {
	body, err := g.digits(15 - len(g.Prefix))
	if err != nil {
		return Credentials{}, err
	}
	cvv, err := g.digits(3)
	if err != nil {
		return Credentials{}, err
	}

	partial := g.Prefix + body
	return Credentials{
		Number: FormatNumber(partial + string(rune('0'+LuhnCheckDigit(partial)))),
		Expiry: ExpiryFrom(now),
		CVV:    cvv,
	}, nil
}

func (g *RandomGenerator) digits(n int) (string, error) {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		d, err := rand.Int(g.rand, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("generating card digits: %w", err)
		}
		sb.WriteByte(byte('0' + d.Int64()))
	}
	return sb.String(), nil
}

// ExpiryFrom formats the expiry for a card issued at now, as MM/yy.
func ExpiryFrom(now time.Time) string {
	return now.AddDate(ValidityYears, 0, 0).Format("01/06")
}

// LuhnCheckDigit computes the check digit to append to digits.
func LuhnCheckDigit(digits string) int {
	sum := 0
	double := true
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return (10 - sum%10) % 10
}

// FormatNumber groups a 16 digit number in blocks of four.
func FormatNumber(number string) string {
	var parts []string
	for i := 0; i < len(number); i += 4 {
		end := i + 4
		if end > len(number) {
			end = len(number)
		}
		parts = append(parts, number[i:end])
	}
	return strings.Join(parts, " ")
}
