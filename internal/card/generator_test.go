package card

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func luhnValid(number string) bool {
	digits := strings.ReplaceAll(number, " ", "")
	return LuhnCheckDigit(digits[:len(digits)-1]) == int(digits[len(digits)-1]-'0')
}

func TestLuhnCheckDigit(t *testing.T) {
	assert.Equal(t, 1, LuhnCheckDigit("411111111111111"))
	assert.Equal(t, 4, LuhnCheckDigit("555555555555444"))
	assert.True(t, luhnValid("4111 1111 1111 1111"))
	assert.False(t, luhnValid("4111 1111 1111 1112"))
}

func TestExpiryFrom(t *testing.T) {
	assert.Equal(t, "03/31", ExpiryFrom(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "12/30", ExpiryFrom(time.Date(2023, 12, 31, 23, 0, 0, 0, time.UTC)))
}

func TestRandomGenerator_Format(t *testing.T) {
	gen := NewRandomGenerator("4")

	for i := 0; i < 20; i++ {
		creds, err := gen.Generate(fixedNow)
		require.NoError(t, err)

		assert.Regexp(t, `^4\d{3} \d{4} \d{4} \d{4}$`, creds.Number)
		assert.True(t, luhnValid(creds.Number), creds.Number)
		assert.Regexp(t, `^\d{3}$`, creds.CVV)
		assert.Equal(t, "03/31", creds.Expiry)
	}
}

func TestRandomGenerator_DeterministicSource(t *testing.T) {
	seed := bytes.Repeat([]byte{0x05}, 512)
	a := &RandomGenerator{Prefix: "5", rand: bytes.NewReader(seed)}
	b := &RandomGenerator{Prefix: "5", rand: bytes.NewReader(seed)}

	ca, err := a.Generate(fixedNow)
	require.NoError(t, err)
	cb, err := b.Generate(fixedNow)
	require.NoError(t, err)

	assert.Equal(t, ca, cb)
}
