package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDelay_DoublesUntilCap(t *testing.T) {
	cfg := Config{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}

	assert.Equal(t, 100*time.Millisecond, cfg.Delay(0))
	assert.Equal(t, 200*time.Millisecond, cfg.Delay(1))
	assert.Equal(t, 800*time.Millisecond, cfg.Delay(3))
	assert.Equal(t, time.Second, cfg.Delay(4))
	assert.Equal(t, time.Second, cfg.Delay(60))
}

func TestDelay_JitterStaysInBand(t *testing.T) {
	cfg := Config{BaseDelay: time.Second, MaxDelay: time.Minute, Jitter: true}

	for i := 0; i < 50; i++ {
		d := cfg.Delay(1)
		assert.GreaterOrEqual(t, d, 1700*time.Millisecond)
		assert.LessOrEqual(t, d, 2300*time.Millisecond)
	}
}
