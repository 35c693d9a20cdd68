package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Config holds retry pacing for bus deliveries and publishes
type Config struct {
	MaxAttempts int           `envconfig:"RETRY_MAX_ATTEMPTS" default:"5"`
	BaseDelay   time.Duration `envconfig:"RETRY_BASE_DELAY" default:"200ms"`
	MaxDelay    time.Duration `envconfig:"RETRY_MAX_DELAY" default:"30s"`
	Jitter      bool          `envconfig:"RETRY_JITTER" default:"true"`
}

// Delay returns the wait before retry number attempt (zero based):
// BaseDelay doubled per attempt, capped at MaxDelay, with +-15% jitter.
func (c Config) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		attempt = 30
	}
	delay := time.Duration(math.Pow(2, float64(attempt))) * c.BaseDelay
	if delay > c.MaxDelay || delay <= 0 {
		delay = c.MaxDelay
	}

	if c.Jitter {
		jitter := time.Duration(rand.Float64() * float64(delay) * 0.3)
		delay = delay + jitter - time.Duration(float64(delay)*0.15)
	}

	return delay
}
