package resilience

import (
	"time"
)

// Config configures the guard around one cache level.
type Config struct {
	// Timeout bounds every operation against the level. Required for the
	// out-of-process tiers; the hot path never retries on timeout.
	Timeout time.Duration

	// Breaker configures the per-level circuit breaker.
	Breaker BreakerConfig
}

// BreakerConfig configures circuit breaker behavior.
type BreakerConfig struct {
	// MaxRequests allowed through while half-open.
	MaxRequests uint32

	// Interval is the closed-state period after which counts reset.
	Interval time.Duration

	// Timeout is the open-state period before moving to half-open.
	Timeout time.Duration

	// ConsecutiveFailures trips the breaker when reached. Zero means 5.
	ConsecutiveFailures uint32
}

// DefaultConfig returns guard defaults suitable for a remote tier.
func DefaultConfig() Config {
	return Config{
		Timeout: 1 * time.Second,
		Breaker: BreakerConfig{
			MaxRequests:         1,
			Interval:            60 * time.Second,
			Timeout:             30 * time.Second,
			ConsecutiveFailures: 5,
		},
	}
}

// WithTimeout returns a copy of the config with the given operation timeout.
func (c Config) WithTimeout(timeout time.Duration) Config {
	c.Timeout = timeout
	return c
}
