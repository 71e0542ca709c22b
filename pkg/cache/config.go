package cache

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// LevelConfig holds the per-tier settings shared by all implementations.
type LevelConfig struct {
	// Name is the tier identifier.
	Name LevelName

	// DefaultTTL applies when a Set does not specify a TTL.
	DefaultTTL time.Duration

	// MaxTTL caps entry TTLs. Zero means no cap.
	MaxTTL time.Duration

	// Enabled levels participate in orchestrated operations; disabled
	// levels are skipped entirely.
	Enabled bool

	// Priority orders probing; lower values are checked first.
	Priority int
}

// Validate checks the configuration, returning ErrInvalidConfig on problems.
func (c *LevelConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: level name required", ErrInvalidConfig)
	}
	if c.DefaultTTL < 0 {
		return fmt.Errorf("%w: negative default TTL for level %s", ErrInvalidConfig, c.Name)
	}
	if c.MaxTTL < 0 {
		return fmt.Errorf("%w: negative max TTL for level %s", ErrInvalidConfig, c.Name)
	}
	if c.MaxTTL > 0 && c.DefaultTTL > c.MaxTTL {
		return fmt.Errorf("%w: default TTL exceeds max TTL for level %s", ErrInvalidConfig, c.Name)
	}
	return nil
}

// EffectiveTTL resolves the TTL for a write: zero falls back to DefaultTTL,
// values above MaxTTL are capped.
func (c *LevelConfig) EffectiveTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		ttl = c.DefaultTTL
	}
	if c.MaxTTL > 0 && ttl > c.MaxTTL {
		return c.MaxTTL
	}
	return ttl
}

// Descriptor returns the immutable descriptor for this level config.
func (c *LevelConfig) Descriptor() Descriptor {
	return Descriptor{
		Name:     c.Name,
		TTL:      c.DefaultTTL,
		Enabled:  c.Enabled,
		Priority: c.Priority,
	}
}

// ParseSize converts a human-readable size string ("512kb", "100mb", "2gb",
// bare bytes "1048576") to a byte count. Parsing is case-insensitive.
// Returns ErrInvalidConfig for malformed input.
func ParseSize(s string) (int64, error) {
	trimmed := strings.TrimSpace(strings.ToLower(s))
	if trimmed == "" {
		return 0, fmt.Errorf("%w: empty size string", ErrInvalidConfig)
	}

	multiplier := int64(1)
	switch {
	case strings.HasSuffix(trimmed, "gb"):
		multiplier = 1 << 30
		trimmed = strings.TrimSuffix(trimmed, "gb")
	case strings.HasSuffix(trimmed, "mb"):
		multiplier = 1 << 20
		trimmed = strings.TrimSuffix(trimmed, "mb")
	case strings.HasSuffix(trimmed, "kb"):
		multiplier = 1 << 10
		trimmed = strings.TrimSuffix(trimmed, "kb")
	case strings.HasSuffix(trimmed, "b"):
		trimmed = strings.TrimSuffix(trimmed, "b")
	}

	trimmed = strings.TrimSpace(trimmed)
	n, err := strconv.ParseFloat(trimmed, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: invalid size %q", ErrInvalidConfig, s)
	}

	return int64(n * float64(multiplier)), nil
}
