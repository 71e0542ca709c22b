package cache

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors shared by every level implementation.
var (
	// ErrKeyNotFound is returned when a requested key does not exist at a level.
	ErrKeyNotFound = errors.New("cache: key not found")

	// ErrCacheMiss is an alias for ErrKeyNotFound.
	ErrCacheMiss = ErrKeyNotFound

	// ErrInvalidKey is returned for empty, oversized, or malformed keys.
	ErrInvalidKey = errors.New("cache: invalid key")

	// ErrInvalidValue is returned when a value cannot be stored.
	ErrInvalidValue = errors.New("cache: invalid value")

	// ErrLevelUnavailable is returned when a tier cannot be reached.
	ErrLevelUnavailable = errors.New("cache: level unavailable")

	// ErrTimeout is returned when a level operation exceeds its deadline.
	ErrTimeout = errors.New("cache: operation timeout")

	// ErrSerialization is returned when a value cannot be encoded or decoded.
	ErrSerialization = errors.New("cache: serialization failed")

	// ErrCircuitOpen is returned when a circuit breaker rejects the call.
	ErrCircuitOpen = errors.New("cache: circuit breaker open")

	// ErrInvalidConfig is returned for invalid configuration at construction.
	// Construction fails fast; there is no partial start.
	ErrInvalidConfig = errors.New("cache: invalid configuration")
)

// IsNotFound reports whether err indicates a cache miss.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrKeyNotFound)
}

// IsTimeout reports whether err indicates a timed-out level operation.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsUnavailable reports whether err indicates an unreachable level.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrLevelUnavailable)
}

// IsCircuitOpen reports whether err indicates an open circuit breaker.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}

// IsSerialization reports whether err indicates an encode/decode failure.
func IsSerialization(err error) bool {
	return errors.Is(err, ErrSerialization)
}

// ClassifyError maps an error to a low-cardinality label for metrics.
func ClassifyError(err error) string {
	if err == nil {
		return "none"
	}

	switch {
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrKeyNotFound):
		return "miss"
	case errors.Is(err, ErrLevelUnavailable):
		return "unavailable"
	case errors.Is(err, ErrSerialization):
		return "serialization"
	case errors.Is(err, ErrInvalidKey):
		return "invalid_key"
	case errors.Is(err, ErrInvalidValue):
		return "invalid_value"
	case errors.Is(err, ErrInvalidConfig):
		return "invalid_config"
	default:
		msg := strings.ToLower(err.Error())
		switch {
		case containsAny(msg, "connection", "connect", "dial", "refused"):
			return "connection"
		case containsAny(msg, "marshal", "unmarshal", "encode", "decode"):
			return "serialization"
		default:
			return "other"
		}
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// WrapError adds level and operation context to an error.
func WrapError(err error, level string, operation string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("cache level %s %s: %w", level, operation, err)
}
