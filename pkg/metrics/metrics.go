// Package metrics defines the collector contract shared by the in-memory
// and Prometheus implementations. Components record into a Collector; the
// analytics sampler and the admin API read the in-memory one back out.
package metrics

import (
	"time"
)

// Collector receives low-level cache operation measurements.
type Collector interface {
	// Level operations.
	RecordGet(level string, hit bool, duration time.Duration)
	RecordSet(level string, success bool, duration time.Duration)
	RecordDelete(level string, success bool, duration time.Duration)
	RecordError(level, operation, class string)

	// Invalidation.
	RecordInvalidation(kind string, keysAffected int)

	// Circuit breakers.
	RecordCircuitState(name string, state CircuitState)

	// Write-behind / promotion queues.
	RecordQueueDepth(queue string, depth int)
	RecordAsyncWrite(queue string, success bool, duration time.Duration)
	RecordWriteDropped(queue string)

	// Orchestrator-level reads: which level served the hit (-1 = total miss).
	RecordOrchestratedGet(hit bool, levelIndex int, totalDuration time.Duration)

	// Memory tier occupancy.
	RecordMemoryUsage(level string, bytes int64)
	RecordEviction(level string)
}

// CircuitState mirrors the breaker state machine.
type CircuitState int

const (
	// CircuitClosed allows requests through.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects requests.
	CircuitOpen
	// CircuitHalfOpen allows a probe request.
	CircuitHalfOpen
)

// String returns the textual state name.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Nop is a no-op Collector, the default when metrics are not wired.
type Nop struct{}

// RecordGet does nothing.
func (Nop) RecordGet(level string, hit bool, duration time.Duration) {}

// RecordSet does nothing.
func (Nop) RecordSet(level string, success bool, duration time.Duration) {}

// RecordDelete does nothing.
func (Nop) RecordDelete(level string, success bool, duration time.Duration) {}

// RecordError does nothing.
func (Nop) RecordError(level, operation, class string) {}

// RecordInvalidation does nothing.
func (Nop) RecordInvalidation(kind string, keysAffected int) {}

// RecordCircuitState does nothing.
func (Nop) RecordCircuitState(name string, state CircuitState) {}

// RecordQueueDepth does nothing.
func (Nop) RecordQueueDepth(queue string, depth int) {}

// RecordAsyncWrite does nothing.
func (Nop) RecordAsyncWrite(queue string, success bool, duration time.Duration) {}

// RecordWriteDropped does nothing.
func (Nop) RecordWriteDropped(queue string) {}

// RecordOrchestratedGet does nothing.
func (Nop) RecordOrchestratedGet(hit bool, levelIndex int, totalDuration time.Duration) {}

// RecordMemoryUsage does nothing.
func (Nop) RecordMemoryUsage(level string, bytes int64) {}

// RecordEviction does nothing.
func (Nop) RecordEviction(level string) {}
