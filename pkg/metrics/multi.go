package metrics

import "time"

// Multi fans every record out to all wrapped collectors. It lets the
// in-memory collector (read back by analytics) and the Prometheus exporter
// observe the same stream.
type Multi struct {
	collectors []Collector
}

// NewMulti wraps the given collectors.
func NewMulti(collectors ...Collector) *Multi {
	return &Multi{collectors: collectors}
}

// RecordGet implements Collector.
func (m *Multi) RecordGet(level string, hit bool, duration time.Duration) {
	for _, c := range m.collectors {
		c.RecordGet(level, hit, duration)
	}
}

// RecordSet implements Collector.
func (m *Multi) RecordSet(level string, success bool, duration time.Duration) {
	for _, c := range m.collectors {
		c.RecordSet(level, success, duration)
	}
}

// RecordDelete implements Collector.
func (m *Multi) RecordDelete(level string, success bool, duration time.Duration) {
	for _, c := range m.collectors {
		c.RecordDelete(level, success, duration)
	}
}

// RecordError implements Collector.
func (m *Multi) RecordError(level, operation, class string) {
	for _, c := range m.collectors {
		c.RecordError(level, operation, class)
	}
}

// RecordInvalidation implements Collector.
func (m *Multi) RecordInvalidation(kind string, keysAffected int) {
	for _, c := range m.collectors {
		c.RecordInvalidation(kind, keysAffected)
	}
}

// RecordCircuitState implements Collector.
func (m *Multi) RecordCircuitState(name string, state CircuitState) {
	for _, c := range m.collectors {
		c.RecordCircuitState(name, state)
	}
}

// RecordQueueDepth implements Collector.
func (m *Multi) RecordQueueDepth(queue string, depth int) {
	for _, c := range m.collectors {
		c.RecordQueueDepth(queue, depth)
	}
}

// RecordAsyncWrite implements Collector.
func (m *Multi) RecordAsyncWrite(queue string, success bool, duration time.Duration) {
	for _, c := range m.collectors {
		c.RecordAsyncWrite(queue, success, duration)
	}
}

// RecordWriteDropped implements Collector.
func (m *Multi) RecordWriteDropped(queue string) {
	for _, c := range m.collectors {
		c.RecordWriteDropped(queue)
	}
}

// RecordOrchestratedGet implements Collector.
func (m *Multi) RecordOrchestratedGet(hit bool, levelIndex int, totalDuration time.Duration) {
	for _, c := range m.collectors {
		c.RecordOrchestratedGet(hit, levelIndex, totalDuration)
	}
}

// RecordMemoryUsage implements Collector.
func (m *Multi) RecordMemoryUsage(level string, bytes int64) {
	for _, c := range m.collectors {
		c.RecordMemoryUsage(level, bytes)
	}
}

// RecordEviction implements Collector.
func (m *Multi) RecordEviction(level string) {
	for _, c := range m.collectors {
		c.RecordEviction(level)
	}
}
