// Package memory provides an in-process metrics collector whose aggregates
// can be read back. The analytics sampler builds its snapshots from it.
package memory

import (
	"sync"
	"time"

	"cache-orchestrator/pkg/metrics"
)

// Collector accumulates per-level counters behind a mutex.
type Collector struct {
	mu     sync.RWMutex
	levels map[string]*levelCounters

	orchestratedHits   int64
	orchestratedMisses int64
	orchestratedTime   time.Duration
}

type levelCounters struct {
	hits        int64
	misses      int64
	sets        int64
	setFailures int64
	deletes     int64
	errors      int64
	evictions   int64
	memoryBytes int64

	opCount   int64
	totalTime time.Duration
}

// LevelStats is a read-only view of one level's counters.
type LevelStats struct {
	Level        string
	Hits         int64
	Misses       int64
	Sets         int64
	SetFailures  int64
	Deletes      int64
	Errors       int64
	Evictions    int64
	MemoryBytes  int64
	RequestCount int64
	AvgLatency   time.Duration
}

// HitRate returns hits / (hits + misses), or 0 with no traffic.
func (s LevelStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// ErrorRate returns errors / requests, or 0 with no traffic.
func (s LevelStats) ErrorRate() float64 {
	if s.RequestCount == 0 {
		return 0
	}
	return float64(s.Errors) / float64(s.RequestCount)
}

// New creates an empty collector.
func New() *Collector {
	return &Collector{levels: make(map[string]*levelCounters)}
}

func (c *Collector) level(name string) *levelCounters {
	lc, ok := c.levels[name]
	if !ok {
		lc = &levelCounters{}
		c.levels[name] = lc
	}
	return lc
}

// RecordGet implements metrics.Collector.
func (c *Collector) RecordGet(level string, hit bool, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	lc := c.level(level)
	if hit {
		lc.hits++
	} else {
		lc.misses++
	}
	lc.opCount++
	lc.totalTime += duration
}

// RecordSet implements metrics.Collector.
func (c *Collector) RecordSet(level string, success bool, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	lc := c.level(level)
	lc.sets++
	if !success {
		lc.setFailures++
	}
	lc.opCount++
	lc.totalTime += duration
}

// RecordDelete implements metrics.Collector.
func (c *Collector) RecordDelete(level string, success bool, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	lc := c.level(level)
	lc.deletes++
	lc.opCount++
	lc.totalTime += duration
}

// RecordError implements metrics.Collector.
func (c *Collector) RecordError(level, operation, class string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.level(level).errors++
}

// RecordInvalidation implements metrics.Collector.
func (c *Collector) RecordInvalidation(kind string, keysAffected int) {}

// RecordCircuitState implements metrics.Collector.
func (c *Collector) RecordCircuitState(name string, state metrics.CircuitState) {}

// RecordQueueDepth implements metrics.Collector.
func (c *Collector) RecordQueueDepth(queue string, depth int) {}

// RecordAsyncWrite implements metrics.Collector.
func (c *Collector) RecordAsyncWrite(queue string, success bool, duration time.Duration) {}

// RecordWriteDropped implements metrics.Collector.
func (c *Collector) RecordWriteDropped(queue string) {}

// RecordOrchestratedGet implements metrics.Collector.
func (c *Collector) RecordOrchestratedGet(hit bool, levelIndex int, totalDuration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if hit {
		c.orchestratedHits++
	} else {
		c.orchestratedMisses++
	}
	c.orchestratedTime += totalDuration
}

// RecordMemoryUsage implements metrics.Collector.
func (c *Collector) RecordMemoryUsage(level string, bytes int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.level(level).memoryBytes = bytes
}

// RecordEviction implements metrics.Collector.
func (c *Collector) RecordEviction(level string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.level(level).evictions++
}

// Levels returns a snapshot of all per-level counters.
func (c *Collector) Levels() []LevelStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]LevelStats, 0, len(c.levels))
	for name, lc := range c.levels {
		stats := LevelStats{
			Level:        name,
			Hits:         lc.hits,
			Misses:       lc.misses,
			Sets:         lc.sets,
			SetFailures:  lc.setFailures,
			Deletes:      lc.deletes,
			Errors:       lc.errors,
			Evictions:    lc.evictions,
			MemoryBytes:  lc.memoryBytes,
			RequestCount: lc.opCount,
		}
		if lc.opCount > 0 {
			stats.AvgLatency = lc.totalTime / time.Duration(lc.opCount)
		}
		out = append(out, stats)
	}
	return out
}

// Level returns one level's counters, with ok=false when never recorded.
func (c *Collector) Level(name string) (LevelStats, bool) {
	for _, s := range c.Levels() {
		if s.Level == name {
			return s, true
		}
	}
	return LevelStats{}, false
}
