// Package analytics samples level metrics and the orchestrator operation
// log into periodic snapshots, classifies trends over a bounded history,
// and raises threshold alerts. It is strictly an observer: a failure here
// is logged and never touches the data path.
package analytics

import (
	"context"
	"sync"
	"time"

	"cache-orchestrator/pkg/logging"
	metricsmem "cache-orchestrator/pkg/metrics/memory"
	"cache-orchestrator/pkg/orchestrator"
)

// LevelMetrics is one level's sampled state.
type LevelMetrics struct {
	Level             string  `json:"level"`
	HitRate           float64 `json:"hit_rate"`
	MissRate          float64 `json:"miss_rate"`
	RequestCount      int64   `json:"request_count"`
	AvgResponseTimeMs float64 `json:"avg_response_time_ms"`
	MemoryUsageBytes  int64   `json:"memory_usage_bytes"`
	EvictionCount     int64   `json:"eviction_count"`
	ErrorRate         float64 `json:"error_rate"`
}

// Snapshot is one sampling tick: per-level metrics plus an aggregate
// weighted by request count.
type Snapshot struct {
	Timestamp time.Time      `json:"timestamp"`
	Levels    []LevelMetrics `json:"levels"`
	Aggregate LevelMetrics   `json:"aggregate"`
}

// Trend classifies a metric's movement across the history window.
type Trend string

const (
	// TrendImproving means the metric moved in the desirable direction.
	TrendImproving Trend = "improving"
	// TrendDeclining means the metric moved in the undesirable direction.
	TrendDeclining Trend = "declining"
	// TrendStable means the change stayed inside the stable band.
	TrendStable Trend = "stable"
)

// Trends classifies the headline metrics.
type Trends struct {
	HitRate Trend `json:"hit_rate"`
	Memory  Trend `json:"memory"`
	Latency Trend `json:"latency"`
}

// StatsSource supplies per-level counters; the in-memory metrics collector
// satisfies it.
type StatsSource interface {
	Levels() []metricsmem.LevelStats
}

// OperationSource supplies the windowed operation log; the orchestrator
// satisfies it.
type OperationSource interface {
	Operations(since time.Time) []orchestrator.OperationRecord
}

// resourceSampler is satisfied by the orchestrator. Pumping resource gauges
// right before reading the collector keeps memory and eviction numbers
// current per tick.
type resourceSampler interface {
	SampleResources(ctx context.Context)
}

// Config tunes the sampler.
type Config struct {
	// Interval between samples.
	Interval time.Duration

	// HistorySize bounds the rolling snapshot history.
	HistorySize int

	// Thresholds raise alerts when crossed.
	Thresholds orchestrator.AlertThresholds

	// StableBand is the fractional change treated as stable (default 0.05).
	StableBand float64
}

// Analytics runs the sampling loop and owns the alert book.
type Analytics struct {
	config Config
	stats  StatsSource
	ops    OperationSource
	alerts *AlertBook
	logger *logging.Logger

	mu      sync.RWMutex
	history []Snapshot

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
}

// New creates the analytics engine. Call Start to begin sampling.
func New(config Config, stats StatsSource, ops OperationSource) *Analytics {
	if config.Interval <= 0 {
		config.Interval = time.Minute
	}
	if config.HistorySize <= 0 {
		config.HistorySize = 60
	}
	if config.StableBand <= 0 {
		config.StableBand = 0.05
	}

	return &Analytics{
		config: config,
		stats:  stats,
		ops:    ops,
		alerts: NewAlertBook(),
		logger: logging.L().Named("analytics"),
		stop:   make(chan struct{}),
	}
}

// Start begins the periodic sampling loop.
func (a *Analytics) Start() {
	a.ticker = time.NewTicker(a.config.Interval)
	a.wg.Add(1)
	go a.loop()
}

// Stop halts the sampling loop.
func (a *Analytics) Stop() {
	if a.ticker == nil {
		return
	}
	close(a.stop)
	a.wg.Wait()
	a.ticker.Stop()
}

func (a *Analytics) loop() {
	defer a.wg.Done()

	for {
		select {
		case <-a.ticker.C:
			a.Sample(context.Background())
		case <-a.stop:
			return
		}
	}
}

// Sample takes one snapshot, appends it to the history, and evaluates
// alert thresholds. Also callable directly for deterministic tests.
func (a *Analytics) Sample(ctx context.Context) Snapshot {
	if rs, ok := a.ops.(resourceSampler); ok {
		rs.SampleResources(ctx)
	}

	snap := a.buildSnapshot()

	a.mu.Lock()
	a.history = append(a.history, snap)
	if len(a.history) > a.config.HistorySize {
		a.history = a.history[len(a.history)-a.config.HistorySize:]
	}
	a.mu.Unlock()

	a.evaluateAlerts(snap)
	return snap
}

func (a *Analytics) buildSnapshot() Snapshot {
	snap := Snapshot{Timestamp: time.Now()}

	for _, ls := range a.stats.Levels() {
		lm := LevelMetrics{
			Level:             ls.Level,
			HitRate:           ls.HitRate(),
			MissRate:          1 - ls.HitRate(),
			RequestCount:      ls.RequestCount,
			AvgResponseTimeMs: float64(ls.AvgLatency) / float64(time.Millisecond),
			MemoryUsageBytes:  ls.MemoryBytes,
			EvictionCount:     ls.Evictions,
			ErrorRate:         ls.ErrorRate(),
		}
		if ls.Hits+ls.Misses == 0 {
			lm.MissRate = 0
		}
		snap.Levels = append(snap.Levels, lm)
	}

	snap.Aggregate = aggregate(snap.Levels)
	return snap
}

// aggregate weights each level's rates by its request count.
func aggregate(levels []LevelMetrics) LevelMetrics {
	agg := LevelMetrics{Level: "aggregate"}
	var weighted struct {
		hit, latency, errs float64
	}

	for _, lm := range levels {
		w := float64(lm.RequestCount)
		agg.RequestCount += lm.RequestCount
		agg.MemoryUsageBytes += lm.MemoryUsageBytes
		agg.EvictionCount += lm.EvictionCount
		weighted.hit += lm.HitRate * w
		weighted.latency += lm.AvgResponseTimeMs * w
		weighted.errs += lm.ErrorRate * w
	}

	if agg.RequestCount > 0 {
		total := float64(agg.RequestCount)
		agg.HitRate = weighted.hit / total
		agg.MissRate = 1 - agg.HitRate
		agg.AvgResponseTimeMs = weighted.latency / total
		agg.ErrorRate = weighted.errs / total
	}
	return agg
}

// History returns a copy of the rolling snapshot history.
func (a *Analytics) History() []Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]Snapshot, len(a.history))
	copy(out, a.history)
	return out
}

// Latest returns the most recent snapshot, with ok=false before the first
// sample.
func (a *Analytics) Latest() (Snapshot, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if len(a.history) == 0 {
		return Snapshot{}, false
	}
	return a.history[len(a.history)-1], true
}

// ClassifyTrends compares the first half of the history window against the
// second half. Changes inside the stable band (default ±5%) are stable.
func (a *Analytics) ClassifyTrends() Trends {
	a.mu.RLock()
	history := a.history
	a.mu.RUnlock()

	if len(history) < 2 {
		return Trends{HitRate: TrendStable, Memory: TrendStable, Latency: TrendStable}
	}

	mid := len(history) / 2
	first, second := history[:mid], history[mid:]

	hitChange := percentChange(meanOf(first, hitRateOf), meanOf(second, hitRateOf))
	memChange := percentChange(meanOf(first, memoryOf), meanOf(second, memoryOf))
	latChange := percentChange(meanOf(first, latencyOf), meanOf(second, latencyOf))

	return Trends{
		// Hit rate up is good; memory and latency up are bad.
		HitRate: classify(hitChange, a.config.StableBand, false),
		Memory:  classify(memChange, a.config.StableBand, true),
		Latency: classify(latChange, a.config.StableBand, true),
	}
}

func hitRateOf(s Snapshot) float64 { return s.Aggregate.HitRate }
func memoryOf(s Snapshot) float64  { return float64(s.Aggregate.MemoryUsageBytes) }
func latencyOf(s Snapshot) float64 { return s.Aggregate.AvgResponseTimeMs }

func meanOf(snaps []Snapshot, f func(Snapshot) float64) float64 {
	if len(snaps) == 0 {
		return 0
	}
	var sum float64
	for _, s := range snaps {
		sum += f(s)
	}
	return sum / float64(len(snaps))
}

func percentChange(before, after float64) float64 {
	if before == 0 {
		if after == 0 {
			return 0
		}
		return 1
	}
	return (after - before) / before
}

// classify maps a fractional change to a trend. higherIsWorse flips the
// direction for metrics like memory and latency.
func classify(change, band float64, higherIsWorse bool) Trend {
	if change >= -band && change <= band {
		return TrendStable
	}
	improving := change > 0
	if higherIsWorse {
		improving = !improving
	}
	if improving {
		return TrendImproving
	}
	return TrendDeclining
}
