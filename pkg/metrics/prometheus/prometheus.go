// Package prometheus exports cache metrics through a Prometheus registry.
package prometheus

import (
	"time"

	"cache-orchestrator/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector implements metrics.Collector for Prometheus.
type Collector struct {
	hits          *prometheus.CounterVec
	misses        *prometheus.CounterVec
	sets          *prometheus.CounterVec
	deletes       *prometheus.CounterVec
	errors        *prometheus.CounterVec
	invalidations *prometheus.CounterVec
	evictions     *prometheus.CounterVec

	circuitState *prometheus.GaugeVec
	queueDepth   *prometheus.GaugeVec
	memoryBytes  *prometheus.GaugeVec

	droppedWrites *prometheus.CounterVec
	asyncWrites   *prometheus.CounterVec

	getLatency    *prometheus.HistogramVec
	setLatency    *prometheus.HistogramVec
	deleteLatency *prometheus.HistogramVec
	asyncLatency  *prometheus.HistogramVec

	orchestratedHits   prometheus.Counter
	orchestratedMisses prometheus.Counter
	orchestratedLevel  *prometheus.CounterVec
	readLatency        prometheus.Histogram
}

// New creates a Prometheus collector under the given namespace.
func New(namespace string) *Collector {
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, labels)
	}
	gauge := func(name, help string, labels ...string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, labels)
	}
	histogram := func(name, help string, labels ...string) *prometheus.HistogramVec {
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
			Buckets:   prometheus.DefBuckets,
		}, labels)
	}

	return &Collector{
		hits:          counter("cache_hits_total", "Cache hits per level", "level"),
		misses:        counter("cache_misses_total", "Cache misses per level", "level"),
		sets:          counter("cache_sets_total", "Cache set operations per level", "level"),
		deletes:       counter("cache_deletes_total", "Cache delete operations per level", "level"),
		errors:        counter("cache_errors_total", "Cache errors per level, operation, and class", "level", "operation", "class"),
		invalidations: counter("cache_invalidations_total", "Invalidation runs by kind", "kind"),
		evictions:     counter("cache_evictions_total", "Evictions per level", "level"),

		circuitState: gauge("circuit_state", "Circuit breaker state (0=closed, 1=open, 2=half-open)", "name"),
		queueDepth:   gauge("queue_depth", "Async write queue depth", "queue"),
		memoryBytes:  gauge("memory_usage_bytes", "Memory usage per level", "level"),

		droppedWrites: counter("dropped_writes_total", "Async writes dropped under backpressure", "queue"),
		asyncWrites:   counter("async_writes_total", "Async writes by outcome", "queue", "outcome"),

		getLatency:    histogram("get_duration_seconds", "Get latency per level", "level"),
		setLatency:    histogram("set_duration_seconds", "Set latency per level", "level"),
		deleteLatency: histogram("delete_duration_seconds", "Delete latency per level", "level"),
		asyncLatency:  histogram("async_write_duration_seconds", "Async write latency", "queue"),

		orchestratedHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "orchestrated_hits_total",
			Help: "Orchestrated reads served from any level",
		}),
		orchestratedMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "orchestrated_misses_total",
			Help: "Orchestrated reads that missed every level",
		}),
		orchestratedLevel: counter("orchestrated_hit_level_total", "Orchestrated hits by serving level index", "level_index"),
		readLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "orchestrated_read_duration_seconds",
			Help:    "End-to-end orchestrated read latency",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Register registers every metric with the given registerer.
func (c *Collector) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		c.hits, c.misses, c.sets, c.deletes, c.errors, c.invalidations,
		c.evictions, c.circuitState, c.queueDepth, c.memoryBytes,
		c.droppedWrites, c.asyncWrites, c.getLatency, c.setLatency,
		c.deleteLatency, c.asyncLatency, c.orchestratedHits,
		c.orchestratedMisses, c.orchestratedLevel, c.readLatency,
	}
	for _, col := range collectors {
		if err := reg.Register(col); err != nil {
			return err
		}
	}
	return nil
}

// RecordGet implements metrics.Collector.
func (c *Collector) RecordGet(level string, hit bool, duration time.Duration) {
	if hit {
		c.hits.WithLabelValues(level).Inc()
	} else {
		c.misses.WithLabelValues(level).Inc()
	}
	c.getLatency.WithLabelValues(level).Observe(duration.Seconds())
}

// RecordSet implements metrics.Collector.
func (c *Collector) RecordSet(level string, success bool, duration time.Duration) {
	c.sets.WithLabelValues(level).Inc()
	c.setLatency.WithLabelValues(level).Observe(duration.Seconds())
}

// RecordDelete implements metrics.Collector.
func (c *Collector) RecordDelete(level string, success bool, duration time.Duration) {
	c.deletes.WithLabelValues(level).Inc()
	c.deleteLatency.WithLabelValues(level).Observe(duration.Seconds())
}

// RecordError implements metrics.Collector.
func (c *Collector) RecordError(level, operation, class string) {
	c.errors.WithLabelValues(level, operation, class).Inc()
}

// RecordInvalidation implements metrics.Collector.
func (c *Collector) RecordInvalidation(kind string, keysAffected int) {
	c.invalidations.WithLabelValues(kind).Add(float64(keysAffected))
}

// RecordCircuitState implements metrics.Collector.
func (c *Collector) RecordCircuitState(name string, state metrics.CircuitState) {
	c.circuitState.WithLabelValues(name).Set(float64(state))
}

// RecordQueueDepth implements metrics.Collector.
func (c *Collector) RecordQueueDepth(queue string, depth int) {
	c.queueDepth.WithLabelValues(queue).Set(float64(depth))
}

// RecordAsyncWrite implements metrics.Collector.
func (c *Collector) RecordAsyncWrite(queue string, success bool, duration time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	c.asyncWrites.WithLabelValues(queue, outcome).Inc()
	c.asyncLatency.WithLabelValues(queue).Observe(duration.Seconds())
}

// RecordWriteDropped implements metrics.Collector.
func (c *Collector) RecordWriteDropped(queue string) {
	c.droppedWrites.WithLabelValues(queue).Inc()
}

// RecordOrchestratedGet implements metrics.Collector.
func (c *Collector) RecordOrchestratedGet(hit bool, levelIndex int, totalDuration time.Duration) {
	if hit {
		c.orchestratedHits.Inc()
		c.orchestratedLevel.WithLabelValues(levelIndexLabel(levelIndex)).Inc()
	} else {
		c.orchestratedMisses.Inc()
	}
	c.readLatency.Observe(totalDuration.Seconds())
}

// RecordMemoryUsage implements metrics.Collector.
func (c *Collector) RecordMemoryUsage(level string, bytes int64) {
	c.memoryBytes.WithLabelValues(level).Set(float64(bytes))
}

// RecordEviction implements metrics.Collector.
func (c *Collector) RecordEviction(level string) {
	c.evictions.WithLabelValues(level).Inc()
}

func levelIndexLabel(i int) string {
	switch i {
	case 0:
		return "0"
	case 1:
		return "1"
	case 2:
		return "2"
	default:
		return "other"
	}
}
