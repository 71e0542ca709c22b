package orchestrator

import (
	"fmt"
	"time"

	"cache-orchestrator/pkg/cache"
	"cache-orchestrator/pkg/metrics"
	"cache-orchestrator/pkg/tags"
)

// Config is the single configuration object handed to the composition root.
// Validation is fatal: an invalid config never produces a partially started
// orchestrator.
type Config struct {
	ApplicationCache ApplicationCacheConfig
	Remote           RemoteConfig
	Edge             EdgeConfig
	Invalidation     InvalidationConfig
	Warming          WarmingConfig
	Analytics        AnalyticsConfig

	// DefaultTTL applies to orchestrated writes without an explicit TTL.
	DefaultTTL time.Duration

	// OperationLogSize bounds the in-memory operation record buffer.
	OperationLogSize int

	// Metrics receives low-level measurements. Defaults to a no-op.
	Metrics metrics.Collector
}

// ApplicationCacheConfig configures the in-process tier.
type ApplicationCacheConfig struct {
	Enabled bool
	// MaxSize is a human-readable byte bound, e.g. "100mb".
	MaxSize string
	// MaxItems bounds the entry count.
	MaxItems int
	TTL      time.Duration
	// Algorithm is one of lru, lfu, fifo.
	Algorithm string
}

// RemoteConfig configures the shared remote tier.
type RemoteConfig struct {
	Enabled     bool
	URL         string
	TTL         time.Duration
	KeyPrefix   string
	Compression bool

	// MissGuard fronts the tier with a bloom filter so keys this process
	// never wrote are rejected without a network round trip. Only safe when
	// this process is the sole writer of its key space.
	MissGuard bool
	// MissGuardItems sizes the filter. Zero picks a default.
	MissGuardItems uint
}

// EdgeConfig configures the edge/CDN tier. Enabled gates direct object
// writes; the edge still participates in purge-style invalidation when
// disabled for writes but configured with a BaseURL.
type EdgeConfig struct {
	Enabled    bool
	Provider   string
	BaseURL    string
	APIKey     string
	DefaultTTL time.Duration
}

// InvalidationConfig configures tag invalidation and cascading.
type InvalidationConfig struct {
	Enabled       bool
	CascadeDepth  int
	BatchSize     int
	FlushInterval time.Duration
	// Rules drive the related-key cascade resolver.
	Rules []tags.Rule
}

// WarmingConfig configures scheduled cache warming.
type WarmingConfig struct {
	Enabled bool
	// Schedule is a cron expression.
	Schedule string
	// Patterns are the key patterns warmed on each tick.
	Patterns []string
	// Predictive additionally warms frequently accessed keys.
	Predictive bool
	// Threshold is the access count above which a key is warm-worthy.
	Threshold int64
	// Lookahead bounds how many predicted keys are warmed per tick.
	Lookahead int
}

// AnalyticsConfig configures sampling and alert thresholds.
type AnalyticsConfig struct {
	Enabled         bool
	MetricsInterval time.Duration
	RetentionDays   int
	AlertThresholds AlertThresholds
}

// AlertThresholds are the metric bounds that raise alerts when crossed.
type AlertThresholds struct {
	// HitRate is a floor (alert below it), e.g. 0.8.
	HitRate float64
	// MemoryUsage is a ceiling in bytes.
	MemoryUsage int64
	// ErrorRate is a ceiling, e.g. 0.05.
	ErrorRate float64
}

// DefaultConfig returns a workable local configuration.
func DefaultConfig() Config {
	return Config{
		ApplicationCache: ApplicationCacheConfig{
			Enabled:   true,
			MaxSize:   "100mb",
			MaxItems:  10000,
			TTL:       5 * time.Minute,
			Algorithm: "lru",
		},
		Remote: RemoteConfig{
			Enabled:   true,
			URL:       "localhost:6379",
			TTL:       time.Hour,
			KeyPrefix: "cache:",
		},
		Edge: EdgeConfig{
			Enabled:    false,
			DefaultTTL: 24 * time.Hour,
		},
		Invalidation: InvalidationConfig{
			Enabled:       true,
			CascadeDepth:  1,
			BatchSize:     50,
			FlushInterval: 5 * time.Second,
		},
		Analytics: AnalyticsConfig{
			Enabled:         true,
			MetricsInterval: time.Minute,
			RetentionDays:   7,
			AlertThresholds: AlertThresholds{
				HitRate:   0.8,
				ErrorRate: 0.05,
			},
		},
		DefaultTTL:       time.Hour,
		OperationLogSize: 10000,
	}
}

// Validate checks the whole configuration, failing fast on any problem.
func (c *Config) Validate() error {
	if c.DefaultTTL < 0 {
		return fmt.Errorf("%w: negative default TTL", cache.ErrInvalidConfig)
	}

	if c.ApplicationCache.Enabled {
		if c.ApplicationCache.MaxSize != "" {
			if _, err := cache.ParseSize(c.ApplicationCache.MaxSize); err != nil {
				return err
			}
		}
		switch c.ApplicationCache.Algorithm {
		case "", "lru", "lfu", "fifo":
		default:
			return fmt.Errorf("%w: unknown eviction algorithm %q",
				cache.ErrInvalidConfig, c.ApplicationCache.Algorithm)
		}
		if c.ApplicationCache.TTL < 0 {
			return fmt.Errorf("%w: negative application cache TTL", cache.ErrInvalidConfig)
		}
	}

	if c.Remote.Enabled && c.Remote.URL == "" {
		return fmt.Errorf("%w: remote tier enabled without URL", cache.ErrInvalidConfig)
	}

	if c.Edge.Enabled && c.Edge.BaseURL == "" {
		return fmt.Errorf("%w: edge tier enabled without BaseURL", cache.ErrInvalidConfig)
	}

	if c.Invalidation.CascadeDepth < 0 {
		return fmt.Errorf("%w: negative cascade depth", cache.ErrInvalidConfig)
	}

	if c.Analytics.Enabled {
		t := c.Analytics.AlertThresholds
		if t.HitRate < 0 || t.HitRate > 1 {
			return fmt.Errorf("%w: hit rate threshold out of [0,1]", cache.ErrInvalidConfig)
		}
		if t.ErrorRate < 0 || t.ErrorRate > 1 {
			return fmt.Errorf("%w: error rate threshold out of [0,1]", cache.ErrInvalidConfig)
		}
	}

	return nil
}
