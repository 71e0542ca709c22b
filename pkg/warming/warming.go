// Package warming refreshes the cache ahead of demand. A cron schedule
// drives two passes: configured key patterns are reloaded from the source
// of truth, and in predictive mode the hottest keys from the recent
// operation log are reloaded as well.
package warming

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"cache-orchestrator/pkg/logging"
	"cache-orchestrator/pkg/orchestrator"
)

// PatternLoader fetches all entries matching a key pattern from the source
// of truth, keyed by their cache key.
type PatternLoader func(ctx context.Context, pattern string) (map[string]interface{}, error)

// KeyLoader fetches a single entry from the source of truth.
type KeyLoader func(ctx context.Context, key string) (interface{}, error)

// Target is the cache being warmed. The orchestrator satisfies it.
type Target interface {
	Set(ctx context.Context, key string, value interface{}, opts orchestrator.SetOptions) error
	Operations(since time.Time) []orchestrator.OperationRecord
}

// Config tunes the warmer.
type Config struct {
	// Schedule is a cron expression, e.g. "*/5 * * * *".
	Schedule string

	// Patterns are reloaded on every tick.
	Patterns []string

	// Predictive additionally reloads frequently accessed keys.
	Predictive bool

	// Threshold is the minimum operation count over the lookback window for
	// a key to qualify for predictive warming.
	Threshold int64

	// Lookahead bounds how many predicted keys are warmed per tick.
	Lookahead int

	// Lookback is the operation-log window scanned for hot keys.
	Lookback time.Duration

	// TTL applies to warmed entries. Zero uses the orchestrator default.
	TTL time.Duration

	// TickTimeout bounds a single warming pass.
	TickTimeout time.Duration
}

// Stats counts warming activity since start.
type Stats struct {
	Ticks         int64
	KeysWarmed    int64
	LoadFailures  int64
	WriteFailures int64
}

// Warmer runs scheduled warming passes against a target cache.
type Warmer struct {
	config        Config
	target        Target
	patternLoader PatternLoader
	keyLoader     KeyLoader
	logger        *logging.Logger

	cron  *cron.Cron
	entry cron.EntryID

	mu    sync.Mutex
	stats Stats
}

// New creates a warmer. patternLoader may be nil when no patterns are
// configured; keyLoader may be nil when predictive mode is off.
func New(config Config, target Target, patternLoader PatternLoader, keyLoader KeyLoader) (*Warmer, error) {
	if config.Schedule == "" {
		config.Schedule = "*/5 * * * *"
	}
	if config.Lookback <= 0 {
		config.Lookback = time.Hour
	}
	if config.Lookahead <= 0 {
		config.Lookahead = 20
	}
	if config.Threshold <= 0 {
		config.Threshold = 10
	}
	if config.TickTimeout <= 0 {
		config.TickTimeout = time.Minute
	}
	if len(config.Patterns) > 0 && patternLoader == nil {
		return nil, fmt.Errorf("warming: patterns configured without a pattern loader")
	}
	if config.Predictive && keyLoader == nil {
		return nil, fmt.Errorf("warming: predictive mode without a key loader")
	}

	return &Warmer{
		config:        config,
		target:        target,
		patternLoader: patternLoader,
		keyLoader:     keyLoader,
		logger:        logging.L().Named("warming"),
		cron:          cron.New(),
	}, nil
}

// Start schedules the warming pass. Returns an error on a bad cron
// expression.
func (w *Warmer) Start() error {
	id, err := w.cron.AddFunc(w.config.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), w.config.TickTimeout)
		defer cancel()
		w.Tick(ctx)
	})
	if err != nil {
		return fmt.Errorf("warming: bad schedule %q: %w", w.config.Schedule, err)
	}
	w.entry = id
	w.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running pass to finish.
func (w *Warmer) Stop() {
	<-w.cron.Stop().Done()
}

// Tick runs one full warming pass. Exposed for the admin surface and for
// deterministic tests.
func (w *Warmer) Tick(ctx context.Context) Stats {
	w.mu.Lock()
	w.stats.Ticks++
	w.mu.Unlock()

	for _, pattern := range w.config.Patterns {
		w.warmPattern(ctx, pattern)
	}
	if w.config.Predictive {
		w.warmPredicted(ctx)
	}

	return w.Stats()
}

func (w *Warmer) warmPattern(ctx context.Context, pattern string) {
	entries, err := w.patternLoader(ctx, pattern)
	if err != nil {
		w.countLoadFailure()
		w.logger.Warn("pattern load failed",
			zap.String("pattern", pattern), zap.Error(err))
		return
	}

	for key, value := range entries {
		w.store(ctx, key, value)
	}
}

// warmPredicted reloads keys whose recent operation count clears the
// threshold, hottest first, capped at the lookahead.
func (w *Warmer) warmPredicted(ctx context.Context) {
	counts := make(map[string]int64)
	for _, rec := range w.target.Operations(time.Now().Add(-w.config.Lookback)) {
		if rec.Operation == "get" && rec.Key != "" {
			counts[rec.Key]++
		}
	}

	type hotKey struct {
		key   string
		count int64
	}
	hot := make([]hotKey, 0, len(counts))
	for key, count := range counts {
		if count >= w.config.Threshold {
			hot = append(hot, hotKey{key, count})
		}
	}
	sort.Slice(hot, func(i, j int) bool {
		if hot[i].count != hot[j].count {
			return hot[i].count > hot[j].count
		}
		return hot[i].key < hot[j].key
	})
	if len(hot) > w.config.Lookahead {
		hot = hot[:w.config.Lookahead]
	}

	for _, hk := range hot {
		value, err := w.keyLoader(ctx, hk.key)
		if err != nil {
			w.countLoadFailure()
			w.logger.Debug("predictive load failed",
				zap.String("key", hk.key), zap.Error(err))
			continue
		}
		w.store(ctx, hk.key, value)
	}
}

func (w *Warmer) store(ctx context.Context, key string, value interface{}) {
	err := w.target.Set(ctx, key, value, orchestrator.SetOptions{TTL: w.config.TTL})

	w.mu.Lock()
	defer w.mu.Unlock()
	if err != nil {
		w.stats.WriteFailures++
		return
	}
	w.stats.KeysWarmed++
}

func (w *Warmer) countLoadFailure() {
	w.mu.Lock()
	w.stats.LoadFailures++
	w.mu.Unlock()
}

// Stats returns a copy of the activity counters.
func (w *Warmer) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}
