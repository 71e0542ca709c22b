// Package strategy implements the caller-facing coordination patterns over
// the orchestrated cache: cache-aside, write-through, write-behind,
// refresh-ahead, circuit-breaker-guarded access, and bulk helpers.
package strategy

import (
	"context"
	"sync"
	"time"

	"cache-orchestrator/pkg/cache"
	"cache-orchestrator/pkg/logging"

	"go.uber.org/zap"
)

// Store is the canonical cache surface the strategies coordinate over. The
// orchestrator satisfies it; tests use lighter fakes.
type Store interface {
	// Get returns cache.ErrKeyNotFound (possibly wrapped) on a miss.
	Get(ctx context.Context, key string) (interface{}, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Fallback computes a value on a cache miss, typically from the source of
// truth. Its error propagates to the caller unchanged.
type Fallback func(ctx context.Context) (interface{}, error)

// Writer persists a value durably. Used by write-through and write-behind.
type Writer func(ctx context.Context, key string, value interface{}) error

// Options tunes a single strategy call.
type Options struct {
	// TTL for values the strategy writes into the cache.
	TTL time.Duration

	// RefreshThreshold is the fraction of TTL after which a hit triggers
	// an async refresh (refresh-ahead only). Defaults to 0.8.
	RefreshThreshold float64
}

// Engine holds the per-key state the stateful strategies need: refresh
// bookkeeping and per-key circuit breakers.
type Engine struct {
	store  Store
	logger *logging.Logger

	// writeTimes tracks when a key was last written through this engine,
	// driving the refresh-ahead TTL-fraction trigger.
	mu         sync.Mutex
	writeTimes map[string]writeStamp

	breakers *breakerSet
}

type writeStamp struct {
	at  time.Time
	ttl time.Duration
}

// NewEngine creates a strategy engine over the given store.
func NewEngine(store Store) *Engine {
	return &Engine{
		store:      store,
		logger:     logging.L().Named("strategy"),
		writeTimes: make(map[string]writeStamp),
		breakers:   newBreakerSet(),
	}
}

// CacheAside is the canonical get-or-compute-and-store pattern.
//
// Concurrent callers missing on the same key each execute the fallback;
// there is no request coalescing. A fallback error propagates unchanged and
// nothing is cached.
func (e *Engine) CacheAside(ctx context.Context, key string, fallback Fallback, opts Options) (interface{}, error) {
	value, err := e.store.Get(ctx, key)
	if err == nil {
		return value, nil
	}
	if !cache.IsNotFound(err) {
		// Level trouble degrades to a miss; the fallback still runs.
		e.logger.Warn("cache-aside read degraded to miss",
			zap.String("key", key),
			zap.Error(err),
		)
	}

	value, err = fallback(ctx)
	if err != nil {
		return nil, err
	}

	if err := e.store.Set(ctx, key, value, opts.TTL); err != nil {
		e.logger.Warn("cache-aside store failed",
			zap.String("key", key),
			zap.Error(err),
		)
	}
	e.recordWrite(key, opts.TTL)

	return value, nil
}

// WriteThrough persists via writer first, then updates the cache. A writer
// failure surfaces to the caller and proactively deletes the cache entry so
// a never-persisted value cannot be served.
func (e *Engine) WriteThrough(ctx context.Context, key string, value interface{}, writer Writer, opts Options) error {
	if err := writer(ctx, key, value); err != nil {
		if delErr := e.store.Delete(ctx, key); delErr != nil {
			e.logger.Warn("write-through cleanup delete failed",
				zap.String("key", key),
				zap.Error(delErr),
			)
		}
		return err
	}

	if err := e.store.Set(ctx, key, value, opts.TTL); err != nil {
		// The durable write succeeded; a cache write failure is only a
		// latency problem, not a correctness one.
		e.logger.Warn("write-through cache update failed",
			zap.String("key", key),
			zap.Error(err),
		)
		return nil
	}
	e.recordWrite(key, opts.TTL)

	return nil
}

// RefreshAhead serves a hit and, once the entry has consumed more than
// RefreshThreshold of its TTL, kicks off an async refresh. The returned
// value is always the pre-refresh one. A miss falls back to the refresher
// synchronously.
func (e *Engine) RefreshAhead(ctx context.Context, key string, refresher Fallback, opts Options) (interface{}, error) {
	value, err := e.store.Get(ctx, key)
	if err != nil {
		if cache.IsNotFound(err) {
			return e.CacheAside(ctx, key, refresher, opts)
		}
		return nil, err
	}

	if e.shouldRefresh(key, opts) {
		go e.refresh(key, refresher, opts)
	}

	return value, nil
}

func (e *Engine) refresh(key string, refresher Fallback, opts Options) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	value, err := refresher(ctx)
	if err != nil {
		e.logger.Warn("refresh-ahead refresher failed",
			zap.String("key", key),
			zap.Error(err),
		)
		return
	}

	if err := e.store.Set(ctx, key, value, opts.TTL); err != nil {
		e.logger.Warn("refresh-ahead store failed",
			zap.String("key", key),
			zap.Error(err),
		)
		return
	}
	e.recordWrite(key, opts.TTL)
}

// shouldRefresh checks the TTL-fraction trigger and, when it fires, bumps
// the stamp so concurrent hits do not pile up refreshes.
func (e *Engine) shouldRefresh(key string, opts Options) bool {
	threshold := opts.RefreshThreshold
	if threshold <= 0 || threshold >= 1 {
		threshold = 0.8
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	stamp, ok := e.writeTimes[key]
	if !ok || stamp.ttl <= 0 {
		return false
	}

	spent := time.Since(stamp.at)
	if float64(spent) < float64(stamp.ttl)*threshold {
		return false
	}

	stamp.at = time.Now()
	e.writeTimes[key] = stamp
	return true
}

func (e *Engine) recordWrite(key string, ttl time.Duration) {
	e.mu.Lock()
	e.writeTimes[key] = writeStamp{at: time.Now(), ttl: ttl}
	e.mu.Unlock()
}
