// Package bloom wraps a cache level with a probabilistic miss guard. Keys
// never written through this process cannot be hits, so lookups for them are
// rejected without touching the underlying (typically remote) tier.
package bloom

import (
	"context"
	"sync"
	"time"

	"cache-orchestrator/pkg/cache"

	"github.com/bits-and-blooms/bloom/v3"
)

// Guard wraps a level with a bloom filter membership test.
// False positives fall through to the underlying level; false negatives
// cannot occur for keys written through this guard.
type Guard struct {
	level  cache.Level
	filter *bloom.BloomFilter
	mu     sync.RWMutex

	totalQueries  uint64
	bloomRejected uint64
}

// New creates a bloom guard around level, sized for expectedItems at the
// given false positive rate.
func New(level cache.Level, expectedItems uint, falsePositiveRate float64) *Guard {
	if expectedItems == 0 {
		expectedItems = 10000
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.01
	}

	return &Guard{
		level:  level,
		filter: bloom.NewWithEstimates(expectedItems, falsePositiveRate),
	}
}

// Get short-circuits to a miss when the filter rules the key out.
func (g *Guard) Get(ctx context.Context, key string) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	g.totalQueries++
	mayExist := g.filter.Test([]byte(key))
	if !mayExist {
		g.bloomRejected++
	}
	g.mu.Unlock()

	if !mayExist {
		return nil, cache.ErrKeyNotFound
	}
	return g.level.Get(ctx, key)
}

// Set records the key in the filter and writes through.
func (g *Guard) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	g.mu.Lock()
	g.filter.Add([]byte(key))
	g.mu.Unlock()

	return g.level.Set(ctx, key, value, ttl)
}

// Delete writes through. The filter cannot forget a key; a deleted key
// degrades to a false positive until the filter is reset.
func (g *Guard) Delete(ctx context.Context, key string) error {
	return g.level.Delete(ctx, key)
}

// Has consults the filter first, then the underlying level.
func (g *Guard) Has(ctx context.Context, key string) (bool, error) {
	g.mu.RLock()
	mayExist := g.filter.Test([]byte(key))
	g.mu.RUnlock()

	if !mayExist {
		return false, nil
	}
	return g.level.Has(ctx, key)
}

// Name returns the underlying level name with a bloom marker.
func (g *Guard) Name() string {
	return "bloom(" + g.level.Name() + ")"
}

// Close closes the underlying level.
func (g *Guard) Close() error {
	return g.level.Close()
}

// Unwrap returns the guarded level so callers can reach tier-specific
// capabilities (tag sets, ping, memory reporting) through the guard.
func (g *Guard) Unwrap() cache.Level {
	return g.level
}

// Reset clears the filter. Useful after a full flush of the guarded level.
func (g *Guard) Reset() {
	g.mu.Lock()
	g.filter.ClearAll()
	g.mu.Unlock()
}

// Stats reports filter effectiveness counters.
func (g *Guard) Stats() (totalQueries, rejected uint64) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.totalQueries, g.bloomRejected
}
