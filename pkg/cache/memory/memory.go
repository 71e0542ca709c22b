package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"cache-orchestrator/pkg/cache"
)

// EvictionPolicy selects which entry is dropped when the cache is full.
type EvictionPolicy string

const (
	// LRU evicts the least recently accessed entry (default).
	LRU EvictionPolicy = "lru"
	// LFU evicts the least frequently accessed entry.
	LFU EvictionPolicy = "lfu"
	// FIFO evicts the oldest entry by creation time.
	FIFO EvictionPolicy = "fifo"
)

// Cache is the in-process application tier. It is bounded by item count and
// total estimated bytes, with a pluggable eviction policy and background TTL
// cleanup. All operations are safe for concurrent use.
type Cache struct {
	data     map[string]*cache.Entry
	mu       sync.RWMutex
	config   Config
	levelCfg cache.LevelConfig

	usedBytes int64
	evictions int64

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	wg            sync.WaitGroup
}

// Config holds configuration for the memory cache.
type Config struct {
	// Name is the level identifier. Defaults to "application".
	Name string

	// MaxItems bounds the entry count (0 = unlimited).
	MaxItems int

	// MaxBytes bounds the total estimated payload size (0 = unlimited).
	MaxBytes int64

	// Policy selects the eviction policy. Defaults to LRU.
	Policy EvictionPolicy

	// DefaultTTL applies when Set receives a zero TTL.
	DefaultTTL time.Duration

	// MaxTTL caps entry TTLs. Zero means no cap.
	MaxTTL time.Duration

	// CleanupInterval is how often expired entries are swept.
	CleanupInterval time.Duration
}

// New creates a memory cache and starts its TTL cleanup goroutine.
func New(config Config) *Cache {
	if config.Name == "" {
		config.Name = string(cache.LevelApplication)
	}
	if config.Policy == "" {
		config.Policy = LRU
	}
	if config.DefaultTTL == 0 {
		config.DefaultTTL = time.Hour
	}
	if config.CleanupInterval == 0 {
		config.CleanupInterval = time.Minute
	}

	c := &Cache{
		data:   make(map[string]*cache.Entry),
		config: config,
		levelCfg: cache.LevelConfig{
			Name:       cache.LevelName(config.Name),
			DefaultTTL: config.DefaultTTL,
			MaxTTL:     config.MaxTTL,
			Enabled:    true,
		},
		stopCleanup:   make(chan struct{}),
		cleanupTicker: time.NewTicker(config.CleanupInterval),
	}

	c.wg.Add(1)
	go c.cleanup()

	return c
}

// Get retrieves a value, updating access bookkeeping for LRU/LFU.
func (c *Cache) Get(ctx context.Context, key string) (interface{}, error) {
	if err := cache.ValidateKey(key); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.data[key]
	if !ok {
		return nil, cache.ErrKeyNotFound
	}

	if e.IsExpired() {
		c.removeLocked(key)
		return nil, cache.ErrKeyNotFound
	}

	e.Touch()

	return e.Value, nil
}

// Set stores a value, evicting per the configured policy when bounds are hit.
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if err := cache.ValidateKey(key); err != nil {
		return err
	}

	ttl = c.levelCfg.EffectiveTTL(ttl)

	size := estimateSize(value)

	// A value that cannot fit even into an empty cache must never break
	// the byte bound.
	if c.config.MaxBytes > 0 && size > c.config.MaxBytes {
		return fmt.Errorf("%w: value of %d bytes exceeds cache capacity %d",
			cache.ErrInvalidValue, size, c.config.MaxBytes)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Replacing an existing entry frees its accounted bytes first.
	if old, ok := c.data[key]; ok {
		c.usedBytes -= int64(old.SizeBytes)
		delete(c.data, key)
	}

	for c.overCapacityLocked(size) {
		if !c.evictOneLocked() {
			break
		}
	}

	e := cache.NewEntry(key, value, ttl, nil)
	e.SizeBytes = int(size)
	c.data[key] = e
	c.usedBytes += size

	return nil
}

// Delete removes a key. Removing an absent key is a no-op.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := cache.ValidateKey(key); err != nil {
		return err
	}

	c.mu.Lock()
	c.removeLocked(key)
	c.mu.Unlock()

	return nil
}

// Has reports whether the key exists and has not expired.
func (c *Cache) Has(ctx context.Context, key string) (bool, error) {
	if err := cache.ValidateKey(key); err != nil {
		return false, err
	}

	c.mu.RLock()
	e, ok := c.data[key]
	c.mu.RUnlock()

	if !ok {
		return false, nil
	}
	return !e.IsExpired(), nil
}

// Keys returns a best-effort snapshot of live keys.
func (c *Cache) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.data))
	for k, e := range c.data {
		if e.IsExpired() {
			continue
		}
		keys = append(keys, k)
	}
	return keys
}

// Clear drops all entries.
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.data = make(map[string]*cache.Entry)
	c.usedBytes = 0
	c.mu.Unlock()
	return nil
}

// Name returns the level identifier.
func (c *Cache) Name() string {
	return c.config.Name
}

// Close stops the cleanup goroutine and releases all entries.
func (c *Cache) Close() error {
	c.cleanupTicker.Stop()
	close(c.stopCleanup)
	c.wg.Wait()

	c.mu.Lock()
	c.data = nil
	c.mu.Unlock()

	return nil
}

// Stats reports size and eviction counters for health checks.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Stats{
		Items:     len(c.data),
		MaxItems:  c.config.MaxItems,
		UsedBytes: c.usedBytes,
		MaxBytes:  c.config.MaxBytes,
		Evictions: c.evictions,
	}
}

// Stats holds memory cache counters.
type Stats struct {
	Items     int
	MaxItems  int
	UsedBytes int64
	MaxBytes  int64
	Evictions int64
}

func (c *Cache) overCapacityLocked(incoming int64) bool {
	if c.config.MaxItems > 0 && len(c.data) >= c.config.MaxItems {
		return true
	}
	if c.config.MaxBytes > 0 && c.usedBytes+incoming > c.config.MaxBytes {
		return true
	}
	return false
}

// evictOneLocked drops one entry per the configured policy.
// Returns false when there is nothing left to evict.
func (c *Cache) evictOneLocked() bool {
	if len(c.data) == 0 {
		return false
	}

	var victim string
	switch c.config.Policy {
	case LFU:
		var minCount int64 = -1
		for k, e := range c.data {
			if minCount < 0 || e.AccessCount < minCount {
				victim, minCount = k, e.AccessCount
			}
		}
	case FIFO:
		var oldest time.Time
		for k, e := range c.data {
			if victim == "" || e.CreatedAt.Before(oldest) {
				victim, oldest = k, e.CreatedAt
			}
		}
	default: // LRU
		var least time.Time
		for k, e := range c.data {
			if victim == "" || e.LastAccessedAt.Before(least) {
				victim, least = k, e.LastAccessedAt
			}
		}
	}

	if victim == "" {
		return false
	}

	c.removeLocked(victim)
	c.evictions++
	return true
}

func (c *Cache) removeLocked(key string) {
	if e, ok := c.data[key]; ok {
		c.usedBytes -= int64(e.SizeBytes)
		delete(c.data, key)
	}
}

func (c *Cache) cleanup() {
	defer c.wg.Done()

	for {
		select {
		case <-c.cleanupTicker.C:
			c.removeExpired()
		case <-c.stopCleanup:
			return
		}
	}
}

func (c *Cache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, e := range c.data {
		if e.IsExpired() {
			c.removeLocked(key)
		}
	}
}

// estimateSize approximates the payload size of a value. Strings and byte
// slices are exact; everything else falls back to its JSON encoding.
func estimateSize(value interface{}) int64 {
	switch v := value.(type) {
	case nil:
		return 0
	case string:
		return int64(len(v))
	case []byte:
		return int64(len(v))
	default:
		if data, err := json.Marshal(v); err == nil {
			return int64(len(data))
		}
		return 64
	}
}
