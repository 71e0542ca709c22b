package cache

import (
	"context"
	"time"
)

// LevelName identifies one of the three physical cache tiers.
type LevelName string

const (
	// LevelApplication is the in-process bounded memory cache.
	LevelApplication LevelName = "application"

	// LevelRemote is the shared remote key-value cache service.
	LevelRemote LevelName = "remote"

	// LevelEdge is the edge/CDN cache.
	LevelEdge LevelName = "edge"
)

// Level is the uniform contract every cache tier implements.
// All operations take a context for cancellation and timeouts.
type Level interface {
	// Get retrieves a value by key.
	// Returns ErrKeyNotFound (possibly wrapped) on a miss.
	Get(ctx context.Context, key string) (interface{}, error)

	// Set stores a value with the given time-to-live.
	// A zero ttl means the level's default TTL applies.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Delete removes a key. Deleting an absent key is a no-op, not an error.
	Delete(ctx context.Context, key string) error

	// Has reports whether the key currently exists at this level.
	Has(ctx context.Context, key string) (bool, error)

	// Name returns the tier identifier ("application", "remote", "edge").
	Name() string

	// Close releases any resources held by the level.
	Close() error
}

// Enumerable is implemented by levels that can list their keys.
// Only the application (memory) tier supports this; it is best effort.
type Enumerable interface {
	Keys() []string
}

// Clearer is implemented by levels that support dropping all entries.
type Clearer interface {
	Clear(ctx context.Context) error
}

// Descriptor describes one configured tier. Immutable after construction.
// Levels are probed in ascending Priority order (lower = checked first).
type Descriptor struct {
	Name     LevelName
	TTL      time.Duration
	Enabled  bool
	Priority int
}

// Entry is a cached value with per-level metadata. Each tier owns its own
// copy; no Entry is shared across tiers.
type Entry struct {
	Key            string
	Value          interface{}
	TTL            time.Duration
	Tags           map[string]struct{}
	CreatedAt      time.Time
	LastAccessedAt time.Time
	AccessCount    int64
	SizeBytes      int
	Compressed     bool
}

// NewEntry creates an entry with access bookkeeping initialized.
func NewEntry(key string, value interface{}, ttl time.Duration, tags []string) *Entry {
	now := time.Now()
	tagSet := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		tagSet[t] = struct{}{}
	}
	return &Entry{
		Key:            key,
		Value:          value,
		TTL:            ttl,
		Tags:           tagSet,
		CreatedAt:      now,
		LastAccessedAt: now,
	}
}

// Touch records an access for LRU/LFU bookkeeping.
func (e *Entry) Touch() {
	e.LastAccessedAt = time.Now()
	e.AccessCount++
}

// ExpiresAt returns the absolute expiry time, or the zero time if the entry
// has no TTL.
func (e *Entry) ExpiresAt() time.Time {
	if e.TTL <= 0 {
		return time.Time{}
	}
	return e.CreatedAt.Add(e.TTL)
}

// IsExpired reports whether the entry's TTL has elapsed.
func (e *Entry) IsExpired() bool {
	if e.TTL <= 0 {
		return false
	}
	return time.Now().After(e.ExpiresAt())
}

// Age returns the remaining fraction of the entry's lifetime already spent,
// in [0, 1]. Entries without a TTL report 0.
func (e *Entry) Age() float64 {
	if e.TTL <= 0 {
		return 0
	}
	spent := time.Since(e.CreatedAt)
	if spent >= e.TTL {
		return 1
	}
	return float64(spent) / float64(e.TTL)
}
