// Package remote implements the shared remote cache tier on top of a
// Redis-protocol service. It is the only level with a true cross-process
// view, and the only one that stores tag sets server-side.
package remote

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cache-orchestrator/pkg/cache"

	"github.com/redis/rueidis"
)

// Cache is the remote tier. Values are serialized (and optionally
// compressed) before going over the wire; each entry is an independent copy.
type Cache struct {
	client rueidis.Client
	name   string
	config Config
	codec  cache.Codec

	keyBuilder *cache.KeyBuilder
	tagBuilder *cache.KeyBuilder
}

// Config holds remote tier configuration.
type Config struct {
	// Name is the level identifier. Defaults to "remote".
	Name string

	// Addr is the server address for single-node mode.
	Addr string

	// ClusterAddrs enables cluster mode when non-empty.
	ClusterAddrs []string

	Username string
	Password string
	DB       int

	// KeyPrefix namespaces all keys written by this process.
	KeyPrefix string

	// TagPrefix namespaces the server-side tag sets.
	TagPrefix string

	// Compression enables payload compression above CompressThreshold.
	Compression       bool
	CompressThreshold int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// DefaultTTL applies when Set receives a zero TTL.
	DefaultTTL time.Duration
}

// DefaultConfig returns sensible defaults for a local single-node server.
func DefaultConfig() Config {
	return Config{
		Name:         string(cache.LevelRemote),
		Addr:         "localhost:6379",
		KeyPrefix:    "cache:",
		TagPrefix:    "cache:tags:",
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		DefaultTTL:   time.Hour,
	}
}

// New connects to the remote cache service and verifies it with a ping.
func New(config Config) (*Cache, error) {
	if config.Name == "" {
		config.Name = string(cache.LevelRemote)
	}
	if config.TagPrefix == "" {
		config.TagPrefix = config.KeyPrefix + "tags:"
	}

	var initAddress []string
	switch {
	case len(config.ClusterAddrs) > 0:
		initAddress = config.ClusterAddrs
	case config.Addr != "":
		initAddress = []string{config.Addr}
	default:
		return nil, fmt.Errorf("%w: remote cache requires Addr or ClusterAddrs", cache.ErrInvalidConfig)
	}

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:      initAddress,
		Username:         config.Username,
		Password:         config.Password,
		SelectDB:         config.DB,
		ConnWriteTimeout: config.WriteTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("remote: failed to create client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("remote: failed to ping server: %w", err)
	}

	return &Cache{
		client: client,
		name:   config.Name,
		config: config,
		codec: cache.Codec{
			Compress:          config.Compression,
			CompressThreshold: config.CompressThreshold,
		},
		keyBuilder: cache.NewKeyBuilder(strings.TrimSuffix(config.KeyPrefix, ":"), ":"),
		tagBuilder: cache.NewKeyBuilder(strings.TrimSuffix(config.TagPrefix, ":"), ":"),
	}, nil
}

func (r *Cache) fullKey(key string) string {
	return r.keyBuilder.Build(key)
}

func (r *Cache) tagKey(tag string) string {
	return r.tagBuilder.Build(tag)
}

// Get retrieves and decodes a value.
func (r *Cache) Get(ctx context.Context, key string) (interface{}, error) {
	resp := r.client.Do(ctx, r.client.B().Get().Key(r.fullKey(key)).Build())
	if err := resp.Error(); err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, cache.ErrCacheMiss
		}
		return nil, fmt.Errorf("remote get: %w", err)
	}

	data, err := resp.AsBytes()
	if err != nil {
		return nil, fmt.Errorf("remote get: failed to read response: %w", err)
	}

	var value interface{}
	if err := r.codec.Decode(data, &value); err != nil {
		return nil, err
	}
	return value, nil
}

// Set encodes and stores a value with SETEX semantics.
func (r *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = r.config.DefaultTTL
	}

	data, _, err := r.codec.Encode(value)
	if err != nil {
		return err
	}

	cmd := r.client.B().Set().Key(r.fullKey(key)).Value(rueidis.BinaryString(data)).Ex(ttl).Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("remote set: %w", err)
	}
	return nil
}

// Delete removes a key. Deleting an absent key is a no-op.
func (r *Cache) Delete(ctx context.Context, key string) error {
	cmd := r.client.B().Del().Key(r.fullKey(key)).Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("remote delete: %w", err)
	}
	return nil
}

// Has reports whether the key exists.
func (r *Cache) Has(ctx context.Context, key string) (bool, error) {
	resp := r.client.Do(ctx, r.client.B().Exists().Key(r.fullKey(key)).Build())
	if err := resp.Error(); err != nil {
		return false, fmt.Errorf("remote exists: %w", err)
	}

	count, err := resp.AsInt64()
	if err != nil {
		return false, fmt.Errorf("remote exists: failed to read response: %w", err)
	}
	return count > 0, nil
}

// Name returns the level identifier.
func (r *Cache) Name() string {
	return r.name
}

// Close releases the client connection.
func (r *Cache) Close() error {
	r.client.Close()
	return nil
}

// AddTagMembers records keys under a tag set (SADD).
func (r *Cache) AddTagMembers(ctx context.Context, tag string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	cmd := r.client.B().Sadd().Key(r.tagKey(tag)).Member(keys...).Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("remote sadd: %w", err)
	}
	return nil
}

// TagMembers returns the keys recorded under a tag set (SMEMBERS).
func (r *Cache) TagMembers(ctx context.Context, tag string) ([]string, error) {
	resp := r.client.Do(ctx, r.client.B().Smembers().Key(r.tagKey(tag)).Build())
	if err := resp.Error(); err != nil {
		return nil, fmt.Errorf("remote smembers: %w", err)
	}

	members, err := resp.AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("remote smembers: failed to read response: %w", err)
	}
	return members, nil
}

// RemoveTagMembers drops keys from a tag set (SREM). The server prunes the
// set itself once its last member is removed.
func (r *Cache) RemoveTagMembers(ctx context.Context, tag string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	cmd := r.client.B().Srem().Key(r.tagKey(tag)).Member(keys...).Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("remote srem: %w", err)
	}
	return nil
}

// DeleteTag removes an entire tag set.
func (r *Cache) DeleteTag(ctx context.Context, tag string) error {
	cmd := r.client.B().Del().Key(r.tagKey(tag)).Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("remote del tag: %w", err)
	}
	return nil
}

// Keys scans for keys matching a glob pattern. Admin-only: KEYS walks the
// entire keyspace and is expensive on large instances.
func (r *Cache) Keys(ctx context.Context, pattern string) ([]string, error) {
	resp := r.client.Do(ctx, r.client.B().Keys().Pattern(r.fullKey(pattern)).Build())
	if err := resp.Error(); err != nil {
		return nil, fmt.Errorf("remote keys: %w", err)
	}

	keys, err := resp.AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("remote keys: failed to read response: %w", err)
	}

	prefixLen := len(r.fullKey(""))
	result := make([]string, len(keys))
	for i, key := range keys {
		if len(key) >= prefixLen {
			result[i] = key[prefixLen:]
		} else {
			result[i] = key
		}
	}
	return result, nil
}

// FlushAll drops the entire database. Admin-only.
func (r *Cache) FlushAll(ctx context.Context) error {
	if err := r.client.Do(ctx, r.client.B().Flushdb().Build()).Error(); err != nil {
		return fmt.Errorf("remote flushdb: %w", err)
	}
	return nil
}

// Ping verifies connectivity.
func (r *Cache) Ping(ctx context.Context) error {
	if err := r.client.Do(ctx, r.client.B().Ping().Build()).Error(); err != nil {
		return fmt.Errorf("remote ping: %w", err)
	}
	return nil
}

// MemoryUsage reports the server's used_memory in bytes, parsed from INFO.
func (r *Cache) MemoryUsage(ctx context.Context) (int64, error) {
	resp := r.client.Do(ctx, r.client.B().Info().Section("memory").Build())
	if err := resp.Error(); err != nil {
		return 0, fmt.Errorf("remote info: %w", err)
	}

	info, err := resp.ToString()
	if err != nil {
		return 0, fmt.Errorf("remote info: failed to read response: %w", err)
	}

	for _, line := range strings.Split(info, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "used_memory:"); ok {
			n, err := strconv.ParseInt(rest, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("remote info: malformed used_memory: %w", err)
			}
			return n, nil
		}
	}
	return 0, fmt.Errorf("remote info: used_memory not reported")
}
