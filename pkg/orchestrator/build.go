package orchestrator

import (
	"cache-orchestrator/pkg/cache"
	"cache-orchestrator/pkg/cache/bloom"
	"cache-orchestrator/pkg/cache/edge"
	"cache-orchestrator/pkg/cache/memory"
	"cache-orchestrator/pkg/cache/remote"
)

// Build constructs the configured tiers and wires them into an
// orchestrator. This is the convenience path for composition roots; callers
// with bespoke levels use New directly.
func Build(config Config) (*Orchestrator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var entries []LevelEntry

	if config.ApplicationCache.Enabled {
		var maxBytes int64
		if config.ApplicationCache.MaxSize != "" {
			parsed, err := cache.ParseSize(config.ApplicationCache.MaxSize)
			if err != nil {
				return nil, err
			}
			maxBytes = parsed
		}

		level := memory.New(memory.Config{
			MaxItems:   config.ApplicationCache.MaxItems,
			MaxBytes:   maxBytes,
			Policy:     memory.EvictionPolicy(config.ApplicationCache.Algorithm),
			DefaultTTL: config.ApplicationCache.TTL,
		})
		lc := cache.LevelConfig{
			Name:       cache.LevelApplication,
			DefaultTTL: config.ApplicationCache.TTL,
			Enabled:    true,
			Priority:   1,
		}
		if err := lc.Validate(); err != nil {
			return nil, err
		}
		entries = append(entries, LevelEntry{Level: level, Descriptor: lc.Descriptor()})
	}

	if config.Remote.Enabled {
		remoteLevel, err := remote.New(remote.Config{
			Addr:        config.Remote.URL,
			KeyPrefix:   config.Remote.KeyPrefix,
			Compression: config.Remote.Compression,
			DefaultTTL:  config.Remote.TTL,
		})
		if err != nil {
			return nil, err
		}

		var level cache.Level = remoteLevel
		if config.Remote.MissGuard {
			level = bloom.New(remoteLevel, config.Remote.MissGuardItems, 0.01)
		}

		lc := cache.LevelConfig{
			Name:       cache.LevelRemote,
			DefaultTTL: config.Remote.TTL,
			Enabled:    true,
			Priority:   2,
		}
		if err := lc.Validate(); err != nil {
			return nil, err
		}
		entries = append(entries, LevelEntry{Level: level, Descriptor: lc.Descriptor()})
	}

	if config.Edge.BaseURL != "" {
		level, err := edge.New(edge.Config{
			Provider:   config.Edge.Provider,
			BaseURL:    config.Edge.BaseURL,
			APIKey:     config.Edge.APIKey,
			DefaultTTL: config.Edge.DefaultTTL,
		})
		if err != nil {
			return nil, err
		}
		lc := cache.LevelConfig{
			Name:       cache.LevelEdge,
			DefaultTTL: config.Edge.DefaultTTL,
			Enabled:    config.Edge.Enabled,
			Priority:   3,
		}
		if err := lc.Validate(); err != nil {
			return nil, err
		}
		entries = append(entries, LevelEntry{Level: level, Descriptor: lc.Descriptor()})
	}

	return New(config, entries...)
}
