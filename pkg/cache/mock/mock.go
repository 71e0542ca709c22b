// Package mock provides a hook-based Level implementation for tests.
package mock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"cache-orchestrator/pkg/cache"
)

// Level is a mock cache level. Set the *Func hooks to inject behavior; call
// counts are tracked atomically for race-free assertions.
type Level struct {
	GetFunc    func(ctx context.Context, key string) (interface{}, error)
	SetFunc    func(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteFunc func(ctx context.Context, key string) error
	HasFunc    func(ctx context.Context, key string) (bool, error)
	CloseFunc  func() error

	name string

	getCalls    int64
	setCalls    int64
	deleteCalls int64
	hasCalls    int64

	// data backs the default behavior when no hooks are set.
	mu   sync.RWMutex
	data map[string]interface{}
}

// New creates a mock level with map-backed default behavior.
func New(name string) *Level {
	return &Level{
		name: name,
		data: make(map[string]interface{}),
	}
}

// Get implements cache.Level.
func (m *Level) Get(ctx context.Context, key string) (interface{}, error) {
	atomic.AddInt64(&m.getCalls, 1)
	if m.GetFunc != nil {
		return m.GetFunc(ctx, key)
	}

	m.mu.RLock()
	v, ok := m.data[key]
	m.mu.RUnlock()
	if !ok {
		return nil, cache.ErrKeyNotFound
	}
	return v, nil
}

// Set implements cache.Level.
func (m *Level) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	atomic.AddInt64(&m.setCalls, 1)
	if m.SetFunc != nil {
		return m.SetFunc(ctx, key, value, ttl)
	}

	m.mu.Lock()
	m.data[key] = value
	m.mu.Unlock()
	return nil
}

// Delete implements cache.Level.
func (m *Level) Delete(ctx context.Context, key string) error {
	atomic.AddInt64(&m.deleteCalls, 1)
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, key)
	}

	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

// Has implements cache.Level.
func (m *Level) Has(ctx context.Context, key string) (bool, error) {
	atomic.AddInt64(&m.hasCalls, 1)
	if m.HasFunc != nil {
		return m.HasFunc(ctx, key)
	}

	m.mu.RLock()
	_, ok := m.data[key]
	m.mu.RUnlock()
	return ok, nil
}

// Name implements cache.Level.
func (m *Level) Name() string {
	return m.name
}

// Close implements cache.Level.
func (m *Level) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// GetCalls returns the number of Get invocations.
func (m *Level) GetCalls() int64 { return atomic.LoadInt64(&m.getCalls) }

// SetCalls returns the number of Set invocations.
func (m *Level) SetCalls() int64 { return atomic.LoadInt64(&m.setCalls) }

// DeleteCalls returns the number of Delete invocations.
func (m *Level) DeleteCalls() int64 { return atomic.LoadInt64(&m.deleteCalls) }

// HasCalls returns the number of Has invocations.
func (m *Level) HasCalls() int64 { return atomic.LoadInt64(&m.hasCalls) }
