package strategy

import (
	"context"
	"sync"
	"time"

	"cache-orchestrator/pkg/cache"

	"github.com/sony/gobreaker"
)

// BreakerOptions configures a per-key circuit breaker.
type BreakerOptions struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// breaker. Defaults to 5.
	FailureThreshold uint32

	// RecoveryTimeout is how long the breaker stays open before allowing
	// a single half-open probe. Defaults to 30s.
	RecoveryTimeout time.Duration

	// Fallback, when set, is invoked instead of raising ErrCircuitOpen
	// while the breaker is open.
	Fallback Fallback
}

// breakerSet lazily creates one gobreaker per guarded key.
type breakerSet struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func newBreakerSet() *breakerSet {
	return &breakerSet{breakers: make(map[string]*gobreaker.CircuitBreaker)}
}

func (bs *breakerSet) get(key string, opts BreakerOptions) *gobreaker.CircuitBreaker {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if cb, ok := bs.breakers[key]; ok {
		return cb
	}

	threshold := opts.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	recovery := opts.RecoveryTimeout
	if recovery == 0 {
		recovery = 30 * time.Second
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        key,
		MaxRequests: 1, // exactly one half-open probe
		Timeout:     recovery,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
	})
	bs.breakers[key] = cb
	return cb
}

// WithBreaker runs operation under the circuit breaker guarding key. After
// FailureThreshold consecutive failures the breaker opens: calls
// short-circuit to the fallback (or ErrCircuitOpen) without invoking the
// operation, until RecoveryTimeout elapses and one probe call is let
// through.
func (e *Engine) WithBreaker(ctx context.Context, key string, operation Fallback, opts BreakerOptions) (interface{}, error) {
	cb := e.breakers.get(key, opts)

	result, err := cb.Execute(func() (interface{}, error) {
		return operation(ctx)
	})
	if err == nil {
		return result, nil
	}

	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		if opts.Fallback != nil {
			return opts.Fallback(ctx)
		}
		return nil, cache.ErrCircuitOpen
	}

	return nil, err
}
