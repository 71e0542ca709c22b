// Package resilience wraps cache levels with timeout enforcement and a
// circuit breaker. A guarded level turns backend trouble into fast, typed
// errors; the orchestrator then degrades those to misses so a single tier
// failure never fails the overall operation.
package resilience

import (
	"context"
	"errors"
	"time"

	"cache-orchestrator/pkg/cache"
	"cache-orchestrator/pkg/logging"
	"cache-orchestrator/pkg/metrics"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// GuardedLevel wraps a cache.Level with timeout and circuit breaker
// protection. It implements cache.Level itself.
type GuardedLevel struct {
	level   cache.Level
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
	metrics metrics.Collector
	logger  *logging.Logger
}

// Guard wraps level with the given config and a no-op metrics collector.
func Guard(level cache.Level, config Config) *GuardedLevel {
	return GuardWithMetrics(level, config, metrics.Nop{})
}

// GuardWithMetrics wraps level with the given config and metrics collector.
func GuardWithMetrics(level cache.Level, config Config, collector metrics.Collector) *GuardedLevel {
	logger := logging.L().Named("resilience").Named(level.Name())

	gl := &GuardedLevel{
		level:   level,
		timeout: config.Timeout,
		metrics: collector,
		logger:  logger,
	}

	threshold := config.Breaker.ConsecutiveFailures
	if threshold == 0 {
		threshold = 5
	}

	gl.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        level.Name(),
		MaxRequests: config.Breaker.MaxRequests,
		Interval:    config.Breaker.Interval,
		Timeout:     config.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			// Misses are normal; only real failures count against the level.
			return err == nil || cache.IsNotFound(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("level", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)

			var state metrics.CircuitState
			switch to {
			case gobreaker.StateOpen:
				state = metrics.CircuitOpen
			case gobreaker.StateHalfOpen:
				state = metrics.CircuitHalfOpen
			default:
				state = metrics.CircuitClosed
			}
			gl.metrics.RecordCircuitState(name, state)
		},
	})

	return gl
}

// Name returns the underlying level name.
func (gl *GuardedLevel) Name() string {
	return gl.level.Name()
}

// Get retrieves a value with timeout and breaker protection.
func (gl *GuardedLevel) Get(ctx context.Context, key string) (interface{}, error) {
	start := time.Now()
	ctx, cancel := gl.withTimeout(ctx)
	defer cancel()

	result, err := gl.cb.Execute(func() (interface{}, error) {
		return gl.level.Get(ctx, key)
	})

	duration := time.Since(start)
	gl.metrics.RecordGet(gl.level.Name(), err == nil, duration)

	if err != nil {
		return nil, gl.classify(ctx, err, "get", key, duration)
	}
	return result, nil
}

// Set stores a value with timeout and breaker protection.
func (gl *GuardedLevel) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	start := time.Now()
	ctx, cancel := gl.withTimeout(ctx)
	defer cancel()

	_, err := gl.cb.Execute(func() (interface{}, error) {
		return nil, gl.level.Set(ctx, key, value, ttl)
	})

	duration := time.Since(start)
	gl.metrics.RecordSet(gl.level.Name(), err == nil, duration)

	if err != nil {
		return gl.classify(ctx, err, "set", key, duration)
	}
	return nil
}

// Delete removes a key with timeout and breaker protection.
func (gl *GuardedLevel) Delete(ctx context.Context, key string) error {
	start := time.Now()
	ctx, cancel := gl.withTimeout(ctx)
	defer cancel()

	_, err := gl.cb.Execute(func() (interface{}, error) {
		return nil, gl.level.Delete(ctx, key)
	})

	duration := time.Since(start)
	gl.metrics.RecordDelete(gl.level.Name(), err == nil, duration)

	if err != nil {
		return gl.classify(ctx, err, "delete", key, duration)
	}
	return nil
}

// Has checks existence with timeout and breaker protection.
func (gl *GuardedLevel) Has(ctx context.Context, key string) (bool, error) {
	ctx, cancel := gl.withTimeout(ctx)
	defer cancel()

	result, err := gl.cb.Execute(func() (interface{}, error) {
		return gl.level.Has(ctx, key)
	})
	if err != nil {
		return false, gl.classify(ctx, err, "has", key, 0)
	}
	return result.(bool), nil
}

// Clear forwards to the underlying level when it supports clearing.
func (gl *GuardedLevel) Clear(ctx context.Context) error {
	cl, ok := gl.level.(cache.Clearer)
	if !ok {
		return nil
	}

	ctx, cancel := gl.withTimeout(ctx)
	defer cancel()

	_, err := gl.cb.Execute(func() (interface{}, error) {
		return nil, cl.Clear(ctx)
	})
	if err != nil {
		return gl.classify(ctx, err, "clear", "", 0)
	}
	return nil
}

// Keys forwards to the underlying level when it can enumerate.
func (gl *GuardedLevel) Keys() []string {
	if en, ok := gl.level.(cache.Enumerable); ok {
		return en.Keys()
	}
	return nil
}

// Unwrap returns the wrapped level.
func (gl *GuardedLevel) Unwrap() cache.Level {
	return gl.level
}

// Close closes the underlying level.
func (gl *GuardedLevel) Close() error {
	return gl.level.Close()
}

func (gl *GuardedLevel) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if gl.timeout > 0 {
		return context.WithTimeout(ctx, gl.timeout)
	}
	return ctx, func() {}
}

// classify maps raw failures to the package error taxonomy and logs them.
// Misses pass through untouched.
func (gl *GuardedLevel) classify(ctx context.Context, err error, operation, key string, duration time.Duration) error {
	if cache.IsNotFound(err) {
		return err
	}

	var mapped error
	switch {
	case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
		mapped = cache.ErrCircuitOpen
		gl.logger.Warn("circuit breaker rejected request",
			zap.String("operation", operation),
			zap.String("key", key),
		)
	case ctx.Err() == context.DeadlineExceeded:
		mapped = cache.ErrTimeout
		gl.logger.Warn("operation timed out",
			zap.String("operation", operation),
			zap.String("key", key),
			zap.Duration("timeout", gl.timeout),
			zap.Duration("elapsed", duration),
		)
	default:
		mapped = err
		gl.logger.Error("operation failed",
			zap.String("operation", operation),
			zap.String("key", key),
			zap.Duration("elapsed", duration),
			zap.Error(err),
		)
	}

	gl.metrics.RecordError(gl.level.Name(), operation, cache.ClassifyError(mapped))
	return mapped
}
