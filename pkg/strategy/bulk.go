package strategy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cache-orchestrator/pkg/cache"

	"golang.org/x/sync/errgroup"
)

// bulkConcurrency bounds the per-batch fan-out.
const bulkConcurrency = 16

// BulkGet fetches many keys concurrently. Missing keys are simply absent
// from the result; level failures are aggregated into the returned error
// while the rest of the batch still completes.
func (e *Engine) BulkGet(ctx context.Context, keys []string) (map[string]interface{}, error) {
	results := make(map[string]interface{}, len(keys))
	var mu sync.Mutex
	var errs []error

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bulkConcurrency)

	for _, key := range keys {
		key := key
		g.Go(func() error {
			value, err := e.store.Get(gctx, key)
			if err != nil {
				if !cache.IsNotFound(err) {
					mu.Lock()
					errs = append(errs, fmt.Errorf("get %s: %w", key, err))
					mu.Unlock()
				}
				return nil
			}

			mu.Lock()
			results[key] = value
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, errors.Join(errs...)
}

// BulkSet writes many entries concurrently, aggregating partial failures
// without aborting the batch.
func (e *Engine) BulkSet(ctx context.Context, items map[string]interface{}, ttl time.Duration) error {
	var mu sync.Mutex
	var errs []error

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bulkConcurrency)

	for key, value := range items {
		key, value := key, value
		g.Go(func() error {
			if err := e.store.Set(gctx, key, value, ttl); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("set %s: %w", key, err))
				mu.Unlock()
				return nil
			}
			e.recordWrite(key, ttl)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return errors.Join(errs...)
}
