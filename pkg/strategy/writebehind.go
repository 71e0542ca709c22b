package strategy

import (
	"context"
	"sync"
	"time"

	"cache-orchestrator/pkg/logging"

	"go.uber.org/zap"
)

// PendingWrite is a durable write queued by the write-behind strategy.
type PendingWrite struct {
	Key      string
	Value    interface{}
	QueuedAt time.Time
}

// FlushFunc persists a batch of pending writes to the durable store.
type FlushFunc func(ctx context.Context, batch []PendingWrite) error

// WriteBehindConfig configures batching of deferred durable writes.
type WriteBehindConfig struct {
	// BatchSize flushes as soon as this many writes are queued.
	BatchSize int

	// FlushInterval flushes whatever is queued on this timer tick.
	FlushInterval time.Duration

	// FlushTimeout bounds each flush call.
	FlushTimeout time.Duration
}

// WriteBehind updates the cache synchronously and defers the durable write
// into a batched queue. Writes queued but not yet flushed are lost on
// process crash; that durability trade-off is accepted, not a defect.
type WriteBehind struct {
	store  Store
	flush  FlushFunc
	config WriteBehindConfig
	logger *logging.Logger

	mu      sync.Mutex
	pending []PendingWrite

	ticker *time.Ticker
	stop   chan struct{}
	kick   chan struct{}
	wg     sync.WaitGroup
}

// NewWriteBehind creates the write-behind queue and starts its flusher.
func NewWriteBehind(store Store, flush FlushFunc, config WriteBehindConfig) *WriteBehind {
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 5 * time.Second
	}
	if config.FlushTimeout <= 0 {
		config.FlushTimeout = 30 * time.Second
	}

	wb := &WriteBehind{
		store:  store,
		flush:  flush,
		config: config,
		logger: logging.L().Named("write-behind"),
		ticker: time.NewTicker(config.FlushInterval),
		stop:   make(chan struct{}),
		kick:   make(chan struct{}, 1),
	}

	wb.wg.Add(1)
	go wb.loop()

	return wb
}

// Write updates the cache immediately and queues the durable write. The
// cache write error, if any, is returned; the durable write happens later.
func (wb *WriteBehind) Write(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if err := wb.store.Set(ctx, key, value, ttl); err != nil {
		return err
	}

	wb.mu.Lock()
	wb.pending = append(wb.pending, PendingWrite{Key: key, Value: value, QueuedAt: time.Now()})
	full := len(wb.pending) >= wb.config.BatchSize
	wb.mu.Unlock()

	if full {
		select {
		case wb.kick <- struct{}{}:
		default:
		}
	}
	return nil
}

// QueueDepth returns the number of unflushed writes.
func (wb *WriteBehind) QueueDepth() int {
	wb.mu.Lock()
	defer wb.mu.Unlock()
	return len(wb.pending)
}

// Flush drains the queue synchronously.
func (wb *WriteBehind) Flush(ctx context.Context) error {
	return wb.drain(ctx)
}

// Close flushes remaining writes and stops the flusher.
func (wb *WriteBehind) Close() error {
	close(wb.stop)
	wb.wg.Wait()
	wb.ticker.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), wb.config.FlushTimeout)
	defer cancel()
	return wb.drain(ctx)
}

func (wb *WriteBehind) loop() {
	defer wb.wg.Done()

	for {
		select {
		case <-wb.ticker.C:
			wb.drainBackground()
		case <-wb.kick:
			wb.drainBackground()
		case <-wb.stop:
			return
		}
	}
}

func (wb *WriteBehind) drainBackground() {
	ctx, cancel := context.WithTimeout(context.Background(), wb.config.FlushTimeout)
	defer cancel()

	if err := wb.drain(ctx); err != nil {
		wb.logger.Error("write-behind flush failed", zap.Error(err))
	}
}

// drain swaps the queue out atomically so writes enqueued during the flush
// land in a fresh slice and are never lost to a concurrent clear. A failed
// flush puts the batch back at the front of the queue so the next tick
// retries it in order.
func (wb *WriteBehind) drain(ctx context.Context) error {
	wb.mu.Lock()
	batch := wb.pending
	wb.pending = nil
	wb.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	if err := wb.flush(ctx, batch); err != nil {
		wb.mu.Lock()
		wb.pending = append(batch, wb.pending...)
		wb.mu.Unlock()
		return err
	}
	return nil
}
