// Package writer provides a bounded-queue async writer used to promote hit
// values into faster levels without blocking the read path.
package writer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"cache-orchestrator/pkg/cache"
	"cache-orchestrator/pkg/metrics"
)

// Errors returned by the async writer.
var (
	// ErrQueueFull is returned when a write is dropped under backpressure.
	ErrQueueFull = errors.New("writer: queue full, write dropped")

	// ErrWriterClosed is returned after Close.
	ErrWriterClosed = errors.New("writer: closed")

	// ErrFlushTimeout is returned when Flush exceeds its deadline.
	ErrFlushTimeout = errors.New("writer: flush timeout")
)

// Async writes to a level from a worker pool fed by a bounded queue.
type Async struct {
	level      cache.Level
	queue      chan writeOp
	wg         sync.WaitGroup
	ctx        context.Context
	cancelFunc context.CancelFunc
	config     AsyncConfig
	metrics    metrics.Collector
	queueName  string

	droppedWrites int64
	totalWrites   int64
	failedWrites  int64

	// pending counts writes enqueued but not yet applied, including the
	// ones a worker has already dequeued. Flush waits on it, not on the
	// queue length alone.
	pending int64

	depthTicker *time.Ticker
	depthStop   chan struct{}
}

type writeOp struct {
	key   string
	value interface{}
	ttl   time.Duration
}

// AsyncConfig configures the async writer.
type AsyncConfig struct {
	// QueueSize bounds the pending-write queue (default 1000).
	QueueSize int

	// Workers is the concurrent worker count (default 2).
	Workers int

	// MaxWait bounds how long Write blocks on a full queue before
	// dropping (default 10ms).
	MaxWait time.Duration
}

// NewAsync creates an async writer and starts its workers.
func NewAsync(level cache.Level, config AsyncConfig) *Async {
	return NewAsyncWithMetrics(level, config, metrics.Nop{})
}

// NewAsyncWithMetrics creates an async writer with a metrics collector.
func NewAsyncWithMetrics(level cache.Level, config AsyncConfig, collector metrics.Collector) *Async {
	if config.QueueSize <= 0 {
		config.QueueSize = 1000
	}
	if config.Workers <= 0 {
		config.Workers = 2
	}
	if config.MaxWait == 0 {
		config.MaxWait = 10 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())

	w := &Async{
		level:       level,
		queue:       make(chan writeOp, config.QueueSize),
		ctx:         ctx,
		cancelFunc:  cancel,
		config:      config,
		metrics:     collector,
		queueName:   "promote:" + level.Name(),
		depthTicker: time.NewTicker(5 * time.Second),
		depthStop:   make(chan struct{}),
	}

	for i := 0; i < config.Workers; i++ {
		w.wg.Add(1)
		go w.worker()
	}
	go w.reportDepth()

	return w
}

// Write enqueues a write. On a full queue it waits up to MaxWait, then
// drops the write and returns ErrQueueFull.
func (w *Async) Write(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	select {
	case <-w.ctx.Done():
		return ErrWriterClosed
	default:
	}

	op := writeOp{key: key, value: value, ttl: ttl}

	timer := time.NewTimer(w.config.MaxWait)
	defer timer.Stop()

	select {
	case w.queue <- op:
		atomic.AddInt64(&w.totalWrites, 1)
		atomic.AddInt64(&w.pending, 1)
		return nil
	case <-timer.C:
		atomic.AddInt64(&w.droppedWrites, 1)
		w.metrics.RecordWriteDropped(w.queueName)
		return ErrQueueFull
	case <-ctx.Done():
		return ctx.Err()
	case <-w.ctx.Done():
		return ErrWriterClosed
	}
}

func (w *Async) worker() {
	defer w.wg.Done()

	for {
		select {
		case op, ok := <-w.queue:
			if !ok {
				return
			}
			w.process(op)
		case <-w.ctx.Done():
			// Drain what is already queued before exiting.
			for {
				select {
				case op := <-w.queue:
					w.process(op)
				default:
					return
				}
			}
		}
	}
}

func (w *Async) process(op writeOp) {
	defer atomic.AddInt64(&w.pending, -1)

	start := time.Now()
	err := w.level.Set(context.Background(), op.key, op.value, op.ttl)
	w.metrics.RecordAsyncWrite(w.queueName, err == nil, time.Since(start))

	if err != nil {
		atomic.AddInt64(&w.failedWrites, 1)
	}
}

// Flush waits until every enqueued write has been applied, including writes
// a worker has already dequeued, or the timeout elapses.
func (w *Async) Flush(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for atomic.LoadInt64(&w.pending) > 0 {
		if time.Now().After(deadline) {
			return ErrFlushTimeout
		}
		time.Sleep(5 * time.Millisecond)
	}
	return nil
}

// Close stops accepting writes, drains the queue, and stops the workers.
func (w *Async) Close() error {
	close(w.depthStop)
	w.depthTicker.Stop()

	w.cancelFunc()
	w.wg.Wait()
	return nil
}

func (w *Async) reportDepth() {
	for {
		select {
		case <-w.depthTicker.C:
			w.metrics.RecordQueueDepth(w.queueName, len(w.queue))
		case <-w.depthStop:
			return
		}
	}
}

// Stats reports writer counters.
func (w *Async) Stats() Stats {
	return Stats{
		QueueDepth:    len(w.queue),
		DroppedWrites: atomic.LoadInt64(&w.droppedWrites),
		TotalWrites:   atomic.LoadInt64(&w.totalWrites),
		FailedWrites:  atomic.LoadInt64(&w.failedWrites),
	}
}

// Stats holds async writer counters.
type Stats struct {
	QueueDepth    int
	DroppedWrites int64
	TotalWrites   int64
	FailedWrites  int64
}
