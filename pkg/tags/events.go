package tags

import (
	"sync"
	"time"

	"cache-orchestrator/pkg/logging"

	"go.uber.org/zap"
)

// EventType classifies a domain change.
type EventType string

const (
	// EventCreate marks a new entity.
	EventCreate EventType = "create"
	// EventUpdate marks a changed entity.
	EventUpdate EventType = "update"
	// EventDelete marks a removed entity.
	EventDelete EventType = "delete"
)

// Event is a transient invalidation request produced by domain
// collaborators. Events are queued, drained in batches, and never persisted.
type Event struct {
	Type      EventType
	Entity    string
	EntityID  string
	Tags      []string
	Timestamp time.Time
}

// QueueConfig configures batching behavior.
type QueueConfig struct {
	// BatchSize drains the queue as soon as this many events are pending.
	BatchSize int

	// FlushInterval drains whatever is pending on this timer tick.
	FlushInterval time.Duration
}

// Queue buffers invalidation events and hands them to a handler in batches,
// grouped by (entity, type) so repeated changes to one entity collapse into
// a single handler call per batch.
type Queue struct {
	mu      sync.Mutex
	pending []Event

	config  QueueConfig
	handler func(batch []Event)
	logger  *logging.Logger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	kick   chan struct{}
}

// NewQueue creates a queue and starts its drain goroutine.
// The handler receives batches already grouped by (entity, type).
func NewQueue(config QueueConfig, handler func(batch []Event)) *Queue {
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 5 * time.Second
	}

	q := &Queue{
		config:  config,
		handler: handler,
		logger:  logging.L().Named("invalidation.queue"),
		ticker:  time.NewTicker(config.FlushInterval),
		stop:    make(chan struct{}),
		kick:    make(chan struct{}, 1),
	}

	q.wg.Add(1)
	go q.loop()

	return q
}

// Enqueue adds an event, stamping it if needed. The queue drains when it
// reaches BatchSize or on the next timer tick, whichever comes first.
func (q *Queue) Enqueue(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	q.mu.Lock()
	q.pending = append(q.pending, ev)
	full := len(q.pending) >= q.config.BatchSize
	q.mu.Unlock()

	if full {
		select {
		case q.kick <- struct{}{}:
		default:
		}
	}
}

// Depth returns the number of pending events.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Drain flushes pending events synchronously.
func (q *Queue) Drain() {
	q.drain()
}

// Close flushes remaining events and stops the drain goroutine.
func (q *Queue) Close() {
	close(q.stop)
	q.wg.Wait()
	q.ticker.Stop()
	q.drain()
}

func (q *Queue) loop() {
	defer q.wg.Done()

	for {
		select {
		case <-q.ticker.C:
			q.drain()
		case <-q.kick:
			q.drain()
		case <-q.stop:
			return
		}
	}
}

// drain swaps the pending slice out under the lock, then processes it
// without holding the lock so producers are never blocked on the handler.
func (q *Queue) drain() {
	q.mu.Lock()
	batch := q.pending
	q.pending = nil
	q.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	grouped := groupEvents(batch)
	q.logger.Debug("draining invalidation events",
		zap.Int("events", len(batch)),
		zap.Int("groups", len(grouped)),
	)
	q.handler(grouped)
}

// groupEvents collapses a batch by (entity, type), unioning tags and keeping
// the latest timestamp per group. Order of first appearance is preserved.
func groupEvents(batch []Event) []Event {
	type groupKey struct {
		entity string
		typ    EventType
		id     string
	}

	index := make(map[groupKey]int)
	var out []Event

	for _, ev := range batch {
		gk := groupKey{entity: ev.Entity, typ: ev.Type, id: ev.EntityID}
		if i, ok := index[gk]; ok {
			out[i].Tags = unionTags(out[i].Tags, ev.Tags)
			if ev.Timestamp.After(out[i].Timestamp) {
				out[i].Timestamp = ev.Timestamp
			}
			continue
		}
		index[gk] = len(out)
		out = append(out, ev)
	}
	return out
}

func unionTags(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, t := range a {
		if _, ok := seen[t]; !ok {
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	for _, t := range b {
		if _, ok := seen[t]; !ok {
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}
