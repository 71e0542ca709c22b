// Package orchestrator composes the cache levels, the tag index, and the
// strategy engine behind one facade. Reads probe levels fastest-first and
// promote hits upward; writes fan out to the writable levels; invalidation
// cascades through the tag index across every level.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"cache-orchestrator/pkg/cache"
	"cache-orchestrator/pkg/cache/edge"
	"cache-orchestrator/pkg/logging"
	"cache-orchestrator/pkg/metrics"
	"cache-orchestrator/pkg/resilience"
	"cache-orchestrator/pkg/strategy"
	"cache-orchestrator/pkg/tags"
	"cache-orchestrator/pkg/writer"

	"go.uber.org/zap"
)

// LevelEntry pairs a constructed level with its descriptor. The caller (the
// composition root) owns level construction; the orchestrator is explicitly
// dependency-injected, never a process-wide singleton.
type LevelEntry struct {
	Level      cache.Level
	Descriptor cache.Descriptor
}

// tagStore is satisfied by levels that mirror tag sets server-side (the
// remote tier).
type tagStore interface {
	AddTagMembers(ctx context.Context, tag string, keys ...string) error
	RemoveTagMembers(ctx context.Context, tag string, keys ...string) error
}

// purger is satisfied by levels with purge-style invalidation (the edge
// tier).
type purger interface {
	Purge(ctx context.Context, req edge.PurgeRequest) error
}

type levelSlot struct {
	level  *resilience.GuardedLevel
	desc   cache.Descriptor
	writer *writer.Async
}

// Orchestrator is the multi-level cache facade.
type Orchestrator struct {
	// slots are sorted by ascending priority (fastest first).
	slots  []levelSlot
	config Config

	index  *tags.Index
	inval  *tags.Invalidator
	queue  *tags.Queue
	engine *strategy.Engine

	oplog   *operationLog
	metrics metrics.Collector
	logger  *logging.Logger

	// lastEvictions tracks per-level eviction counts already reported to
	// the collector, so SampleResources emits deltas only.
	resourceMu    sync.Mutex
	lastEvictions map[string]int64
}

// GetOptions tunes a single orchestrated read.
type GetOptions struct {
	// Levels restricts the probe to the named levels. Empty means all.
	Levels []cache.LevelName

	// TTL and Tags apply to the value stored after a fallback execution.
	TTL  time.Duration
	Tags []string
}

// SetOptions tunes a single orchestrated write.
type SetOptions struct {
	TTL  time.Duration
	Tags []string

	// Levels restricts the write to the named levels. Empty means all
	// writable levels; the edge tier is excluded from direct writes
	// unless named explicitly.
	Levels []cache.LevelName
}

// New creates an orchestrator over the given levels. Every level is wrapped
// with timeout and circuit breaker protection; entries are probed in
// ascending descriptor priority.
func New(config Config, entries ...LevelEntry) (*Orchestrator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: at least one level required", cache.ErrInvalidConfig)
	}

	collector := config.Metrics
	if collector == nil {
		collector = metrics.Nop{}
	}

	o := &Orchestrator{
		config:        config,
		index:         tags.NewIndex(),
		oplog:         newOperationLog(config.OperationLogSize, retention(config)),
		metrics:       collector,
		logger:        logging.L().Named("orchestrator"),
		lastEvictions: make(map[string]int64),
	}

	for _, entry := range entries {
		guardConfig := resilience.DefaultConfig()
		if entry.Descriptor.Name == cache.LevelApplication {
			// The in-process tier must answer fast or not at all.
			guardConfig = guardConfig.WithTimeout(100 * time.Millisecond)
		}

		guarded := resilience.GuardWithMetrics(entry.Level, guardConfig, collector)
		o.slots = append(o.slots, levelSlot{
			level: guarded,
			desc:  entry.Descriptor,
			writer: writer.NewAsyncWithMetrics(guarded, writer.AsyncConfig{
				QueueSize: 1000,
				Workers:   2,
			}, collector),
		})
	}

	sort.SliceStable(o.slots, func(i, j int) bool {
		return o.slots[i].desc.Priority < o.slots[j].desc.Priority
	})

	o.inval = tags.NewInvalidator(o.index, o.deleteFromLevels, tags.InvalidatorConfig{
		CascadeDepth: config.Invalidation.CascadeDepth,
		Resolver:     tags.NewRuleResolver(config.Invalidation.Rules...),
		Metrics:      collector,
	})

	if config.Invalidation.Enabled {
		o.queue = tags.NewQueue(tags.QueueConfig{
			BatchSize:     config.Invalidation.BatchSize,
			FlushInterval: config.Invalidation.FlushInterval,
		}, o.inval.HandleEvents)
	}

	o.engine = strategy.NewEngine(storeAdapter{o})

	return o, nil
}

func retention(config Config) time.Duration {
	if config.Analytics.RetentionDays > 0 {
		return time.Duration(config.Analytics.RetentionDays) * 24 * time.Hour
	}
	return 24 * time.Hour
}

// Get probes levels fastest-first. A hit is promoted into every
// higher-priority level before it is returned. On a total miss with a
// fallback the fallback runs exactly once for this caller (concurrent
// callers are not coalesced), the result is written through all writable
// levels and tagged, and the value is returned. A fallback error propagates
// unchanged.
func (o *Orchestrator) Get(ctx context.Context, key string, fallback strategy.Fallback, opts GetOptions) (interface{}, error) {
	start := time.Now()

	for i, slot := range o.slots {
		if !o.readable(slot, opts.Levels) {
			continue
		}

		opStart := time.Now()
		value, err := slot.level.Get(ctx, key)
		if err == nil {
			o.promote(ctx, key, value, i)
			o.record("get", key, slot.desc.Name, opStart, true, nil)
			o.metrics.RecordOrchestratedGet(true, i, time.Since(start))
			return value, nil
		}

		if !cache.IsNotFound(err) {
			// Tier failure degrades to a miss and never fails the read.
			o.record("get", key, slot.desc.Name, opStart, false, err)
		}
	}

	o.metrics.RecordOrchestratedGet(false, -1, time.Since(start))

	if fallback == nil {
		return nil, cache.ErrKeyNotFound
	}

	value, err := fallback(ctx)
	if err != nil {
		return nil, err
	}

	if err := o.Set(ctx, key, value, SetOptions{TTL: opts.TTL, Tags: opts.Tags}); err != nil {
		o.logger.Warn("post-fallback store failed",
			zap.String("key", key),
			zap.Error(err),
		)
	}

	return value, nil
}

// Set writes to every writable level (edge excluded unless named), attaches
// tags, and records the operation. A single level failure is logged and
// does not fail the write; the error of the last failing level is returned
// only if every level failed.
func (o *Orchestrator) Set(ctx context.Context, key string, value interface{}, opts SetOptions) error {
	var lastErr error
	wrote := false

	for _, slot := range o.slots {
		if !o.writable(slot, opts.Levels) {
			continue
		}

		ttl := o.effectiveTTL(slot, opts.TTL)
		opStart := time.Now()
		if err := slot.level.Set(ctx, key, value, ttl); err != nil {
			lastErr = err
			o.record("set", key, slot.desc.Name, opStart, false, err)
			continue
		}
		wrote = true
		o.record("set", key, slot.desc.Name, opStart, true, nil)
	}

	if len(opts.Tags) > 0 {
		o.index.Attach(key, opts.Tags...)
		o.mirrorTags(ctx, key, opts.Tags)
	}

	if !wrote && lastErr != nil {
		return lastErr
	}
	return nil
}

// Delete removes the key from every level, best effort, and clears its tag
// associations. Partial failures are logged, not retried.
func (o *Orchestrator) Delete(ctx context.Context, key string) error {
	keyTags := o.index.TagsForKey(key)

	err := o.deleteFromLevels(ctx, key)
	o.index.Remove(key)
	o.unmirrorTags(ctx, key, keyTags)
	return err
}

// deleteFromLevels removes the key from every level without touching the
// tag index. It is also the invalidator's delete hook.
func (o *Orchestrator) deleteFromLevels(ctx context.Context, key string) error {
	var lastErr error

	for _, slot := range o.slots {
		opStart := time.Now()
		if err := slot.level.Delete(ctx, key); err != nil {
			lastErr = err
			o.record("delete", key, slot.desc.Name, opStart, false, err)
			continue
		}
		o.record("delete", key, slot.desc.Name, opStart, true, nil)
	}

	return lastErr
}

// Has reports whether any readable level currently holds the key.
func (o *Orchestrator) Has(ctx context.Context, key string) bool {
	for _, slot := range o.slots {
		if !o.readable(slot, nil) {
			continue
		}
		if ok, err := slot.level.Has(ctx, key); err == nil && ok {
			return true
		}
	}
	return false
}

// InvalidateByTags removes every key under the given tags from all levels,
// cascading through related keys, and purges the tags at the edge.
func (o *Orchestrator) InvalidateByTags(ctx context.Context, tagList []string) int {
	start := time.Now()
	n := o.inval.InvalidateByTags(ctx, tagList)
	o.purgeEdgeTags(ctx, tagList)
	o.record("invalidate", fmt.Sprintf("tags:%v", tagList), "", start, true, nil)
	return n
}

// InvalidateByPattern removes every indexed key matching the glob. Only
// tagged keys participate in pattern invalidation.
func (o *Orchestrator) InvalidateByPattern(ctx context.Context, pattern string) int {
	start := time.Now()
	n := o.inval.InvalidateByPattern(ctx, pattern)
	o.record("invalidate", "pattern:"+pattern, "", start, true, nil)
	return n
}

// Enqueue hands an invalidation event to the batched queue. With
// invalidation disabled the event is dropped.
func (o *Orchestrator) Enqueue(ev tags.Event) {
	if o.queue == nil {
		return
	}
	o.queue.Enqueue(ev)
}

// DrainInvalidations flushes the event queue synchronously. Mainly for
// tests and shutdown paths.
func (o *Orchestrator) DrainInvalidations() {
	if o.queue != nil {
		o.queue.Drain()
	}
}

// Strategies returns the strategy engine bound to this orchestrator.
func (o *Orchestrator) Strategies() *strategy.Engine {
	return o.engine
}

// TagIndex exposes the tag index for inspection.
func (o *Orchestrator) TagIndex() *tags.Index {
	return o.index
}

// Levels returns the configured level descriptors in probe order.
func (o *Orchestrator) Levels() []cache.Descriptor {
	out := make([]cache.Descriptor, len(o.slots))
	for i, slot := range o.slots {
		out[i] = slot.desc
	}
	return out
}

// FlushPromotions waits until every pending promotion write has drained.
// Promotion is asynchronous; cross-level consistency is eventual, and this
// is the synchronization point for shutdown and tests.
func (o *Orchestrator) FlushPromotions(timeout time.Duration) error {
	var errs []error
	for _, slot := range o.slots {
		if err := slot.writer.Flush(timeout); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Operations returns operation records newer than the cutoff.
func (o *Orchestrator) Operations(since time.Time) []OperationRecord {
	return o.oplog.since(since)
}

// Close flushes queues and closes every level.
func (o *Orchestrator) Close() error {
	if o.queue != nil {
		o.queue.Close()
	}

	var errs []error
	for _, slot := range o.slots {
		if err := slot.writer.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := slot.level.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	o.oplog.close()

	return errors.Join(errs...)
}

// promote copies a hit into every higher-priority (faster) level through
// the async writers, never blocking the read path.
func (o *Orchestrator) promote(ctx context.Context, key string, value interface{}, hitIndex int) {
	for i := hitIndex - 1; i >= 0; i-- {
		slot := o.slots[i]
		if !slot.desc.Enabled {
			continue
		}
		_ = slot.writer.Write(ctx, key, value, o.effectiveTTL(slot, 0))
	}
}

func (o *Orchestrator) readable(slot levelSlot, only []cache.LevelName) bool {
	if !slot.desc.Enabled {
		return false
	}
	return levelNamed(slot.desc.Name, only, true)
}

// writable excludes the edge tier unless it is named explicitly: edge
// writes are push/purge operations, not shared-store writes.
func (o *Orchestrator) writable(slot levelSlot, only []cache.LevelName) bool {
	if !slot.desc.Enabled {
		return false
	}
	if len(only) == 0 {
		return slot.desc.Name != cache.LevelEdge
	}
	return levelNamed(slot.desc.Name, only, false)
}

func levelNamed(name cache.LevelName, only []cache.LevelName, emptyMeansAll bool) bool {
	if len(only) == 0 {
		return emptyMeansAll
	}
	for _, n := range only {
		if n == name {
			return true
		}
	}
	return false
}

func (o *Orchestrator) effectiveTTL(slot levelSlot, requested time.Duration) time.Duration {
	if requested > 0 {
		return requested
	}
	if slot.desc.TTL > 0 {
		return slot.desc.TTL
	}
	if o.config.DefaultTTL > 0 {
		return o.config.DefaultTTL
	}
	return time.Hour
}

// unwrapLevel strips guard wrappers (resilience, bloom) until the base tier
// is reached. Capability checks must always run against the base tier.
func unwrapLevel(l cache.Level) cache.Level {
	for {
		u, ok := l.(interface{ Unwrap() cache.Level })
		if !ok {
			return l
		}
		l = u.Unwrap()
	}
}

// mirrorTags pushes tag membership into any level that keeps server-side
// tag sets, so other processes sharing the remote tier see them.
func (o *Orchestrator) mirrorTags(ctx context.Context, key string, tagList []string) {
	for _, slot := range o.slots {
		ts, ok := unwrapLevel(slot.level).(tagStore)
		if !ok {
			continue
		}
		for _, tag := range tagList {
			if err := ts.AddTagMembers(ctx, tag, key); err != nil {
				o.logger.Warn("tag mirror failed",
					zap.String("level", string(slot.desc.Name)),
					zap.String("tag", tag),
					zap.Error(err),
				)
			}
		}
	}
}

func (o *Orchestrator) unmirrorTags(ctx context.Context, key string, tagList []string) {
	for _, slot := range o.slots {
		ts, ok := unwrapLevel(slot.level).(tagStore)
		if !ok {
			continue
		}
		for _, tag := range tagList {
			if err := ts.RemoveTagMembers(ctx, tag, key); err != nil {
				o.logger.Warn("tag unmirror failed",
					zap.String("level", string(slot.desc.Name)),
					zap.String("tag", tag),
					zap.Error(err),
				)
			}
		}
	}
}

// purgeEdgeTags issues a tag purge against any purge-capable level.
func (o *Orchestrator) purgeEdgeTags(ctx context.Context, tagList []string) {
	for _, slot := range o.slots {
		p, ok := unwrapLevel(slot.level).(purger)
		if !ok {
			continue
		}
		if err := p.Purge(ctx, edge.PurgeRequest{Tags: tagList}); err != nil {
			o.logger.Warn("edge tag purge failed",
				zap.String("level", string(slot.desc.Name)),
				zap.Error(err),
			)
		}
	}
}

func (o *Orchestrator) record(operation, key string, level cache.LevelName, start time.Time, success bool, err error) {
	rec := OperationRecord{
		Operation: operation,
		Key:       key,
		Level:     string(level),
		Timestamp: start,
		Duration:  time.Since(start),
		Success:   success,
	}
	if err != nil {
		rec.Error = cache.ClassifyError(err)
	}
	o.oplog.record(rec)
}

// storeAdapter exposes the orchestrator's canonical operations as the
// strategy engine's Store.
type storeAdapter struct {
	o *Orchestrator
}

func (s storeAdapter) Get(ctx context.Context, key string) (interface{}, error) {
	return s.o.Get(ctx, key, nil, GetOptions{})
}

func (s storeAdapter) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return s.o.Set(ctx, key, value, SetOptions{TTL: ttl})
}

func (s storeAdapter) Delete(ctx context.Context, key string) error {
	return s.o.Delete(ctx, key)
}
