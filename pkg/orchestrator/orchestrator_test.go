package orchestrator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"cache-orchestrator/pkg/cache"
	"cache-orchestrator/pkg/cache/bloom"
	"cache-orchestrator/pkg/cache/mock"
	"cache-orchestrator/pkg/strategy"
	"cache-orchestrator/pkg/tags"
)

func testConfig() Config {
	return Config{
		DefaultTTL:       time.Minute,
		OperationLogSize: 1000,
		Invalidation: InvalidationConfig{
			Enabled:       true,
			CascadeDepth:  1,
			BatchSize:     50,
			FlushInterval: time.Hour,
		},
	}
}

func appEntry(level cache.Level) LevelEntry {
	return LevelEntry{Level: level, Descriptor: cache.Descriptor{
		Name: cache.LevelApplication, TTL: time.Minute, Enabled: true, Priority: 1,
	}}
}

func remoteEntry(level cache.Level) LevelEntry {
	return LevelEntry{Level: level, Descriptor: cache.Descriptor{
		Name: cache.LevelRemote, TTL: time.Hour, Enabled: true, Priority: 2,
	}}
}

func edgeEntry(level cache.Level) LevelEntry {
	return LevelEntry{Level: level, Descriptor: cache.Descriptor{
		Name: cache.LevelEdge, TTL: 24 * time.Hour, Enabled: true, Priority: 3,
	}}
}

func newTestOrchestrator(t *testing.T, config Config, entries ...LevelEntry) *Orchestrator {
	t.Helper()
	o, err := New(config, entries...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { o.Close() })
	return o
}

func TestNewRequiresALevel(t *testing.T) {
	if _, err := New(testConfig()); !errors.Is(err, cache.ErrInvalidConfig) {
		t.Fatalf("got %v, want ErrInvalidConfig", err)
	}
}

func TestGetServedByFastestLevel(t *testing.T) {
	app := mock.New("application")
	remote := mock.New("remote")
	o := newTestOrchestrator(t, testConfig(), appEntry(app), remoteEntry(remote))
	ctx := context.Background()

	app.Set(ctx, "user:1", "from-app", time.Minute)
	remote.Set(ctx, "user:1", "from-remote", time.Minute)

	got, err := o.Get(ctx, "user:1", nil, GetOptions{})
	if err != nil || got != "from-app" {
		t.Fatalf("Get = (%v, %v), want the application tier's value", got, err)
	}
	if remote.GetCalls() != 0 {
		t.Fatal("slower level probed despite a faster hit")
	}
}

func TestGetPromotesRemoteHitIntoApplicationTier(t *testing.T) {
	app := mock.New("application")
	remote := mock.New("remote")
	o := newTestOrchestrator(t, testConfig(), appEntry(app), remoteEntry(remote))
	ctx := context.Background()

	remote.Set(ctx, "user:1", "v", time.Minute)
	remoteSets := remote.SetCalls()

	got, err := o.Get(ctx, "user:1", nil, GetOptions{})
	if err != nil || got != "v" {
		t.Fatalf("Get = (%v, %v)", got, err)
	}

	// Promotion is async; FlushPromotions is the synchronization point.
	if err := o.FlushPromotions(time.Second); err != nil {
		t.Fatalf("FlushPromotions: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for app.SetCalls() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if v, err := app.Get(ctx, "user:1"); err != nil || v != "v" {
		t.Fatalf("application tier = (%v, %v), want the promoted value", v, err)
	}
	if remote.SetCalls() != remoteSets {
		t.Fatal("promotion wrote back into the level that already had the value")
	}

	// The next read must come from the faster tier.
	remoteGets := remote.GetCalls()
	o.Get(ctx, "user:1", nil, GetOptions{})
	if remote.GetCalls() != remoteGets {
		t.Fatal("second read still reached the remote tier")
	}
}

func TestGetTotalMissRunsFallbackAndWritesThrough(t *testing.T) {
	app := mock.New("application")
	remote := mock.New("remote")
	o := newTestOrchestrator(t, testConfig(), appEntry(app), remoteEntry(remote))
	ctx := context.Background()

	var fallbackRuns int64
	got, err := o.Get(ctx, "user:1", func(ctx context.Context) (interface{}, error) {
		atomic.AddInt64(&fallbackRuns, 1)
		return "loaded", nil
	}, GetOptions{TTL: time.Minute, Tags: []string{"user:1", "users"}})

	if err != nil || got != "loaded" {
		t.Fatalf("Get = (%v, %v)", got, err)
	}
	if fallbackRuns != 1 {
		t.Fatalf("fallback ran %d times, want 1", fallbackRuns)
	}
	for name, level := range map[string]*mock.Level{"application": app, "remote": remote} {
		if v, err := level.Get(ctx, "user:1"); err != nil || v != "loaded" {
			t.Fatalf("%s tier = (%v, %v), want the fallback value written through", name, v, err)
		}
	}
	if got := o.TagIndex().TagsForKey("user:1"); len(got) != 2 {
		t.Fatalf("tags = %v, want both attached", got)
	}
}

func TestGetTotalMissWithoutFallback(t *testing.T) {
	o := newTestOrchestrator(t, testConfig(), appEntry(mock.New("application")))

	_, err := o.Get(context.Background(), "missing", nil, GetOptions{})
	if !cache.IsNotFound(err) {
		t.Fatalf("got %v, want ErrKeyNotFound", err)
	}
}

func TestGetFallbackErrorPropagatesUnchanged(t *testing.T) {
	o := newTestOrchestrator(t, testConfig(), appEntry(mock.New("application")))

	wantErr := errors.New("db down")
	_, err := o.Get(context.Background(), "user:1", func(ctx context.Context) (interface{}, error) {
		return nil, wantErr
	}, GetOptions{})

	if !errors.Is(err, wantErr) {
		t.Fatalf("got %v, want the fallback error unchanged", err)
	}
}

func TestGetDegradedLevelFallsThrough(t *testing.T) {
	app := mock.New("application")
	app.GetFunc = func(ctx context.Context, key string) (interface{}, error) {
		return nil, cache.ErrLevelUnavailable
	}
	remote := mock.New("remote")
	o := newTestOrchestrator(t, testConfig(), appEntry(app), remoteEntry(remote))
	ctx := context.Background()

	remote.Set(ctx, "user:1", "v", time.Minute)

	got, err := o.Get(ctx, "user:1", nil, GetOptions{})
	if err != nil || got != "v" {
		t.Fatalf("Get = (%v, %v), want the healthy tier's value", got, err)
	}
}

func TestGetLevelRestriction(t *testing.T) {
	app := mock.New("application")
	remote := mock.New("remote")
	o := newTestOrchestrator(t, testConfig(), appEntry(app), remoteEntry(remote))
	ctx := context.Background()

	remote.Set(ctx, "user:1", "v", time.Minute)

	_, err := o.Get(ctx, "user:1", nil, GetOptions{Levels: []cache.LevelName{cache.LevelApplication}})
	if !cache.IsNotFound(err) {
		t.Fatalf("got %v, want a miss when the holding tier is excluded", err)
	}
}

func TestSetWritesAllLevelsButNotEdge(t *testing.T) {
	app := mock.New("application")
	remote := mock.New("remote")
	edgeLevel := mock.New("edge")
	o := newTestOrchestrator(t, testConfig(),
		appEntry(app), remoteEntry(remote), edgeEntry(edgeLevel))
	ctx := context.Background()

	if err := o.Set(ctx, "user:1", "v", SetOptions{}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if app.SetCalls() != 1 || remote.SetCalls() != 1 {
		t.Fatal("inner tiers not written")
	}
	if edgeLevel.SetCalls() != 0 {
		t.Fatal("edge written without being named explicitly")
	}

	if err := o.Set(ctx, "asset:1", "v", SetOptions{Levels: []cache.LevelName{cache.LevelEdge}}); err != nil {
		t.Fatalf("Set to edge: %v", err)
	}
	if edgeLevel.SetCalls() != 1 {
		t.Fatal("explicitly named edge tier not written")
	}
}

func TestSetSingleLevelFailureDoesNotFailWrite(t *testing.T) {
	app := mock.New("application")
	remote := mock.New("remote")
	remote.SetFunc = func(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
		return cache.ErrLevelUnavailable
	}
	o := newTestOrchestrator(t, testConfig(), appEntry(app), remoteEntry(remote))

	if err := o.Set(context.Background(), "user:1", "v", SetOptions{}); err != nil {
		t.Fatalf("Set failed although one tier succeeded: %v", err)
	}
}

func TestSetAllLevelsFailingReturnsError(t *testing.T) {
	app := mock.New("application")
	app.SetFunc = func(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
		return cache.ErrLevelUnavailable
	}
	o := newTestOrchestrator(t, testConfig(), appEntry(app))

	if err := o.Set(context.Background(), "user:1", "v", SetOptions{}); err == nil {
		t.Fatal("Set succeeded with every tier failing")
	}
}

func TestDeleteRemovesEverywhereAndClearsTags(t *testing.T) {
	app := mock.New("application")
	remote := mock.New("remote")
	o := newTestOrchestrator(t, testConfig(), appEntry(app), remoteEntry(remote))
	ctx := context.Background()

	o.Set(ctx, "user:1", "v", SetOptions{Tags: []string{"users"}})

	if err := o.Delete(ctx, "user:1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, err := app.Get(ctx, "user:1"); !cache.IsNotFound(err) {
		t.Fatal("application tier still holds the key")
	}
	if _, err := remote.Get(ctx, "user:1"); !cache.IsNotFound(err) {
		t.Fatal("remote tier still holds the key")
	}
	if got := o.TagIndex().TagsForKey("user:1"); len(got) != 0 {
		t.Fatalf("tags survived delete: %v", got)
	}
}

func TestInvalidateByTagsSweepsAllLevels(t *testing.T) {
	app := mock.New("application")
	remote := mock.New("remote")
	o := newTestOrchestrator(t, testConfig(), appEntry(app), remoteEntry(remote))
	ctx := context.Background()

	o.Set(ctx, "user:1", "a", SetOptions{Tags: []string{"user:1", "users"}})
	o.Set(ctx, "user:2", "b", SetOptions{Tags: []string{"user:2", "users"}})
	o.Set(ctx, "order:1", "c", SetOptions{Tags: []string{"orders"}})

	n := o.InvalidateByTags(ctx, []string{"users"})
	if n != 2 {
		t.Fatalf("invalidated %d keys, want 2", n)
	}

	for _, key := range []string{"user:1", "user:2"} {
		if _, err := app.Get(ctx, key); !cache.IsNotFound(err) {
			t.Fatalf("%s survived in the application tier", key)
		}
		if _, err := remote.Get(ctx, key); !cache.IsNotFound(err) {
			t.Fatalf("%s survived in the remote tier", key)
		}
	}
	if _, err := app.Get(ctx, "order:1"); err != nil {
		t.Fatal("unrelated key was invalidated")
	}
}

func TestInvalidateByPatternOnlySeesTaggedKeys(t *testing.T) {
	app := mock.New("application")
	o := newTestOrchestrator(t, testConfig(), appEntry(app))
	ctx := context.Background()

	o.Set(ctx, "user:1", "a", SetOptions{Tags: []string{"users"}})
	o.Set(ctx, "user:2", "b", SetOptions{}) // untagged: invisible to patterns

	n := o.InvalidateByPattern(ctx, "user:*")
	if n != 1 {
		t.Fatalf("invalidated %d keys, want only the tagged one", n)
	}
	if _, err := app.Get(ctx, "user:2"); err != nil {
		t.Fatal("untagged key was swept by pattern invalidation")
	}
}

func TestCascadeInvalidationThroughRules(t *testing.T) {
	config := testConfig()
	config.Invalidation.Rules = []tags.Rule{
		{Pattern: "user:*", Related: []string{"profile:*"}},
	}
	app := mock.New("application")
	o := newTestOrchestrator(t, config, appEntry(app))
	ctx := context.Background()

	o.Set(ctx, "user:42", "u", SetOptions{Tags: []string{"user:42"}})
	o.Set(ctx, "profile:42", "p", SetOptions{Tags: []string{"profile:42"}})

	n := o.InvalidateByTags(ctx, []string{"user:42"})
	if n != 2 {
		t.Fatalf("invalidated %d keys, want the seed plus one cascade generation", n)
	}
	if _, err := app.Get(ctx, "profile:42"); !cache.IsNotFound(err) {
		t.Fatal("related key survived the cascade")
	}
}

func TestEntityEventsDrainToInvalidation(t *testing.T) {
	app := mock.New("application")
	o := newTestOrchestrator(t, testConfig(), appEntry(app))
	ctx := context.Background()

	o.Set(ctx, "user:7", "v", SetOptions{Tags: []string{"user:7", "users"}})

	o.OnUserUpdate("7")
	o.DrainInvalidations()

	if _, err := app.Get(ctx, "user:7"); !cache.IsNotFound(err) {
		t.Fatal("user update event did not invalidate the cached entity")
	}
}

func TestHas(t *testing.T) {
	app := mock.New("application")
	o := newTestOrchestrator(t, testConfig(), appEntry(app))
	ctx := context.Background()

	if o.Has(ctx, "user:1") {
		t.Fatal("Has = true for an absent key")
	}
	o.Set(ctx, "user:1", "v", SetOptions{})
	if !o.Has(ctx, "user:1") {
		t.Fatal("Has = false after Set")
	}
}

func TestLevelsSortedByPriority(t *testing.T) {
	remote := mock.New("remote")
	app := mock.New("application")
	// Deliberately registered slowest first.
	o := newTestOrchestrator(t, testConfig(), remoteEntry(remote), appEntry(app))

	levels := o.Levels()
	if len(levels) != 2 || levels[0].Name != cache.LevelApplication {
		t.Fatalf("levels = %v, want application first", levels)
	}
}

func TestOperationLogRecordsActivity(t *testing.T) {
	app := mock.New("application")
	o := newTestOrchestrator(t, testConfig(), appEntry(app))
	ctx := context.Background()
	cutoff := time.Now().Add(-time.Second)

	o.Set(ctx, "user:1", "v", SetOptions{})
	o.Get(ctx, "user:1", nil, GetOptions{})

	records := o.Operations(cutoff)
	if len(records) != 2 {
		t.Fatalf("recorded %d operations, want 2", len(records))
	}

	ops := map[string]bool{}
	for _, rec := range records {
		ops[rec.Operation] = true
		if !rec.Success {
			t.Fatalf("operation %s recorded as failed", rec.Operation)
		}
		if rec.Key != "user:1" {
			t.Fatalf("record key = %q", rec.Key)
		}
	}
	if !ops["set"] || !ops["get"] {
		t.Fatalf("operations = %v, want set and get", ops)
	}
}

func TestStrategiesShareTheOrchestratedStore(t *testing.T) {
	app := mock.New("application")
	o := newTestOrchestrator(t, testConfig(), appEntry(app))
	ctx := context.Background()

	got, err := o.Strategies().CacheAside(ctx, "user:1", func(ctx context.Context) (interface{}, error) {
		return "loaded", nil
	}, strategy.Options{TTL: time.Minute})

	if err != nil || got != "loaded" {
		t.Fatalf("CacheAside = (%v, %v)", got, err)
	}
	if v, err := app.Get(ctx, "user:1"); err != nil || v != "loaded" {
		t.Fatal("strategy write did not land in the orchestrated levels")
	}
}

// mirroringLevel is a mock level that also keeps server-side tag sets.
type mirroringLevel struct {
	*mock.Level
	adds    int64
	removes int64
}

func (m *mirroringLevel) AddTagMembers(ctx context.Context, tag string, keys ...string) error {
	atomic.AddInt64(&m.adds, 1)
	return nil
}

func (m *mirroringLevel) RemoveTagMembers(ctx context.Context, tag string, keys ...string) error {
	atomic.AddInt64(&m.removes, 1)
	return nil
}

func TestTagMirroringReachesThroughMissGuard(t *testing.T) {
	base := &mirroringLevel{Level: mock.New("remote")}
	o := newTestOrchestrator(t, testConfig(), remoteEntry(bloom.New(base, 100, 0.01)))
	ctx := context.Background()

	if err := o.Set(ctx, "user:1", "v", SetOptions{Tags: []string{"users"}}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if atomic.LoadInt64(&base.adds) == 0 {
		t.Fatal("tag mirroring lost behind the miss guard")
	}

	if err := o.Delete(ctx, "user:1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if atomic.LoadInt64(&base.removes) == 0 {
		t.Fatal("tag unmirroring lost behind the miss guard")
	}
}
