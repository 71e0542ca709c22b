package analytics

import (
	"context"
	"testing"
	"time"

	"cache-orchestrator/pkg/cache"
	cachemem "cache-orchestrator/pkg/cache/memory"
	metricsmem "cache-orchestrator/pkg/metrics/memory"
	"cache-orchestrator/pkg/orchestrator"
)

// fakeStats returns canned per-level counters.
type fakeStats struct {
	levels []metricsmem.LevelStats
}

func (f *fakeStats) Levels() []metricsmem.LevelStats { return f.levels }

// fakeOps returns canned operation records.
type fakeOps struct {
	records []orchestrator.OperationRecord
}

func (f *fakeOps) Operations(since time.Time) []orchestrator.OperationRecord { return f.records }

func newTestAnalytics(config Config, stats StatsSource, ops OperationSource) *Analytics {
	if ops == nil {
		ops = &fakeOps{}
	}
	return New(config, stats, ops)
}

func TestSampleBuildsWeightedAggregate(t *testing.T) {
	stats := &fakeStats{levels: []metricsmem.LevelStats{
		{Level: "application", Hits: 90, Misses: 10, RequestCount: 100, AvgLatency: time.Millisecond},
		{Level: "remote", Hits: 100, Misses: 300, RequestCount: 400, AvgLatency: 10 * time.Millisecond},
	}}
	a := newTestAnalytics(Config{}, stats, nil)

	snap := a.Sample(context.Background())

	if len(snap.Levels) != 2 {
		t.Fatalf("levels = %d", len(snap.Levels))
	}

	// (0.9*100 + 0.25*400) / 500 = 0.38
	if got := snap.Aggregate.HitRate; got < 0.379 || got > 0.381 {
		t.Fatalf("aggregate hit rate = %v, want 0.38", got)
	}
	if snap.Aggregate.RequestCount != 500 {
		t.Fatalf("aggregate requests = %d, want 500", snap.Aggregate.RequestCount)
	}
	// (1*100 + 10*400) / 500 = 8.2ms
	if got := snap.Aggregate.AvgResponseTimeMs; got < 8.19 || got > 8.21 {
		t.Fatalf("aggregate latency = %v, want 8.2", got)
	}
}

func TestHistoryIsBounded(t *testing.T) {
	a := newTestAnalytics(Config{HistorySize: 3}, &fakeStats{}, nil)

	for i := 0; i < 5; i++ {
		a.Sample(context.Background())
	}

	if got := len(a.History()); got != 3 {
		t.Fatalf("history length = %d, want bounded at 3", got)
	}
}

func TestLatestBeforeFirstSample(t *testing.T) {
	a := newTestAnalytics(Config{}, &fakeStats{}, nil)

	if _, ok := a.Latest(); ok {
		t.Fatal("Latest reported a snapshot before any sample")
	}
}

func seedHistory(a *Analytics, hitRates []float64) {
	for _, hr := range hitRates {
		a.history = append(a.history, Snapshot{
			Timestamp: time.Now(),
			Aggregate: LevelMetrics{HitRate: hr, RequestCount: 100, AvgResponseTimeMs: 5, MemoryUsageBytes: 1000},
		})
	}
}

func TestTrendImprovingHitRate(t *testing.T) {
	a := newTestAnalytics(Config{}, &fakeStats{}, nil)
	seedHistory(a, []float64{0.5, 0.5, 0.8, 0.8})

	trends := a.ClassifyTrends()
	if trends.HitRate != TrendImproving {
		t.Fatalf("hit rate trend = %s, want improving", trends.HitRate)
	}
}

func TestTrendDecliningHitRate(t *testing.T) {
	a := newTestAnalytics(Config{}, &fakeStats{}, nil)
	seedHistory(a, []float64{0.8, 0.8, 0.5, 0.5})

	trends := a.ClassifyTrends()
	if trends.HitRate != TrendDeclining {
		t.Fatalf("hit rate trend = %s, want declining", trends.HitRate)
	}
}

func TestTrendStableInsideBand(t *testing.T) {
	a := newTestAnalytics(Config{}, &fakeStats{}, nil)
	// 2% change stays inside the default 5% band.
	seedHistory(a, []float64{0.80, 0.80, 0.816, 0.816})

	trends := a.ClassifyTrends()
	if trends.HitRate != TrendStable {
		t.Fatalf("hit rate trend = %s, want stable", trends.HitRate)
	}
}

func TestTrendRisingMemoryIsDeclining(t *testing.T) {
	a := newTestAnalytics(Config{}, &fakeStats{}, nil)
	now := time.Now()
	for i, mem := range []int64{1000, 1000, 2000, 2000} {
		a.history = append(a.history, Snapshot{
			Timestamp: now.Add(time.Duration(i) * time.Minute),
			Aggregate: LevelMetrics{MemoryUsageBytes: mem, RequestCount: 100},
		})
	}

	trends := a.ClassifyTrends()
	if trends.Memory != TrendDeclining {
		t.Fatalf("memory trend = %s, want declining when usage rises", trends.Memory)
	}
}

func TestTrendsWithShortHistoryAreStable(t *testing.T) {
	a := newTestAnalytics(Config{}, &fakeStats{}, nil)

	trends := a.ClassifyTrends()
	if trends.HitRate != TrendStable || trends.Memory != TrendStable || trends.Latency != TrendStable {
		t.Fatalf("trends = %+v, want all stable with no history", trends)
	}
}

func TestLowHitRateRaisesAlert(t *testing.T) {
	stats := &fakeStats{levels: []metricsmem.LevelStats{
		{Level: "application", Hits: 10, Misses: 90, RequestCount: 100},
	}}
	a := newTestAnalytics(Config{
		Thresholds: orchestrator.AlertThresholds{HitRate: 0.8},
	}, stats, nil)

	a.Sample(context.Background())

	alerts := a.Alerts().List(true)
	if len(alerts) != 1 || alerts[0].Type != AlertLowHitRate {
		t.Fatalf("alerts = %v, want one low-hit-rate alert", alerts)
	}
}

func TestZeroTrafficRaisesNoAlerts(t *testing.T) {
	a := newTestAnalytics(Config{
		Thresholds: orchestrator.AlertThresholds{HitRate: 0.8, ErrorRate: 0.01},
	}, &fakeStats{}, nil)

	a.Sample(context.Background())

	if got := a.Alerts().List(true); len(got) != 0 {
		t.Fatalf("alerts = %v, want none without traffic", got)
	}
}

func TestRepeatAlertsAreDeduplicated(t *testing.T) {
	stats := &fakeStats{levels: []metricsmem.LevelStats{
		{Level: "application", Hits: 0, Misses: 100, RequestCount: 100},
	}}
	a := newTestAnalytics(Config{
		Thresholds: orchestrator.AlertThresholds{HitRate: 0.8},
	}, stats, nil)

	for i := 0; i < 5; i++ {
		a.Sample(context.Background())
	}

	if got := len(a.Alerts().List(true)); got != 1 {
		t.Fatalf("alerts = %d, want 1 after dedup", got)
	}
}

func TestResolveAlert(t *testing.T) {
	book := NewAlertBook()
	alert, recorded := book.Raise(AlertHighMemory, SeverityCritical, "memory high")
	if !recorded {
		t.Fatal("first raise not recorded")
	}

	if !book.Resolve(alert.ID) {
		t.Fatal("Resolve failed for a known alert")
	}

	got, ok := book.Get(alert.ID)
	if !ok || !got.Resolved || got.ResolvedAt == nil {
		t.Fatalf("alert after resolve = %+v", got)
	}
	if len(book.List(true)) != 0 {
		t.Fatal("resolved alert still listed as unresolved")
	}
	if len(book.List(false)) != 1 {
		t.Fatal("resolved alert missing from the full list")
	}
}

func TestResolveUnknownAlert(t *testing.T) {
	book := NewAlertBook()
	if book.Resolve("nope") {
		t.Fatal("Resolve succeeded for an unknown ID")
	}
}

func TestBuildReportTopKeys(t *testing.T) {
	now := time.Now()
	ops := &fakeOps{records: []orchestrator.OperationRecord{
		{Operation: "get", Key: "hot", Timestamp: now},
		{Operation: "get", Key: "hot", Timestamp: now},
		{Operation: "get", Key: "hot", Timestamp: now},
		{Operation: "get", Key: "warm", Timestamp: now},
		{Operation: "get", Key: "warm", Timestamp: now},
		{Operation: "get", Key: "cold", Timestamp: now},
	}}
	a := newTestAnalytics(Config{}, &fakeStats{}, ops)

	report := a.BuildReport(time.Hour, 2)

	if len(report.TopKeys) != 2 {
		t.Fatalf("top keys = %v, want 2", report.TopKeys)
	}
	if report.TopKeys[0].Key != "hot" || report.TopKeys[0].Count != 3 {
		t.Fatalf("top key = %+v, want hot x3", report.TopKeys[0])
	}
	if report.TopKeys[1].Key != "warm" {
		t.Fatalf("second key = %+v, want warm", report.TopKeys[1])
	}
}

func TestReportHealthyRecommendation(t *testing.T) {
	a := newTestAnalytics(Config{}, &fakeStats{}, nil)

	report := a.BuildReport(time.Hour, 5)
	if len(report.Recommendations) != 1 {
		t.Fatalf("recommendations = %v, want the healthy default", report.Recommendations)
	}
}

func TestReportStringRenders(t *testing.T) {
	a := newTestAnalytics(Config{}, &fakeStats{levels: []metricsmem.LevelStats{
		{Level: "application", Hits: 9, Misses: 1, RequestCount: 10},
	}}, nil)
	a.Sample(context.Background())

	out := a.BuildReport(time.Hour, 5).String()
	if out == "" {
		t.Fatal("empty report rendering")
	}
}

func TestMemoryPressureRaisesHighMemoryAlert(t *testing.T) {
	stats := metricsmem.New()
	level := cachemem.New(cachemem.Config{MaxItems: 2})

	orch, err := orchestrator.New(orchestrator.Config{
		DefaultTTL:       time.Minute,
		OperationLogSize: 100,
		Metrics:          stats,
	}, orchestrator.LevelEntry{
		Level: level,
		Descriptor: cache.Descriptor{
			Name: cache.LevelApplication, TTL: time.Minute, Enabled: true, Priority: 1,
		},
	})
	if err != nil {
		t.Fatalf("orchestrator.New: %v", err)
	}
	t.Cleanup(func() { orch.Close() })

	ctx := context.Background()
	for _, key := range []string{"a", "b", "c"} {
		if err := orch.Set(ctx, key, "v", orchestrator.SetOptions{}); err != nil {
			t.Fatalf("Set %s: %v", key, err)
		}
	}

	a := New(Config{
		Thresholds: orchestrator.AlertThresholds{MemoryUsage: 1},
	}, stats, orch)

	snap := a.Sample(ctx)

	if snap.Aggregate.MemoryUsageBytes == 0 {
		t.Fatal("snapshot reports no memory usage while the tier holds entries")
	}
	if snap.Aggregate.EvictionCount == 0 {
		t.Fatal("snapshot reports no evictions while the tier evicted")
	}

	alerts := a.Alerts().List(true)
	if len(alerts) != 1 || alerts[0].Type != AlertHighMemory {
		t.Fatalf("alerts = %v, want one high-memory alert", alerts)
	}
}
