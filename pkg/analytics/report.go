package analytics

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// KeyUsage is one key's activity over the report window.
type KeyUsage struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// Report is a point-in-time summary suitable for operators: current rates,
// the hottest keys, trend classification, and plain-language
// recommendations.
type Report struct {
	GeneratedAt time.Time      `json:"generated_at"`
	Window      time.Duration  `json:"window"`
	Levels      []LevelMetrics `json:"levels"`
	Aggregate   LevelMetrics   `json:"aggregate"`
	TopKeys     []KeyUsage     `json:"top_keys"`
	Trends      Trends         `json:"trends"`
	Alerts      []Alert        `json:"active_alerts"`

	Recommendations []string `json:"recommendations"`
}

// BuildReport assembles a report over the given window. topN bounds the
// hot-key list.
func (a *Analytics) BuildReport(window time.Duration, topN int) Report {
	if window <= 0 {
		window = time.Hour
	}
	if topN <= 0 {
		topN = 10
	}

	report := Report{
		GeneratedAt: time.Now(),
		Window:      window,
		Trends:      a.ClassifyTrends(),
		Alerts:      a.alerts.List(true),
	}

	if snap, ok := a.Latest(); ok {
		report.Levels = snap.Levels
		report.Aggregate = snap.Aggregate
	}

	report.TopKeys = a.topKeys(window, topN)
	report.Recommendations = recommend(report)
	return report
}

// topKeys ranks keys by operation count over the window.
func (a *Analytics) topKeys(window time.Duration, topN int) []KeyUsage {
	counts := make(map[string]int)
	for _, rec := range a.ops.Operations(time.Now().Add(-window)) {
		if rec.Key != "" {
			counts[rec.Key]++
		}
	}

	ranked := make([]KeyUsage, 0, len(counts))
	for key, count := range counts {
		ranked = append(ranked, KeyUsage{Key: key, Count: count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].Key < ranked[j].Key
	})

	if len(ranked) > topN {
		ranked = ranked[:topN]
	}
	return ranked
}

// recommend derives operator guidance from the report contents.
func recommend(report Report) []string {
	var recs []string

	if report.Aggregate.RequestCount > 0 && report.Aggregate.HitRate < 0.5 {
		recs = append(recs,
			"aggregate hit rate is below 50%; review TTLs and consider warming hot keys")
	}
	if report.Trends.HitRate == TrendDeclining {
		recs = append(recs,
			"hit rate is trending down; check for new uncached query patterns or recent invalidation storms")
	}
	if report.Trends.Memory == TrendDeclining {
		recs = append(recs,
			"memory usage is trending up; consider raising eviction limits or shortening TTLs")
	}
	if report.Trends.Latency == TrendDeclining {
		recs = append(recs,
			"response times are trending up; inspect remote tier health and network latency")
	}

	for _, lm := range report.Levels {
		if lm.RequestCount > 0 && lm.ErrorRate > 0.05 {
			recs = append(recs, fmt.Sprintf(
				"level %s error rate is %.1f%%; inspect its backing service", lm.Level, lm.ErrorRate*100))
		}
		if lm.EvictionCount > 0 && lm.RequestCount > 0 &&
			float64(lm.EvictionCount) > float64(lm.RequestCount)*0.1 {
			recs = append(recs, fmt.Sprintf(
				"level %s is evicting heavily; its capacity may be undersized", lm.Level))
		}
	}

	if len(recs) == 0 {
		recs = append(recs, "cache is healthy; no action needed")
	}
	return recs
}

// String renders the report for terminals and log files.
func (r Report) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Cache Report (%s window, generated %s)\n",
		r.Window, r.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Aggregate: %.1f%% hit rate over %d requests, avg %.2fms\n",
		r.Aggregate.HitRate*100, r.Aggregate.RequestCount, r.Aggregate.AvgResponseTimeMs)

	for _, lm := range r.Levels {
		fmt.Fprintf(&b, "  %-12s hit %.1f%%  reqs %-8d avg %.2fms  evictions %d\n",
			lm.Level, lm.HitRate*100, lm.RequestCount, lm.AvgResponseTimeMs, lm.EvictionCount)
	}

	fmt.Fprintf(&b, "Trends: hit rate %s, memory %s, latency %s\n",
		r.Trends.HitRate, r.Trends.Memory, r.Trends.Latency)

	if len(r.TopKeys) > 0 {
		b.WriteString("Top keys:\n")
		for _, ku := range r.TopKeys {
			fmt.Fprintf(&b, "  %-40s %d ops\n", ku.Key, ku.Count)
		}
	}

	if len(r.Alerts) > 0 {
		b.WriteString("Active alerts:\n")
		for _, alert := range r.Alerts {
			fmt.Fprintf(&b, "  [%s] %s: %s\n", alert.Severity, alert.Type, alert.Message)
		}
	}

	b.WriteString("Recommendations:\n")
	for _, rec := range r.Recommendations {
		fmt.Fprintf(&b, "  - %s\n", rec)
	}
	return b.String()
}
