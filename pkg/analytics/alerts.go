package analytics

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AlertType identifies what threshold was crossed.
type AlertType string

const (
	AlertLowHitRate    AlertType = "low_hit_rate"
	AlertHighMemory    AlertType = "high_memory_usage"
	AlertHighErrorRate AlertType = "high_error_rate"
)

// Severity ranks an alert.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is a raised threshold violation. Alerts are never resolved
// automatically; an operator acknowledges them through Resolve.
type Alert struct {
	ID         string     `json:"id"`
	Type       AlertType  `json:"type"`
	Severity   Severity   `json:"severity"`
	Message    string     `json:"message"`
	Timestamp  time.Time  `json:"timestamp"`
	Resolved   bool       `json:"resolved"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// dedupWindow collapses repeat alerts of the same type raised within the
// same window into one.
const dedupWindow = 5 * time.Minute

// AlertBook stores raised alerts and deduplicates repeats.
type AlertBook struct {
	mu     sync.RWMutex
	alerts map[string]*Alert
	// lastRaised tracks the newest unresolved alert per type for dedup.
	lastRaised map[AlertType]time.Time
}

// NewAlertBook creates an empty alert book.
func NewAlertBook() *AlertBook {
	return &AlertBook{
		alerts:     make(map[string]*Alert),
		lastRaised: make(map[AlertType]time.Time),
	}
}

// Raise records an alert unless one of the same type was raised inside the
// dedup window. Returns the alert and whether it was newly recorded.
func (b *AlertBook) Raise(alertType AlertType, severity Severity, message string) (Alert, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if last, ok := b.lastRaised[alertType]; ok && now.Sub(last) < dedupWindow {
		return Alert{}, false
	}

	alert := &Alert{
		ID:        uuid.NewString(),
		Type:      alertType,
		Severity:  severity,
		Message:   message,
		Timestamp: now,
	}
	b.alerts[alert.ID] = alert
	b.lastRaised[alertType] = now
	return *alert, true
}

// Resolve marks an alert acknowledged. Returns false for unknown IDs.
func (b *AlertBook) Resolve(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	alert, ok := b.alerts[id]
	if !ok || alert.Resolved {
		return ok && alert.Resolved
	}

	now := time.Now()
	alert.Resolved = true
	alert.ResolvedAt = &now
	return true
}

// List returns alerts newest first. With onlyUnresolved set, resolved
// alerts are filtered out.
func (b *AlertBook) List(onlyUnresolved bool) []Alert {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Alert, 0, len(b.alerts))
	for _, alert := range b.alerts {
		if onlyUnresolved && alert.Resolved {
			continue
		}
		out = append(out, *alert)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

// Get looks up a single alert by ID.
func (b *AlertBook) Get(id string) (Alert, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	alert, ok := b.alerts[id]
	if !ok {
		return Alert{}, false
	}
	return *alert, true
}

// Alerts exposes the alert book.
func (a *Analytics) Alerts() *AlertBook {
	return a.alerts
}

// evaluateAlerts checks the snapshot's aggregate against the configured
// thresholds. Zero-traffic snapshots raise nothing.
func (a *Analytics) evaluateAlerts(snap Snapshot) {
	agg := snap.Aggregate
	thresholds := a.config.Thresholds

	if thresholds.HitRate > 0 && agg.RequestCount > 0 && agg.HitRate < thresholds.HitRate {
		a.raise(AlertLowHitRate, SeverityWarning,
			fmt.Sprintf("aggregate hit rate %.1f%% below threshold %.1f%%",
				agg.HitRate*100, thresholds.HitRate*100))
	}

	if thresholds.MemoryUsage > 0 && agg.MemoryUsageBytes > thresholds.MemoryUsage {
		a.raise(AlertHighMemory, SeverityCritical,
			fmt.Sprintf("memory usage %d bytes above threshold %d",
				agg.MemoryUsageBytes, thresholds.MemoryUsage))
	}

	if thresholds.ErrorRate > 0 && agg.RequestCount > 0 && agg.ErrorRate > thresholds.ErrorRate {
		a.raise(AlertHighErrorRate, SeverityCritical,
			fmt.Sprintf("error rate %.2f%% above threshold %.2f%%",
				agg.ErrorRate*100, thresholds.ErrorRate*100))
	}
}

func (a *Analytics) raise(alertType AlertType, severity Severity, message string) {
	alert, recorded := a.alerts.Raise(alertType, severity, message)
	if !recorded {
		return
	}
	a.logger.Warn("alert raised",
		zap.String("id", alert.ID),
		zap.String("type", string(alert.Type)),
		zap.String("severity", string(alert.Severity)),
		zap.String("message", alert.Message))
}
