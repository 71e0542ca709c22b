package orchestrator

import (
	"sync"
	"time"
)

// OperationRecord is one entry of the append-only operation log. The log
// feeds the analytics sampler and the top-keys report.
type OperationRecord struct {
	Operation string        `json:"operation"` // get, set, delete, invalidate
	Key       string        `json:"key"`
	Level     string        `json:"level"` // serving or failing level, "" for orchestrated misses
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
	Success   bool          `json:"success"`
	SizeBytes int64         `json:"size_bytes,omitempty"`
	Error     string        `json:"error,omitempty"` // classified error label
}

// operationLog is a bounded ring buffer of operation records. Entries older
// than the retention window are pruned hourly.
type operationLog struct {
	mu      sync.Mutex
	records []OperationRecord
	next    int
	filled  bool

	retention time.Duration
	ticker    *time.Ticker
	stop      chan struct{}
	wg        sync.WaitGroup
}

func newOperationLog(size int, retention time.Duration) *operationLog {
	if size <= 0 {
		size = 10000
	}
	if retention <= 0 {
		retention = 24 * time.Hour
	}

	l := &operationLog{
		records:   make([]OperationRecord, size),
		retention: retention,
		ticker:    time.NewTicker(time.Hour),
		stop:      make(chan struct{}),
	}

	l.wg.Add(1)
	go l.pruneLoop()

	return l
}

func (l *operationLog) record(rec OperationRecord) {
	l.mu.Lock()
	l.records[l.next] = rec
	l.next++
	if l.next == len(l.records) {
		l.next = 0
		l.filled = true
	}
	l.mu.Unlock()
}

// since returns records newer than the cutoff, oldest first.
func (l *operationLog) since(cutoff time.Time) []OperationRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []OperationRecord
	appendIf := func(rec OperationRecord) {
		if !rec.Timestamp.IsZero() && rec.Timestamp.After(cutoff) {
			out = append(out, rec)
		}
	}

	if l.filled {
		for i := l.next; i < len(l.records); i++ {
			appendIf(l.records[i])
		}
	}
	for i := 0; i < l.next; i++ {
		appendIf(l.records[i])
	}
	return out
}

func (l *operationLog) pruneLoop() {
	defer l.wg.Done()

	for {
		select {
		case <-l.ticker.C:
			l.prune()
		case <-l.stop:
			return
		}
	}
}

// prune zeroes out records older than the retention window so they stop
// contributing to analytics windows.
func (l *operationLog) prune() {
	cutoff := time.Now().Add(-l.retention)

	l.mu.Lock()
	for i := range l.records {
		if !l.records[i].Timestamp.IsZero() && l.records[i].Timestamp.Before(cutoff) {
			l.records[i] = OperationRecord{}
		}
	}
	l.mu.Unlock()
}

func (l *operationLog) close() {
	l.ticker.Stop()
	close(l.stop)
	l.wg.Wait()
}
