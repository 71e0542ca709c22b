package tags

import (
	"sync"
	"testing"
	"time"
)

// batchRecorder captures handler invocations.
type batchRecorder struct {
	mu      sync.Mutex
	batches [][]Event
}

func (r *batchRecorder) handle(batch []Event) {
	r.mu.Lock()
	r.batches = append(r.batches, batch)
	r.mu.Unlock()
}

func (r *batchRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func (r *batchRecorder) last() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.batches) == 0 {
		return nil
	}
	return r.batches[len(r.batches)-1]
}

func TestQueueDrainsOnDemand(t *testing.T) {
	rec := &batchRecorder{}
	q := NewQueue(QueueConfig{BatchSize: 100, FlushInterval: time.Hour}, rec.handle)
	defer q.Close()

	q.Enqueue(Event{Type: EventUpdate, Entity: "user", EntityID: "1", Tags: []string{"user:1"}})
	q.Enqueue(Event{Type: EventUpdate, Entity: "user", EntityID: "2", Tags: []string{"user:2"}})

	if q.Depth() != 2 {
		t.Fatalf("Depth = %d, want 2", q.Depth())
	}

	q.Drain()

	if q.Depth() != 0 {
		t.Fatalf("Depth after drain = %d, want 0", q.Depth())
	}
	if got := len(rec.last()); got != 2 {
		t.Fatalf("batch size = %d, want 2", got)
	}
}

func TestQueueDrainsWhenBatchFull(t *testing.T) {
	rec := &batchRecorder{}
	q := NewQueue(QueueConfig{BatchSize: 3, FlushInterval: time.Hour}, rec.handle)
	defer q.Close()

	for i := 0; i < 3; i++ {
		q.Enqueue(Event{Type: EventUpdate, Entity: "user", EntityID: "1", Tags: []string{"users"}})
	}

	deadline := time.Now().Add(time.Second)
	for rec.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if rec.count() == 0 {
		t.Fatal("full batch never drained")
	}
}

func TestQueueDrainsOnInterval(t *testing.T) {
	rec := &batchRecorder{}
	q := NewQueue(QueueConfig{BatchSize: 100, FlushInterval: 10 * time.Millisecond}, rec.handle)
	defer q.Close()

	q.Enqueue(Event{Type: EventCreate, Entity: "user", EntityID: "1", Tags: []string{"users"}})

	deadline := time.Now().Add(time.Second)
	for rec.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if rec.count() == 0 {
		t.Fatal("timer tick never drained the queue")
	}
}

func TestCloseFlushesPending(t *testing.T) {
	rec := &batchRecorder{}
	q := NewQueue(QueueConfig{BatchSize: 100, FlushInterval: time.Hour}, rec.handle)

	q.Enqueue(Event{Type: EventDelete, Entity: "user", EntityID: "9", Tags: []string{"user:9"}})
	q.Close()

	if rec.count() == 0 {
		t.Fatal("Close dropped pending events")
	}
}

func TestGroupEventsCollapsesSameEntity(t *testing.T) {
	now := time.Now()
	batch := []Event{
		{Type: EventUpdate, Entity: "user", EntityID: "1", Tags: []string{"user:1"}, Timestamp: now},
		{Type: EventUpdate, Entity: "user", EntityID: "1", Tags: []string{"users"}, Timestamp: now.Add(time.Second)},
		{Type: EventDelete, Entity: "user", EntityID: "1", Tags: []string{"user:1"}, Timestamp: now},
		{Type: EventUpdate, Entity: "user", EntityID: "2", Tags: []string{"user:2"}, Timestamp: now},
	}

	grouped := groupEvents(batch)

	if len(grouped) != 3 {
		t.Fatalf("groups = %d, want 3 (update/1, delete/1, update/2)", len(grouped))
	}

	first := grouped[0]
	if first.Entity != "user" || first.EntityID != "1" || first.Type != EventUpdate {
		t.Fatalf("unexpected first group: %+v", first)
	}
	if len(first.Tags) != 2 {
		t.Fatalf("tags not unioned: %v", first.Tags)
	}
	if !first.Timestamp.Equal(now.Add(time.Second)) {
		t.Fatal("group did not keep the latest timestamp")
	}
}

func TestGroupEventsDedupesTags(t *testing.T) {
	batch := []Event{
		{Type: EventUpdate, Entity: "user", EntityID: "1", Tags: []string{"users", "user:1"}},
		{Type: EventUpdate, Entity: "user", EntityID: "1", Tags: []string{"users"}},
	}

	grouped := groupEvents(batch)
	if len(grouped) != 1 {
		t.Fatalf("groups = %d, want 1", len(grouped))
	}
	if len(grouped[0].Tags) != 2 {
		t.Fatalf("tags = %v, want deduped pair", grouped[0].Tags)
	}
}

func TestEnqueueStampsTimestamp(t *testing.T) {
	q := NewQueue(QueueConfig{BatchSize: 100, FlushInterval: time.Hour}, func([]Event) {})
	defer q.Close()

	q.Enqueue(Event{Type: EventUpdate, Entity: "user", EntityID: "1"})

	q.mu.Lock()
	stamped := !q.pending[0].Timestamp.IsZero()
	q.mu.Unlock()

	if !stamped {
		t.Fatal("Enqueue did not stamp a zero timestamp")
	}
}
