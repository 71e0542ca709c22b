package tags

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
)

// recordingDeleter collects deleted keys and optionally fails some of them.
type recordingDeleter struct {
	mu      sync.Mutex
	deleted []string
	failOn  map[string]bool
}

func (d *recordingDeleter) delete(ctx context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deleted = append(d.deleted, key)
	if d.failOn[key] {
		return errors.New("level down")
	}
	return nil
}

func (d *recordingDeleter) keys() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := append([]string(nil), d.deleted...)
	sort.Strings(out)
	return out
}

func TestInvalidateByTags(t *testing.T) {
	ix := NewIndex()
	ix.Attach("user:42", "user:42", "users")
	ix.Attach("user:43", "users")
	ix.Attach("session:9", "sessions")

	del := &recordingDeleter{}
	inv := NewInvalidator(ix, del.delete, InvalidatorConfig{})

	n := inv.InvalidateByTags(context.Background(), []string{"users"})

	if n != 2 {
		t.Fatalf("invalidated %d keys, want 2", n)
	}
	want := []string{"user:42", "user:43"}
	if got := del.keys(); len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("deleted %v, want %v", got, want)
	}
	if ix.Len() != 1 {
		t.Fatalf("index len = %d, want only session:9 left", ix.Len())
	}
}

func TestInvalidateUnknownTagIsZero(t *testing.T) {
	inv := NewInvalidator(NewIndex(), (&recordingDeleter{}).delete, InvalidatorConfig{})

	if n := inv.InvalidateByTags(context.Background(), []string{"ghost"}); n != 0 {
		t.Fatalf("got %d, want 0", n)
	}
}

func TestCascadeDepthZeroStopsAtSeed(t *testing.T) {
	ix := NewIndex()
	ix.Attach("user:42", "users")
	ix.Attach("profile:42", "profiles")

	del := &recordingDeleter{}
	inv := NewInvalidator(ix, del.delete, InvalidatorConfig{
		CascadeDepth: 0,
		Resolver:     NewRuleResolver(Rule{Pattern: "user:*", Related: []string{"profile:*"}}),
	})

	n := inv.InvalidateByTags(context.Background(), []string{"users"})

	if n != 1 {
		t.Fatalf("invalidated %d, want seed only", n)
	}
	if got := del.keys(); len(got) != 1 || got[0] != "user:42" {
		t.Fatalf("deleted %v, want [user:42]", got)
	}
}

func TestCascadeFollowsRelatedKeys(t *testing.T) {
	ix := NewIndex()
	ix.Attach("user:42", "users")
	ix.Attach("profile:42", "profiles")
	ix.Attach("feed:42", "feeds")

	del := &recordingDeleter{}
	inv := NewInvalidator(ix, del.delete, InvalidatorConfig{
		CascadeDepth: 2,
		Resolver: NewRuleResolver(
			Rule{Pattern: "user:*", Related: []string{"profile:*"}},
			Rule{Pattern: "profile:*", Related: []string{"feed:*"}},
		),
	})

	n := inv.InvalidateByTags(context.Background(), []string{"users"})

	if n != 3 {
		t.Fatalf("invalidated %d, want 3 across two generations", n)
	}
	want := []string{"feed:42", "profile:42", "user:42"}
	got := del.keys()
	if len(got) != 3 || got[0] != want[0] || got[1] != want[1] || got[2] != want[2] {
		t.Fatalf("deleted %v, want %v", got, want)
	}
}

func TestCascadeDepthBoundsGenerations(t *testing.T) {
	ix := NewIndex()
	ix.Attach("user:42", "users")

	del := &recordingDeleter{}
	inv := NewInvalidator(ix, del.delete, InvalidatorConfig{
		CascadeDepth: 1,
		Resolver: NewRuleResolver(
			Rule{Pattern: "user:*", Related: []string{"profile:*"}},
			Rule{Pattern: "profile:*", Related: []string{"feed:*"}},
		),
	})

	n := inv.InvalidateByTags(context.Background(), []string{"users"})

	// Depth 1 reaches profile:42 but never feed:42.
	if n != 2 {
		t.Fatalf("invalidated %d, want 2", n)
	}
	for _, key := range del.keys() {
		if key == "feed:42" {
			t.Fatal("cascade exceeded its depth bound")
		}
	}
}

func TestCascadeCycleVisitsEachKeyOnce(t *testing.T) {
	ix := NewIndex()
	ix.Attach("a", "t")

	del := &recordingDeleter{}
	inv := NewInvalidator(ix, del.delete, InvalidatorConfig{
		CascadeDepth: 10,
		Resolver: NewRuleResolver(
			Rule{Pattern: "a", Related: []string{"b"}},
			Rule{Pattern: "b", Related: []string{"a"}},
		),
	})

	n := inv.InvalidateByTags(context.Background(), []string{"t"})

	if n != 2 {
		t.Fatalf("invalidated %d, want 2 despite the cycle", n)
	}
}

func TestDeleteFailureDoesNotStopSweep(t *testing.T) {
	ix := NewIndex()
	ix.Attach("a", "t")
	ix.Attach("b", "t")
	ix.Attach("c", "t")

	del := &recordingDeleter{failOn: map[string]bool{"b": true}}
	inv := NewInvalidator(ix, del.delete, InvalidatorConfig{})

	n := inv.InvalidateByTags(context.Background(), []string{"t"})

	if n != 3 {
		t.Fatalf("invalidated %d, want all 3", n)
	}
	if ix.Len() != 0 {
		t.Fatal("failed delete left keys in the index")
	}
}

func TestInvalidateByPattern(t *testing.T) {
	ix := NewIndex()
	ix.Attach("user:1", "users")
	ix.Attach("user:2", "users")
	ix.Attach("order:1", "orders")

	del := &recordingDeleter{}
	inv := NewInvalidator(ix, del.delete, InvalidatorConfig{})

	n := inv.InvalidateByPattern(context.Background(), "user:*")

	if n != 2 {
		t.Fatalf("invalidated %d, want 2", n)
	}
	if keys := ix.KeysForTags([]string{"orders"}); len(keys) != 1 {
		t.Fatal("pattern invalidation touched an unrelated key")
	}
}

func TestRuleResolverCapture(t *testing.T) {
	resolver := NewRuleResolver(
		Rule{Pattern: "user:*", Related: []string{"user:*:profile", "applications:student:*"}},
		Rule{Pattern: "static", Related: []string{"other"}},
	)

	cases := []struct {
		key  string
		want []string
	}{
		{"user:42", []string{"user:42:profile", "applications:student:42"}},
		{"static", []string{"other"}},
		{"order:42", nil},
	}

	for _, tc := range cases {
		got := resolver.Related(tc.key)
		if len(got) != len(tc.want) {
			t.Fatalf("Related(%q) = %v, want %v", tc.key, got, tc.want)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("Related(%q) = %v, want %v", tc.key, got, tc.want)
			}
		}
	}
}
