// Package tags implements tag-based and pattern-based cache invalidation:
// a bidirectional key/tag index, a batched invalidation event queue, and a
// bounded breadth-first cascade over related keys.
package tags

import (
	"path"
	"sync"
)

// Index maintains the tag→keys and key→tags maps. Both directions are kept
// consistent under one mutex: a key listed under a tag always lists that tag,
// removing a key clears both sides, and a tag with no keys is pruned.
//
// Only keys registered here participate in logical (tag or pattern)
// invalidation; untagged keys can only be removed by direct key.
type Index struct {
	mu        sync.RWMutex
	tagToKeys map[string]map[string]struct{}
	keyToTags map[string]map[string]struct{}
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{
		tagToKeys: make(map[string]map[string]struct{}),
		keyToTags: make(map[string]map[string]struct{}),
	}
}

// Attach associates a key with the given tags.
func (ix *Index) Attach(key string, tags ...string) {
	if len(tags) == 0 {
		return
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	keyTags, ok := ix.keyToTags[key]
	if !ok {
		keyTags = make(map[string]struct{}, len(tags))
		ix.keyToTags[key] = keyTags
	}

	for _, tag := range tags {
		if tag == "" {
			continue
		}
		keyTags[tag] = struct{}{}

		keys, ok := ix.tagToKeys[tag]
		if !ok {
			keys = make(map[string]struct{})
			ix.tagToKeys[tag] = keys
		}
		keys[key] = struct{}{}
	}
}

// Remove clears a key from both directions, pruning emptied tags.
// Removing an unknown key is a no-op, which is what lets silently expired
// entries ("phantom tags") self-resolve the next time they are targeted.
func (ix *Index) Remove(key string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.removeLocked(key)
}

func (ix *Index) removeLocked(key string) {
	keyTags, ok := ix.keyToTags[key]
	if !ok {
		return
	}

	for tag := range keyTags {
		keys := ix.tagToKeys[tag]
		delete(keys, key)
		if len(keys) == 0 {
			delete(ix.tagToKeys, tag)
		}
	}
	delete(ix.keyToTags, key)
}

// KeysForTags returns the union of keys under the given tags.
func (ix *Index) KeysForTags(tags []string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, tag := range tags {
		for key := range ix.tagToKeys[tag] {
			seen[key] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for key := range seen {
		out = append(out, key)
	}
	return out
}

// TagsForKey returns the tags attached to a key.
func (ix *Index) TagsForKey(key string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	out := make([]string, 0, len(ix.keyToTags[key]))
	for tag := range ix.keyToTags[key] {
		out = append(out, tag)
	}
	return out
}

// KeysMatching returns all indexed keys matching the glob pattern. The match
// runs against the key→tag map's key set only, never the underlying stores.
func (ix *Index) KeysMatching(pattern string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var out []string
	for key := range ix.keyToTags {
		if ok, err := path.Match(pattern, key); err == nil && ok {
			out = append(out, key)
		}
	}
	return out
}

// Len returns the number of indexed keys.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.keyToTags)
}

// TagCount returns the number of live tags.
func (ix *Index) TagCount() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.tagToKeys)
}

// Clear drops the whole index.
func (ix *Index) Clear() {
	ix.mu.Lock()
	ix.tagToKeys = make(map[string]map[string]struct{})
	ix.keyToTags = make(map[string]map[string]struct{})
	ix.mu.Unlock()
}
