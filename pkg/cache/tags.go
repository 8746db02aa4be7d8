package cache

import "sync"

// tagIndex maps tag names to the set of composed keys currently carrying
// that tag. It is process-local bookkeeping, not a source of truth: losing
// it degrades invalidation precision but never produces stale hits, because
// entries still expire by TTL.
type tagIndex struct {
	mu   sync.Mutex
	tags map[string]map[string]struct{}
}

func newTagIndex() *tagIndex {
	return &tagIndex{
		tags: make(map[string]map[string]struct{}),
	}
}

// add registers key under every tag.
func (ti *tagIndex) add(key string, tags []string) {
	if len(tags) == 0 {
		return
	}

	ti.mu.Lock()
	defer ti.mu.Unlock()

	for _, tag := range tags {
		keys, ok := ti.tags[tag]
		if !ok {
			keys = make(map[string]struct{})
			ti.tags[tag] = keys
		}
		keys[key] = struct{}{}
	}
}

// removeKey prunes key from every tag it appears under.
// Empty tags are dropped entirely to keep the index bounded.
func (ti *tagIndex) removeKey(key string) {
	ti.mu.Lock()
	defer ti.mu.Unlock()

	for tag, keys := range ti.tags {
		if _, ok := keys[key]; ok {
			delete(keys, key)
			if len(keys) == 0 {
				delete(ti.tags, tag)
			}
		}
	}
}

// take removes a tag's entry from the index and returns its keys.
// Subsequent calls for the same tag return nil, which makes tag
// invalidation idempotent.
func (ti *tagIndex) take(tag string) []string {
	ti.mu.Lock()
	defer ti.mu.Unlock()

	keys, ok := ti.tags[tag]
	if !ok {
		return nil
	}
	delete(ti.tags, tag)

	out := make([]string, 0, len(keys))
	for key := range keys {
		out = append(out, key)
	}
	return out
}

// keys returns a copy of the key set for tag without removing it.
func (ti *tagIndex) keys(tag string) []string {
	ti.mu.Lock()
	defer ti.mu.Unlock()

	keys, ok := ti.tags[tag]
	if !ok {
		return nil
	}

	out := make([]string, 0, len(keys))
	for key := range keys {
		out = append(out, key)
	}
	return out
}

// size returns the number of distinct tags currently indexed.
func (ti *tagIndex) size() int {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	return len(ti.tags)
}
