package mutation

import "sync"

type ordinalKey struct {
	owner string
	hash  uint64
}

// ordinalTracker hands out 0-based replica ordinals per (owner, spec hash).
type ordinalTracker struct {
	mu    sync.Mutex
	next  map[ordinalKey]int
	names map[ordinalKey]map[string]int
}

func newOrdinalTracker() *ordinalTracker {
	return &ordinalTracker{
		next:  make(map[ordinalKey]int),
		names: make(map[ordinalKey]map[string]int),
	}
}

// Next returns the ordinal for a pod. A named pod seen before keeps its ordinal so
// that retried admissions do not skip replicas; unnamed pods always get a new one.
func (t *ordinalTracker) Next(owner string, hash uint64, podName string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := ordinalKey{owner: owner, hash: hash}
	if podName != "" {
		if ord, ok := t.names[key][podName]; ok {
			return ord
		}
	}

	ord := t.next[key]
	t.next[key] = ord + 1

	if podName != "" {
		if t.names[key] == nil {
			t.names[key] = make(map[string]int)
		}
		t.names[key][podName] = ord
	}
	return ord
}

// Peek returns the ordinal Next would return without recording it.
func (t *ordinalTracker) Peek(owner string, hash uint64, podName string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := ordinalKey{owner: owner, hash: hash}
	if podName != "" {
		if ord, ok := t.names[key][podName]; ok {
			return ord
		}
	}
	return t.next[key]
}
