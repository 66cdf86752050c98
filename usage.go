package serversession

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// UsageTracker is a read-mostly set membership tracker used to enforce
// soft capacity limits (distinct client ids, issuers) without
// serializing the hot read path. Reads are lock-free against an
// atomically swapped immutable set; the rare insert takes a lock,
// re-checks, and swaps in a fresh copy containing the new key.
type UsageTracker struct {
	mu     sync.Mutex
	set    atomic.Pointer[map[string]struct{}]
	limit  int
	strict bool
}

// NewUsageTracker builds a tracker with the given soft limit. limit <= 0
// disables limit checking. In strict mode, exceeding the limit turns
// Track into a hard failure instead of a reported warning.
func NewUsageTracker(limit int, strict bool) *UsageTracker {
	t := &UsageTracker{limit: limit, strict: strict}
	empty := map[string]struct{}{}
	t.set.Store(&empty)
	return t
}

// Track records the key. The common already-known case returns without
// taking the lock. In strict mode an insert that pushes the set past the
// limit returns ErrUsageLimitExceeded; otherwise exceeding the limit is
// left to CheckLimit.
func (t *UsageTracker) Track(key string) error {
	if _, ok := (*t.set.Load())[key]; ok {
		return nil
	}

	t.mu.Lock()
	current := *t.set.Load()
	if _, ok := current[key]; ok {
		// Another goroutine inserted between the lock-free check and the
		// lock acquisition.
		t.mu.Unlock()
		return nil
	}

	// The set is immutable once published, so readers never see a map
	// being written. Copy cost is paid only on the rare insert.
	next := make(map[string]struct{}, len(current)+1)
	for k := range current {
		next[k] = struct{}{}
	}
	next[key] = struct{}{}
	t.set.Store(&next)
	size := len(next)
	t.mu.Unlock()

	if t.strict && t.limit > 0 && size > t.limit {
		return fmt.Errorf("%w: %d keys tracked, limit %d", ErrUsageLimitExceeded, size, t.limit)
	}
	return nil
}

// CheckLimit reports whether the current set size is within limit. A
// non-positive limit always passes.
func (t *UsageTracker) CheckLimit(limit int) bool {
	if limit <= 0 {
		return true
	}
	return len(*t.set.Load()) <= limit
}

// Count returns the number of distinct keys tracked.
func (t *UsageTracker) Count() int {
	return len(*t.set.Load())
}

// Known reports whether the key has been tracked.
func (t *UsageTracker) Known(key string) bool {
	_, ok := (*t.set.Load())[key]
	return ok
}
