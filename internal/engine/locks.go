package engine

import "sync"

// lidLocks serializes requests that share a loyalty ID. The daily-count
// upsert returns this request's position in today's sequence; the lock is
// held from that write through the profile upsert so the position a request
// writes is the position it judges. Entries are reference counted and
// removed when the last holder releases, so the map stays proportional to
// in-flight loyalty IDs, not to all IDs ever seen.
type lidLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newLIDLocks() *lidLocks {
	return &lidLocks{entries: make(map[string]*lockEntry)}
}

// lock blocks until the key is held and returns the release function.
func (l *lidLocks) lock(key string) func() {
	l.mu.Lock()
	entry, ok := l.entries[key]
	if !ok {
		entry = &lockEntry{}
		l.entries[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.entries, key)
		}
		l.mu.Unlock()
	}
}
