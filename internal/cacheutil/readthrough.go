package cacheutil

import (
	"sync"
	"time"
)

// CachedValue represents a cached value with its fetch timestamp.
type CachedValue[T any] struct {
	Value     T
	FetchedAt time.Time
}

// ReadThrough implements a thread-safe read-through cache with double-checked
// locking: the fast path checks under RLock, and a miss re-validates under
// the write lock before fetching, so concurrent misses produce one fetch.
//
// Parameters:
//   - mu: RWMutex protecting the cache fields
//   - checkCache: returns the cached value if still fresh (called under RLock,
//     then re-called under Lock with a fresh timestamp)
//   - fetchAndCache: fetches and stores a new value (called under Lock)
//
// Usage:
//
//	func (c *Cached) getSnapshot(ctx context.Context) (*snapshot, error) {
//	    return cacheutil.ReadThrough(
//	        &c.mu,
//	        func(now time.Time) (*snapshot, bool) {
//	            if c.current.Value != nil && now.Sub(c.current.FetchedAt) < c.staleAfter {
//	                return c.current.Value, true
//	            }
//	            return nil, false
//	        },
//	        func(now time.Time) (*snapshot, error) {
//	            snap, err := c.fetch(ctx)
//	            if err != nil {
//	                return nil, err
//	            }
//	            c.current = cacheutil.CachedValue[*snapshot]{Value: snap, FetchedAt: now}
//	            return snap, nil
//	        },
//	    )
//	}
func ReadThrough[T any](
	mu *sync.RWMutex,
	checkCache func(now time.Time) (T, bool),
	fetchAndCache func(now time.Time) (T, error),
) (T, error) {
	now := time.Now()
	mu.RLock()
	if value, ok := checkCache(now); ok {
		mu.RUnlock()
		return value, nil
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()

	// Another goroutine may have populated the cache between RUnlock and
	// Lock; re-check with a fresh timestamp so newly cached data is not
	// treated as expired.
	nowAfterLock := time.Now()
	if value, ok := checkCache(nowAfterLock); ok {
		return value, nil
	}

	return fetchAndCache(nowAfterLock)
}
