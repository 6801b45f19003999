package filter

import (
	"encoding/json"
	"fmt"
	"sync"

	"skywatch/internal/model"
)

type cacheEntry struct {
	spec    string
	matcher Matcher
	err     error
}

// Cache memoizes compiled matchers per subscription so a predicate is
// compiled once and re-used across events. The cache lives beside the
// domain model instead of inside it; entries are invalidated when the
// subscription's filter text changes.
type Cache struct {
	mu      sync.Mutex
	entries map[uint64]*cacheEntry
}

// NewCache creates an empty matcher cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[uint64]*cacheEntry)}
}

// Matcher returns the compiled matcher for the subscription's filter. An
// empty filter yields a nil matcher, which callers treat as always-pass.
// Compile errors are memoized too, so a broken filter is not re-parsed per
// event.
func (c *Cache) Matcher(sub *model.Subscription) (Matcher, error) {
	if sub.Filter == "" {
		return nil, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[sub.ID]; ok && e.spec == sub.Filter {
		return e.matcher, e.err
	}

	e := &cacheEntry{spec: sub.Filter}
	var spec map[string]string
	if err := json.Unmarshal([]byte(sub.Filter), &spec); err != nil {
		e.err = fmt.Errorf("parse filter of subscription %d: %w", sub.ID, err)
	} else {
		e.matcher, e.err = Compile(spec)
	}
	c.entries[sub.ID] = e
	return e.matcher, e.err
}

// Invalidate drops the cached matcher of a subscription.
func (c *Cache) Invalidate(subID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, subID)
}
