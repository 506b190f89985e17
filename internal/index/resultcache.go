package index

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ResultCache memoizes filter results keyed by (normalized filter, limit,
// offset). Entries expire after the configured age cap.
type ResultCache struct {
	lru    *lru.Cache[string, *cachedResult]
	maxAge time.Duration
	now    func() time.Time
}

type cachedResult struct {
	matches  []Match
	hasMore  bool
	storedAt time.Time
}

// NewResultCache builds a cache of at most size entries aged out after
// maxAge.
func NewResultCache(size int, maxAge time.Duration) (*ResultCache, error) {
	l, err := lru.New[string, *cachedResult](size)
	if err != nil {
		return nil, err
	}
	return &ResultCache{lru: l, maxAge: maxAge, now: time.Now}, nil
}

func resultKey(filter string, limit, offset int) string {
	return fmt.Sprintf("%s|%d|%d", filter, limit, offset)
}

// Get returns a cached page if present and young enough.
func (c *ResultCache) Get(filter string, limit, offset int) ([]Match, bool, bool) {
	e, ok := c.lru.Get(resultKey(filter, limit, offset))
	if !ok {
		return nil, false, false
	}
	if c.now().Sub(e.storedAt) > c.maxAge {
		c.lru.Remove(resultKey(filter, limit, offset))
		return nil, false, false
	}
	return e.matches, e.hasMore, true
}

// Put stores a page.
func (c *ResultCache) Put(filter string, limit, offset int, matches []Match, hasMore bool) {
	c.lru.Add(resultKey(filter, limit, offset), &cachedResult{
		matches:  matches,
		hasMore:  hasMore,
		storedAt: c.now(),
	})
}

// Len reports the number of cached pages.
func (c *ResultCache) Len() int { return c.lru.Len() }
