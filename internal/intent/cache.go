package intent

import (
	"container/list"
	"sync"
	"time"
)

// CacheStats is an exact snapshot of cache effectiveness. HitRate is
// Hits / (Hits + Misses), 0 when no lookups have happened.
type CacheStats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
	Size    int     `json:"size"`
}

type cacheEntry struct {
	key        string
	value      Classification
	insertedAt time.Time
}

// classificationCache is a bounded TTL cache keyed by normalized query.
// When full, the oldest insertion is evicted. Expired entries count as
// misses and are dropped on lookup.
type classificationCache struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	entries map[string]*list.Element
	order   *list.List // front = oldest insertion
	hits    int64
	misses  int64
	now     func() time.Time
}

func newClassificationCache(maxSize int, ttl time.Duration) *classificationCache {
	if maxSize <= 0 {
		maxSize = 500
	}
	return &classificationCache{
		maxSize: maxSize,
		ttl:     ttl,
		entries: make(map[string]*list.Element),
		order:   list.New(),
		now:     time.Now,
	}
}

func (c *classificationCache) get(key string) (Classification, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		c.misses++
		return Classification{}, false
	}
	entry := elem.Value.(*cacheEntry)
	if c.now().Sub(entry.insertedAt) > c.ttl {
		c.order.Remove(elem)
		delete(c.entries, key)
		c.misses++
		return Classification{}, false
	}
	c.hits++
	return entry.value, true
}

func (c *classificationCache) put(key string, value Classification) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		// Re-insertion refreshes both value and age.
		c.order.Remove(elem)
		delete(c.entries, key)
	}
	for len(c.entries) >= c.maxSize {
		oldest := c.order.Front()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
	c.entries[key] = c.order.PushBack(&cacheEntry{key: key, value: value, insertedAt: c.now()})
}

func (c *classificationCache) stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := CacheStats{Hits: c.hits, Misses: c.misses, Size: len(c.entries)}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}
