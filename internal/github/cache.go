package github

import (
	"fmt"
	"sync"

	"github.com/PowerSchill/automation-concierge/internal/metrics"
)

// EntityCache memoizes entity detail for the duration of one poll cycle.
type EntityCache struct {
	mu      sync.Mutex
	entries map[string]*Entity
	hits    int
	misses  int
}

type CacheStats struct {
	Hits    int
	Misses  int
	Size    int
	HitRate float64
}

func NewEntityCache() *EntityCache {
	return &EntityCache{entries: make(map[string]*Entity)}
}

func EntityKey(owner, repo string, number int) string {
	return fmt.Sprintf("%s/%s#%d", owner, repo, number)
}

func (c *EntityCache) Get(owner, repo string, number int) (*Entity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[EntityKey(owner, repo, number)]
	if ok {
		c.hits++
		metrics.EntityCacheLookupsTotal.WithLabelValues("hit").Inc()
	} else {
		c.misses++
		metrics.EntityCacheLookupsTotal.WithLabelValues("miss").Inc()
	}
	return e, ok
}

func (c *EntityCache) Put(owner, repo string, number int, e *Entity) {
	c.mu.Lock()
	c.entries[EntityKey(owner, repo, number)] = e
	c.mu.Unlock()
}

// Clear drops all entries. Hit and miss counters are kept.
func (c *EntityCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*Entity)
	c.mu.Unlock()
}

func (c *EntityCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *EntityCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := CacheStats{Hits: c.hits, Misses: c.misses, Size: len(c.entries)}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}
