package route

import (
	"strings"
	"sync"
	"time"
)

type cachedDecision struct {
	decision Decision
	storedAt time.Time
}

// decisionCache remembers classifier decisions per normalized question.
// It is bounded; when full the oldest entry is evicted.
type decisionCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	size    int
	entries map[string]cachedDecision
	order   []string
}

func newDecisionCache(size int, ttl time.Duration) *decisionCache {
	return &decisionCache{
		ttl:     ttl,
		size:    size,
		entries: make(map[string]cachedDecision, size),
	}
}

func cacheKey(question string) string {
	return strings.Join(words(question), " ")
}

func (c *decisionCache) get(question string) (Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[cacheKey(question)]
	if !ok {
		return Decision{}, false
	}
	if c.ttl > 0 && time.Since(entry.storedAt) > c.ttl {
		return Decision{}, false
	}
	return entry.decision, true
}

func (c *decisionCache) set(question string, d Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := cacheKey(question)
	if _, ok := c.entries[key]; !ok {
		c.order = append(c.order, key)
	}
	c.entries[key] = cachedDecision{decision: d, storedAt: time.Now()}
	for len(c.order) > c.size {
		delete(c.entries, c.order[0])
		c.order = c.order[1:]
	}
}

func (c *decisionCache) clear() {
	c.mu.Lock()
	c.entries = make(map[string]cachedDecision, c.size)
	c.order = nil
	c.mu.Unlock()
}
