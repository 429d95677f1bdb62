package toolcall

import (
	"encoding/json"
	"sync"
	"time"
)

// ToolResult is the outcome of one tool execution. OK/Payload/Error are the
// wire shape replayed to the model; Latency and CacheHit are local
// bookkeeping.
type ToolResult struct {
	OK      bool   `json:"ok"`
	Payload any    `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`

	Latency  time.Duration `json:"-"`
	CacheHit bool          `json:"-"`
}

// CacheKey derives the memoization key for a call. encoding/json marshals
// map keys in sorted order at every nesting level, so argument property
// order never causes a spurious miss.
func CacheKey(name string, args map[string]any) string {
	b, _ := json.Marshal(args)
	return name + ":" + string(b)
}

type cacheEntry struct {
	result    ToolResult
	expiresAt time.Time
}

// Cache memoizes tool results for the lifetime of one request. It is never
// shared across requests: a cached answer leaking into another caller's
// context would cross conversation boundaries. Bounded capacity, oldest
// insertion evicted first.
type Cache struct {
	mu       sync.Mutex
	entries  map[string]cacheEntry
	order    []string
	capacity int
	now      func() time.Time
}

const defaultCacheCapacity = 64

// NewCache creates a request-scoped cache.
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = defaultCacheCapacity
	}
	return &Cache{
		entries:  make(map[string]cacheEntry),
		capacity: capacity,
		now:      time.Now,
	}
}

// Get returns the cached result for (name, args) if present and fresh.
func (c *Cache) Get(name string, args map[string]any) (ToolResult, bool) {
	key := CacheKey(name, args)
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return ToolResult{}, false
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		return ToolResult{}, false
	}
	return entry.result, true
}

// Set stores a result with the tool's TTL.
func (c *Cache) Set(name string, args map[string]any, result ToolResult, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	key := CacheKey(name, args)
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists {
		if len(c.order) >= c.capacity {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
		c.order = append(c.order, key)
	}
	c.entries[key] = cacheEntry{result: result, expiresAt: c.now().Add(ttl)}
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
