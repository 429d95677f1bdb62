package toolcall

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCacheKeyIgnoresArgumentOrder(t *testing.T) {
	a := map[string]any{"team": "LAL", "market": "spread", "line": -4.5}
	b := map[string]any{"line": -4.5, "market": "spread", "team": "LAL"}
	assert.Equal(t, CacheKey("live_odds", a), CacheKey("live_odds", b))
}

func TestCacheKeyIgnoresNestedOrder(t *testing.T) {
	a := map[string]any{"filter": map[string]any{"team": "BOS", "season": 2026}}
	b := map[string]any{"filter": map[string]any{"season": 2026, "team": "BOS"}}
	assert.Equal(t, CacheKey("season_averages", a), CacheKey("season_averages", b))
}

func TestCacheKeyDistinguishesToolAndArgs(t *testing.T) {
	args := map[string]any{"team": "LAL"}
	assert.NotEqual(t, CacheKey("live_odds", args), CacheKey("injury_report", args))
	assert.NotEqual(t, CacheKey("live_odds", args), CacheKey("live_odds", map[string]any{"team": "BOS"}))
}

func TestCacheHitWithinTTL(t *testing.T) {
	c := NewCache(8)
	args := map[string]any{"team": "LAL"}
	c.Set("live_odds", args, ToolResult{OK: true, Payload: "lines"}, 15*time.Second)

	got, ok := c.Get("live_odds", map[string]any{"team": "LAL"})
	assert.True(t, ok)
	assert.Equal(t, "lines", got.Payload)
}

func TestCacheExpiry(t *testing.T) {
	c := NewCache(8)
	clock := time.Date(2026, 4, 12, 19, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }

	args := map[string]any{"team": "LAL"}
	c.Set("live_odds", args, ToolResult{OK: true}, 15*time.Second)

	clock = clock.Add(14 * time.Second)
	_, ok := c.Get("live_odds", args)
	assert.True(t, ok)

	clock = clock.Add(2 * time.Second)
	_, ok = c.Get("live_odds", args)
	assert.False(t, ok, "entry expired")
	assert.Zero(t, c.Len(), "expired entry is evicted on read")
}

func TestCacheZeroTTLNeverStored(t *testing.T) {
	c := NewCache(8)
	c.Set("live_odds", nil, ToolResult{OK: true}, 0)
	_, ok := c.Get("live_odds", nil)
	assert.False(t, ok)
}

func TestCacheEvictsOldestAtCapacity(t *testing.T) {
	c := NewCache(2)
	c.Set("a", nil, ToolResult{OK: true}, time.Minute)
	c.Set("b", nil, ToolResult{OK: true}, time.Minute)
	c.Set("c", nil, ToolResult{OK: true}, time.Minute)

	_, ok := c.Get("a", nil)
	assert.False(t, ok, "oldest insertion evicted first")
	_, ok = c.Get("b", nil)
	assert.True(t, ok)
	_, ok = c.Get("c", nil)
	assert.True(t, ok)
}

func TestCacheOverwriteKeepsSingleEntry(t *testing.T) {
	c := NewCache(2)
	args := map[string]any{"team": "LAL"}
	c.Set("live_odds", args, ToolResult{OK: true, Payload: "old"}, time.Minute)
	c.Set("live_odds", args, ToolResult{OK: true, Payload: "new"}, time.Minute)

	assert.Equal(t, 1, c.Len())
	got, _ := c.Get("live_odds", args)
	assert.Equal(t, "new", got.Payload)
}
