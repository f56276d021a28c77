package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestLRUCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRUCache[int](2, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	_, _ = c.Get("a")
	c.Set("c", 3)

	_, ok := c.Get("b")
	assert.False(t, ok, "b was least recently used")
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 2, c.Size())
}

func TestLRUCacheExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewLRUCache[string](10, time.Minute, WithClock(clock.Now))
	c.Set("k", "v")

	clock.Advance(59 * time.Second)
	v, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	clock.Advance(2 * time.Second)
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Size())
}

func TestLRUCacheCleanExpired(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewLRUCache[int](10, time.Minute, WithClock(clock.Now))
	c.Set("old", 1)
	clock.Advance(30 * time.Second)
	c.Set("new", 2)
	clock.Advance(45 * time.Second)

	m := NewManager()
	m.Register(c)
	assert.Equal(t, 1, m.Sweep())
	assert.Equal(t, 1, c.Size())
}

func TestLRUCacheWithoutTTLOrLimit(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewLRUCache[int](0, 0, WithClock(clock.Now))
	for i, k := range []string{"a", "b", "c", "d"} {
		c.Set(k, i)
	}
	clock.Advance(24 * time.Hour)

	assert.Equal(t, 0, c.CleanExpired())
	assert.Equal(t, 4, c.Size())
	v, ok := c.Get("d")
	assert.True(t, ok)
	assert.Equal(t, 3, v)
}

func TestLRUCacheDelete(t *testing.T) {
	c := NewLRUCache[int](2, time.Minute)
	c.Set("a", 1)
	c.Delete("a")
	c.Delete("missing")
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestManagerStopIsIdempotent(t *testing.T) {
	m := NewManager()
	m.Register(NewLRUCache[int](1, time.Millisecond))
	m.StartCleanup(time.Millisecond)
	m.StartCleanup(time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	m.Stop()
	m.Stop()

	NewManager().Stop()
}
