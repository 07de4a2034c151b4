// ABOUTME: Tests for the idempotency cache
// ABOUTME: Covers expiry, first-writer-wins, eviction order, sweeping and concurrency

package dedupe

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clock is a manually advanced time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestCache(t *testing.T, ttl time.Duration, maxSize int) (*Cache[string], *clock) {
	t.Helper()
	clk := &clock{now: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	c := New[string](ttl, maxSize)
	c.now = clk.Now
	t.Cleanup(c.Close)
	return c, clk
}

func TestCache_GetMissing(t *testing.T) {
	c, _ := newTestCache(t, time.Minute, 10)

	_, ok := c.Get("nope")
	assert.False(t, ok)
}

func TestCache_PutIfAbsentKeepsFirstValue(t *testing.T) {
	c, _ := newTestCache(t, time.Minute, 10)

	v, existed := c.PutIfAbsent("alice/k1", "msg-1")
	assert.False(t, existed)
	assert.Equal(t, "msg-1", v)

	v, existed = c.PutIfAbsent("alice/k1", "msg-2")
	assert.True(t, existed)
	assert.Equal(t, "msg-1", v)

	got, ok := c.Get("alice/k1")
	require.True(t, ok)
	assert.Equal(t, "msg-1", got)
}

func TestCache_Expiry(t *testing.T) {
	c, clk := newTestCache(t, time.Minute, 10)
	c.Put("k", "v")

	clk.Advance(59 * time.Second)
	_, ok := c.Get("k")
	assert.True(t, ok)

	clk.Advance(time.Second)
	_, ok = c.Get("k")
	assert.False(t, ok)

	// An expired key can be claimed again.
	v, existed := c.PutIfAbsent("k", "v2")
	assert.False(t, existed)
	assert.Equal(t, "v2", v)
}

func TestCache_PutRefreshesTimestamp(t *testing.T) {
	c, clk := newTestCache(t, time.Minute, 10)
	c.Put("k", "v1")

	clk.Advance(45 * time.Second)
	c.Put("k", "v2")
	clk.Advance(45 * time.Second)

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v2", got)
}

func TestCache_EvictsOldest(t *testing.T) {
	c, _ := newTestCache(t, time.Minute, 2)

	c.Put("a", "1")
	c.Put("b", "2")
	c.Put("a", "1") // moves a to the back
	c.Put("c", "3")

	_, ok := c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestCache_Sweep(t *testing.T) {
	c, clk := newTestCache(t, time.Minute, 10)
	c.Put("old", "1")
	clk.Advance(30 * time.Second)
	c.Put("new", "2")
	clk.Advance(45 * time.Second)

	c.sweep()

	assert.Equal(t, 1, c.Len())
	_, ok := c.Get("new")
	assert.True(t, ok)
}

func TestCache_ConcurrentPutIfAbsent(t *testing.T) {
	c, _ := newTestCache(t, time.Minute, 100)

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := range 50 {
		wg.Go(func() {
			if _, existed := c.PutIfAbsent("shared", fmt.Sprintf("v%d", i)); !existed {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		})
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
}

func TestCache_CloseIsIdempotent(t *testing.T) {
	c := New[int](time.Minute, 1)
	c.Close()
	c.Close()
}
