package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLocalCache_Expiry(t *testing.T) {
	c := NewLocalCache[string](0, time.Minute)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Set("k", "v", 0)
	got, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", got)

	now = now.Add(59 * time.Second)
	_, ok = c.Get("k")
	assert.True(t, ok)

	now = now.Add(time.Second)
	_, ok = c.Get("k")
	assert.False(t, ok)
}

func TestLocalCache_Capacity(t *testing.T) {
	c := NewLocalCache[int](2, time.Minute)
	c.Set("a", 1, time.Second)
	c.Set("b", 2, time.Hour)
	c.Set("c", 3, time.Hour)

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok, "最早过期的条目被淘汰")
	_, ok = c.Get("c")
	assert.True(t, ok)

	c.Delete("c")
	_, ok = c.Get("c")
	assert.False(t, ok)
}

func TestLocalCache_RunStopsWithContext(t *testing.T) {
	c := NewLocalCache[int](0, time.Millisecond)
	c.Set("a", 1, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
