package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_SetGet(t *testing.T) {
	c := New[string](time.Minute)
	defer c.Stop()

	c.Set("a", "1")

	got, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "1", got)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestCache_Expiry(t *testing.T) {
	c := New[int](10 * time.Millisecond)
	defer c.Stop()

	c.Set("a", 42)
	time.Sleep(30 * time.Millisecond)

	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestCache_Delete(t *testing.T) {
	c := New[int](time.Minute)
	defer c.Stop()

	c.Set("a", 1)
	c.Set("b", 2)
	c.Delete("a")

	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 2, c.Len())
}
