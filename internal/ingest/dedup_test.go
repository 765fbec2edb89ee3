package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestDedupCache_ExactlyOnceWithinTTL(t *testing.T) {
	cache := NewDedupCache(100*time.Millisecond, time.Hour, zap.NewNop())
	defer cache.Close()

	key := EventKey("sig1", "mintA", "buy")
	assert.False(t, cache.Seen(key), "first delivery must process")
	assert.True(t, cache.Seen(key), "replay must be rejected")
	assert.True(t, cache.Seen(key), "every replay must be rejected")
}

func TestDedupCache_TTLBoundary(t *testing.T) {
	cache := NewDedupCache(80*time.Millisecond, time.Hour, zap.NewNop())
	defer cache.Close()

	key := EventKey("sig1", "mintA", "buy")
	assert.False(t, cache.Seen(key))

	// Still inside the TTL: rejected.
	time.Sleep(40 * time.Millisecond)
	assert.True(t, cache.Seen(key))

	// Past the TTL: accepted as new.
	time.Sleep(60 * time.Millisecond)
	assert.False(t, cache.Seen(key))
}

func TestDedupCache_IndependentKeys(t *testing.T) {
	cache := NewDedupCache(time.Minute, time.Hour, zap.NewNop())
	defer cache.Close()

	assert.False(t, cache.Seen(EventKey("sig1", "mintA", "buy")))
	assert.False(t, cache.Seen(EventKey("sig1", "mintA", "sell")))
	assert.False(t, cache.Seen(EventKey("sig1", "mintB", "buy")))
	assert.False(t, cache.Seen(EventKey("sig2", "mintA", "buy")))
}

func TestDedupCache_SweepEvictsExpired(t *testing.T) {
	cache := NewDedupCache(20*time.Millisecond, 10*time.Millisecond, zap.NewNop())
	defer cache.Close()

	cache.Seen("k1")
	cache.Seen("k2")
	time.Sleep(60 * time.Millisecond)

	cache.mu.Lock()
	size := len(cache.seen)
	cache.mu.Unlock()
	assert.Equal(t, 0, size)
}

func TestFallbackKey_QuantizesAmount(t *testing.T) {
	a := FallbackKey("actor", "mint", "buy", 12.34567)
	b := FallbackKey("actor", "mint", "buy", 12.34569)
	assert.Equal(t, a, b, "float jitter across redeliveries must collide")

	c := FallbackKey("actor", "mint", "buy", 12.40)
	assert.NotEqual(t, a, c)
}
