// internal/ingest/dedup.go
package ingest

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DedupCache remembers recently processed event keys so a webhook delivery
// replayed within the TTL triggers processing exactly once. Lookups never
// block; a background sweep evicts expired entries.
type DedupCache struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	ttl    time.Duration
	logger *zap.Logger
	done   chan struct{}
	once   sync.Once
}

func NewDedupCache(ttl, sweepInterval time.Duration, logger *zap.Logger) *DedupCache {
	c := &DedupCache{
		seen:   make(map[string]time.Time),
		ttl:    ttl,
		logger: logger.Named("dedup"),
		done:   make(chan struct{}),
	}
	go c.sweep(sweepInterval)
	return c
}

// Seen records the key and reports whether it was already present and
// unexpired. The first caller for a key gets false; replays within the TTL
// get true.
func (c *DedupCache) Seen(key string) bool {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	if first, ok := c.seen[key]; ok && now.Sub(first) < c.ttl {
		return true
	}
	c.seen[key] = now
	return false
}

// EventKey builds the dedup key from the upstream transaction signature.
func EventKey(signature, mint, side string) string {
	return fmt.Sprintf("%s|%s|%s", signature, mint, side)
}

// FallbackKey synthesizes a key when the event carries no transaction id,
// quantizing the amount so float jitter across redeliveries still collides.
func FallbackKey(actor, mint, side string, amount float64) string {
	return fmt.Sprintf("%s|%s|%s|%s", actor, mint, side, strconv.FormatFloat(amount, 'f', 4, 64))
}

func (c *DedupCache) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			now := time.Now()
			evicted := 0
			c.mu.Lock()
			for key, first := range c.seen {
				if now.Sub(first) >= c.ttl {
					delete(c.seen, key)
					evicted++
				}
			}
			size := len(c.seen)
			c.mu.Unlock()
			if evicted > 0 {
				c.logger.Debug("dedup sweep", zap.Int("evicted", evicted), zap.Int("remaining", size))
			}
		}
	}
}

func (c *DedupCache) Close() {
	c.once.Do(func() { close(c.done) })
}
