// internal/trade/locks.go
package trade

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// LockMap is a per-mint logical mutex with expiry. A held lock rejects new
// buy attempts for the same mint; the TTL bounds how long a crashed or hung
// attempt can block the mint.
type LockMap struct {
	mu     sync.Mutex
	held   map[string]time.Time
	logger *zap.Logger
	done   chan struct{}
	once   sync.Once
}

func NewLockMap(sweepInterval time.Duration, logger *zap.Logger) *LockMap {
	l := &LockMap{
		held:   make(map[string]time.Time),
		logger: logger.Named("buy_locks"),
		done:   make(chan struct{}),
	}
	go l.sweep(sweepInterval)
	return l
}

// TryLock acquires the lock for key until ttl elapses or Unlock is called.
// It never blocks: a held, unexpired lock returns false.
func (l *LockMap) TryLock(key string, ttl time.Duration) bool {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if exp, ok := l.held[key]; ok && now.Before(exp) {
		return false
	}
	l.held[key] = now.Add(ttl)
	return true
}

// Unlock releases the lock for key. Releasing an unheld lock is a no-op.
func (l *LockMap) Unlock(key string) {
	l.mu.Lock()
	delete(l.held, key)
	l.mu.Unlock()
}

func (l *LockMap) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			now := time.Now()
			l.mu.Lock()
			for key, exp := range l.held {
				if now.After(exp) {
					delete(l.held, key)
					l.logger.Warn("expired buy lock swept", zap.String("mint", key))
				}
			}
			l.mu.Unlock()
		}
	}
}

func (l *LockMap) Close() {
	l.once.Do(func() { close(l.done) })
}
