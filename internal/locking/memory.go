// Package locking provides the run-level mutual-exclusion guard. Both
// implementations expose the same contract: fn runs at most once, lock
// contention is a normal (false, nil) outcome, and a held lock expires
// on its own so a crashed holder cannot block future runs forever.
package locking

import (
	"context"
	"sync"
	"time"
)

// retryInterval is how often an in-memory acquisition re-checks a busy
// lock while waiting out its acquire timeout.
const retryInterval = 50 * time.Millisecond

// lockEntry is one held lock: when it expires and which acquisition
// owns it.
type lockEntry struct {
	expiry time.Time
	token  uint64
}

// MemoryLockManager is an in-process lock manager. Suitable for
// single-instance deployments and testing; multi-instance deployments
// use the Redis implementation.
type MemoryLockManager struct {
	mu        sync.Mutex
	held      map[string]lockEntry
	nextToken uint64
}

// NewMemoryLockManager creates an empty in-process lock manager.
func NewMemoryLockManager() *MemoryLockManager {
	return &MemoryLockManager{held: make(map[string]lockEntry)}
}

// WithLock runs fn under the named lock. It retries acquisition until
// acquireTimeout elapses, returning (false, nil) when the lock stays
// busy. An expired entry counts as free.
func (l *MemoryLockManager) WithLock(ctx context.Context, id string, acquireTimeout, ttl time.Duration, fn func(ctx context.Context) error) (bool, error) {
	deadline := time.Now().Add(acquireTimeout)

	for {
		if token, ok := l.tryAcquire(id, ttl); ok {
			defer l.release(id, token)
			return true, fn(ctx)
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(retryInterval):
		}
	}
}

func (l *MemoryLockManager) tryAcquire(id string, ttl time.Duration) (uint64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.held[id]; ok && time.Now().Before(e.expiry) {
		return 0, false
	}
	l.nextToken++
	l.held[id] = lockEntry{expiry: time.Now().Add(ttl), token: l.nextToken}
	return l.nextToken, true
}

// release frees the lock only when it is still owned by the given
// acquisition. A lock taken over after the owner's TTL expired belongs
// to its new holder and must survive the stale owner's release, same as
// redislock scopes Release to the obtaining token.
func (l *MemoryLockManager) release(id string, token uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.held[id]; ok && e.token == token {
		delete(l.held, id)
	}
}
