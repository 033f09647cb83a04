package locking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// redisRetryInterval is the backoff between acquisition attempts.
const redisRetryInterval = 500 * time.Millisecond

// RedisLockManager implements the lock contract on redislock, so runs
// on different instances exclude each other. The TTL is enforced by
// Redis itself: a crashed holder's lock simply expires.
type RedisLockManager struct {
	locker *redislock.Client
}

// NewRedisLockManager wraps a Redis client into a lock manager.
func NewRedisLockManager(rdb redis.UniversalClient) *RedisLockManager {
	return &RedisLockManager{locker: redislock.New(rdb)}
}

// WithLock runs fn under the named distributed lock. Acquisition
// retries with linear backoff until acquireTimeout; a still-busy lock
// returns (false, nil).
func (l *RedisLockManager) WithLock(ctx context.Context, id string, acquireTimeout, ttl time.Duration, fn func(ctx context.Context) error) (bool, error) {
	retries := int(acquireTimeout / redisRetryInterval)
	if retries < 1 {
		retries = 1
	}

	lock, err := l.locker.Obtain(ctx, id, ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(redisRetryInterval), retries),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("WithLock: obtaining lock %q: %w", id, err)
	}
	defer func() {
		_ = lock.Release(context.WithoutCancel(ctx))
	}()

	return true, fn(ctx)
}
