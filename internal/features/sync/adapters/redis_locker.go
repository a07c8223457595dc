package adapter

import (
	"context"
	"fmt"
	"time"

	"robolabs-sync/internal/core/cache"
)

const lockKeyPrefix = "robolabs:order_lock:"

// RedisLocker implements the per-order lock on Redis SETNX with a TTL. The
// TTL bounds how long a crashed holder can block an order.
type RedisLocker struct {
	cache cache.Cache
	ttl   time.Duration
}

// NewRedisLocker creates a locker with the given lock lifetime.
func NewRedisLocker(c cache.Cache, ttl time.Duration) *RedisLocker {
	return &RedisLocker{cache: c, ttl: ttl}
}

// Acquire takes the order lock and reports whether it was granted.
func (l *RedisLocker) Acquire(ctx context.Context, orderID int64) (bool, error) {
	ok, err := l.cache.SetNX(ctx, lockKey(orderID), []byte("1"), l.ttl)
	if err != nil {
		return false, fmt.Errorf("acquiring lock for order %d: %w", orderID, err)
	}
	return ok, nil
}

// Release frees the order lock. Releasing an expired lock is a no-op.
func (l *RedisLocker) Release(ctx context.Context, orderID int64) error {
	return l.cache.Delete(ctx, lockKey(orderID))
}

func lockKey(orderID int64) string {
	return fmt.Sprintf("%s%d", lockKeyPrefix, orderID)
}
