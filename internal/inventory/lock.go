package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock key only when it still holds our token,
// so an expired-and-reacquired lock is never released by the old holder.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// ErrLockHeld is returned when the lock is already held by another process.
var ErrLockHeld = fmt.Errorf("inventory lock already held")

// Locker acquires per-location-per-product locks so concurrent
// reconciliations of the same inventory item serialize.
type Locker interface {
	Acquire(ctx context.Context, locationID, productID string) (release func(ctx context.Context) error, err error)
}

// RedisLocker implements Locker on a Redis SET NX lock with expiry.
type RedisLocker struct {
	redis   *redis.Client
	timeout time.Duration
}

// NewRedisLocker creates a Redis-backed locker. timeout bounds how long a
// crashed holder can block other reconciliations.
func NewRedisLocker(client *redis.Client, timeout time.Duration) *RedisLocker {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &RedisLocker{redis: client, timeout: timeout}
}

// Acquire takes the lock for one location/product pair. The returned
// release function is safe to call if the lock has already expired.
func (l *RedisLocker) Acquire(ctx context.Context, locationID, productID string) (func(ctx context.Context) error, error) {
	key := lockKey(locationID, productID)
	token := uuid.New().String()

	acquired, err := l.redis.SetNX(ctx, key, token, l.timeout).Result()
	if err != nil {
		return nil, fmt.Errorf("acquiring inventory lock %q: %w", key, err)
	}
	if !acquired {
		return nil, ErrLockHeld
	}

	release := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.redis, []string{key}, token).Err(); err != nil && err != redis.Nil {
			return fmt.Errorf("releasing inventory lock %q: %w", key, err)
		}
		return nil
	}
	return release, nil
}

// lockKey builds the lock key for a location/product pair.
func lockKey(locationID, productID string) string {
	return fmt.Sprintf("lock:location:%s:product:%s", locationID, productID)
}
