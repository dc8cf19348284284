// Package runlock provides single-flight run locks for background jobs.
// A lock acquisition doubles as the job's rate limit: the lock holds for
// the full interval, so a second run attempt inside the window is rejected
// with the exact remaining wait.
package runlock

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lock guards a named background job so only one run happens per interval.
type Lock interface {
	// TryAcquire attempts to take the lock for the given interval. When the
	// lock is already held, ok is false and remaining reports how long
	// until the next run is allowed.
	TryAcquire(ctx context.Context, key string, interval time.Duration) (ok bool, remaining time.Duration, err error)
}

// RedisLock implements Lock on Redis using SET NX with a TTL, which makes
// the single-flight guarantee hold across processes.
type RedisLock struct {
	client *redis.Client
	prefix string
}

// NewRedisLock creates a RedisLock. Keys are namespaced with the prefix.
func NewRedisLock(client *redis.Client, prefix string) *RedisLock {
	if prefix == "" {
		prefix = "runlock"
	}
	return &RedisLock{client: client, prefix: prefix}
}

// TryAcquire attempts to take the lock.
func (l *RedisLock) TryAcquire(ctx context.Context, key string, interval time.Duration) (bool, time.Duration, error) {
	full := l.prefix + ":" + key

	ok, err := l.client.SetNX(ctx, full, time.Now().UTC().Format(time.RFC3339), interval).Result()
	if err != nil {
		return false, 0, err
	}
	if ok {
		return true, 0, nil
	}

	ttl, err := l.client.TTL(ctx, full).Result()
	if err != nil {
		return false, 0, err
	}
	if ttl < 0 {
		ttl = 0
	}
	return false, ttl, nil
}

// MemoryLock implements Lock in process memory for tests and
// single-process deployments. Thread-safe via Mutex.
type MemoryLock struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

// NewMemoryLock creates an empty MemoryLock.
func NewMemoryLock() *MemoryLock {
	return &MemoryLock{
		expires: make(map[string]time.Time),
		now:     time.Now,
	}
}

// NewMemoryLockWithClock creates a MemoryLock with a custom clock for tests.
func NewMemoryLockWithClock(now func() time.Time) *MemoryLock {
	return &MemoryLock{
		expires: make(map[string]time.Time),
		now:     now,
	}
}

// TryAcquire attempts to take the lock.
func (l *MemoryLock) TryAcquire(ctx context.Context, key string, interval time.Duration) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if until, held := l.expires[key]; held && now.Before(until) {
		return false, until.Sub(now), nil
	}
	l.expires[key] = now.Add(interval)
	return true, 0, nil
}
