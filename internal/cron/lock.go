package cron

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultLockTTL = 10 * time.Minute

// Lock coordinates exclusive job runs across cron worker replicas.
type Lock interface {
	Acquire(ctx context.Context, name string) (bool, error)
	Release(ctx context.Context, name string) error
}

// redisStore defines the operations used by RedisLock.
type redisStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	LockKey(name string) string
}

// RedisLock implements Lock with one SETNX key per job name.
type RedisLock struct {
	client redisStore
	ttl    time.Duration

	mu     sync.Mutex
	owners map[string]string
}

// NewRedisLock constructs a Redis-backed lock. The TTL bounds how long a
// crashed worker can hold a job.
func NewRedisLock(client redisStore, ttl time.Duration) (*RedisLock, error) {
	if client == nil {
		return nil, errors.New("redis client required for lock")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLock{client: client, ttl: ttl, owners: map[string]string{}}, nil
}

// Acquire tries to own the named lock for the configured TTL.
func (l *RedisLock) Acquire(ctx context.Context, name string) (bool, error) {
	if name == "" {
		return false, errors.New("lock name is required")
	}
	owner := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.client.LockKey(name), owner, l.ttl)
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", name, err)
	}
	if ok {
		l.mu.Lock()
		l.owners[name] = owner
		l.mu.Unlock()
	}
	return ok, nil
}

// Release frees the named lock only if this instance still owns it.
func (l *RedisLock) Release(ctx context.Context, name string) error {
	l.mu.Lock()
	owner, ok := l.owners[name]
	delete(l.owners, name)
	l.mu.Unlock()
	if !ok {
		return nil
	}

	key := l.client.LockKey(name)
	value, err := l.client.Get(ctx, key)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("read lock owner: %w", err)
	}
	if value != owner {
		// Expired and taken by another worker.
		return nil
	}
	if err := l.client.Del(ctx, key); err != nil {
		return fmt.Errorf("delete lock: %w", err)
	}
	return nil
}
