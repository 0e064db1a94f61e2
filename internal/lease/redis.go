package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "viewrollup:lease:"

var unlockScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// RedisBackend stores leases as expiring Redis keys.
type RedisBackend struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisBackend creates a backend whose keys expire after ttl.
func NewRedisBackend(client *redis.Client, ttl time.Duration) *RedisBackend {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisBackend{client: client, ttl: ttl}
}

// NewLock implements Backend.
func (b *RedisBackend) NewLock(key string) Lock {
	return &RedisLock{client: b.client, key: key, token: uuid.New().String(), ttl: b.ttl}
}

// RedisLock represents a distributed lock using Redis.
type RedisLock struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
}

// TryLock attempts to acquire the lock without blocking.
func (l *RedisLock) TryLock(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, redisKeyPrefix+l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	return ok, nil
}

// Unlock releases the lock if it is held by this instance.
func (l *RedisLock) Unlock(ctx context.Context) error {
	result, err := unlockScript.Run(ctx, l.client, []string{redisKeyPrefix + l.key}, l.token).Int()
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	if result == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// Key returns the lock key.
func (l *RedisLock) Key() string {
	return l.key
}
