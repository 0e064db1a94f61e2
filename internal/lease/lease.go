// Package lease provides named, expiring, token-owned locks that keep two
// runs of the same job from overlapping.
package lease

import (
	"context"
	"errors"
	"time"
)

// DefaultTTL is used when a non-positive ttl is configured.
const DefaultTTL = 10 * time.Minute

var (
	// ErrLockNotAcquired is returned when a lock is held by another owner.
	ErrLockNotAcquired = errors.New("lock not acquired")

	// ErrLockNotHeld is returned when trying to release a lock that is not held.
	ErrLockNotHeld = errors.New("lock not held")
)

// Lock is a single acquisition attempt. Each Lock carries its own owner token.
type Lock interface {
	// TryLock attempts to acquire the lock without blocking.
	TryLock(ctx context.Context) (bool, error)
	// Unlock releases the lock if this instance still holds it.
	Unlock(ctx context.Context) error
	// Key returns the lock name.
	Key() string
}

// Backend creates locks.
type Backend interface {
	NewLock(key string) Lock
}

// Acquire creates a lock for key and takes it, returning ErrLockNotAcquired
// when another owner holds it.
func Acquire(ctx context.Context, backend Backend, key string) (Lock, error) {
	lock := backend.NewLock(key)
	ok, err := lock.TryLock(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockNotAcquired
	}
	return lock, nil
}
