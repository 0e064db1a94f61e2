package lease_test

import (
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"viewrollup/internal/lease"
	"viewrollup/internal/testsupport"
)

func TestDatabaseLockExcludesSecondOwner(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	backend := lease.NewDatabaseBackend(db, time.Minute)
	ctx := t.Context()

	first, err := lease.Acquire(ctx, backend, "aggregate")
	require.NoError(t, err)
	assert.Equal(t, "aggregate", first.Key())

	_, err = lease.Acquire(ctx, backend, "aggregate")
	assert.True(t, errors.Is(err, lease.ErrLockNotAcquired))

	other, err := lease.Acquire(ctx, backend, "classify")
	require.NoError(t, err, "locks with different keys are independent")
	require.NoError(t, other.Unlock(ctx))

	require.NoError(t, first.Unlock(ctx))
	assert.True(t, errors.Is(first.Unlock(ctx), lease.ErrLockNotHeld))

	second, err := lease.Acquire(ctx, backend, "aggregate")
	require.NoError(t, err)
	require.NoError(t, second.Unlock(ctx))
}

func TestDatabaseLockLosesInsertRace(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	backend := lease.NewDatabaseBackend(db, time.Minute)
	ctx := t.Context()

	// a rival inserts the row between our lookup and our insert
	raced := false
	require.NoError(t, db.Callback().Create().Before("gorm:create").Register("rival_lease_insert", func(tx *gorm.DB) {
		if raced || tx.Statement.Table != "run_leases" {
			return
		}
		raced = true
		tx.Session(&gorm.Session{NewDB: true}).Exec(
			"INSERT INTO run_leases (name, token, expires_at, created_at) VALUES (?, ?, ?, ?)",
			"aggregate", "rival", time.Now().Add(time.Minute), time.Now())
	}))

	lock := backend.NewLock("aggregate")
	acquired, err := lock.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, acquired)
	assert.True(t, raced)

	var held lease.Lease
	require.NoError(t, db.Take(&held, "name = ?", "aggregate").Error)
	assert.Equal(t, "rival", held.Token)

	_, err = lease.Acquire(ctx, backend, "aggregate")
	assert.True(t, errors.Is(err, lease.ErrLockNotAcquired))
}

func TestDatabaseLockReclaimsExpiredLease(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	now := time.Date(2020, time.July, 10, 0, 0, 0, 0, time.UTC)
	backend := lease.NewDatabaseBackend(db, time.Minute).WithClock(func() time.Time { return now })
	ctx := t.Context()

	stale := backend.NewLock("aggregate")
	ok, err := stale.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	fresh := backend.NewLock("aggregate")
	ok, err = fresh.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	now = now.Add(2 * time.Minute)
	ok, err = fresh.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.True(t, errors.Is(stale.Unlock(ctx), lease.ErrLockNotHeld))
	require.NoError(t, fresh.Unlock(ctx))
}

func TestDatabaseLockIsReentrantForOwner(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	backend := lease.NewDatabaseBackend(db, time.Minute)
	ctx := t.Context()

	lock := backend.NewLock("aggregate")
	ok, err := lock.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = lock.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	backend := lease.NewRedisBackend(client, time.Minute)
	ctx := t.Context()

	first, err := lease.Acquire(ctx, backend, "aggregate")
	require.NoError(t, err)
	assert.True(t, mr.Exists("viewrollup:lease:aggregate"))

	_, err = lease.Acquire(ctx, backend, "aggregate")
	assert.True(t, errors.Is(err, lease.ErrLockNotAcquired))

	require.NoError(t, first.Unlock(ctx))
	assert.False(t, mr.Exists("viewrollup:lease:aggregate"))
	assert.True(t, errors.Is(first.Unlock(ctx), lease.ErrLockNotHeld))
}

func TestRedisLockExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	backend := lease.NewRedisBackend(client, 30*time.Second)
	ctx := t.Context()

	stale, err := lease.Acquire(ctx, backend, "aggregate")
	require.NoError(t, err)

	mr.FastForward(31 * time.Second)

	fresh, err := lease.Acquire(ctx, backend, "aggregate")
	require.NoError(t, err)

	assert.True(t, errors.Is(stale.Unlock(ctx), lease.ErrLockNotHeld))
	require.NoError(t, fresh.Unlock(ctx))
}

func TestRedisLockUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	mr.Close()

	_, err := lease.Acquire(t.Context(), lease.NewRedisBackend(client, time.Minute), "aggregate")
	require.Error(t, err)
	assert.False(t, errors.Is(err, lease.ErrLockNotAcquired))
}
