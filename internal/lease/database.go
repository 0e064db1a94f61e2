package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"
)

// Lease is the row backing a database lock.
type Lease struct {
	Name      string    `gorm:"primaryKey;size:128"`
	Token     string    `gorm:"size:64;not null"`
	ExpiresAt time.Time `gorm:"not null"`
	CreatedAt time.Time
}

// TableName overrides the gorm default.
func (Lease) TableName() string {
	return "run_leases"
}

// DatabaseBackend stores leases in the run_leases table.
type DatabaseBackend struct {
	db  *gorm.DB
	ttl time.Duration
	now func() time.Time
}

// NewDatabaseBackend creates a backend whose leases expire after ttl.
func NewDatabaseBackend(db *gorm.DB, ttl time.Duration) *DatabaseBackend {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &DatabaseBackend{db: db, ttl: ttl, now: time.Now}
}

// WithClock replaces the time source; used by tests.
func (b *DatabaseBackend) WithClock(now func() time.Time) *DatabaseBackend {
	b.now = now
	return b
}

// NewLock implements Backend.
func (b *DatabaseBackend) NewLock(key string) Lock {
	return &DatabaseLock{backend: b, key: key, token: uuid.New().String()}
}

// DatabaseLock is a lease row owned by token until it expires.
type DatabaseLock struct {
	backend *DatabaseBackend
	key     string
	token   string
}

// TryLock takes the lease when it is free, expired, or already ours.
func (l *DatabaseLock) TryLock(ctx context.Context) (bool, error) {
	now := l.backend.now().UTC()
	acquired := false

	err := l.backend.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Lease
		err := tx.Where("name = ?", l.key).Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if err := tx.Create(&Lease{
				Name:      l.key,
				Token:     l.token,
				ExpiresAt: now.Add(l.backend.ttl),
				CreatedAt: now,
			}).Error; err != nil {
				if isDuplicateKey(err) {
					// another process created the row first
					return nil
				}
				return err
			}
			acquired = true
			return nil
		}
		if err != nil {
			return err
		}

		if existing.Token != l.token && existing.ExpiresAt.After(now) {
			return nil
		}

		res := tx.Model(&Lease{}).
			Where("name = ? AND token = ?", l.key, existing.Token).
			Updates(map[string]any{"token": l.token, "expires_at": now.Add(l.backend.ttl)})
		if res.Error != nil {
			return res.Error
		}
		acquired = res.RowsAffected == 1
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	return acquired, nil
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

// Unlock deletes the lease row if it still carries our token.
func (l *DatabaseLock) Unlock(ctx context.Context) error {
	res := l.backend.db.WithContext(ctx).
		Where("name = ? AND token = ?", l.key, l.token).
		Delete(&Lease{})
	if res.Error != nil {
		return fmt.Errorf("failed to release lock: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// Key returns the lock key.
func (l *DatabaseLock) Key() string {
	return l.key
}
