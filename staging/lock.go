package staging

import (
	"context"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/blake2b"
	"gorm.io/gorm"

	"github.com/kbukum/agentflow/database"
)

// Lock is a held target lock.
type Lock interface {
	Release() error
}

// Locker takes target-scoped locks without blocking. acquired is false
// when another holder owns the lock.
type Locker interface {
	TryLock(ctx context.Context, targetID string) (lock Lock, acquired bool, err error)
}

// LockKeys derives the two 32-bit advisory lock keys for a target from the
// first 8 bytes of its BLAKE2b-256 digest.
func LockKeys(targetID string) (int32, int32) {
	sum := blake2b.Sum256([]byte(targetID))
	k1 := int32(binary.BigEndian.Uint32(sum[0:4]))
	k2 := int32(binary.BigEndian.Uint32(sum[4:8]))
	return k1, k2
}

// PostgresLocker holds pg_try_advisory_xact_lock inside a transaction that
// is committed on release.
type PostgresLocker struct {
	db *database.DB
}

// NewPostgresLocker creates a PostgresLocker.
func NewPostgresLocker(db *database.DB) *PostgresLocker {
	return &PostgresLocker{db: db}
}

// TryLock implements Locker.
func (l *PostgresLocker) TryLock(ctx context.Context, targetID string) (Lock, bool, error) {
	k1, k2 := LockKeys(targetID)

	tx := l.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, false, fmt.Errorf("begin lock transaction: %w", tx.Error)
	}

	var acquired bool
	if err := tx.Raw("SELECT pg_try_advisory_xact_lock(?, ?)", k1, k2).Scan(&acquired).Error; err != nil {
		tx.Rollback()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		tx.Rollback()
		return nil, false, nil
	}
	return &txLock{tx: tx}, true, nil
}

type txLock struct {
	tx *gorm.DB
}

func (l *txLock) Release() error {
	return l.tx.Commit().Error
}
