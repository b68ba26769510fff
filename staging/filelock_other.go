//go:build !unix

package staging

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
)

// FileLocker is only available on unix platforms.
type FileLocker struct {
	dir string
}

// NewFileLocker creates a FileLocker storing lock files in dir.
func NewFileLocker(dir string) *FileLocker {
	return &FileLocker{dir: dir}
}

// Path returns the lock file used for targetID.
func (l *FileLocker) Path(targetID string) string {
	k1, k2 := LockKeys(targetID)
	return filepath.Join(l.dir, fmt.Sprintf("target-%d-%d.lock", k1, k2))
}

// TryLock implements Locker.
func (l *FileLocker) TryLock(context.Context, string) (Lock, bool, error) {
	return nil, false, errors.New("staging: file locks require a unix platform; use the postgres lock backend")
}
