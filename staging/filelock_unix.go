//go:build unix

package staging

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// FileLocker takes a non-blocking flock(2) on a per-target lock file in
// dir. It serializes publishes between processes on one host.
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
func (l *FileLocker) TryLock(_ context.Context, targetID string) (Lock, bool, error) {
	if err := os.MkdirAll(l.dir, 0o750); err != nil {
		return nil, false, fmt.Errorf("create lock directory: %w", err)
	}

	f, err := os.OpenFile(l.Path(targetID), os.O_CREATE|os.O_RDWR, 0o640)
	if err != nil {
		return nil, false, fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("flock: %w", err)
	}
	return &fileLock{f: f}, true, nil
}

type fileLock struct {
	f *os.File
}

func (l *fileLock) Release() error {
	unlockErr := syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	closeErr := l.f.Close()
	return errors.Join(unlockErr, closeErr)
}
