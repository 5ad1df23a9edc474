//go:build unix

package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// ErrLocked is returned when another process already holds the writer lock.
var ErrLocked = errors.New("state: locked by another process")

// FileLock is an advisory single-writer lock on a sibling .lock file.
type FileLock struct {
	path string // state file path the lock protects
	f    *os.File
}

// AcquireLock takes an exclusive non-blocking flock on <path>.lock.
// Returns ErrLocked when another streamvis process holds it.
func AcquireLock(path string) (*FileLock, error) {
	lockPath := path + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %s", ErrLocked, lockPath)
	}
	return &FileLock{path: path, f: f}, nil
}

// Release unlocks and closes the lock file. Safe to call once via defer on
// every exit path.
func (l *FileLock) Release() {
	if l == nil || l.f == nil {
		return
	}
	_ = unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	_ = l.f.Close()
	l.f = nil
}

func (l *FileLock) held(path string) bool {
	return l != nil && l.f != nil && l.path == path
}
