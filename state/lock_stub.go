//go:build !unix

package state

import "errors"

// ErrLocked is returned when another process already holds the writer lock.
var ErrLocked = errors.New("state: locked by another process")

// FileLock is a no-op on platforms without advisory file locks; the caller
// is the sole writer by convention.
type FileLock struct {
	path string
}

// AcquireLock is a no-op lock on this platform.
func AcquireLock(path string) (*FileLock, error) {
	return &FileLock{path: path}, nil
}

// Release is a no-op.
func (l *FileLock) Release() {}

func (l *FileLock) held(path string) bool {
	return l != nil && l.path == path
}
