package internal

import (
	"errors"
	"fmt"
	"os"
)

// ErrWouldBlock is returned when another engine process holds the host lock.
var ErrWouldBlock = errors.New("another gamemode engine is running on this host")

// HostLock is an exclusive, process-wide lock on the state directory
type HostLock struct {
	file *os.File
}

// AcquireHostLock takes the exclusive lock at path without blocking
func AcquireHostLock(path string) (*HostLock, error) {
	f, err := acquireFileLock(path)
	if err != nil {
		return nil, err
	}
	return &HostLock{file: f}, nil
}

// Release drops the lock and removes the lock file
func (l *HostLock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := releaseFileLock(l.file)
	l.file = nil
	if err != nil {
		return fmt.Errorf("failed to release host lock: %w", err)
	}
	return nil
}
