//go:build !windows

package internal

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

func acquireFileLock(path string) (*os.File, error) {
	lockFile, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	err = unix.Flock(int(lockFile.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err != nil {
		lockFile.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrWouldBlock
		}
		return nil, fmt.Errorf("failed to acquire file lock: %w", err)
	}
	return lockFile, nil
}

func releaseFileLock(lockFile *os.File) error {
	path := lockFile.Name()
	_ = unix.Flock(int(lockFile.Fd()), unix.LOCK_UN)

	err1 := lockFile.Close()
	err2 := os.Remove(path)
	if err2 != nil && os.IsNotExist(err2) {
		err2 = nil
	}
	return errors.Join(err1, err2)
}
