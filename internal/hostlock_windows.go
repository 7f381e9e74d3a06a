//go:build windows

package internal

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/windows"
)

func acquireFileLock(path string) (*os.File, error) {
	lockFile, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	var overlapped windows.Overlapped
	err = windows.LockFileEx(
		windows.Handle(lockFile.Fd()),
		windows.LOCKFILE_EXCLUSIVE_LOCK|windows.LOCKFILE_FAIL_IMMEDIATELY,
		0,
		1,
		0,
		&overlapped,
	)
	if err != nil {
		lockFile.Close()
		if errors.Is(err, windows.ERROR_LOCK_VIOLATION) {
			return nil, ErrWouldBlock
		}
		return nil, fmt.Errorf("LockFileEx failed: %w", err)
	}
	return lockFile, nil
}

func releaseFileLock(lockFile *os.File) error {
	path := lockFile.Name()

	var overlapped windows.Overlapped
	err1 := windows.UnlockFileEx(windows.Handle(lockFile.Fd()), 0, 1, 0, &overlapped)
	err2 := lockFile.Close()
	err3 := os.Remove(path)
	if err3 != nil && os.IsNotExist(err3) {
		err3 = nil
	}
	return errors.Join(err1, err2, err3)
}
