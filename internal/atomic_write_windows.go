//go:build windows

package internal

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// atomicRenameWindows replaces newpath with oldpath using MoveFileEx.
func atomicRenameWindows(oldpath, newpath string) error {
	from, err := windows.UTF16PtrFromString(oldpath)
	if err != nil {
		return fmt.Errorf("failed to convert oldpath to UTF16: %w", err)
	}
	to, err := windows.UTF16PtrFromString(newpath)
	if err != nil {
		return fmt.Errorf("failed to convert newpath to UTF16: %w", err)
	}
	if err := windows.MoveFileEx(from, to, windows.MOVEFILE_REPLACE_EXISTING|windows.MOVEFILE_WRITE_THROUGH); err != nil {
		return fmt.Errorf("MoveFileEx failed: %w", err)
	}
	return nil
}
