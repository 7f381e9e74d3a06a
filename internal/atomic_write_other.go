//go:build !windows

package internal

import "fmt"

// atomicRenameWindows is never reached off Windows; os.Rename is atomic there.
func atomicRenameWindows(oldpath, newpath string) error {
	return fmt.Errorf("atomicRenameWindows called on non-Windows platform")
}
