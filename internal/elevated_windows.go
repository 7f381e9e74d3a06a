//go:build windows

package internal

import "golang.org/x/sys/windows"

// IsElevated reports whether the process runs with an elevated token
func IsElevated() bool {
	return windows.GetCurrentProcessToken().IsElevated()
}
