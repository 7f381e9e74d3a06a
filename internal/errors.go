package internal

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies failures for reporting
type ErrorKind string

const (
	KindTargetAbsent     ErrorKind = "TargetAbsent"
	KindPermissionDenied ErrorKind = "PermissionDenied"
	KindBusy             ErrorKind = "Busy"
	KindSnapshotIO       ErrorKind = "SnapshotIOError"
	KindTimeout          ErrorKind = "Timeout"
	KindUnsupported      ErrorKind = "Unsupported"
	KindFailed           ErrorKind = "Failed"
)

var (
	// ErrTargetAbsent means the target does not exist; callers skip it.
	ErrTargetAbsent = errors.New("target absent")
	// ErrPermissionDenied means the OS refused access to the target.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrBusy means the target is in use and could not change state.
	ErrBusy = errors.New("target busy")
	// ErrUnsupported means the host backend cannot perform the operation.
	ErrUnsupported = errors.New("unsupported on this host")
	// ErrTimeout means a module did not finish within its phase budget.
	ErrTimeout = errors.New("module timed out")

	// ErrAlreadyActive is returned by Activate when a session exists.
	ErrAlreadyActive = errors.New("already active")
	// ErrAlreadyInactive is returned by Deactivate when no session exists.
	ErrAlreadyInactive = errors.New("already inactive")
	// ErrRecoveryPending is returned by Activate while a leftover snapshot awaits revert.
	ErrRecoveryPending = errors.New("recovery pending: revert the previous session first")
	// ErrStaleSession is returned for snapshot writes from a session that is no longer current.
	ErrStaleSession = errors.New("session is no longer current")
)

// KindOf maps an error onto the failure taxonomy
func KindOf(err error) ErrorKind {
	var snapErr *SnapshotError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTargetAbsent):
		return KindTargetAbsent
	case errors.Is(err, ErrPermissionDenied):
		return KindPermissionDenied
	case errors.Is(err, ErrBusy):
		return KindBusy
	case errors.As(err, &snapErr):
		return KindSnapshotIO
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrUnsupported):
		return KindUnsupported
	default:
		return KindFailed
	}
}

// ModuleError represents a module that could not run at all
type ModuleError struct {
	Module ModuleKind
	Op     string // "capture", "apply", "revert"
	Err    error
}

func (e *ModuleError) Error() string {
	return fmt.Sprintf("module error [%s] %s: %v", e.Module, e.Op, e.Err)
}

func (e *ModuleError) Unwrap() error {
	return e.Err
}

// SnapshotError represents a failure to read or persist the session snapshot.
// It is the only phase-fatal error.
type SnapshotError struct {
	Path string
	Op   string // "load", "flush", "clear"
	Err  error
}

func (e *SnapshotError) Error() string {
	return fmt.Sprintf("snapshot error: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *SnapshotError) Unwrap() error {
	return e.Err
}

// ConfigError represents errors loading or validating configuration
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ExportError represents errors during report export
type ExportError struct {
	Format string
	Path   string
	Err    error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("export error [%s] %s: %v", e.Format, e.Path, e.Err)
}

func (e *ExportError) Unwrap() error {
	return e.Err
}
