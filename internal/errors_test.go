package internal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestModuleError(t *testing.T) {
	originalErr := errors.New("service manager unreachable")
	err := &ModuleError{
		Module: ModuleServices,
		Op:     "capture",
		Err:    originalErr,
	}

	errorMsg := err.Error()
	if !strings.Contains(errorMsg, "module error") {
		t.Errorf("ModuleError.Error() should contain 'module error', got: %q", errorMsg)
	}
	if !strings.Contains(errorMsg, "services") {
		t.Errorf("ModuleError.Error() should contain module, got: %q", errorMsg)
	}
	if !errors.Is(err, originalErr) {
		t.Error("ModuleError.Unwrap() should return original error")
	}
}

func TestSnapshotError(t *testing.T) {
	originalErr := errors.New("disk full")
	err := &SnapshotError{
		Path: "/state/snapshot.json",
		Op:   "flush",
		Err:  originalErr,
	}

	errorMsg := err.Error()
	if !strings.Contains(errorMsg, "snapshot error") {
		t.Errorf("SnapshotError.Error() should contain 'snapshot error', got: %q", errorMsg)
	}
	if !strings.Contains(errorMsg, "/state/snapshot.json") {
		t.Errorf("SnapshotError.Error() should contain path, got: %q", errorMsg)
	}
	if !errors.Is(err, originalErr) {
		t.Error("SnapshotError.Unwrap() should return original error")
	}
}

func TestConfigError(t *testing.T) {
	originalErr := errors.New("unknown hive")
	err := &ConfigError{Path: "config.yaml", Err: originalErr}

	if !strings.Contains(err.Error(), "config.yaml") {
		t.Errorf("ConfigError.Error() should contain path, got: %q", err.Error())
	}
	if !errors.Is(err, originalErr) {
		t.Error("ConfigError.Unwrap() should return original error")
	}
}

func TestExportError(t *testing.T) {
	originalErr := errors.New("write failed")
	err := &ExportError{Format: "json", Path: "/out.json", Err: originalErr}

	errorMsg := err.Error()
	if !strings.Contains(errorMsg, "export error") || !strings.Contains(errorMsg, "json") {
		t.Errorf("ExportError.Error() = %q", errorMsg)
	}
	if !errors.Is(err, originalErr) {
		t.Error("ExportError.Unwrap() should return original error")
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, ""},
		{"absent", fmt.Errorf("open key: %w", ErrTargetAbsent), KindTargetAbsent},
		{"permission", fmt.Errorf("stop SysMain: %w", ErrPermissionDenied), KindPermissionDenied},
		{"busy", fmt.Errorf("stop Spooler: %w", ErrBusy), KindBusy},
		{"snapshot", &SnapshotError{Op: "flush", Err: errors.New("x")}, KindSnapshotIO},
		{"timeout sentinel", &ModuleError{Module: ModulePower, Op: "apply", Err: ErrTimeout}, KindTimeout},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"unsupported", fmt.Errorf("registry: %w", ErrUnsupported), KindUnsupported},
		{"other", errors.New("boom"), KindFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}
}
