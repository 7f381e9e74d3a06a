//go:build windows

package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"unsafe"

	"github.com/SanGraphic/gamemode/internal"
	"golang.org/x/sys/windows"
)

var (
	ntdll                = windows.NewLazySystemDLL("ntdll.dll")
	procNtSuspendProcess = ntdll.NewProc("NtSuspendProcess")
	procNtResumeProcess  = ntdll.NewProc("NtResumeProcess")
)

type nativeBackend struct{}

// NewNativeBackend returns the Windows process backend
func NewNativeBackend() Backend {
	return nativeBackend{}
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, windows.ERROR_INVALID_PARAMETER):
		return fmt.Errorf("%w: %v", internal.ErrTargetAbsent, err)
	case errors.Is(err, windows.ERROR_ACCESS_DENIED):
		return fmt.Errorf("%w: %v", internal.ErrPermissionDenied, err)
	default:
		return err
	}
}

func (nativeBackend) List(ctx context.Context) ([]Proc, error) {
	snap, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPPROCESS, 0)
	if err != nil {
		return nil, fmt.Errorf("CreateToolhelp32Snapshot failed: %w", err)
	}
	defer windows.CloseHandle(snap)

	var entry windows.ProcessEntry32
	entry.Size = uint32(unsafe.Sizeof(entry))
	if err := windows.Process32First(snap, &entry); err != nil {
		return nil, fmt.Errorf("Process32First failed: %w", err)
	}

	var procs []Proc
	for {
		procs = append(procs, Proc{
			PID:  entry.ProcessID,
			Name: windows.UTF16ToString(entry.ExeFile[:]),
		})
		if err := windows.Process32Next(snap, &entry); err != nil {
			if errors.Is(err, windows.ERROR_NO_MORE_FILES) {
				break
			}
			return nil, fmt.Errorf("Process32Next failed: %w", err)
		}
	}
	return procs, nil
}

func ntCall(proc *windows.LazyProc, pid uint32) error {
	h, err := windows.OpenProcess(windows.PROCESS_SUSPEND_RESUME, false, pid)
	if err != nil {
		return mapErr(err)
	}
	defer windows.CloseHandle(h)

	if err := proc.Find(); err != nil {
		return fmt.Errorf("%w: %v", internal.ErrUnsupported, err)
	}
	status, _, _ := proc.Call(uintptr(h))
	if status != 0 {
		return fmt.Errorf("%s returned NTSTATUS 0x%08x", proc.Name, uint32(status))
	}
	return nil
}

func (nativeBackend) Suspend(pid uint32) error {
	return ntCall(procNtSuspendProcess, pid)
}

func (nativeBackend) Resume(pid uint32) error {
	return ntCall(procNtResumeProcess, pid)
}

func (nativeBackend) Terminate(pid uint32) error {
	h, err := windows.OpenProcess(windows.PROCESS_TERMINATE, false, pid)
	if err != nil {
		return mapErr(err)
	}
	defer windows.CloseHandle(h)
	return mapErr(windows.TerminateProcess(h, 1))
}

func (nativeBackend) Launch(name string) error {
	exe := name
	if !strings.HasSuffix(strings.ToLower(exe), ".exe") {
		exe += ".exe"
	}
	if strings.EqualFold(name, "explorer") {
		exe = filepath.Join(os.Getenv("WINDIR"), "explorer.exe")
	}
	cmd := exec.Command(exe)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to launch %s: %w", exe, err)
	}
	return cmd.Process.Release()
}

func (nativeBackend) Priority(pid uint32) (uint32, error) {
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, pid)
	if err != nil {
		return 0, mapErr(err)
	}
	defer windows.CloseHandle(h)
	class, err := windows.GetPriorityClass(h)
	return class, mapErr(err)
}

func (nativeBackend) SetPriority(pid uint32, class uint32) error {
	h, err := windows.OpenProcess(windows.PROCESS_SET_INFORMATION, false, pid)
	if err != nil {
		return mapErr(err)
	}
	defer windows.CloseHandle(h)
	return mapErr(windows.SetPriorityClass(h, class))
}
