//go:build windows

package power

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"unsafe"

	"github.com/SanGraphic/gamemode/internal"
	"golang.org/x/sys/windows"
)

var (
	powrprof                   = windows.NewLazySystemDLL("powrprof.dll")
	procPowerGetActiveScheme   = powrprof.NewProc("PowerGetActiveScheme")
	procPowerSetActiveScheme   = powrprof.NewProc("PowerSetActiveScheme")
	procPowerReadACValueIndex  = powrprof.NewProc("PowerReadACValueIndex")
	procPowerWriteACValueIndex = powrprof.NewProc("PowerWriteACValueIndex")

	planLine = regexp.MustCompile(`([0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12})\s+\(([^)]*)\)`)
)

type nativeBackend struct{}

// NewNativeBackend returns the Windows power API backend
func NewNativeBackend() Backend {
	return nativeBackend{}
}

func parseGUID(s string) (*windows.GUID, error) {
	g, err := windows.GUIDFromString("{" + normalize(s) + "}")
	if err != nil {
		return nil, fmt.Errorf("invalid guid %q: %w", s, err)
	}
	return &g, nil
}

func formatGUID(g *windows.GUID) string {
	return normalize(g.String())
}

func callErr(name string, r uintptr) error {
	if r == 0 {
		return nil
	}
	errno := windows.Errno(r)
	switch {
	case errors.Is(errno, windows.ERROR_ACCESS_DENIED):
		return fmt.Errorf("%s: %w", name, internal.ErrPermissionDenied)
	case errors.Is(errno, windows.ERROR_FILE_NOT_FOUND), errors.Is(errno, windows.ERROR_INVALID_PARAMETER):
		return fmt.Errorf("%s: %w", name, internal.ErrTargetAbsent)
	default:
		return fmt.Errorf("%s failed: %w", name, errno)
	}
}

func (nativeBackend) ActivePlan(ctx context.Context) (string, error) {
	var guid *windows.GUID
	r, _, _ := procPowerGetActiveScheme.Call(0, uintptr(unsafe.Pointer(&guid)))
	if err := callErr("PowerGetActiveScheme", r); err != nil {
		return "", err
	}
	defer windows.LocalFree(windows.Handle(unsafe.Pointer(guid)))
	return formatGUID(guid), nil
}

func (nativeBackend) SetActivePlan(ctx context.Context, plan string) error {
	g, err := parseGUID(plan)
	if err != nil {
		return err
	}
	r, _, _ := procPowerSetActiveScheme.Call(0, uintptr(unsafe.Pointer(g)))
	return callErr("PowerSetActiveScheme", r)
}

func (nativeBackend) ListPlans(ctx context.Context) ([]Plan, error) {
	out, err := exec.CommandContext(ctx, "powercfg", "/list").Output()
	if err != nil {
		return nil, fmt.Errorf("powercfg /list failed: %w", err)
	}
	var plans []Plan
	for _, line := range strings.Split(string(out), "\n") {
		if m := planLine.FindStringSubmatch(line); m != nil {
			plans = append(plans, Plan{GUID: normalize(m[1]), Name: strings.TrimSpace(m[2])})
		}
	}
	return plans, nil
}

func (nativeBackend) DuplicatePlan(ctx context.Context, template string) error {
	guid := normalize(template)
	out, err := exec.CommandContext(ctx, "powercfg", "-duplicatescheme", guid, guid).CombinedOutput()
	if err != nil {
		return fmt.Errorf("powercfg -duplicatescheme %s failed: %w: %s", guid, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (nativeBackend) ReadACValue(ctx context.Context, plan, subgroup, setting string) (uint32, error) {
	p, err := parseGUID(plan)
	if err != nil {
		return 0, err
	}
	sg, err := parseGUID(subgroup)
	if err != nil {
		return 0, err
	}
	st, err := parseGUID(setting)
	if err != nil {
		return 0, err
	}
	var value uint32
	r, _, _ := procPowerReadACValueIndex.Call(0,
		uintptr(unsafe.Pointer(p)), uintptr(unsafe.Pointer(sg)), uintptr(unsafe.Pointer(st)),
		uintptr(unsafe.Pointer(&value)))
	if err := callErr("PowerReadACValueIndex", r); err != nil {
		return 0, err
	}
	return value, nil
}

func (nativeBackend) WriteACValue(ctx context.Context, plan, subgroup, setting string, value uint32) error {
	p, err := parseGUID(plan)
	if err != nil {
		return err
	}
	sg, err := parseGUID(subgroup)
	if err != nil {
		return err
	}
	st, err := parseGUID(setting)
	if err != nil {
		return err
	}
	r, _, _ := procPowerWriteACValueIndex.Call(0,
		uintptr(unsafe.Pointer(p)), uintptr(unsafe.Pointer(sg)), uintptr(unsafe.Pointer(st)),
		uintptr(value))
	return callErr("PowerWriteACValueIndex", r)
}
