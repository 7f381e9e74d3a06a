//go:build !windows

package power

import (
	"context"
	"fmt"

	"github.com/SanGraphic/gamemode/internal"
)

type nativeBackend struct{}

// NewNativeBackend returns a backend that reports every call as unsupported
func NewNativeBackend() Backend {
	return nativeBackend{}
}

func (nativeBackend) ActivePlan(ctx context.Context) (string, error) {
	return "", fmt.Errorf("power: %w", internal.ErrUnsupported)
}

func (nativeBackend) SetActivePlan(ctx context.Context, guid string) error {
	return fmt.Errorf("power: %w", internal.ErrUnsupported)
}

func (nativeBackend) ListPlans(ctx context.Context) ([]Plan, error) {
	return nil, fmt.Errorf("power: %w", internal.ErrUnsupported)
}

func (nativeBackend) DuplicatePlan(ctx context.Context, template string) error {
	return fmt.Errorf("power: %w", internal.ErrUnsupported)
}

func (nativeBackend) ReadACValue(ctx context.Context, plan, subgroup, setting string) (uint32, error) {
	return 0, fmt.Errorf("power: %w", internal.ErrUnsupported)
}

func (nativeBackend) WriteACValue(ctx context.Context, plan, subgroup, setting string, value uint32) error {
	return fmt.Errorf("power: %w", internal.ErrUnsupported)
}
