//go:build !windows

package services

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

func (nativeBackend) Query(ctx context.Context, name string) (State, error) {
	return State{}, fmt.Errorf("services: %w", internal.ErrUnsupported)
}

func (nativeBackend) Stop(ctx context.Context, name string) error {
	return fmt.Errorf("services: %w", internal.ErrUnsupported)
}

func (nativeBackend) Start(ctx context.Context, name string) error {
	return fmt.Errorf("services: %w", internal.ErrUnsupported)
}

func (nativeBackend) SetStartMode(ctx context.Context, name string, mode StartMode) error {
	return fmt.Errorf("services: %w", internal.ErrUnsupported)
}

func (nativeBackend) Dependents(ctx context.Context, name string) ([]string, error) {
	return nil, fmt.Errorf("services: %w", internal.ErrUnsupported)
}
