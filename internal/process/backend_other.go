//go:build !windows

package process

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

func (nativeBackend) List(ctx context.Context) ([]Proc, error) {
	return nil, fmt.Errorf("process: %w", internal.ErrUnsupported)
}

func (nativeBackend) Suspend(pid uint32) error {
	return fmt.Errorf("process: %w", internal.ErrUnsupported)
}

func (nativeBackend) Resume(pid uint32) error {
	return fmt.Errorf("process: %w", internal.ErrUnsupported)
}

func (nativeBackend) Terminate(pid uint32) error {
	return fmt.Errorf("process: %w", internal.ErrUnsupported)
}

func (nativeBackend) Launch(name string) error {
	return fmt.Errorf("process: %w", internal.ErrUnsupported)
}

func (nativeBackend) Priority(pid uint32) (uint32, error) {
	return 0, fmt.Errorf("process: %w", internal.ErrUnsupported)
}

func (nativeBackend) SetPriority(pid uint32, class uint32) error {
	return fmt.Errorf("process: %w", internal.ErrUnsupported)
}
