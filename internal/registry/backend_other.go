//go:build !windows

package registry

import (
	"fmt"

	"github.com/SanGraphic/gamemode/internal"
)

type nativeBackend struct{}

// NewNativeBackend returns a backend that reports every call as unsupported
func NewNativeBackend() Backend {
	return nativeBackend{}
}

func (nativeBackend) GetValue(hive, path, name string) (Value, error) {
	return Value{}, fmt.Errorf("registry: %w", internal.ErrUnsupported)
}

func (nativeBackend) SetValue(hive, path, name string, v Value) error {
	return fmt.Errorf("registry: %w", internal.ErrUnsupported)
}

func (nativeBackend) DeleteValue(hive, path, name string) error {
	return fmt.Errorf("registry: %w", internal.ErrUnsupported)
}

func (nativeBackend) SubKeys(hive, path string) ([]string, error) {
	return nil, fmt.Errorf("registry: %w", internal.ErrUnsupported)
}
