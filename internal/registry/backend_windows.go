//go:build windows

package registry

import (
	"errors"
	"fmt"

	"github.com/SanGraphic/gamemode/internal"
	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/registry"
)

type nativeBackend struct{}

// NewNativeBackend returns the Windows registry backend
func NewNativeBackend() Backend {
	return nativeBackend{}
}

func rootKey(hive string) (registry.Key, error) {
	switch hive {
	case "HKLM":
		return registry.LOCAL_MACHINE, nil
	case "HKCU":
		return registry.CURRENT_USER, nil
	case "HKU":
		return registry.USERS, nil
	case "HKCR":
		return registry.CLASSES_ROOT, nil
	default:
		return 0, fmt.Errorf("unknown hive %q", hive)
	}
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, registry.ErrNotExist):
		return fmt.Errorf("%w: %v", internal.ErrTargetAbsent, err)
	case errors.Is(err, windows.ERROR_ACCESS_DENIED):
		return fmt.Errorf("%w: %v", internal.ErrPermissionDenied, err)
	default:
		return err
	}
}

func (nativeBackend) GetValue(hive, path, name string) (Value, error) {
	root, err := rootKey(hive)
	if err != nil {
		return Value{}, err
	}
	k, err := registry.OpenKey(root, path, registry.QUERY_VALUE)
	if err != nil {
		return Value{}, mapErr(err)
	}
	defer k.Close()

	_, valType, err := k.GetValue(name, nil)
	if err != nil {
		return Value{}, mapErr(err)
	}
	switch valType {
	case registry.DWORD:
		n, _, err := k.GetIntegerValue(name)
		return Value{Type: TypeDword, Int: n}, mapErr(err)
	case registry.QWORD:
		n, _, err := k.GetIntegerValue(name)
		return Value{Type: TypeQword, Int: n}, mapErr(err)
	case registry.SZ:
		s, _, err := k.GetStringValue(name)
		return Value{Type: TypeString, Str: s}, mapErr(err)
	case registry.EXPAND_SZ:
		s, _, err := k.GetStringValue(name)
		return Value{Type: TypeExpandString, Str: s}, mapErr(err)
	case registry.BINARY:
		b, _, err := k.GetBinaryValue(name)
		return Value{Type: TypeBinary, Bin: b}, mapErr(err)
	default:
		return Value{}, fmt.Errorf("%w: registry value type %d", internal.ErrUnsupported, valType)
	}
}

func (nativeBackend) SetValue(hive, path, name string, v Value) error {
	root, err := rootKey(hive)
	if err != nil {
		return err
	}
	k, _, err := registry.CreateKey(root, path, registry.SET_VALUE)
	if err != nil {
		return mapErr(err)
	}
	defer k.Close()

	switch v.Type {
	case TypeDword:
		err = k.SetDWordValue(name, uint32(v.Int))
	case TypeQword:
		err = k.SetQWordValue(name, v.Int)
	case TypeString:
		err = k.SetStringValue(name, v.Str)
	case TypeExpandString:
		err = k.SetExpandStringValue(name, v.Str)
	case TypeBinary:
		err = k.SetBinaryValue(name, v.Bin)
	default:
		return fmt.Errorf("cannot write value of type %q", v.Type)
	}
	return mapErr(err)
}

func (nativeBackend) DeleteValue(hive, path, name string) error {
	root, err := rootKey(hive)
	if err != nil {
		return err
	}
	k, err := registry.OpenKey(root, path, registry.SET_VALUE)
	if err != nil {
		if errors.Is(err, registry.ErrNotExist) {
			return nil
		}
		return mapErr(err)
	}
	defer k.Close()

	if err := k.DeleteValue(name); err != nil && !errors.Is(err, registry.ErrNotExist) {
		return mapErr(err)
	}
	return nil
}

func (nativeBackend) SubKeys(hive, path string) ([]string, error) {
	root, err := rootKey(hive)
	if err != nil {
		return nil, err
	}
	k, err := registry.OpenKey(root, path, registry.ENUMERATE_SUB_KEYS)
	if err != nil {
		return nil, mapErr(err)
	}
	defer k.Close()

	names, err := k.ReadSubKeyNames(0)
	if err != nil {
		return nil, mapErr(err)
	}
	return names, nil
}
