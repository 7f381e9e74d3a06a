// Package registry implements the registry tweak module: typed value writes
// with capture-before-write and exact restore, including restore-to-absent.
package registry

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/SanGraphic/gamemode/internal"
)

// ValueType is a registry value type
type ValueType string

const (
	TypeDword        ValueType = "dword"
	TypeQword        ValueType = "qword"
	TypeString       ValueType = "string"
	TypeExpandString ValueType = "expand_string"
	TypeBinary       ValueType = "binary"
)

// Value is a typed registry value. Absent marks a value that did not exist.
type Value struct {
	Absent bool      `json:"absent,omitempty"`
	Type   ValueType `json:"type,omitempty"`
	Int    uint64    `json:"int,omitempty"`
	Str    string    `json:"str,omitempty"`
	Bin    []byte    `json:"bin,omitempty"`
}

// Equal reports whether two values are the same type and data
func (v Value) Equal(o Value) bool {
	if v.Absent || o.Absent {
		return v.Absent == o.Absent
	}
	if v.Type != o.Type {
		return false
	}
	switch v.Type {
	case TypeDword, TypeQword:
		return v.Int == o.Int
	case TypeString, TypeExpandString:
		return v.Str == o.Str
	default:
		return bytes.Equal(v.Bin, o.Bin)
	}
}

func (v Value) String() string {
	switch {
	case v.Absent:
		return "<absent>"
	case v.Type == TypeDword || v.Type == TypeQword:
		return fmt.Sprintf("%s:%d", v.Type, v.Int)
	case v.Type == TypeBinary:
		return fmt.Sprintf("%s:%x", v.Type, v.Bin)
	default:
		return fmt.Sprintf("%s:%q", v.Type, v.Str)
	}
}

// Backend is the host registry. Missing keys or values are reported as
// internal.ErrTargetAbsent.
type Backend interface {
	GetValue(hive, path, name string) (Value, error)
	// SetValue creates the key when it does not exist
	SetValue(hive, path, name string, v Value) error
	// DeleteValue treats a missing key or value as success
	DeleteValue(hive, path, name string) error
	SubKeys(hive, path string) ([]string, error)
}

// Target is one value the module sets during a session. A `*` path segment
// expands to every existing subkey at capture time.
type Target struct {
	Hive  string
	Path  string
	Name  string
	Value Value
}

// Key returns the module-scoped item key
func (t Target) Key() string {
	return t.Hive + `\` + t.Path + `\` + t.Name
}

// TargetsFromConfig converts resolved configuration entries to targets
func TargetsFromConfig(entries []internal.RegistryTarget) ([]Target, error) {
	targets := make([]Target, 0, len(entries))
	for _, e := range entries {
		v, err := ParseValue(ValueType(e.Type), e.Data)
		if err != nil {
			return nil, fmt.Errorf("registry value %s\\%s\\%s: %w", e.Hive, e.Path, e.Name, err)
		}
		targets = append(targets, Target{
			Hive:  strings.ToUpper(e.Hive),
			Path:  strings.Trim(e.Path, `\`),
			Name:  e.Name,
			Value: v,
		})
	}
	return targets, nil
}

// ParseValue builds a Value from loosely typed configuration data
func ParseValue(t ValueType, data any) (Value, error) {
	v := Value{Type: t}
	switch t {
	case TypeDword, TypeQword:
		n, err := toUint(data)
		if err != nil {
			return Value{}, err
		}
		if t == TypeDword && n > 0xFFFFFFFF {
			return Value{}, fmt.Errorf("dword out of range: %d", n)
		}
		v.Int = n
	case TypeString, TypeExpandString:
		if data == nil {
			return Value{}, errors.New("missing string data")
		}
		v.Str = fmt.Sprint(data)
	case TypeBinary:
		switch d := data.(type) {
		case string:
			b, err := hex.DecodeString(strings.ReplaceAll(d, " ", ""))
			if err != nil {
				return Value{}, fmt.Errorf("invalid hex data: %w", err)
			}
			v.Bin = b
		case []any:
			for _, x := range d {
				n, err := toUint(x)
				if err != nil || n > 0xFF {
					return Value{}, fmt.Errorf("invalid byte %v", x)
				}
				v.Bin = append(v.Bin, byte(n))
			}
		default:
			return Value{}, fmt.Errorf("unsupported binary data %T", data)
		}
	default:
		return Value{}, fmt.Errorf("unknown value type %q", t)
	}
	return v, nil
}

func toUint(data any) (uint64, error) {
	switch d := data.(type) {
	case int:
		if d < 0 {
			return 0, fmt.Errorf("negative value %d", d)
		}
		return uint64(d), nil
	case int64:
		if d < 0 {
			return 0, fmt.Errorf("negative value %d", d)
		}
		return uint64(d), nil
	case uint64:
		return d, nil
	case uint32:
		return uint64(d), nil
	case float64:
		if d < 0 || d != float64(uint64(d)) {
			return 0, fmt.Errorf("invalid integer %v", d)
		}
		return uint64(d), nil
	case string:
		return strconv.ParseUint(strings.TrimSpace(d), 0, 64)
	default:
		return 0, fmt.Errorf("unsupported integer data %T", data)
	}
}

func splitKey(key string) (hive, path, name string, err error) {
	first := strings.Index(key, `\`)
	last := strings.LastIndex(key, `\`)
	if first < 0 || first == last {
		return "", "", "", fmt.Errorf("malformed registry key %q", key)
	}
	return key[:first], key[first+1 : last], key[last+1:], nil
}

// Controller is the registry tweak module
type Controller struct {
	backend Backend
	targets []Target
}

// New creates the registry module
func New(backend Backend, targets []Target) *Controller {
	return &Controller{backend: backend, targets: targets}
}

// Kind implements internal.Module
func (c *Controller) Kind() internal.ModuleKind {
	return internal.ModuleRegistry
}

// expand resolves `*` path segments against the live registry
func (c *Controller) expand(t Target) ([]Target, error) {
	idx := strings.Index(t.Path, `*`)
	if idx < 0 {
		return []Target{t}, nil
	}
	parent := strings.TrimSuffix(t.Path[:idx], `\`)
	rest := strings.TrimPrefix(t.Path[idx+1:], `\`)

	subkeys, err := c.backend.SubKeys(t.Hive, parent)
	if err != nil {
		return nil, err
	}
	var out []Target
	for _, sk := range subkeys {
		child := t
		child.Path = parent + `\` + sk
		if rest != "" {
			child.Path += `\` + rest
		}
		expanded, err := c.expand(child)
		if err != nil {
			return nil, err
		}
		out = append(out, expanded...)
	}
	return out, nil
}

// Capture records the current value of every target. A missing value is a
// captured original of {"absent":true}; a value or key that cannot be read is
// returned as a failure and left alone.
func (c *Controller) Capture(ctx context.Context) ([]internal.TweakItem, []internal.ItemFailure, error) {
	var (
		items  []internal.TweakItem
		failed []internal.ItemFailure
	)
	seen := make(map[string]bool)
	for _, t := range c.targets {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		concrete, err := c.expand(t)
		if err != nil {
			if errors.Is(err, internal.ErrTargetAbsent) {
				internal.LogDebug("Registry key %s\\%s does not exist, skipping", t.Hive, t.Path)
				continue
			}
			if errors.Is(err, internal.ErrUnsupported) {
				return nil, nil, err
			}
			failed = append(failed, internal.NewItemFailure(t.Key(), err))
			continue
		}
		for _, ct := range concrete {
			key := ct.Key()
			if seen[strings.ToLower(key)] {
				continue
			}
			current, err := c.backend.GetValue(ct.Hive, ct.Path, ct.Name)
			switch {
			case errors.Is(err, internal.ErrTargetAbsent):
				current = Value{Absent: true}
			case errors.Is(err, internal.ErrUnsupported):
				return nil, nil, err
			case err != nil:
				seen[strings.ToLower(key)] = true
				failed = append(failed, internal.NewItemFailure(key, err))
				continue
			}
			item, err := internal.NewItem(internal.ModuleRegistry, key, current, ct.Value)
			if err != nil {
				return nil, nil, err
			}
			seen[strings.ToLower(key)] = true
			items = append(items, item)
		}
	}
	return items, failed, nil
}

// Apply writes the tweaked value of every item
func (c *Controller) Apply(ctx context.Context, items []internal.TweakItem) (internal.ModuleResult, error) {
	res := internal.NewModuleResult(internal.ModuleRegistry, internal.PhaseApply)
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		hive, path, name, err := splitKey(it.Key)
		if err != nil {
			res.Fail(it.Key, err)
			continue
		}
		var v Value
		if err := it.DecodeApplied(&v); err != nil {
			res.Fail(it.Key, err)
			continue
		}
		if err := c.backend.SetValue(hive, path, name, v); err != nil {
			internal.LogWarn("Failed to set %s: %v", it.Key, err)
			res.Fail(it.Key, err)
			continue
		}
		internal.LogDebug("Set %s = %s", it.Key, v)
		res.Succeed(it.Key)
	}
	return res, nil
}

// Revert restores every item's original value, deleting values that did not
// exist. Items already at their original value are left untouched.
func (c *Controller) Revert(ctx context.Context, items []internal.TweakItem) (internal.ModuleResult, error) {
	res := internal.NewModuleResult(internal.ModuleRegistry, internal.PhaseRevert)
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		hive, path, name, err := splitKey(it.Key)
		if err != nil {
			res.Fail(it.Key, err)
			continue
		}
		var orig Value
		if err := it.DecodeOriginal(&orig); err != nil {
			res.Fail(it.Key, err)
			continue
		}

		if orig.Absent {
			err = c.backend.DeleteValue(hive, path, name)
		} else {
			current, getErr := c.backend.GetValue(hive, path, name)
			if getErr == nil && current.Equal(orig) {
				res.Succeed(it.Key)
				continue
			}
			err = c.backend.SetValue(hive, path, name, orig)
		}
		if err != nil {
			internal.LogWarn("Failed to restore %s: %v", it.Key, err)
			res.Fail(it.Key, err)
			continue
		}
		internal.LogDebug("Restored %s = %s", it.Key, orig)
		res.Succeed(it.Key)
	}
	return res, nil
}
