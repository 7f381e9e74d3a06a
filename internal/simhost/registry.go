package simhost

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/SanGraphic/gamemode/internal"
	"github.com/SanGraphic/gamemode/internal/registry"
)

type registryBackend struct{ h *Host }

// Registry returns the host's registry backend
func (h *Host) Registry() registry.Backend {
	return registryBackend{h: h}
}

func (h *Host) ensureKey(tx *sql.Tx, hive, path string) error {
	_, err := tx.Exec(`INSERT OR IGNORE INTO registry_keys (hive, path) VALUES (?, ?)`, hive, path)
	return err
}

// PutRegistryValue seeds a value, creating its key
func (h *Host) PutRegistryValue(hive, path, name string, v registry.Value) error {
	return h.Registry().SetValue(hive, path, name, v)
}

// CreateRegistryKey seeds an empty key
func (h *Host) CreateRegistryKey(hive, path string) error {
	_, err := h.db.Exec(`INSERT OR IGNORE INTO registry_keys (hive, path) VALUES (?, ?)`, hive, path)
	if err != nil {
		return fmt.Errorf("failed to create key: %w", err)
	}
	return nil
}

// LockRegistryValue makes writes to a value fail with PermissionDenied
func (h *Host) LockRegistryValue(hive, path, name string, locked bool) error {
	_, err := h.db.Exec(`UPDATE registry_values SET locked = ? WHERE hive = ? AND path = ? AND name = ?`,
		boolInt(locked), hive, path, name)
	if err != nil {
		return fmt.Errorf("failed to lock value: %w", err)
	}
	return nil
}

// DenyRegistryRead makes reads of a value fail with PermissionDenied
func (h *Host) DenyRegistryRead(hive, path, name string, denied bool) error {
	_, err := h.db.Exec(`UPDATE registry_values SET unreadable = ? WHERE hive = ? AND path = ? AND name = ?`,
		boolInt(denied), hive, path, name)
	if err != nil {
		return fmt.Errorf("failed to deny value: %w", err)
	}
	return nil
}

func (b registryBackend) GetValue(hive, path, name string) (registry.Value, error) {
	var (
		v      registry.Value
		typ    string
		n      int64
		bin    []byte
		denied int
	)
	err := b.h.db.QueryRow(`SELECT type, int_val, str_val, bin_val, unreadable FROM registry_values
		WHERE hive = ? AND path = ? AND name = ?`, hive, path, name).Scan(&typ, &n, &v.Str, &bin, &denied)
	if errors.Is(err, sql.ErrNoRows) {
		return registry.Value{}, fmt.Errorf("%s\\%s\\%s: %w", hive, path, name, internal.ErrTargetAbsent)
	}
	if err != nil {
		return registry.Value{}, fmt.Errorf("query failed: %w", err)
	}
	if denied != 0 {
		return registry.Value{}, fmt.Errorf("%s\\%s\\%s: %w", hive, path, name, internal.ErrPermissionDenied)
	}
	v.Type = registry.ValueType(typ)
	v.Int = uint64(n)
	v.Bin = bin
	return v, nil
}

func (b registryBackend) SetValue(hive, path, name string, v registry.Value) error {
	b.h.mu.Lock()
	defer b.h.mu.Unlock()

	var locked int
	err := b.h.db.QueryRow(`SELECT locked FROM registry_values WHERE hive = ? AND path = ? AND name = ?`,
		hive, path, name).Scan(&locked)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("query failed: %w", err)
	}
	if locked != 0 {
		return fmt.Errorf("%s\\%s\\%s: %w", hive, path, name, internal.ErrPermissionDenied)
	}

	tx, err := b.h.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := b.h.ensureKey(tx, hive, path); err != nil {
		return fmt.Errorf("failed to create key: %w", err)
	}
	_, err = tx.Exec(`INSERT INTO registry_values (hive, path, name, type, int_val, str_val, bin_val)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (hive, path, name) DO UPDATE SET
			type = excluded.type, int_val = excluded.int_val,
			str_val = excluded.str_val, bin_val = excluded.bin_val`,
		hive, path, name, string(v.Type), int64(v.Int), v.Str, v.Bin)
	if err != nil {
		return fmt.Errorf("failed to write value: %w", err)
	}
	return tx.Commit()
}

func (b registryBackend) DeleteValue(hive, path, name string) error {
	var locked int
	err := b.h.db.QueryRow(`SELECT locked FROM registry_values WHERE hive = ? AND path = ? AND name = ?`,
		hive, path, name).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}
	if locked != 0 {
		return fmt.Errorf("%s\\%s\\%s: %w", hive, path, name, internal.ErrPermissionDenied)
	}
	if _, err := b.h.db.Exec(`DELETE FROM registry_values WHERE hive = ? AND path = ? AND name = ?`,
		hive, path, name); err != nil {
		return fmt.Errorf("failed to delete value: %w", err)
	}
	return nil
}

func (b registryBackend) SubKeys(hive, path string) ([]string, error) {
	var exists int
	if err := b.h.db.QueryRow(`SELECT COUNT(*) FROM registry_keys WHERE hive = ? AND path = ?`, hive, path).Scan(&exists); err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	prefix := path + `\`
	rows, err := b.h.db.Query(`SELECT path FROM registry_keys
		WHERE hive = ? AND length(path) > ? AND lower(substr(path, 1, ?)) = lower(?)`,
		hive, utf8.RuneCountInString(prefix), utf8.RuneCountInString(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]bool)
	var names []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		child := strings.SplitN(p[len(prefix):], `\`, 2)[0]
		if !seen[strings.ToLower(child)] {
			seen[strings.ToLower(child)] = true
			names = append(names, child)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	if exists == 0 && len(names) == 0 {
		return nil, fmt.Errorf("%s\\%s: %w", hive, path, internal.ErrTargetAbsent)
	}
	sort.Strings(names)
	return names, nil
}
