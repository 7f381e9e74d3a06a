package simhost

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/SanGraphic/gamemode/internal"
	"github.com/SanGraphic/gamemode/internal/power"
)

type powerBackend struct{ h *Host }

// Power returns the host's power API backend
func (h *Host) Power() power.Backend {
	return powerBackend{h: h}
}

// AddPlan seeds a plan. A plan that is not installed is a template that
// DuplicatePlan can install.
func (h *Host) AddPlan(guid, name string, installed bool) error {
	_, err := h.db.Exec(`INSERT INTO power_plans (guid, name, installed) VALUES (?, ?, ?)
		ON CONFLICT (guid) DO UPDATE SET name = excluded.name, installed = excluded.installed`,
		guid, name, boolInt(installed))
	if err != nil {
		return fmt.Errorf("failed to add plan: %w", err)
	}
	return nil
}

// SetPowerValue seeds an AC value index
func (h *Host) SetPowerValue(plan, subgroup, setting string, value uint32) error {
	return h.Power().WriteACValue(context.Background(), plan, subgroup, setting, value)
}

func (b powerBackend) ActivePlan(ctx context.Context) (string, error) {
	var guid string
	err := b.h.db.QueryRowContext(ctx, `SELECT guid FROM power_active WHERE id = 1`).Scan(&guid)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("no active plan: %w", internal.ErrTargetAbsent)
	}
	if err != nil {
		return "", fmt.Errorf("query failed: %w", err)
	}
	return guid, nil
}

func (b powerBackend) SetActivePlan(ctx context.Context, guid string) error {
	var installed int
	err := b.h.db.QueryRowContext(ctx, `SELECT installed FROM power_plans WHERE guid = ?`, guid).Scan(&installed)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && installed == 0) {
		return fmt.Errorf("plan %s: %w", guid, internal.ErrTargetAbsent)
	}
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}
	_, err = b.h.db.ExecContext(ctx, `INSERT INTO power_active (id, guid) VALUES (1, ?)
		ON CONFLICT (id) DO UPDATE SET guid = excluded.guid`, guid)
	if err != nil {
		return fmt.Errorf("failed to activate plan: %w", err)
	}
	return nil
}

func (b powerBackend) ListPlans(ctx context.Context) ([]power.Plan, error) {
	rows, err := b.h.db.QueryContext(ctx, `SELECT guid, name FROM power_plans WHERE installed = 1 ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var out []power.Plan
	for rows.Next() {
		var p power.Plan
		if err := rows.Scan(&p.GUID, &p.Name); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (b powerBackend) DuplicatePlan(ctx context.Context, template string) error {
	res, err := b.h.db.ExecContext(ctx, `UPDATE power_plans SET installed = 1 WHERE guid = ?`, template)
	if err != nil {
		return fmt.Errorf("failed to duplicate plan: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("template %s: %w", template, internal.ErrTargetAbsent)
	}
	return nil
}

func (b powerBackend) ReadACValue(ctx context.Context, plan, subgroup, setting string) (uint32, error) {
	var v int64
	err := b.h.db.QueryRowContext(ctx, `SELECT value FROM power_values WHERE plan = ? AND subgroup = ? AND setting = ?`,
		plan, subgroup, setting).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("setting %s/%s: %w", subgroup, setting, internal.ErrTargetAbsent)
	}
	if err != nil {
		return 0, fmt.Errorf("query failed: %w", err)
	}
	return uint32(v), nil
}

func (b powerBackend) WriteACValue(ctx context.Context, plan, subgroup, setting string, value uint32) error {
	_, err := b.h.db.ExecContext(ctx, `INSERT INTO power_values (plan, subgroup, setting, value) VALUES (?, ?, ?, ?)
		ON CONFLICT (plan, subgroup, setting) DO UPDATE SET value = excluded.value`,
		plan, subgroup, setting, int64(value))
	if err != nil {
		return fmt.Errorf("failed to write value: %w", err)
	}
	return nil
}
