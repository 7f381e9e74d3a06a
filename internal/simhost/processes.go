package simhost

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/SanGraphic/gamemode/internal"
	"github.com/SanGraphic/gamemode/internal/process"
)

type processBackend struct{ h *Host }

// Processes returns the host's process table backend
func (h *Host) Processes() process.Backend {
	return processBackend{h: h}
}

// Spawn starts a simulated process and returns its pid
func (h *Host) Spawn(name string) (uint32, error) {
	res, err := h.db.Exec(`INSERT INTO processes (name) VALUES (?)`, name)
	if err != nil {
		return 0, fmt.Errorf("failed to spawn %s: %w", name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read pid: %w", err)
	}
	return uint32(id), nil
}

// Protect makes suspend and terminate of pid fail with PermissionDenied
func (h *Host) Protect(pid uint32) error {
	_, err := h.db.Exec(`UPDATE processes SET protected = 1 WHERE pid = ?`, pid)
	if err != nil {
		return fmt.Errorf("failed to protect %d: %w", pid, err)
	}
	return nil
}

// Suspended reports whether pid is suspended
func (h *Host) Suspended(pid uint32) (bool, error) {
	var s int
	err := h.db.QueryRow(`SELECT suspended FROM processes WHERE pid = ?`, pid).Scan(&s)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("pid %d: %w", pid, internal.ErrTargetAbsent)
	}
	if err != nil {
		return false, fmt.Errorf("query failed: %w", err)
	}
	return s != 0, nil
}

// PriorityOf returns the priority class of pid
func (h *Host) PriorityOf(pid uint32) (uint32, error) {
	return h.Processes().Priority(pid)
}

// CountRunning counts processes with the given name (case-insensitive, .exe optional)
func (h *Host) CountRunning(name string) (int, error) {
	procs, err := h.Processes().List(context.Background())
	if err != nil {
		return 0, err
	}
	want := internal.NormalizeProcessName(name)
	n := 0
	for _, p := range procs {
		if internal.NormalizeProcessName(p.Name) == want {
			n++
		}
	}
	return n, nil
}

func (b processBackend) List(ctx context.Context) ([]process.Proc, error) {
	rows, err := b.h.db.QueryContext(ctx, `SELECT pid, name FROM processes ORDER BY pid`)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var out []process.Proc
	for rows.Next() {
		var p process.Proc
		if err := rows.Scan(&p.PID, &p.Name); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (b processBackend) check(pid uint32) error {
	var protected int
	err := b.h.db.QueryRow(`SELECT protected FROM processes WHERE pid = ?`, pid).Scan(&protected)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("pid %d: %w", pid, internal.ErrTargetAbsent)
	}
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}
	if protected != 0 {
		return fmt.Errorf("pid %d: %w", pid, internal.ErrPermissionDenied)
	}
	return nil
}

func (b processBackend) setSuspended(pid uint32, v bool) error {
	if err := b.check(pid); err != nil {
		return err
	}
	_, err := b.h.db.Exec(`UPDATE processes SET suspended = ? WHERE pid = ?`, boolInt(v), pid)
	if err != nil {
		return fmt.Errorf("failed to update %d: %w", pid, err)
	}
	return nil
}

func (b processBackend) Suspend(pid uint32) error {
	return b.setSuspended(pid, true)
}

func (b processBackend) Resume(pid uint32) error {
	return b.setSuspended(pid, false)
}

func (b processBackend) Terminate(pid uint32) error {
	if err := b.check(pid); err != nil {
		return err
	}
	if _, err := b.h.db.Exec(`DELETE FROM processes WHERE pid = ?`, pid); err != nil {
		return fmt.Errorf("failed to terminate %d: %w", pid, err)
	}
	return nil
}

func (b processBackend) Launch(name string) error {
	_, err := b.h.Spawn(name + ".exe")
	return err
}

func (b processBackend) Priority(pid uint32) (uint32, error) {
	if err := b.check(pid); err != nil {
		return 0, err
	}
	var class uint32
	if err := b.h.db.QueryRow(`SELECT priority FROM processes WHERE pid = ?`, pid).Scan(&class); err != nil {
		return 0, fmt.Errorf("query failed: %w", err)
	}
	return class, nil
}

func (b processBackend) SetPriority(pid uint32, class uint32) error {
	if err := b.check(pid); err != nil {
		return err
	}
	if _, err := b.h.db.Exec(`UPDATE processes SET priority = ? WHERE pid = ?`, class, pid); err != nil {
		return fmt.Errorf("failed to set priority of %d: %w", pid, err)
	}
	return nil
}
