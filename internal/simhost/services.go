package simhost

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/SanGraphic/gamemode/internal"
	"github.com/SanGraphic/gamemode/internal/services"
)

type servicesBackend struct{ h *Host }

// Services returns the host's service manager backend
func (h *Host) Services() services.Backend {
	return servicesBackend{h: h}
}

// AddService seeds a service. dependsOn lists services it depends on.
func (h *Host) AddService(name string, mode services.StartMode, running bool, dependsOn ...string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	tx, err := h.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT INTO services (name, start_mode, running) VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET start_mode = excluded.start_mode, running = excluded.running`,
		name, string(mode), boolInt(running))
	if err != nil {
		return fmt.Errorf("failed to add service: %w", err)
	}
	for _, dep := range dependsOn {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO service_deps (service, depends_on) VALUES (?, ?)`, name, dep); err != nil {
			return fmt.Errorf("failed to add dependency: %w", err)
		}
	}
	return tx.Commit()
}

// SetServiceBusy makes Stop fail with Busy
func (h *Host) SetServiceBusy(name string, busy bool) error {
	return h.updateService(`UPDATE services SET busy = ? WHERE name = ?`, boolInt(busy), name)
}

// SetServiceStopDelay makes Stop take d before the service stops
func (h *Host) SetServiceStopDelay(name string, d time.Duration) error {
	return h.updateService(`UPDATE services SET stop_delay_ms = ? WHERE name = ?`, d.Milliseconds(), name)
}

func (h *Host) updateService(query string, args ...any) error {
	res, err := h.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to update service: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("service %v: %w", args[len(args)-1], internal.ErrTargetAbsent)
	}
	return nil
}

type serviceRow struct {
	state     services.State
	busy      bool
	stopDelay time.Duration
}

func (b servicesBackend) row(name string) (serviceRow, error) {
	var (
		r       serviceRow
		mode    string
		running int
		busy    int
		delayMS int64
	)
	err := b.h.db.QueryRow(`SELECT start_mode, running, busy, stop_delay_ms FROM services WHERE name = ?`, name).
		Scan(&mode, &running, &busy, &delayMS)
	if errors.Is(err, sql.ErrNoRows) {
		return r, fmt.Errorf("service %s: %w", name, internal.ErrTargetAbsent)
	}
	if err != nil {
		return r, fmt.Errorf("query failed: %w", err)
	}
	r.state = services.State{StartMode: services.StartMode(mode), Running: running != 0}
	r.busy = busy != 0
	r.stopDelay = time.Duration(delayMS) * time.Millisecond
	return r, nil
}

func (b servicesBackend) Query(ctx context.Context, name string) (services.State, error) {
	r, err := b.row(name)
	return r.state, err
}

func (b servicesBackend) Stop(ctx context.Context, name string) error {
	r, err := b.row(name)
	if err != nil {
		return err
	}
	if !r.state.Running {
		return nil
	}
	if r.busy {
		return fmt.Errorf("service %s is in use: %w", name, internal.ErrBusy)
	}

	var runningDeps int
	err = b.h.db.QueryRow(`SELECT COUNT(*) FROM service_deps d JOIN services s ON s.name = d.service
		WHERE d.depends_on = ? AND s.running = 1`, name).Scan(&runningDeps)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}
	if runningDeps > 0 {
		return fmt.Errorf("service %s has %d running dependents: %w", name, runningDeps, internal.ErrBusy)
	}

	if r.stopDelay > 0 {
		select {
		case <-time.After(r.stopDelay):
		case <-ctx.Done():
			return fmt.Errorf("%w: service %s still stopping", internal.ErrBusy, name)
		}
	}
	_, err = b.h.db.Exec(`UPDATE services SET running = 0 WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to stop service: %w", err)
	}
	return nil
}

func (b servicesBackend) Start(ctx context.Context, name string) error {
	r, err := b.row(name)
	if err != nil {
		return err
	}
	if r.state.Running {
		return nil
	}
	if r.state.StartMode == services.StartDisabled {
		return fmt.Errorf("service %s is disabled", name)
	}
	_, err = b.h.db.Exec(`UPDATE services SET running = 1 WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}
	return nil
}

func (b servicesBackend) SetStartMode(ctx context.Context, name string, mode services.StartMode) error {
	return b.h.updateService(`UPDATE services SET start_mode = ? WHERE name = ?`, string(mode), name)
}

func (b servicesBackend) Dependents(ctx context.Context, name string) ([]string, error) {
	rows, err := b.h.db.Query(`SELECT service FROM service_deps WHERE depends_on = ? ORDER BY service`, name)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
