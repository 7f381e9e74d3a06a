// Package simhost is a simulated Windows host backed by SQLite. It implements
// every controller backend so sessions can be dry-run and tested on any OS.
// The database holds simulated OS state only.
package simhost

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/SanGraphic/gamemode/internal/tweaks"
)

const schema = `
CREATE TABLE IF NOT EXISTS registry_keys (
	hive TEXT NOT NULL COLLATE NOCASE,
	path TEXT NOT NULL COLLATE NOCASE,
	PRIMARY KEY (hive, path)
);
CREATE TABLE IF NOT EXISTS registry_values (
	hive TEXT NOT NULL COLLATE NOCASE,
	path TEXT NOT NULL COLLATE NOCASE,
	name TEXT NOT NULL COLLATE NOCASE,
	type TEXT NOT NULL,
	int_val INTEGER NOT NULL DEFAULT 0,
	str_val TEXT NOT NULL DEFAULT '',
	bin_val BLOB,
	locked INTEGER NOT NULL DEFAULT 0,
	unreadable INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (hive, path, name)
);
CREATE TABLE IF NOT EXISTS services (
	name TEXT PRIMARY KEY COLLATE NOCASE,
	start_mode TEXT NOT NULL,
	running INTEGER NOT NULL DEFAULT 0,
	busy INTEGER NOT NULL DEFAULT 0,
	stop_delay_ms INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS service_deps (
	service TEXT NOT NULL COLLATE NOCASE,
	depends_on TEXT NOT NULL COLLATE NOCASE,
	PRIMARY KEY (service, depends_on)
);
CREATE TABLE IF NOT EXISTS processes (
	pid INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	suspended INTEGER NOT NULL DEFAULT 0,
	protected INTEGER NOT NULL DEFAULT 0,
	priority INTEGER NOT NULL DEFAULT 32
);
CREATE TABLE IF NOT EXISTS power_plans (
	guid TEXT PRIMARY KEY COLLATE NOCASE,
	name TEXT NOT NULL,
	installed INTEGER NOT NULL DEFAULT 1
);
CREATE TABLE IF NOT EXISTS power_active (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	guid TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS power_values (
	plan TEXT NOT NULL COLLATE NOCASE,
	subgroup TEXT NOT NULL COLLATE NOCASE,
	setting TEXT NOT NULL COLLATE NOCASE,
	value INTEGER NOT NULL,
	PRIMARY KEY (plan, subgroup, setting)
);
`

// Host is a simulated host. All backends returned by a Host share its
// database.
type Host struct {
	db   *sql.DB
	path string
	// mu serializes multi-statement operations
	mu sync.Mutex
}

// Open opens (creating if needed) a simulated host database. Use ":memory:"
// for a throwaway host.
func Open(path string) (*Host, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open simulated host: %w", err)
	}
	// one connection: an in-memory database is per connection
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("simulated host ping failed: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create simulated host schema: %w", err)
	}
	return &Host{db: db, path: path}, nil
}

// Close closes the database
func (h *Host) Close() error {
	return h.db.Close()
}

// Path returns the database location
func (h *Host) Path() string {
	return h.path
}

// Empty reports whether the host has never been seeded
func (h *Host) Empty() (bool, error) {
	var n int
	err := h.db.QueryRow(`SELECT
		(SELECT COUNT(*) FROM registry_values) +
		(SELECT COUNT(*) FROM services) +
		(SELECT COUNT(*) FROM processes) +
		(SELECT COUNT(*) FROM power_plans)`).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query failed: %w", err)
	}
	return n == 0, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Backends returns every backend of the simulated host
func (h *Host) Backends() tweaks.Backends {
	return tweaks.Backends{
		Registry:  h.Registry(),
		Services:  h.Services(),
		Processes: h.Processes(),
		Power:     h.Power(),
	}
}
