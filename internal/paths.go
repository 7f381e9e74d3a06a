package internal

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// StatePaths holds the locations of the engine's on-disk state
type StatePaths struct {
	Dir string
}

// DetectStatePaths resolves the state directory for the current OS. A
// non-empty override wins.
func DetectStatePaths(override string) (StatePaths, error) {
	if override != "" {
		abs, err := filepath.Abs(override)
		if err != nil {
			return StatePaths{}, fmt.Errorf("failed to resolve state dir %s: %w", override, err)
		}
		return StatePaths{Dir: abs}, nil
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("LOCALAPPDATA")
		if base == "" {
			dir, err := os.UserConfigDir()
			if err != nil {
				return StatePaths{}, fmt.Errorf("failed to locate LOCALAPPDATA: %w", err)
			}
			base = dir
		}
		return StatePaths{Dir: filepath.Join(base, "gamemode")}, nil
	default:
		if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
			return StatePaths{Dir: filepath.Join(xdg, "gamemode")}, nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return StatePaths{}, fmt.Errorf("failed to get home directory: %w", err)
		}
		return StatePaths{Dir: filepath.Join(home, ".local", "state", "gamemode")}, nil
	}
}

// SnapshotPath returns the path of snapshot.json
func (sp StatePaths) SnapshotPath() string {
	return filepath.Join(sp.Dir, "snapshot.json")
}

// LockPath returns the path of the host lock file
func (sp StatePaths) LockPath() string {
	return filepath.Join(sp.Dir, "gamemode.lock")
}

// ConfigPath returns the default configuration path
func (sp StatePaths) ConfigPath() string {
	return filepath.Join(sp.Dir, "config.yaml")
}

// ReportPath returns the path of the last phase report
func (sp StatePaths) ReportPath() string {
	return filepath.Join(sp.Dir, "last_report.json")
}

// Ensure creates the state directory
func (sp StatePaths) Ensure() error {
	if err := os.MkdirAll(sp.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create state dir %s: %w", sp.Dir, err)
	}
	return nil
}

// SnapshotExists reports whether a snapshot file is present
func (sp StatePaths) SnapshotExists() bool {
	_, err := os.Stat(sp.SnapshotPath())
	return err == nil
}
