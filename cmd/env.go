package cmd

import (
	"errors"
	"fmt"

	"github.com/SanGraphic/gamemode/internal"
	"github.com/SanGraphic/gamemode/internal/simhost"
	"github.com/SanGraphic/gamemode/internal/tweaks"
)

// env is everything a command needs to drive a session on one host
type env struct {
	paths    internal.StatePaths
	cfg      *internal.Config
	targets  *internal.Targets
	backends tweaks.Backends
	host     *simhost.Host
	lock     *internal.HostLock
	store    *internal.SnapshotStore
	engine   *internal.Engine
}

// loadConfig resolves the state dir and configuration without touching the host
func loadConfig() (internal.StatePaths, *internal.Config, *internal.Targets, error) {
	paths, err := internal.DetectStatePaths(stateDir)
	if err != nil {
		return paths, nil, nil, err
	}
	path := configPath
	if path == "" {
		path = paths.ConfigPath()
	}
	cfg, err := internal.LoadConfig(path)
	if err != nil {
		return paths, nil, nil, err
	}
	targets, err := cfg.Resolve()
	if err != nil {
		return paths, nil, nil, err
	}
	return paths, cfg, targets, nil
}

// openBackends returns the native backends, or a simulated host when
// --simulate is set. A new simulated host is seeded as a stock desktop.
func openBackends(targets *internal.Targets) (tweaks.Backends, *simhost.Host, error) {
	if simulatePath == "" {
		return tweaks.Native(), nil, nil
	}
	host, err := simhost.Open(simulatePath)
	if err != nil {
		return tweaks.Backends{}, nil, err
	}
	empty, err := host.Empty()
	if err == nil && empty {
		internal.LogInfo("Seeding simulated host %s", simulatePath)
		err = host.SeedTypical(targets)
	}
	if err != nil {
		host.Close()
		return tweaks.Backends{}, nil, err
	}
	return host.Backends(), host, nil
}

// openEnv takes the host lock and builds the engine. The caller must Close.
func openEnv(opts ...internal.EngineOption) (*env, error) {
	paths, cfg, targets, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := paths.Ensure(); err != nil {
		return nil, err
	}

	lock, err := internal.AcquireHostLock(paths.LockPath())
	if err != nil {
		if errors.Is(err, internal.ErrWouldBlock) {
			return nil, fmt.Errorf("%w (state dir %s)", err, paths.Dir)
		}
		return nil, err
	}

	e := &env{paths: paths, cfg: cfg, targets: targets, lock: lock}
	e.backends, e.host, err = openBackends(targets)
	if err != nil {
		e.Close()
		return nil, err
	}

	mods, err := tweaks.Modules(targets, e.backends)
	if err != nil {
		e.Close()
		return nil, err
	}
	e.store = internal.NewSnapshotStore(paths.SnapshotPath())
	opts = append([]internal.EngineOption{
		internal.WithModuleTimeout(cfg.Engine.ModuleTimeout),
		internal.WithWorkers(cfg.Engine.Workers),
	}, opts...)
	e.engine, err = internal.NewEngine(e.store, mods, opts...)
	if err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

// saveReport records the last report for `export`
func (e *env) saveReport(report *internal.Report) {
	if report == nil {
		return
	}
	if err := internal.SaveReport(e.paths.ReportPath(), report); err != nil {
		internal.LogWarn("Failed to save report: %v", err)
	}
}

// Close releases the simulated host and the host lock
func (e *env) Close() {
	if e.host != nil {
		if err := e.host.Close(); err != nil {
			internal.LogWarn("Failed to close simulated host: %v", err)
		}
	}
	if err := e.lock.Release(); err != nil {
		internal.LogWarn("%v", err)
	}
}
