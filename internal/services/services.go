// Package services implements the service tweak module. Services are stopped
// and disabled for the session, then their start mode and running state are
// restored.
package services

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/SanGraphic/gamemode/internal"
)

// StartMode is a service start type
type StartMode string

const (
	StartBoot        StartMode = "boot"
	StartSystem      StartMode = "system"
	StartAuto        StartMode = "auto"
	StartAutoDelayed StartMode = "auto-delayed"
	StartManual      StartMode = "manual"
	StartDisabled    StartMode = "disabled"
)

// State is the captured and applied payload of a service item
type State struct {
	StartMode StartMode `json:"start_mode"`
	Running   bool      `json:"running"`
}

// Backend is the host service manager. Unknown services are reported as
// internal.ErrTargetAbsent.
type Backend interface {
	Query(ctx context.Context, name string) (State, error)
	// Stop tolerates an already stopped service and waits until it stops
	Stop(ctx context.Context, name string) error
	// Start tolerates an already running service
	Start(ctx context.Context, name string) error
	SetStartMode(ctx context.Context, name string, mode StartMode) error
	// Dependents lists the services that depend on name
	Dependents(ctx context.Context, name string) ([]string, error)
}

// Controller is the service tweak module
type Controller struct {
	backend Backend
	targets []string
}

// New creates the service module for the named services
func New(backend Backend, targets []string) *Controller {
	return &Controller{backend: backend, targets: targets}
}

// Kind implements internal.Module
func (c *Controller) Kind() internal.ModuleKind {
	return internal.ModuleServices
}

// Capture records start mode and running state of every existing target.
// Services that cannot be queried are returned as failures.
func (c *Controller) Capture(ctx context.Context) ([]internal.TweakItem, []internal.ItemFailure, error) {
	var (
		items  []internal.TweakItem
		failed []internal.ItemFailure
	)
	for _, name := range c.targets {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		st, err := c.backend.Query(ctx, name)
		switch {
		case errors.Is(err, internal.ErrTargetAbsent):
			internal.LogDebug("Service %s not installed, skipping", name)
			continue
		case errors.Is(err, internal.ErrUnsupported):
			return nil, nil, err
		case err != nil:
			failed = append(failed, internal.NewItemFailure(name, err))
			continue
		}
		item, err := internal.NewItem(internal.ModuleServices, name, st, State{StartMode: StartDisabled})
		if err != nil {
			return nil, nil, err
		}
		items = append(items, item)
	}
	return items, failed, nil
}

// stopOrder sorts items so that dependents come before the services they
// depend on. Services outside the item set are ignored.
func (c *Controller) stopOrder(ctx context.Context, items []internal.TweakItem) []internal.TweakItem {
	index := make(map[string]int, len(items))
	for i, it := range items {
		index[strings.ToLower(it.Key)] = i
	}

	// edges[i] holds items that must stop before item i
	edges := make([][]int, len(items))
	for i, it := range items {
		deps, err := c.backend.Dependents(ctx, it.Key)
		if err != nil {
			internal.LogDebug("Failed to list dependents of %s: %v", it.Key, err)
			continue
		}
		for _, d := range deps {
			if j, ok := index[strings.ToLower(d)]; ok && j != i {
				edges[i] = append(edges[i], j)
			}
		}
		sort.Ints(edges[i])
	}

	visited := make([]int, len(items)) // 0 new, 1 visiting, 2 done
	var out []internal.TweakItem
	var visit func(i int)
	visit = func(i int) {
		if visited[i] != 0 {
			// a cycle leaves the remaining order as configured
			return
		}
		visited[i] = 1
		for _, j := range edges[i] {
			visit(j)
		}
		visited[i] = 2
		out = append(out, items[i])
	}
	for i := range items {
		visit(i)
	}
	return out
}

// Apply stops each service (dependents first) and disables it
func (c *Controller) Apply(ctx context.Context, items []internal.TweakItem) (internal.ModuleResult, error) {
	res := internal.NewModuleResult(internal.ModuleServices, internal.PhaseApply)
	for _, it := range c.stopOrder(ctx, items) {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := c.backend.Stop(ctx, it.Key); err != nil {
			internal.LogWarn("Failed to stop service %s: %v", it.Key, err)
			res.Fail(it.Key, err)
			continue
		}
		if err := c.backend.SetStartMode(ctx, it.Key, StartDisabled); err != nil {
			internal.LogWarn("Failed to disable service %s: %v", it.Key, err)
			res.Fail(it.Key, err)
			continue
		}
		internal.LogDebug("Stopped and disabled service %s", it.Key)
		res.Succeed(it.Key)
	}
	return res, nil
}

// Revert restores each start mode and restarts services that were running,
// in reverse stop order so dependencies start first.
func (c *Controller) Revert(ctx context.Context, items []internal.TweakItem) (internal.ModuleResult, error) {
	res := internal.NewModuleResult(internal.ModuleServices, internal.PhaseRevert)
	ordered := c.stopOrder(ctx, items)
	for i := len(ordered) - 1; i >= 0; i-- {
		it := ordered[i]
		if err := ctx.Err(); err != nil {
			return res, err
		}
		var orig State
		if err := it.DecodeOriginal(&orig); err != nil {
			res.Fail(it.Key, err)
			continue
		}
		current, err := c.backend.Query(ctx, it.Key)
		if err != nil {
			res.Fail(it.Key, err)
			continue
		}
		if current.StartMode != orig.StartMode {
			if err := c.backend.SetStartMode(ctx, it.Key, orig.StartMode); err != nil {
				internal.LogWarn("Failed to restore start mode of %s: %v", it.Key, err)
				res.Fail(it.Key, err)
				continue
			}
		}
		if orig.Running && !current.Running {
			if err := c.backend.Start(ctx, it.Key); err != nil {
				internal.LogWarn("Failed to start service %s: %v", it.Key, err)
				res.Fail(it.Key, err)
				continue
			}
		}
		internal.LogDebug("Restored service %s (%s, running=%t)", it.Key, orig.StartMode, orig.Running)
		res.Succeed(it.Key)
	}
	return res, nil
}
