// Package process implements the process tweak module. Suspend-class
// processes are frozen for the session and thawed on revert; terminate-class
// processes are killed and stay dead, except shell-critical ones which are
// relaunched after everything else has been reverted. Demote-class processes
// drop to the idle priority class and get their captured class back.
package process

import (
	"context"
	"errors"
	"fmt"

	"github.com/SanGraphic/gamemode/internal"
)

// Proc is one running process
type Proc struct {
	PID  uint32
	Name string
}

// Backend is the host process table. Operations on a pid that no longer
// exists return internal.ErrTargetAbsent.
type Backend interface {
	List(ctx context.Context) ([]Proc, error)
	Suspend(pid uint32) error
	Resume(pid uint32) error
	Terminate(pid uint32) error
	// Launch starts a shell-critical process by name
	Launch(name string) error
	// Priority returns the priority class of pid
	Priority(pid uint32) (uint32, error)
	SetPriority(pid uint32, class uint32) error
}

// Windows priority classes
const (
	PriorityIdle   uint32 = 0x00000040
	PriorityNormal uint32 = 0x00000020
)

// Target is one configured process name with its class
type Target struct {
	Name          string
	Action        string
	ShellCritical bool
}

// State is the payload recorded for a process item
type State struct {
	Action        string   `json:"action"`
	ShellCritical bool     `json:"shell_critical,omitempty"`
	Running       bool     `json:"running"`
	PIDs          []uint32 `json:"pids,omitempty"`
	// Priorities holds the captured class per pid for demoted processes
	Priorities map[uint32]uint32 `json:"priorities,omitempty"`
}

// TargetsFromConfig converts resolved configuration entries to targets
func TargetsFromConfig(entries []internal.ProcessTarget) []Target {
	targets := make([]Target, 0, len(entries))
	for _, e := range entries {
		targets = append(targets, Target{Name: e.Name, Action: e.Action, ShellCritical: e.ShellCritical})
	}
	return targets
}

// Controller is the process tweak module
type Controller struct {
	backend Backend
	targets []Target
}

// New creates the process module
func New(backend Backend, targets []Target) *Controller {
	return &Controller{backend: backend, targets: targets}
}

// Kind implements internal.Module
func (c *Controller) Kind() internal.ModuleKind {
	return internal.ModuleProcess
}

func (c *Controller) byName(ctx context.Context) (map[string][]uint32, error) {
	procs, err := c.backend.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]uint32)
	for _, p := range procs {
		n := internal.NormalizeProcessName(p.Name)
		out[n] = append(out[n], p.PID)
	}
	return out, nil
}

// Capture records the pids of every running target. Targets that are not
// running are skipped. Demote targets also record each pid's priority class;
// a target whose classes cannot be read is reported as a failure.
func (c *Controller) Capture(ctx context.Context) ([]internal.TweakItem, []internal.ItemFailure, error) {
	running, err := c.byName(ctx)
	if err != nil {
		return nil, nil, err
	}

	var items []internal.TweakItem
	var failed []internal.ItemFailure
	for _, t := range c.targets {
		key := internal.NormalizeProcessName(t.Name)
		pids := running[key]
		if len(pids) == 0 {
			continue
		}
		orig := State{Action: t.Action, ShellCritical: t.ShellCritical, Running: true, PIDs: pids}
		if t.Action == internal.ActionDemote {
			prios, err := c.priorities(pids)
			if err != nil {
				internal.LogWarn("Failed to read priority of %s: %v", key, err)
				failed = append(failed, internal.NewItemFailure(key, err))
				continue
			}
			if len(prios) == 0 {
				continue
			}
			orig.Priorities = prios
		}
		applied := State{Action: t.Action, ShellCritical: t.ShellCritical}
		item, err := internal.NewItem(internal.ModuleProcess, key, orig, applied)
		if err != nil {
			return nil, nil, err
		}
		item.RevertLast = t.ShellCritical
		items = append(items, item)
	}
	return items, failed, nil
}

// priorities reads the class of every pid still alive. It fails only if no
// surviving pid could be read.
func (c *Controller) priorities(pids []uint32) (map[uint32]uint32, error) {
	out := make(map[uint32]uint32, len(pids))
	err := eachPID(pids, func(pid uint32) error {
		class, err := c.backend.Priority(pid)
		if err == nil {
			out[pid] = class
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Apply suspends, terminates or demotes every captured process
func (c *Controller) Apply(ctx context.Context, items []internal.TweakItem) (internal.ModuleResult, error) {
	res := internal.NewModuleResult(internal.ModuleProcess, internal.PhaseApply)
	running, err := c.byName(ctx)
	if err != nil {
		return res, err
	}

	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		var orig State
		if err := it.DecodeOriginal(&orig); err != nil {
			res.Fail(it.Key, err)
			continue
		}

		var op func(uint32) error
		pids := orig.PIDs
		switch orig.Action {
		case internal.ActionSuspend:
			op = c.backend.Suspend
		case internal.ActionTerminate:
			op = c.backend.Terminate
			// new instances started since capture die too
			pids = union(pids, running[it.Key])
		case internal.ActionDemote:
			pids = demotable(orig)
			op = func(pid uint32) error { return c.backend.SetPriority(pid, PriorityIdle) }
		default:
			res.Fail(it.Key, fmt.Errorf("unknown action %q", orig.Action))
			continue
		}

		if err := eachPID(pids, op); err != nil {
			internal.LogWarn("Failed to %s %s: %v", orig.Action, it.Key, err)
			res.Fail(it.Key, err)
			continue
		}
		internal.LogDebug("Applied %s to %s (%d pids)", orig.Action, it.Key, len(pids))
		res.Succeed(it.Key)
	}
	return res, nil
}

// Revert resumes suspended processes, restores demoted priority classes and
// relaunches shell-critical ones.
// Ordinary terminated processes are not relaunched.
func (c *Controller) Revert(ctx context.Context, items []internal.TweakItem) (internal.ModuleResult, error) {
	res := internal.NewModuleResult(internal.ModuleProcess, internal.PhaseRevert)
	running, err := c.byName(ctx)
	if err != nil {
		return res, err
	}

	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		var orig State
		if err := it.DecodeOriginal(&orig); err != nil {
			res.Fail(it.Key, err)
			continue
		}

		switch {
		case orig.Action == internal.ActionSuspend:
			// only captured pids that still exist under the same name
			alive := intersect(orig.PIDs, running[it.Key])
			if err := eachPID(alive, c.backend.Resume); err != nil {
				internal.LogWarn("Failed to resume %s: %v", it.Key, err)
				res.Fail(it.Key, err)
				continue
			}
		case orig.Action == internal.ActionDemote:
			alive := intersect(demotable(orig), running[it.Key])
			restore := func(pid uint32) error { return c.backend.SetPriority(pid, orig.Priorities[pid]) }
			if err := eachPID(alive, restore); err != nil {
				internal.LogWarn("Failed to restore priority of %s: %v", it.Key, err)
				res.Fail(it.Key, err)
				continue
			}
		case orig.ShellCritical:
			if len(running[it.Key]) == 0 {
				if err := c.backend.Launch(it.Key); err != nil {
					internal.LogWarn("Failed to relaunch %s: %v", it.Key, err)
					res.Fail(it.Key, err)
					continue
				}
				internal.LogInfo("Relaunched %s", it.Key)
			}
		}
		res.Succeed(it.Key)
	}
	return res, nil
}

// eachPID applies op to every pid. Vanished pids count as success; the item
// fails only if every surviving pid failed.
func eachPID(pids []uint32, op func(uint32) error) error {
	var errs []error
	attempted := 0
	for _, pid := range pids {
		err := op(pid)
		if errors.Is(err, internal.ErrTargetAbsent) {
			continue
		}
		attempted++
		if err != nil {
			errs = append(errs, fmt.Errorf("pid %d: %w", pid, err))
		}
	}
	if attempted > 0 && len(errs) == attempted {
		return errors.Join(errs...)
	}
	return nil
}

// demotable lists the captured pids whose class was recorded
func demotable(st State) []uint32 {
	var out []uint32
	for _, pid := range st.PIDs {
		if _, ok := st.Priorities[pid]; ok {
			out = append(out, pid)
		}
	}
	return out
}

func union(a, b []uint32) []uint32 {
	seen := make(map[uint32]bool, len(a)+len(b))
	var out []uint32
	for _, p := range append(append([]uint32(nil), a...), b...) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

func intersect(a, b []uint32) []uint32 {
	in := make(map[uint32]bool, len(b))
	for _, p := range b {
		in[p] = true
	}
	var out []uint32
	for _, p := range a {
		if in[p] {
			out = append(out, p)
		}
	}
	return out
}
