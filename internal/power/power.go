// Package power implements the power tweak module: active plan swap and
// restore, or AC setting overrides on the current plan (laptop boost).
package power

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/SanGraphic/gamemode/internal"
)

// PlanKey is the item key of the active plan swap
const PlanKey = "plan"

// Plan is one installed power scheme
type Plan struct {
	GUID string
	Name string
}

// Backend is the host power API. GUIDs are lowercase without braces.
type Backend interface {
	ActivePlan(ctx context.Context) (string, error)
	SetActivePlan(ctx context.Context, guid string) error
	ListPlans(ctx context.Context) ([]Plan, error)
	// DuplicatePlan installs a copy of template under the template's own GUID
	DuplicatePlan(ctx context.Context, template string) error
	ReadACValue(ctx context.Context, plan, subgroup, setting string) (uint32, error)
	WriteACValue(ctx context.Context, plan, subgroup, setting string, value uint32) error
}

// Override is one AC value index to set on the captured plan
type Override struct {
	Subgroup string
	Setting  string
	Value    uint32
}

// Key returns the module-scoped item key
func (o Override) Key() string {
	return "setting:" + normalize(o.Subgroup) + "/" + normalize(o.Setting)
}

// Options selects what the module changes
type Options struct {
	Plan      string
	Fallback  string
	Overrides []Override
}

// OptionsFromTargets converts resolved configuration to module options
func OptionsFromTargets(t *internal.Targets) Options {
	opts := Options{Plan: normalize(t.Plan), Fallback: normalize(t.Fallback)}
	for _, o := range t.Overrides {
		opts.Overrides = append(opts.Overrides, Override{Subgroup: o.Subgroup, Setting: o.Setting, Value: o.Value})
	}
	return opts
}

// PlanState is the payload of the plan item
type PlanState struct {
	Plan string `json:"plan"`
}

// SettingState is the payload of an override item
type SettingState struct {
	Plan  string `json:"plan"`
	Value uint32 `json:"value"`
}

func normalize(guid string) string {
	return strings.ToLower(strings.Trim(strings.TrimSpace(guid), "{}"))
}

func splitSettingKey(key string) (subgroup, setting string, err error) {
	rest, ok := strings.CutPrefix(key, "setting:")
	if !ok {
		return "", "", fmt.Errorf("malformed power key %q", key)
	}
	subgroup, setting, ok = strings.Cut(rest, "/")
	if !ok {
		return "", "", fmt.Errorf("malformed power key %q", key)
	}
	return subgroup, setting, nil
}

// Controller is the power tweak module
type Controller struct {
	backend Backend
	opts    Options
}

// New creates the power module
func New(backend Backend, opts Options) *Controller {
	return &Controller{backend: backend, opts: opts}
}

// Kind implements internal.Module
func (c *Controller) Kind() internal.ModuleKind {
	return internal.ModulePower
}

// Capture records the active plan, or the current AC values of every
// override when overrides are configured. Overrides keep the active plan.
func (c *Controller) Capture(ctx context.Context) ([]internal.TweakItem, []internal.ItemFailure, error) {
	active, err := c.backend.ActivePlan(ctx)
	if err != nil {
		return nil, nil, err
	}
	active = normalize(active)

	if len(c.opts.Overrides) == 0 {
		if c.opts.Plan == "" {
			return nil, nil, nil
		}
		item, err := internal.NewItem(internal.ModulePower, PlanKey, PlanState{Plan: active}, PlanState{Plan: c.opts.Plan})
		if err != nil {
			return nil, nil, err
		}
		return []internal.TweakItem{item}, nil, nil
	}

	var items []internal.TweakItem
	var failed []internal.ItemFailure
	for _, o := range c.opts.Overrides {
		v, err := c.backend.ReadACValue(ctx, active, normalize(o.Subgroup), normalize(o.Setting))
		if err != nil {
			if errors.Is(err, internal.ErrTargetAbsent) {
				internal.LogDebug("Power setting %s not present on plan %s, skipping", o.Key(), active)
				continue
			}
			internal.LogWarn("Failed to read %s on plan %s: %v", o.Key(), active, err)
			failed = append(failed, internal.NewItemFailure(o.Key(), err))
			continue
		}
		item, err := internal.NewItem(internal.ModulePower, o.Key(),
			SettingState{Plan: active, Value: v}, SettingState{Plan: active, Value: o.Value})
		if err != nil {
			return nil, nil, err
		}
		items = append(items, item)
	}
	return items, failed, nil
}

// resolvePlan makes sure the requested plan exists, installing it from its
// template when needed, and falls back to the fallback plan otherwise.
func (c *Controller) resolvePlan(ctx context.Context, want string) (string, error) {
	has := func() (bool, bool, error) {
		plans, err := c.backend.ListPlans(ctx)
		if err != nil {
			return false, false, err
		}
		var wantOK, fallbackOK bool
		for _, p := range plans {
			switch normalize(p.GUID) {
			case want:
				wantOK = true
			case c.opts.Fallback:
				fallbackOK = true
			}
		}
		return wantOK, fallbackOK, nil
	}

	wantOK, fallbackOK, err := has()
	if err != nil {
		return "", err
	}
	if wantOK {
		return want, nil
	}
	if err := c.backend.DuplicatePlan(ctx, want); err != nil {
		internal.LogDebug("Failed to install plan %s: %v", want, err)
	} else if wantOK, fallbackOK, err = has(); err != nil {
		return "", err
	}
	if wantOK {
		return want, nil
	}
	if c.opts.Fallback != "" && fallbackOK {
		internal.LogInfo("Plan %s unavailable, using fallback %s", want, c.opts.Fallback)
		return c.opts.Fallback, nil
	}
	return "", fmt.Errorf("plan %s: %w", want, internal.ErrTargetAbsent)
}

// Apply switches plans or writes the AC overrides
func (c *Controller) Apply(ctx context.Context, items []internal.TweakItem) (internal.ModuleResult, error) {
	res := internal.NewModuleResult(internal.ModulePower, internal.PhaseApply)
	var touched string
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if it.Key == PlanKey {
			var want PlanState
			if err := it.DecodeApplied(&want); err != nil {
				res.Fail(it.Key, err)
				continue
			}
			plan, err := c.resolvePlan(ctx, want.Plan)
			if err == nil {
				err = c.backend.SetActivePlan(ctx, plan)
			}
			if err != nil {
				internal.LogWarn("Failed to switch power plan: %v", err)
				res.Fail(it.Key, err)
				continue
			}
			internal.LogDebug("Switched power plan to %s", plan)
			res.Succeed(it.Key)
			continue
		}

		var want SettingState
		if err := it.DecodeApplied(&want); err != nil {
			res.Fail(it.Key, err)
			continue
		}
		wrote, err := c.writeSetting(ctx, it.Key, want)
		if err != nil {
			res.Fail(it.Key, err)
			continue
		}
		if wrote {
			touched = want.Plan
		}
		res.Succeed(it.Key)
	}
	c.reactivate(ctx, touched)
	return res, nil
}

// Revert restores the captured plan or AC values
func (c *Controller) Revert(ctx context.Context, items []internal.TweakItem) (internal.ModuleResult, error) {
	res := internal.NewModuleResult(internal.ModulePower, internal.PhaseRevert)
	var touched string
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if it.Key == PlanKey {
			var orig PlanState
			if err := it.DecodeOriginal(&orig); err != nil {
				res.Fail(it.Key, err)
				continue
			}
			active, err := c.backend.ActivePlan(ctx)
			if err == nil && normalize(active) == orig.Plan {
				res.Succeed(it.Key)
				continue
			}
			if err := c.backend.SetActivePlan(ctx, orig.Plan); err != nil {
				internal.LogWarn("Failed to restore power plan %s: %v", orig.Plan, err)
				res.Fail(it.Key, err)
				continue
			}
			res.Succeed(it.Key)
			continue
		}

		var orig SettingState
		if err := it.DecodeOriginal(&orig); err != nil {
			res.Fail(it.Key, err)
			continue
		}
		wrote, err := c.writeSetting(ctx, it.Key, orig)
		if err != nil {
			res.Fail(it.Key, err)
			continue
		}
		if wrote {
			touched = orig.Plan
		}
		res.Succeed(it.Key)
	}
	c.reactivate(ctx, touched)
	return res, nil
}

// writeSetting reports whether a value was actually written
func (c *Controller) writeSetting(ctx context.Context, key string, st SettingState) (bool, error) {
	subgroup, setting, err := splitSettingKey(key)
	if err != nil {
		return false, err
	}
	current, err := c.backend.ReadACValue(ctx, st.Plan, subgroup, setting)
	if err == nil && current == st.Value {
		return false, nil
	}
	if err := c.backend.WriteACValue(ctx, st.Plan, subgroup, setting, st.Value); err != nil {
		internal.LogWarn("Failed to write %s on plan %s: %v", key, st.Plan, err)
		return false, err
	}
	return true, nil
}

// reactivate re-applies the active plan so written AC values take effect
func (c *Controller) reactivate(ctx context.Context, plan string) {
	if plan == "" {
		return
	}
	active, err := c.backend.ActivePlan(ctx)
	if err != nil || normalize(active) != plan {
		return
	}
	if err := c.backend.SetActivePlan(ctx, plan); err != nil {
		internal.LogDebug("Failed to re-apply plan %s: %v", plan, err)
	}
}
