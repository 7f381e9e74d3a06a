package internal

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultModuleTimeout bounds one module's work in a phase
	DefaultModuleTimeout = 10 * time.Second
	// DefaultWorkers is the size of the module worker pool
	DefaultWorkers = 4
)

// Engine is the session orchestrator. It owns the session state machine, the
// snapshot store and the concurrency policy for activation and deactivation.
type Engine struct {
	// cmdMu serializes Activate, Deactivate and Recover.
	cmdMu sync.Mutex

	mu        sync.RWMutex
	state     SessionState
	last      *Report
	listeners []func(SessionState)

	// tasks counts module tasks still executing, including ones runBounded
	// stopped waiting for.
	tasksMu sync.Mutex
	tasks   map[ModuleKind]int

	store   *SnapshotStore
	modules map[ModuleKind]Module
	order   []ModuleKind
	timeout time.Duration
	workers int
}

// EngineOption configures an Engine
type EngineOption func(*Engine)

// WithModuleTimeout sets the per-module phase timeout
func WithModuleTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithWorkers sets the worker pool size
func WithWorkers(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithStateListener registers a callback invoked on every state change
func WithStateListener(fn func(SessionState)) EngineOption {
	return func(e *Engine) { e.listeners = append(e.listeners, fn) }
}

// NewEngine builds the orchestrator. A leftover snapshot on disk puts the
// engine in StateDeactivating; Recover must run before any new Activate.
func NewEngine(store *SnapshotStore, modules []Module, opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		state:   StateInactive,
		store:   store,
		modules: make(map[ModuleKind]Module, len(modules)),
		tasks:   make(map[ModuleKind]int),
		timeout: DefaultModuleTimeout,
		workers: DefaultWorkers,
	}
	for _, m := range modules {
		kind := m.Kind()
		if _, dup := e.modules[kind]; dup {
			return nil, fmt.Errorf("module %s registered twice", kind)
		}
		e.modules[kind] = m
		e.order = append(e.order, kind)
	}
	for _, o := range opts {
		o(e)
	}

	pending := store.Pending()
	if !pending {
		found, err := store.Load()
		if err != nil {
			return nil, err
		}
		pending = found
	}
	if pending {
		snap := store.Snapshot()
		LogWarn("Found unreverted session %s (%d items), recovery required", snap.SessionID, len(snap.Items))
		e.state = StateDeactivating
	}
	return e, nil
}

// Status returns the current session state
func (e *Engine) Status() SessionState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// HasPendingSnapshot reports whether a session snapshot awaits revert
func (e *Engine) HasPendingSnapshot() bool {
	return e.store.Pending()
}

// Snapshot returns a copy of the current session snapshot, or nil
func (e *Engine) Snapshot() *SessionSnapshot {
	return e.store.Snapshot()
}

// CanExit reports whether the host application may shut down
func (e *Engine) CanExit() bool {
	switch e.Status() {
	case StateActive, StateActivating:
		return false
	default:
		return true
	}
}

// LastReport returns the report of the most recent command, or nil
func (e *Engine) LastReport() *Report {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.last == nil {
		return nil
	}
	cp := *e.last
	cp.Results = append([]ModuleResult(nil), e.last.Results...)
	return &cp
}

func (e *Engine) setState(s SessionState) {
	e.mu.Lock()
	prev := e.state
	e.state = s
	listeners := make([]func(SessionState), len(e.listeners))
	copy(listeners, e.listeners)
	e.mu.Unlock()

	if prev != s {
		LogDebug("Session state %s -> %s", prev, s)
		for _, fn := range listeners {
			fn(s)
		}
	}
}

func (e *Engine) finish(report *Report) {
	report.FinishedAt = time.Now().UTC()
	report.State = e.Status().String()
	e.mu.Lock()
	e.last = report
	e.mu.Unlock()
}

// Activate captures and applies every module concurrently. Per-item and
// per-module failures still end in StateActive; only a snapshot write failure
// aborts the activation, rolls back what was recorded and returns the error.
func (e *Engine) Activate(ctx context.Context, trigger TriggerSource) (*Report, error) {
	e.cmdMu.Lock()
	defer e.cmdMu.Unlock()

	switch st := e.Status(); st {
	case StateInactive:
	case StateDeactivating:
		return nil, ErrRecoveryPending
	default:
		return nil, fmt.Errorf("%w (state %s)", ErrAlreadyActive, st)
	}

	report := &Report{Phase: PhaseApply, Trigger: trigger, StartedAt: time.Now().UTC()}
	e.setState(StateActivating)

	sessionID, err := e.store.Begin(trigger)
	report.SessionID = sessionID
	if err != nil {
		return e.abortActivation(ctx, report, err)
	}
	LogInfo("Activating session %s (trigger: %s)", sessionID, trigger)

	results, fatal := e.runApply(ctx, sessionID)
	report.Results = results
	if fatal != nil {
		return e.abortActivation(ctx, report, fatal)
	}

	e.setState(StateActive)
	e.finish(report)
	LogInfo("Session %s active: %s", sessionID, report.Summary())
	for _, f := range report.Failures() {
		LogWarn("Apply failure: %s", f)
	}
	return report, nil
}

// abortActivation handles a phase-fatal error during Activate: it reverts
// whatever reached the snapshot and returns to StateInactive when that works.
// Modules with a task still running keep their originals in the snapshot and
// the engine stays in StateError until a later Deactivate.
func (e *Engine) abortActivation(ctx context.Context, report *Report, cause error) (*Report, error) {
	e.setState(StateError)
	LogError("Activation aborted: %v", cause)
	report.Err = cause.Error()

	busy := e.runningModules()
	rollback, err := e.revertAll(ctx, busy)
	report.Results = append(report.Results, rollback...)
	if err == nil && len(busy) > 0 {
		err = fmt.Errorf("%s still running, snapshot kept for recovery", joinKinds(busy))
	}
	if err == nil {
		err = e.store.Clear()
	}
	if err != nil {
		LogError("Rollback after failed activation incomplete: %v", err)
		report.Err += "; rollback: " + err.Error()
		e.finish(report)
		return report, cause
	}

	e.setState(StateInactive)
	e.finish(report)
	return report, cause
}

// Deactivate reverts every recorded item. The snapshot is cleared only when
// all reverts succeed; otherwise the engine stays in StateError and a later
// Deactivate retries the remaining items.
func (e *Engine) Deactivate(ctx context.Context, trigger TriggerSource) (*Report, error) {
	e.cmdMu.Lock()
	defer e.cmdMu.Unlock()

	if e.Status() == StateInactive && !e.store.Pending() {
		return nil, ErrAlreadyInactive
	}

	report := &Report{Phase: PhaseRevert, Trigger: trigger, StartedAt: time.Now().UTC()}
	if snap := e.store.Snapshot(); snap != nil {
		report.SessionID = snap.SessionID
	}
	e.setState(StateDeactivating)
	LogInfo("Deactivating session %s (trigger: %s)", report.SessionID, trigger)

	results, err := e.revertAll(ctx, nil)
	report.Results = results
	if err == nil {
		err = e.store.Clear()
	}
	if err != nil {
		e.setState(StateError)
		report.Err = err.Error()
		e.finish(report)
		LogError("Deactivation incomplete, snapshot kept for retry: %v", err)
		for _, f := range report.Failures() {
			LogWarn("Revert failure: %s", f)
		}
		return report, err
	}

	e.setState(StateInactive)
	e.finish(report)
	LogInfo("Session %s reverted: %s", report.SessionID, report.Summary())
	return report, nil
}

// Recover reverts a snapshot left behind by a previous process
func (e *Engine) Recover(ctx context.Context) (*Report, error) {
	if !e.store.Pending() {
		return nil, ErrAlreadyInactive
	}
	return e.Deactivate(ctx, TriggerRecovery)
}

// runApply fans capture+apply out to the worker pool, then applies the
// RevertLast items once every module has finished. It returns the first
// phase-fatal error, after which modules that have not started skip.
func (e *Engine) runApply(ctx context.Context, sessionID string) ([]ModuleResult, error) {
	phaseCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		fatalOnce sync.Once
		fatal     error
	)
	results := make([]ModuleResult, len(e.order))

	var g errgroup.Group
	g.SetLimit(e.workers)
	for i, kind := range e.order {
		i, kind := i, kind
		m := e.modules[kind]
		g.Go(func() error {
			if phaseCtx.Err() != nil {
				res := NewModuleResult(kind, PhaseApply)
				res.Err = "skipped: activation aborted"
				results[i] = res
				return nil
			}
			res, err := e.runBounded(phaseCtx, kind, PhaseApply, func(ctx context.Context) (ModuleResult, error) {
				return e.captureAndApply(ctx, sessionID, m)
			})
			results[i] = res
			var snapErr *SnapshotError
			if errors.As(err, &snapErr) {
				fatalOnce.Do(func() {
					fatal = err
					cancel()
				})
			}
			return nil
		})
	}
	_ = g.Wait()
	if fatal != nil {
		return results, fatal
	}

	e.applyLast(phaseCtx, results)
	return results, nil
}

// captureAndApply records the module's originals and applies every item
// except RevertLast ones, which wait for applyLast
func (e *Engine) captureAndApply(ctx context.Context, sessionID string, m Module) (ModuleResult, error) {
	kind := m.Kind()
	res := NewModuleResult(kind, PhaseApply)

	items, unreadable, err := m.Capture(ctx)
	for _, f := range unreadable {
		LogWarn("Module %s could not read %s: %s", kind, f.Key, f.Message)
		res.Attempted++
		res.Failed = append(res.Failed, f)
	}
	if err != nil {
		return res, &ModuleError{Module: kind, Op: "capture", Err: err}
	}
	if len(items) == 0 {
		LogDebug("Module %s: nothing to apply", kind)
		return res, nil
	}
	if err := e.store.Record(ctx, sessionID, items); err != nil {
		return res, err
	}
	// A cancelled phase never applies, even if the capture was recorded.
	if err := ctx.Err(); err != nil {
		return res, err
	}

	var now []TweakItem
	for _, it := range items {
		if !it.RevertLast {
			now = append(now, it)
		}
	}
	if len(now) == 0 {
		return res, nil
	}
	applied, err := m.Apply(ctx, now)
	res.Merge(applied)
	if err != nil {
		return res, &ModuleError{Module: kind, Op: "apply", Err: err}
	}
	return res, nil
}

// applyLast applies the recorded RevertLast items after the ordinary apply
// stage. A module whose first-stage task is still running is left alone.
func (e *Engine) applyLast(ctx context.Context, results []ModuleResult) {
	var last []TweakItem
	for _, it := range e.store.Items() {
		if it.RevertLast {
			last = append(last, it)
		}
	}
	if len(last) == 0 {
		return
	}
	groups, kinds := groupByModule(last)
	busy := e.runningModules()

	staged := make([]ModuleResult, len(kinds))
	var g errgroup.Group
	g.SetLimit(e.workers)
	for i, kind := range kinds {
		i, kind := i, kind
		m, ok := e.modules[kind]
		if !ok || busy[kind] {
			LogWarn("Module %s still busy, %d item(s) not applied", kind, len(groups[kind]))
			continue
		}
		batch := groups[kind]
		g.Go(func() error {
			staged[i], _ = e.runBounded(ctx, kind, PhaseApply, func(ctx context.Context) (ModuleResult, error) {
				res, err := m.Apply(ctx, batch)
				if err != nil {
					return res, &ModuleError{Module: kind, Op: "apply", Err: err}
				}
				return res, nil
			})
			return nil
		})
	}
	_ = g.Wait()

	for i, kind := range kinds {
		if staged[i].Module == "" {
			continue
		}
		for j := range results {
			if results[j].Module == kind {
				results[j].Merge(staged[i])
			}
		}
	}
}

// revertAll reverts every item in the store: ordinary items concurrently per
// module, then RevertLast items once everything else has finished. Items of
// modules in skip stay in the snapshot untouched.
func (e *Engine) revertAll(ctx context.Context, skip map[ModuleKind]bool) ([]ModuleResult, error) {
	sessionID := e.store.SessionID()

	var first, last []TweakItem
	for _, it := range e.store.Items() {
		switch {
		case skip[it.Module]:
		case it.RevertLast:
			last = append(last, it)
		default:
			first = append(first, it)
		}
	}

	merged := make(map[ModuleKind]*ModuleResult)
	var kinds []ModuleKind
	collect := func(results []ModuleResult) {
		for _, r := range results {
			if acc, ok := merged[r.Module]; ok {
				acc.Merge(r)
				continue
			}
			r := r
			merged[r.Module] = &r
			kinds = append(kinds, r.Module)
		}
	}

	results, fatal := e.revertStage(ctx, sessionID, first)
	collect(results)
	if fatal == nil {
		results, fatal = e.revertStage(ctx, sessionID, last)
		collect(results)
	}

	out := make([]ModuleResult, 0, len(kinds))
	failed := 0
	for _, k := range kinds {
		r := merged[k]
		failed += len(r.Failed)
		if r.Err != "" && len(r.Failed) == 0 {
			failed++
		}
		out = append(out, *r)
	}
	if fatal != nil {
		return out, fatal
	}
	if failed > 0 {
		return out, fmt.Errorf("revert incomplete: %d module(s) or item(s) failed", failed)
	}
	return out, nil
}

func groupByModule(items []TweakItem) (map[ModuleKind][]TweakItem, []ModuleKind) {
	groups := make(map[ModuleKind][]TweakItem)
	var kinds []ModuleKind
	for _, it := range items {
		if _, ok := groups[it.Module]; !ok {
			kinds = append(kinds, it.Module)
		}
		groups[it.Module] = append(groups[it.Module], it)
	}
	return groups, kinds
}

func (e *Engine) revertStage(ctx context.Context, sessionID string, items []TweakItem) ([]ModuleResult, error) {
	if len(items) == 0 {
		return nil, nil
	}
	groups, kinds := groupByModule(items)

	var (
		fatalOnce sync.Once
		fatal     error
	)
	results := make([]ModuleResult, len(kinds))

	var g errgroup.Group
	g.SetLimit(e.workers)
	for i, kind := range kinds {
		i, kind := i, kind
		batch := groups[kind]
		g.Go(func() error {
			m, ok := e.modules[kind]
			if !ok {
				res := NewModuleResult(kind, PhaseRevert)
				res.Err = fmt.Sprintf("no module registered for %s", kind)
				results[i] = res
				return nil
			}
			res, err := e.runBounded(ctx, kind, PhaseRevert, func(ctx context.Context) (ModuleResult, error) {
				return e.revertModule(ctx, sessionID, m, batch)
			})
			results[i] = res
			var snapErr *SnapshotError
			if errors.As(err, &snapErr) {
				fatalOnce.Do(func() { fatal = err })
			}
			return nil
		})
	}
	_ = g.Wait()
	return results, fatal
}

func (e *Engine) revertModule(ctx context.Context, sessionID string, m Module, items []TweakItem) (ModuleResult, error) {
	res, err := m.Revert(ctx, items)
	if err != nil {
		return res, &ModuleError{Module: m.Kind(), Op: "revert", Err: err}
	}

	ok := make(map[string]bool, len(res.Succeeded))
	for _, key := range res.Succeeded {
		ok[key] = true
	}
	var done []TweakItem
	for _, it := range items {
		if ok[it.Key] {
			done = append(done, it)
		}
	}
	if err := e.store.Remove(ctx, sessionID, done); err != nil {
		return res, err
	}
	return res, nil
}

func (e *Engine) taskStarted(kind ModuleKind) {
	e.tasksMu.Lock()
	e.tasks[kind]++
	e.tasksMu.Unlock()
}

func (e *Engine) taskFinished(kind ModuleKind) {
	e.tasksMu.Lock()
	e.tasks[kind]--
	e.tasksMu.Unlock()
}

// runningModules returns the modules with a task still executing
func (e *Engine) runningModules() map[ModuleKind]bool {
	e.tasksMu.Lock()
	defer e.tasksMu.Unlock()
	out := make(map[ModuleKind]bool)
	for kind, n := range e.tasks {
		if n > 0 {
			out[kind] = true
		}
	}
	return out
}

func joinKinds(kinds map[ModuleKind]bool) string {
	names := make([]string, 0, len(kinds))
	for k := range kinds {
		names = append(names, string(k))
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// runBounded runs fn with the module timeout. It waits for fn until the
// timeout elapses even when ctx is cancelled earlier, so a module that
// honours cancellation is always collected. A module that overruns is
// reported as timed out; its goroutine is abandoned, not killed, its context
// is cancelled so it cannot record or remove anything further, and it counts
// as running until it returns.
func (e *Engine) runBounded(ctx context.Context, kind ModuleKind, phase Phase, fn func(context.Context) (ModuleResult, error)) (ModuleResult, error) {
	mctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type outcome struct {
		res ModuleResult
		err error
	}
	done := make(chan outcome, 1)
	started := time.Now()
	e.taskStarted(kind)
	go func() {
		res, err := fn(mctx)
		e.taskFinished(kind)
		done <- outcome{res: res, err: err}
	}()

	deadline := time.NewTimer(e.timeout)
	defer deadline.Stop()

	var out outcome
	select {
	case out = <-done:
	case <-deadline.C:
		select {
		case out = <-done:
		default:
			out = outcome{res: NewModuleResult(kind, phase), err: &ModuleError{Module: kind, Op: string(phase), Err: ErrTimeout}}
			elapsed := time.Since(started).Round(time.Millisecond)
			if cause := ctx.Err(); cause != nil {
				LogWarn("Module %s %s abandoned after %s (%v)", kind, phase, elapsed, cause)
			} else {
				LogWarn("Module %s %s abandoned after %s", kind, phase, elapsed)
			}
		}
	}

	if out.err != nil && errors.Is(mctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil && !errors.Is(out.err, ErrTimeout) {
		var snapErr *SnapshotError
		if !errors.As(out.err, &snapErr) {
			out.err = &ModuleError{Module: kind, Op: string(phase), Err: ErrTimeout}
			out.res.Err = ""
		}
	}
	out.res.Module = kind
	out.res.Phase = phase
	if out.err != nil && out.res.Err == "" {
		out.res.Err = out.err.Error()
	}
	LogDebug("Module %s %s finished in %s (%d/%d ok)", kind, phase, time.Since(started).Round(time.Millisecond), len(out.res.Succeeded), out.res.Attempted)
	return out.res, out.err
}
