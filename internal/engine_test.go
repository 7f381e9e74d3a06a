package internal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeModule keeps a key/value "host" and records the order of reverts
type fakeModule struct {
	kind ModuleKind

	mu         sync.Mutex
	state      map[string]string
	applyFail  map[string]error
	revertFail map[string]error
	revertLast map[string]bool
	unreadable map[string]error
	captureErr error
	delay      time.Duration
	applyDelay time.Duration
	applyGate  chan struct{}
	revertGate chan struct{}
	applies    int
	reverts    int
	journal    *[]string
	applied    *[]string
	journalMu  *sync.Mutex
}

func newFakeModule(kind ModuleKind, state map[string]string) *fakeModule {
	return &fakeModule{
		kind:       kind,
		state:      state,
		applyFail:  map[string]error{},
		revertFail: map[string]error{},
		revertLast: map[string]bool{},
		unreadable: map[string]error{},
	}
}

func (f *fakeModule) Kind() ModuleKind { return f.kind }

func (f *fakeModule) Capture(ctx context.Context) ([]TweakItem, []ItemFailure, error) {
	if f.delay > 0 {
		// a hung OS call ignores cancellation
		time.Sleep(f.delay)
	}
	if f.captureErr != nil {
		return nil, nil, f.captureErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var (
		items  []TweakItem
		failed []ItemFailure
	)
	for key, val := range f.state {
		if err := f.unreadable[key]; err != nil {
			failed = append(failed, NewItemFailure(key, err))
			continue
		}
		it, err := NewItem(f.kind, key, val, "tweaked")
		if err != nil {
			return nil, nil, err
		}
		it.RevertLast = f.revertLast[key]
		items = append(items, it)
	}
	return items, failed, nil
}

// takeGate returns *gate once and clears it, so only the first call blocks
func (f *fakeModule) takeGate(gate *chan struct{}) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	g := *gate
	*gate = nil
	return g
}

func (f *fakeModule) Apply(ctx context.Context, items []TweakItem) (ModuleResult, error) {
	if f.applyDelay > 0 {
		time.Sleep(f.applyDelay)
	}
	if gate := f.takeGate(&f.applyGate); gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	res := NewModuleResult(f.kind, PhaseApply)
	for _, it := range items {
		if err := f.applyFail[it.Key]; err != nil {
			res.Fail(it.Key, err)
			continue
		}
		f.applies++
		f.state[it.Key] = "tweaked"
		if f.applied != nil {
			f.journalMu.Lock()
			*f.applied = append(*f.applied, it.ID())
			f.journalMu.Unlock()
		}
		res.Succeed(it.Key)
	}
	return res, nil
}

func (f *fakeModule) Revert(ctx context.Context, items []TweakItem) (ModuleResult, error) {
	if gate := f.takeGate(&f.revertGate); gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	res := NewModuleResult(f.kind, PhaseRevert)
	for _, it := range items {
		if err := f.revertFail[it.Key]; err != nil {
			res.Fail(it.Key, err)
			continue
		}
		var orig string
		if err := it.DecodeOriginal(&orig); err != nil {
			res.Fail(it.Key, err)
			continue
		}
		if f.state[it.Key] != orig {
			f.reverts++
			f.state[it.Key] = orig
		}
		if f.journal != nil {
			f.journalMu.Lock()
			*f.journal = append(*f.journal, it.ID())
			f.journalMu.Unlock()
		}
		res.Succeed(it.Key)
	}
	return res, nil
}

func (f *fakeModule) value(key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state[key]
}

func newTestEngine(t *testing.T, store *SnapshotStore, modules []Module, opts ...EngineOption) *Engine {
	t.Helper()
	e, err := NewEngine(store, modules, opts...)
	require.NoError(t, err)
	return e
}

func TestEngine_ActivateDeactivateRoundTrip(t *testing.T) {
	reg := newFakeModule(ModuleRegistry, map[string]string{"R1": "1", "R2": "absent"})
	svc := newFakeModule(ModuleServices, map[string]string{"S1": "auto"})
	store := newTestStore(t)

	var states []SessionState
	var statesMu sync.Mutex
	e := newTestEngine(t, store, []Module{reg, svc}, WithStateListener(func(s SessionState) {
		statesMu.Lock()
		states = append(states, s)
		statesMu.Unlock()
	}))
	assert.Equal(t, StateInactive, e.Status())
	assert.True(t, e.CanExit())

	report, err := e.Activate(context.Background(), TriggerCLI)
	require.NoError(t, err)
	assert.Equal(t, StateActive, e.Status())
	assert.False(t, e.CanExit())
	assert.True(t, e.HasPendingSnapshot())
	assert.Equal(t, "tweaked", reg.value("R1"))
	assert.Equal(t, "tweaked", svc.value("S1"))
	assert.Equal(t, "3 of 3 tweaks applied", report.Summary())

	report, err = e.Deactivate(context.Background(), TriggerCLI)
	require.NoError(t, err)
	assert.Equal(t, StateInactive, e.Status())
	assert.False(t, e.HasPendingSnapshot())
	assert.Equal(t, "1", reg.value("R1"))
	assert.Equal(t, "absent", reg.value("R2"))
	assert.Equal(t, "auto", svc.value("S1"))
	assert.Equal(t, "3 of 3 tweaks reverted", report.Summary())

	_, err = os.Stat(store.Path())
	assert.True(t, os.IsNotExist(err))

	statesMu.Lock()
	defer statesMu.Unlock()
	assert.Equal(t, []SessionState{StateActivating, StateActive, StateDeactivating, StateInactive}, states)
}

func TestEngine_RejectsRedundantCommands(t *testing.T) {
	e := newTestEngine(t, newTestStore(t), []Module{newFakeModule(ModulePower, map[string]string{"plan": "balanced"})})

	_, err := e.Deactivate(context.Background(), TriggerCLI)
	assert.ErrorIs(t, err, ErrAlreadyInactive)

	_, err = e.Activate(context.Background(), TriggerCLI)
	require.NoError(t, err)
	_, err = e.Activate(context.Background(), TriggerDetector)
	assert.ErrorIs(t, err, ErrAlreadyActive)
	assert.Equal(t, StateActive, e.Status())
}

func TestEngine_DuplicateModuleKind(t *testing.T) {
	_, err := NewEngine(newTestStore(t), []Module{
		newFakeModule(ModulePower, nil),
		newFakeModule(ModulePower, nil),
	})
	assert.Error(t, err)
}

func TestEngine_RevertIsIdempotent(t *testing.T) {
	reg := newFakeModule(ModuleRegistry, map[string]string{"R1": "1"})
	store := newTestStore(t)
	e := newTestEngine(t, store, []Module{reg})

	_, err := e.Activate(context.Background(), TriggerCLI)
	require.NoError(t, err)
	items := store.Items()

	first, err := reg.Revert(context.Background(), items)
	require.NoError(t, err)
	assert.True(t, first.OK())
	mutations := reg.reverts

	second, err := reg.Revert(context.Background(), items)
	require.NoError(t, err)
	assert.True(t, second.OK())
	assert.Len(t, second.Succeeded, 1)
	assert.Equal(t, mutations, reg.reverts)
}

func TestEngine_PartialApplyStillActive(t *testing.T) {
	reg := newFakeModule(ModuleRegistry, map[string]string{"R1": "1"})
	svc := newFakeModule(ModuleServices, map[string]string{"S1": "auto"})
	svc.applyFail["S1"] = ErrBusy
	e := newTestEngine(t, newTestStore(t), []Module{reg, svc})

	report, err := e.Activate(context.Background(), TriggerCLI)
	require.NoError(t, err)
	assert.Equal(t, StateActive, e.Status())
	assert.Equal(t, "tweaked", reg.value("R1"))
	assert.Equal(t, "auto", svc.value("S1"))

	var svcResult ModuleResult
	for _, r := range report.Results {
		if r.Module == ModuleServices {
			svcResult = r
		}
	}
	require.Len(t, svcResult.Failed, 1)
	assert.Equal(t, "S1", svcResult.Failed[0].Key)
	assert.Equal(t, KindBusy, svcResult.Failed[0].Reason)
	assert.Equal(t, 1, svcResult.Attempted)
	assert.Contains(t, report.Summary(), "failures: 1")
}

func TestEngine_ModuleErrorDoesNotAbortSiblings(t *testing.T) {
	reg := newFakeModule(ModuleRegistry, map[string]string{"R1": "1"})
	svc := newFakeModule(ModuleServices, nil)
	svc.captureErr = errors.New("service manager unreachable")
	e := newTestEngine(t, newTestStore(t), []Module{reg, svc})

	report, err := e.Activate(context.Background(), TriggerCLI)
	require.NoError(t, err)
	assert.Equal(t, StateActive, e.Status())
	assert.Equal(t, "tweaked", reg.value("R1"))
	assert.Contains(t, report.Failures()[0], "service manager unreachable")
}

func TestEngine_ModuleTimeout(t *testing.T) {
	slow := newFakeModule(ModuleProcess, map[string]string{"chrome": "running"})
	slow.delay = 200 * time.Millisecond
	reg := newFakeModule(ModuleRegistry, map[string]string{"R1": "1"})
	store := newTestStore(t)
	e := newTestEngine(t, store, []Module{slow, reg}, WithModuleTimeout(20*time.Millisecond))

	report, err := e.Activate(context.Background(), TriggerCLI)
	require.NoError(t, err)
	assert.Equal(t, StateActive, e.Status())

	var slowResult ModuleResult
	for _, r := range report.Results {
		if r.Module == ModuleProcess {
			slowResult = r
		}
	}
	assert.Contains(t, slowResult.Err, ErrTimeout.Error())

	// the late capture is never recorded or applied
	time.Sleep(250 * time.Millisecond)
	for _, it := range store.Items() {
		assert.NotEqual(t, ModuleProcess, it.Module)
	}
	assert.Equal(t, "running", slow.value("chrome"))
}

func TestEngine_AbandonLogNamesElapsedAndCause(t *testing.T) {
	var buf bytes.Buffer
	SetLogOutput(&buf)
	t.Cleanup(func() { SetLogOutput(os.Stderr) })

	e := newTestEngine(t, newTestStore(t), nil, WithModuleTimeout(40*time.Millisecond))
	release := make(chan struct{})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.runBounded(ctx, ModuleProcess, PhaseApply, func(context.Context) (ModuleResult, error) {
		<-release
		return ModuleResult{}, nil
	})
	require.ErrorIs(t, err, ErrTimeout)

	line := buf.String()
	assert.Regexp(t, `process apply abandoned after \d+ms`, line)
	assert.Contains(t, line, context.Canceled.Error())
	assert.True(t, e.runningModules()[ModuleProcess], "abandoned task still counts as running")
}

func TestEngine_RevertFailureKeepsSnapshot(t *testing.T) {
	svc := newFakeModule(ModuleServices, map[string]string{"S1": "auto", "S2": "manual"})
	store := newTestStore(t)
	e := newTestEngine(t, store, []Module{svc})

	_, err := e.Activate(context.Background(), TriggerCLI)
	require.NoError(t, err)

	svc.revertFail["S1"] = ErrBusy
	_, err = e.Deactivate(context.Background(), TriggerCLI)
	require.Error(t, err)
	assert.Equal(t, StateError, e.Status())
	assert.True(t, e.HasPendingSnapshot())

	// the reverted item is gone from the snapshot, the failed one stays
	items := store.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "S1", items[0].Key)
	assert.Equal(t, "manual", svc.value("S2"))

	delete(svc.revertFail, "S1")
	_, err = e.Deactivate(context.Background(), TriggerCLI)
	require.NoError(t, err)
	assert.Equal(t, StateInactive, e.Status())
	assert.Equal(t, "auto", svc.value("S1"))
	assert.False(t, e.HasPendingSnapshot())
}

func TestEngine_RevertLastRunsAfterEverything(t *testing.T) {
	var journal []string
	var mu sync.Mutex

	proc := newFakeModule(ModuleProcess, map[string]string{"explorer": "running"})
	proc.revertLast["explorer"] = true
	reg := newFakeModule(ModuleRegistry, map[string]string{"R1": "1", "R2": "2"})
	svc := newFakeModule(ModuleServices, map[string]string{"S1": "auto"})
	for _, m := range []*fakeModule{proc, reg, svc} {
		m.journal = &journal
		m.journalMu = &mu
	}

	e := newTestEngine(t, newTestStore(t), []Module{proc, reg, svc})
	_, err := e.Activate(context.Background(), TriggerCLI)
	require.NoError(t, err)
	_, err = e.Deactivate(context.Background(), TriggerCLI)
	require.NoError(t, err)

	require.Len(t, journal, 4)
	assert.Equal(t, "process:explorer", journal[len(journal)-1])
}

func TestEngine_ShellCriticalAppliesAfterEverything(t *testing.T) {
	var applied []string
	var mu sync.Mutex

	proc := newFakeModule(ModuleProcess, map[string]string{"explorer": "running", "chrome": "running"})
	proc.revertLast["explorer"] = true
	reg := newFakeModule(ModuleRegistry, map[string]string{"AutoRestartShell": "1"})
	reg.applyDelay = 30 * time.Millisecond
	for _, m := range []*fakeModule{proc, reg} {
		m.applied = &applied
		m.journalMu = &mu
	}

	e := newTestEngine(t, newTestStore(t), []Module{proc, reg})
	report, err := e.Activate(context.Background(), TriggerCLI)
	require.NoError(t, err)
	assert.Equal(t, "3 of 3 tweaks applied", report.Summary())
	require.Len(t, report.Results, 2)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, applied, 3)
	assert.Equal(t, "process:explorer", applied[len(applied)-1])
	assert.Less(t, indexOf(applied, "registry:AutoRestartShell"), indexOf(applied, "process:explorer"))
}

func indexOf(list []string, v string) int {
	for i, s := range list {
		if s == v {
			return i
		}
	}
	return -1
}

func TestEngine_UnreadableTargetsAreReported(t *testing.T) {
	reg := newFakeModule(ModuleRegistry, map[string]string{"R1": "1", "R2": "2"})
	reg.unreadable["R2"] = ErrPermissionDenied
	store := newTestStore(t)
	e := newTestEngine(t, store, []Module{reg})

	report, err := e.Activate(context.Background(), TriggerCLI)
	require.NoError(t, err)
	assert.Equal(t, StateActive, e.Status())
	assert.Equal(t, "1 of 2 tweaks applied; failures: 1", report.Summary())
	require.Len(t, report.Results[0].Failed, 1)
	assert.Equal(t, "R2", report.Results[0].Failed[0].Key)
	assert.Equal(t, KindPermissionDenied, report.Results[0].Failed[0].Reason)

	// only readable targets are captured
	items := store.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "R1", items[0].Key)
	assert.Equal(t, "2", reg.value("R2"))
}

func TestEngine_LateRevertCannotTouchNextSession(t *testing.T) {
	n := 0
	store := newTestStore(t, WithSessionIDGenerator(func() string {
		n++
		return fmt.Sprintf("gm_%d", n)
	}))
	reg := newFakeModule(ModuleRegistry, map[string]string{"R1": "1"})
	e := newTestEngine(t, store, []Module{reg}, WithModuleTimeout(30*time.Millisecond))

	_, err := e.Activate(context.Background(), TriggerCLI)
	require.NoError(t, err)

	// the first revert hangs past the module timeout
	gate := make(chan struct{})
	reg.revertGate = gate
	_, err = e.Deactivate(context.Background(), TriggerCLI)
	require.Error(t, err)
	assert.Equal(t, StateError, e.Status())
	require.Len(t, store.Items(), 1)

	// the retry succeeds and a new session starts
	_, err = e.Deactivate(context.Background(), TriggerCLI)
	require.NoError(t, err)
	_, err = e.Activate(context.Background(), TriggerCLI)
	require.NoError(t, err)
	assert.Equal(t, "gm_2", store.SessionID())

	close(gate)
	require.Eventually(t, func() bool { return len(e.runningModules()) == 0 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, StateActive, e.Status())
	require.Len(t, store.Items(), 1)
	reloaded := NewSnapshotStore(store.Path())
	found, err := reloaded.Load()
	require.NoError(t, err)
	require.True(t, found)
	assert.Len(t, reloaded.Items(), 1)
}

func TestEngine_AbortKeepsSnapshotWhileApplyInFlight(t *testing.T) {
	// the services record flush fails; registry is still inside Apply
	writer := func(name string, data []byte, perm os.FileMode) error {
		if strings.Contains(string(data), `"S1"`) {
			return errors.New("disk full")
		}
		return AtomicWriteFile(name, data, perm)
	}
	reg := newFakeModule(ModuleRegistry, map[string]string{"R1": "1"})
	gate := make(chan struct{})
	reg.applyGate = gate
	svc := newFakeModule(ModuleServices, map[string]string{"S1": "auto"})
	svc.delay = 30 * time.Millisecond

	store := newTestStore(t, WithSnapshotWriter(writer))
	e := newTestEngine(t, store, []Module{reg, svc}, WithModuleTimeout(150*time.Millisecond))

	started := time.Now()
	report, err := e.Activate(context.Background(), TriggerCLI)
	var snapErr *SnapshotError
	require.ErrorAs(t, err, &snapErr)
	assert.GreaterOrEqual(t, time.Since(started), 150*time.Millisecond)
	assert.Contains(t, report.Err, "registry still running")

	assert.Equal(t, StateError, e.Status())
	assert.True(t, e.HasPendingSnapshot())
	items := store.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "R1", items[0].Key)

	// the in-flight apply lands after the abort; its original is still recorded
	close(gate)
	require.Eventually(t, func() bool { return reg.value("R1") == "tweaked" }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(e.runningModules()) == 0 }, time.Second, 5*time.Millisecond)

	_, err = e.Deactivate(context.Background(), TriggerRecovery)
	require.NoError(t, err)
	assert.Equal(t, StateInactive, e.Status())
	assert.Equal(t, "1", reg.value("R1"))
	assert.False(t, e.HasPendingSnapshot())
}

func TestEngine_SnapshotFailureRollsBack(t *testing.T) {
	var (
		mu     sync.Mutex
		writes int
	)
	// Begin succeeds, the first Record flush fails
	writer := func(name string, data []byte, perm os.FileMode) error {
		mu.Lock()
		defer mu.Unlock()
		writes++
		if writes == 2 {
			return errors.New("disk full")
		}
		return AtomicWriteFile(name, data, perm)
	}
	reg := newFakeModule(ModuleRegistry, map[string]string{"R1": "1"})
	store := newTestStore(t, WithSnapshotWriter(writer))
	e := newTestEngine(t, store, []Module{reg}, WithWorkers(1))

	report, err := e.Activate(context.Background(), TriggerCLI)
	var snapErr *SnapshotError
	require.ErrorAs(t, err, &snapErr)
	require.NotNil(t, report)
	assert.NotEmpty(t, report.Err)
	assert.Equal(t, StateInactive, e.Status())
	assert.False(t, e.HasPendingSnapshot())
	assert.Equal(t, "1", reg.value("R1"))
}

func TestEngine_StartsInDeactivatingWithLeftoverSnapshot(t *testing.T) {
	reg := newFakeModule(ModuleRegistry, map[string]string{"R1": "1"})
	store := newTestStore(t)
	e := newTestEngine(t, store, []Module{reg})

	_, err := e.Activate(context.Background(), TriggerCLI)
	require.NoError(t, err)
	assert.Equal(t, "tweaked", reg.value("R1"))

	// simulate a crash: a fresh engine over the same snapshot file
	restarted := newTestEngine(t, NewSnapshotStore(store.Path()), []Module{reg})
	assert.Equal(t, StateDeactivating, restarted.Status())
	assert.True(t, restarted.HasPendingSnapshot())

	_, err = restarted.Activate(context.Background(), TriggerCLI)
	assert.ErrorIs(t, err, ErrRecoveryPending)

	report, err := restarted.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TriggerRecovery, report.Trigger)
	assert.Equal(t, StateInactive, restarted.Status())
	assert.Equal(t, "1", reg.value("R1"))

	_, err = restarted.Recover(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyInactive)
}

func TestEngine_LastReport(t *testing.T) {
	e := newTestEngine(t, newTestStore(t), []Module{newFakeModule(ModulePower, map[string]string{"plan": "balanced"})})
	assert.Nil(t, e.LastReport())

	_, err := e.Activate(context.Background(), TriggerDetector)
	require.NoError(t, err)

	last := e.LastReport()
	require.NotNil(t, last)
	assert.Equal(t, PhaseApply, last.Phase)
	assert.Equal(t, TriggerDetector, last.Trigger)
	assert.Equal(t, "active", last.State)
	assert.False(t, last.FinishedAt.Before(last.StartedAt))
}

func TestEngine_CanExit(t *testing.T) {
	tests := []struct {
		state SessionState
		want  bool
	}{
		{StateInactive, true},
		{StateActivating, false},
		{StateActive, false},
		{StateDeactivating, true},
		{StateError, true},
	}
	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			e := &Engine{state: tt.state}
			assert.Equal(t, tt.want, e.CanExit())
		})
	}
}
