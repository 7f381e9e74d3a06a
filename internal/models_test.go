package internal

import (
	"errors"
	"testing"
)

func TestSessionState_String(t *testing.T) {
	tests := map[SessionState]string{
		StateInactive:     "inactive",
		StateActivating:   "activating",
		StateActive:       "active",
		StateDeactivating: "deactivating",
		StateError:        "error",
		SessionState(42):  "SessionState(42)",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("SessionState(%d).String() = %q, want %q", int(state), got, want)
		}
	}
}

func TestTweakItem_ID(t *testing.T) {
	item := TweakItem{Module: ModuleRegistry, Key: `HKLM\SYSTEM\X\Value`}
	if got := item.ID(); got != `registry:HKLM\SYSTEM\X\Value` {
		t.Errorf("ID() = %q", got)
	}
}

func TestNewItem_RoundTrip(t *testing.T) {
	type payload struct {
		StartMode string `json:"start_mode"`
		Running   bool   `json:"running"`
	}
	item, err := NewItem(ModuleServices, "SysMain", payload{StartMode: "auto", Running: true}, payload{StartMode: "disabled"})
	if err != nil {
		t.Fatalf("NewItem() error = %v", err)
	}
	if item.CapturedAt.IsZero() {
		t.Error("CapturedAt should be set")
	}

	var orig, applied payload
	if err := item.DecodeOriginal(&orig); err != nil {
		t.Fatalf("DecodeOriginal() error = %v", err)
	}
	if orig.StartMode != "auto" || !orig.Running {
		t.Errorf("DecodeOriginal() = %+v", orig)
	}
	if err := item.DecodeApplied(&applied); err != nil {
		t.Fatalf("DecodeApplied() error = %v", err)
	}
	if applied.StartMode != "disabled" {
		t.Errorf("DecodeApplied() = %+v", applied)
	}

	bare, err := NewItem(ModuleProcess, "chrome", map[string]bool{"running": true}, nil)
	if err != nil {
		t.Fatalf("NewItem() error = %v", err)
	}
	if err := bare.DecodeApplied(&applied); err == nil {
		t.Error("DecodeApplied() on item without applied value should fail")
	}
}

func TestModuleResult(t *testing.T) {
	res := NewModuleResult(ModuleServices, PhaseApply)
	res.Succeed("WSearch")
	res.Fail("SysMain", ErrBusy)

	if res.Attempted != 2 {
		t.Errorf("Attempted = %d, want 2", res.Attempted)
	}
	if res.OK() {
		t.Error("OK() = true with a failed item")
	}
	if res.Failed[0].Reason != KindBusy {
		t.Errorf("Reason = %v, want Busy", res.Failed[0].Reason)
	}

	other := NewModuleResult(ModuleServices, PhaseApply)
	other.Succeed("Spooler")
	other.Err = "partial"
	res.Merge(other)
	if res.Attempted != 3 || len(res.Succeeded) != 2 || res.Err != "partial" {
		t.Errorf("Merge() = %+v", res)
	}
}

func TestSessionSnapshot_Grouping(t *testing.T) {
	snap := &SessionSnapshot{Items: []TweakItem{
		{Module: ModuleServices, Key: "A"},
		{Module: ModuleRegistry, Key: "B"},
		{Module: ModuleServices, Key: "C"},
	}}

	mods := snap.Modules()
	if len(mods) != 2 || mods[0] != ModuleServices || mods[1] != ModuleRegistry {
		t.Errorf("Modules() = %v", mods)
	}
	svc := snap.ItemsFor(ModuleServices)
	if len(svc) != 2 || svc[0].Key != "A" || svc[1].Key != "C" {
		t.Errorf("ItemsFor() = %v", svc)
	}
}

func TestReport_Summary(t *testing.T) {
	ok := NewModuleResult(ModuleRegistry, PhaseRevert)
	ok.Succeed("R1")
	ok.Succeed("R2")
	bad := NewModuleResult(ModuleServices, PhaseRevert)
	bad.Fail("S1", errors.New("access"))

	report := &Report{Phase: PhaseRevert, Results: []ModuleResult{ok, bad}}
	if got := report.Summary(); got != "2 of 3 tweaks reverted; failures: 1" {
		t.Errorf("Summary() = %q", got)
	}
	if f := report.Failures(); len(f) != 1 || f[0] != "services S1: Failed" {
		t.Errorf("Failures() = %v", f)
	}
}
