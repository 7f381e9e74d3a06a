package internal

import (
	"encoding/json"
	"fmt"
	"time"
)

// ModuleKind identifies one OS-facing controller
type ModuleKind string

const (
	ModuleRegistry ModuleKind = "registry"
	ModuleServices ModuleKind = "services"
	ModuleProcess  ModuleKind = "process"
	ModulePower    ModuleKind = "power"
)

// SessionState is the single process-wide session value
type SessionState int

const (
	StateInactive SessionState = iota
	StateActivating
	StateActive
	StateDeactivating
	StateError
)

func (s SessionState) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateActivating:
		return "activating"
	case StateActive:
		return "active"
	case StateDeactivating:
		return "deactivating"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
}

// TriggerSource records who asked for a session change
type TriggerSource string

const (
	TriggerCLI      TriggerSource = "cli"
	TriggerDetector TriggerSource = "detector"
	TriggerRecovery TriggerSource = "recovery"
	TriggerShutdown TriggerSource = "shutdown"
)

// Phase names one pass over the modules
type Phase string

const (
	PhaseApply  Phase = "apply"
	PhaseRevert Phase = "revert"
)

// TweakItem is the smallest unit of reversible state. Original and Applied
// are module-defined payloads; only the owning module interprets them.
type TweakItem struct {
	Module     ModuleKind      `json:"module" yaml:"module"`
	Key        string          `json:"key" yaml:"key"`
	Original   json.RawMessage `json:"original" yaml:"-"`
	Applied    json.RawMessage `json:"applied,omitempty" yaml:"-"`
	CapturedAt time.Time       `json:"captured_at" yaml:"captured_at"`
	// RevertLast items are applied after every other item of the session and
	// reverted after every other item.
	RevertLast bool `json:"revert_last,omitempty" yaml:"revert_last,omitempty"`
}

// ID returns the snapshot-wide identity of the item
func (it TweakItem) ID() string {
	return string(it.Module) + ":" + it.Key
}

// ItemFailure is one failed item in a ModuleResult
type ItemFailure struct {
	Key     string    `json:"key" yaml:"key"`
	Reason  ErrorKind `json:"reason" yaml:"reason"`
	Message string    `json:"message,omitempty" yaml:"message,omitempty"`
}

// ModuleResult is the outcome of one controller pass
type ModuleResult struct {
	Module    ModuleKind    `json:"module" yaml:"module"`
	Phase     Phase         `json:"phase" yaml:"phase"`
	Attempted int           `json:"items_attempted" yaml:"items_attempted"`
	Succeeded []string      `json:"items_succeeded,omitempty" yaml:"items_succeeded,omitempty"`
	Failed    []ItemFailure `json:"items_failed,omitempty" yaml:"items_failed,omitempty"`
	// Err is set when the module as a whole could not run (including timeouts).
	Err string `json:"error,omitempty" yaml:"error,omitempty"`
}

// NewModuleResult creates an empty result for a module pass
func NewModuleResult(kind ModuleKind, phase Phase) ModuleResult {
	return ModuleResult{Module: kind, Phase: phase}
}

// Succeed records a successful item
func (r *ModuleResult) Succeed(key string) {
	r.Attempted++
	r.Succeeded = append(r.Succeeded, key)
}

// Fail records a failed item, classifying err
func (r *ModuleResult) Fail(key string, err error) {
	r.Attempted++
	r.Failed = append(r.Failed, NewItemFailure(key, err))
}

// OK reports whether every attempted item succeeded and the module ran
func (r ModuleResult) OK() bool {
	return r.Err == "" && len(r.Failed) == 0
}

// Merge folds another pass of the same module into r
func (r *ModuleResult) Merge(other ModuleResult) {
	r.Attempted += other.Attempted
	r.Succeeded = append(r.Succeeded, other.Succeeded...)
	r.Failed = append(r.Failed, other.Failed...)
	if other.Err != "" {
		if r.Err != "" {
			r.Err += "; " + other.Err
		} else {
			r.Err = other.Err
		}
	}
}

// SessionSnapshot is the durable record of everything a session must undo
type SessionSnapshot struct {
	Version   int           `json:"version"`
	SessionID string        `json:"session_id"`
	StartedAt time.Time     `json:"started_at"`
	Trigger   TriggerSource `json:"trigger_source"`
	Items     []TweakItem   `json:"items"`
}

// ItemsFor returns the items of one module in capture order
func (s *SessionSnapshot) ItemsFor(kind ModuleKind) []TweakItem {
	var out []TweakItem
	for _, it := range s.Items {
		if it.Module == kind {
			out = append(out, it)
		}
	}
	return out
}

// Modules returns the module kinds present, in first-capture order
func (s *SessionSnapshot) Modules() []ModuleKind {
	seen := make(map[ModuleKind]bool)
	var out []ModuleKind
	for _, it := range s.Items {
		if !seen[it.Module] {
			seen[it.Module] = true
			out = append(out, it.Module)
		}
	}
	return out
}

// Report summarizes one Activate or Deactivate call for the front-end
type Report struct {
	Phase      Phase          `json:"phase" yaml:"phase"`
	SessionID  string         `json:"session_id" yaml:"session_id"`
	Trigger    TriggerSource  `json:"trigger_source" yaml:"trigger_source"`
	StartedAt  time.Time      `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time      `json:"finished_at" yaml:"finished_at"`
	State      string         `json:"state" yaml:"state"`
	Results    []ModuleResult `json:"results" yaml:"results"`
	Err        string         `json:"error,omitempty" yaml:"error,omitempty"`
}

// Totals returns attempted and succeeded item counts across all modules
func (r *Report) Totals() (attempted, succeeded int) {
	for _, res := range r.Results {
		attempted += res.Attempted
		succeeded += len(res.Succeeded)
	}
	return attempted, succeeded
}

// Failures returns every failed item across modules, prefixed by module
func (r *Report) Failures() []string {
	var out []string
	for _, res := range r.Results {
		if res.Err != "" {
			out = append(out, fmt.Sprintf("%s: %s", res.Module, res.Err))
		}
		for _, f := range res.Failed {
			out = append(out, fmt.Sprintf("%s %s: %s", res.Module, f.Key, f.Reason))
		}
	}
	return out
}

// Summary renders the "N of M tweaks applied; failures: ..." line
func (r *Report) Summary() string {
	attempted, succeeded := r.Totals()
	verb := "applied"
	if r.Phase == PhaseRevert {
		verb = "reverted"
	}
	line := fmt.Sprintf("%d of %d tweaks %s", succeeded, attempted, verb)
	if failures := r.Failures(); len(failures) > 0 {
		line += fmt.Sprintf("; failures: %d", len(failures))
	}
	return line
}
