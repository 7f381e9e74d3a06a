package testutil

import (
	"testing"

	"github.com/SanGraphic/gamemode/internal"
	"github.com/SanGraphic/gamemode/internal/simhost"
)

// NewSimHost creates an empty in-memory simulated host
func NewSimHost(t *testing.T) *simhost.Host {
	t.Helper()
	h, err := simhost.Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to create simulated host: %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })
	return h
}

// DefaultTargets resolves the embedded configuration after toggles adjusts
// its switches. toggles may be nil.
func DefaultTargets(t *testing.T, toggles func(*internal.Toggles)) (*internal.Config, *internal.Targets) {
	t.Helper()
	cfg, err := internal.DefaultConfig()
	if err != nil {
		t.Fatalf("Failed to parse default config: %v", err)
	}
	if toggles != nil {
		toggles(&cfg.Toggles)
	}
	targets, err := cfg.Resolve()
	if err != nil {
		t.Fatalf("Failed to resolve targets: %v", err)
	}
	return cfg, targets
}

// NewSeededHost creates an in-memory host seeded as a stock desktop for the
// given targets
func NewSeededHost(t *testing.T, targets *internal.Targets) *simhost.Host {
	t.Helper()
	h := NewSimHost(t)
	if err := h.SeedTypical(targets); err != nil {
		t.Fatalf("Failed to seed simulated host: %v", err)
	}
	return h
}
