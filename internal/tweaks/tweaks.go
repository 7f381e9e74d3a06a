// Package tweaks assembles the four tweak modules from resolved
// configuration and a set of host backends.
package tweaks

import (
	"github.com/SanGraphic/gamemode/internal"
	"github.com/SanGraphic/gamemode/internal/power"
	"github.com/SanGraphic/gamemode/internal/process"
	"github.com/SanGraphic/gamemode/internal/registry"
	"github.com/SanGraphic/gamemode/internal/services"
)

// Backends is one host's set of OS-facing backends
type Backends struct {
	Registry  registry.Backend
	Services  services.Backend
	Processes process.Backend
	Power     power.Backend
}

// Native returns the backends of the machine we are running on
func Native() Backends {
	return Backends{
		Registry:  registry.NewNativeBackend(),
		Services:  services.NewNativeBackend(),
		Processes: process.NewNativeBackend(),
		Power:     power.NewNativeBackend(),
	}
}

// Modules builds one module per kind
func Modules(t *internal.Targets, b Backends) ([]internal.Module, error) {
	regTargets, err := registry.TargetsFromConfig(t.Registry)
	if err != nil {
		return nil, &internal.ConfigError{Err: err}
	}
	return []internal.Module{
		registry.New(b.Registry, regTargets),
		services.New(b.Services, t.Services),
		process.New(b.Processes, process.TargetsFromConfig(t.Processes)),
		power.New(b.Power, power.OptionsFromTargets(t)),
	}, nil
}
