package simhost

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/SanGraphic/gamemode/internal"
	"github.com/SanGraphic/gamemode/internal/power"
	"github.com/SanGraphic/gamemode/internal/registry"
	"github.com/SanGraphic/gamemode/internal/services"
)

// Well-known plan GUIDs
const (
	PlanBalanced        = "381b4222-f694-41f0-9685-ff5bb260df2e"
	PlanHighPerformance = "8c5e7fda-e8bf-4a96-9a85-a6e23a8c635c"
	PlanUltimate        = "e9a42b02-d5df-448d-aa00-03f14749eb61"
)

// Fixture describes a host state in YAML
type Fixture struct {
	Registry []FixtureValue `yaml:"registry"`
	// Keys are created empty, for wildcard expansion
	Keys      []string         `yaml:"keys"`
	Services  []FixtureService `yaml:"services"`
	Processes []string         `yaml:"processes"`
	Plans     []FixturePlan    `yaml:"plans"`
	Active    string           `yaml:"active_plan"`
}

// FixtureValue is one registry value. Key is HIVE\path\name.
type FixtureValue struct {
	Key        string `yaml:"key"`
	Type       string `yaml:"type"`
	Data       any    `yaml:"data"`
	Locked     bool   `yaml:"locked,omitempty"`
	Unreadable bool   `yaml:"unreadable,omitempty"`
}

// FixtureService is one service
type FixtureService struct {
	Name      string   `yaml:"name"`
	StartMode string   `yaml:"start_mode"`
	Running   bool     `yaml:"running"`
	DependsOn []string `yaml:"depends_on,omitempty"`
	Busy      bool     `yaml:"busy,omitempty"`
}

// FixturePlan is one power plan
type FixturePlan struct {
	GUID     string            `yaml:"guid"`
	Name     string            `yaml:"name"`
	Template bool              `yaml:"template,omitempty"`
	ACValues map[string]uint32 `yaml:"ac_values,omitempty"`
}

// LoadFixture reads a YAML fixture file and applies it
func (h *Host) LoadFixture(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read fixture: %w", err)
	}
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse fixture %s: %w", path, err)
	}
	return h.Apply(&f)
}

// Apply seeds the host with a fixture
func (h *Host) Apply(f *Fixture) error {
	for _, k := range f.Keys {
		hive, path, ok := strings.Cut(k, `\`)
		if !ok {
			return fmt.Errorf("malformed key %q", k)
		}
		if err := h.CreateRegistryKey(strings.ToUpper(hive), path); err != nil {
			return err
		}
	}
	for _, rv := range f.Registry {
		first, last := strings.Index(rv.Key, `\`), strings.LastIndex(rv.Key, `\`)
		if first < 0 || first == last {
			return fmt.Errorf("malformed registry key %q", rv.Key)
		}
		hive, path, name := strings.ToUpper(rv.Key[:first]), rv.Key[first+1:last], rv.Key[last+1:]
		v, err := registry.ParseValue(registry.ValueType(rv.Type), rv.Data)
		if err != nil {
			return fmt.Errorf("registry value %s: %w", rv.Key, err)
		}
		if err := h.PutRegistryValue(hive, path, name, v); err != nil {
			return err
		}
		if rv.Locked {
			if err := h.LockRegistryValue(hive, path, name, true); err != nil {
				return err
			}
		}
		if rv.Unreadable {
			if err := h.DenyRegistryRead(hive, path, name, true); err != nil {
				return err
			}
		}
	}
	for _, s := range f.Services {
		mode := services.StartMode(s.StartMode)
		if mode == "" {
			mode = services.StartAuto
		}
		if err := h.AddService(s.Name, mode, s.Running, s.DependsOn...); err != nil {
			return err
		}
		if s.Busy {
			if err := h.SetServiceBusy(s.Name, true); err != nil {
				return err
			}
		}
	}
	for _, p := range f.Processes {
		if _, err := h.Spawn(p); err != nil {
			return err
		}
	}
	for _, p := range f.Plans {
		guid := strings.ToLower(strings.Trim(p.GUID, "{}"))
		if err := h.AddPlan(guid, p.Name, !p.Template); err != nil {
			return err
		}
		for k, v := range p.ACValues {
			sg, setting, ok := strings.Cut(k, "/")
			if !ok {
				return fmt.Errorf("malformed setting %q, want subgroup/setting", k)
			}
			if err := h.SetPowerValue(guid, sg, setting, v); err != nil {
				return err
			}
		}
	}
	if f.Active != "" {
		if err := h.Power().SetActivePlan(context.Background(), strings.ToLower(strings.Trim(f.Active, "{}"))); err != nil {
			return err
		}
	}
	return nil
}

// SeedTypical seeds a stock desktop where every resolved target exists in
// its untweaked state: registry values hold something other than the tweak,
// services are automatic and running, every process runs, and the balanced
// plan is active with the ultimate plan available only as a template.
func (h *Host) SeedTypical(t *internal.Targets) error {
	f := &Fixture{Active: PlanBalanced}

	for _, rt := range t.Registry {
		target, err := registry.ParseValue(registry.ValueType(rt.Type), rt.Data)
		if err != nil {
			return fmt.Errorf("registry value %s\\%s\\%s: %w", rt.Hive, rt.Path, rt.Name, err)
		}
		var data any
		switch target.Type {
		case registry.TypeDword, registry.TypeQword:
			data = (target.Int + 1) % 2
		case registry.TypeBinary:
			data = "00"
		default:
			data = "stock"
		}
		path := strings.Trim(rt.Path, `\`)
		if strings.Contains(path, "*") {
			for _, sub := range []string{"{4a3c1b2e-0001}", "{4a3c1b2e-0002}"} {
				f.Registry = append(f.Registry, FixtureValue{
					Key:  rt.Hive + `\` + strings.Replace(path, "*", sub, 1) + `\` + rt.Name,
					Type: string(target.Type), Data: data,
				})
			}
			continue
		}
		f.Registry = append(f.Registry, FixtureValue{Key: rt.Hive + `\` + path + `\` + rt.Name, Type: string(target.Type), Data: data})
	}

	for i, name := range t.Services {
		s := FixtureService{Name: name, StartMode: string(services.StartAuto), Running: true}
		// the second service depends on the first so stop ordering matters
		if i == 1 {
			s.DependsOn = []string{t.Services[0]}
		}
		f.Services = append(f.Services, s)
	}

	for _, p := range t.Processes {
		name := internal.NormalizeProcessName(p.Name) + ".exe"
		f.Processes = append(f.Processes, name)
		if p.Action == internal.ActionTerminate && !p.ShellCritical {
			f.Processes = append(f.Processes, name)
		}
	}

	balanced := FixturePlan{GUID: PlanBalanced, Name: "Balanced", ACValues: map[string]uint32{}}
	for _, o := range t.Overrides {
		ov := power.Override{Subgroup: o.Subgroup, Setting: o.Setting}
		sg, setting, _ := strings.Cut(strings.TrimPrefix(ov.Key(), "setting:"), "/")
		balanced.ACValues[sg+"/"+setting] = 0
	}
	f.Plans = []FixturePlan{
		balanced,
		{GUID: PlanHighPerformance, Name: "High performance"},
		{GUID: PlanUltimate, Name: "Ultimate Performance", Template: true},
	}
	return h.Apply(f)
}
