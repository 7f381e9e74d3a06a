package internal

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"gopkg.in/yaml.v3"
)

//go:embed config.default.yaml
var defaultConfigYAML []byte

// Process actions
const (
	ActionSuspend   = "suspend"
	ActionTerminate = "terminate"
	ActionDemote    = "demote"
)

// Config is the user configuration. It is read once and treated as immutable.
type Config struct {
	Toggles   Toggles         `yaml:"toggles"`
	Engine    EngineConfig    `yaml:"engine"`
	Detector  DetectorConfig  `yaml:"detector"`
	Registry  []RegistryGroup `yaml:"registry"`
	Services  []ServiceGroup  `yaml:"services"`
	Processes []ProcessGroup  `yaml:"processes"`
	Power     PowerConfig     `yaml:"power"`

	path   string
	guards map[string]*vm.Program
}

// Toggles are the per-user switches referenced by `when:` guards
type Toggles struct {
	SuspendExplorer    bool `yaml:"suspend_explorer"`
	SuspendBrowsers    bool `yaml:"suspend_browsers"`
	SuspendLaunchers   bool `yaml:"suspend_launchers"`
	IsolateNetwork     bool `yaml:"isolate_network"`
	LaptopBoost        bool `yaml:"laptop_boost"`
	MMCSSBoost         bool `yaml:"mmcss_boost"`
	HAGS               bool `yaml:"hags"`
	LargePages         bool `yaml:"large_pages"`
	DisableMPO         bool `yaml:"disable_mpo"`
	DisableCoreParking bool `yaml:"disable_core_parking"`
	DemoteBackground   bool `yaml:"demote_background"`
	Playbook           bool `yaml:"playbook"`
}

// EngineConfig tunes the orchestrator
type EngineConfig struct {
	ModuleTimeout time.Duration `yaml:"module_timeout"`
	Workers       int           `yaml:"workers"`
}

// DetectorConfig configures the game watcher
type DetectorConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	Games        []string      `yaml:"games"`
}

// RegistryGroup is a named, optionally guarded set of registry values
type RegistryGroup struct {
	Name   string           `yaml:"name"`
	When   string           `yaml:"when,omitempty"`
	Values []RegistryTarget `yaml:"values"`
}

// RegistryTarget is one value to set. Data is interpreted according to Type.
type RegistryTarget struct {
	Hive string `yaml:"hive"`
	Path string `yaml:"path"`
	Name string `yaml:"name"`
	Type string `yaml:"type"`
	Data any    `yaml:"data"`
}

// ServiceGroup is a named, optionally guarded set of services to stop
type ServiceGroup struct {
	Name  string   `yaml:"name"`
	When  string   `yaml:"when,omitempty"`
	Names []string `yaml:"names"`
}

// ProcessGroup is a named, optionally guarded set of processes
type ProcessGroup struct {
	Name          string   `yaml:"name"`
	When          string   `yaml:"when,omitempty"`
	Action        string   `yaml:"action"`
	ShellCritical bool     `yaml:"shell_critical,omitempty"`
	Names         []string `yaml:"names"`
}

// PowerConfig selects the session plan and AC overrides
type PowerConfig struct {
	Plan      string          `yaml:"plan"`
	Fallback  string          `yaml:"fallback"`
	Overrides []PowerOverride `yaml:"overrides,omitempty"`
}

// PowerOverride sets one AC value index on the plan active at capture
type PowerOverride struct {
	Name     string `yaml:"name"`
	When     string `yaml:"when,omitempty"`
	Subgroup string `yaml:"subgroup"`
	Setting  string `yaml:"setting"`
	Value    uint32 `yaml:"value"`
}

// ProcessTarget is a resolved process entry
type ProcessTarget struct {
	Name          string
	Action        string
	ShellCritical bool
}

// Targets is the flattened view of a Config after guards are evaluated.
// Modules are built from it.
type Targets struct {
	Registry  []RegistryTarget
	Services  []string
	Processes []ProcessTarget
	Plan      string
	Fallback  string
	Overrides []PowerOverride
}

// DefaultConfigYAML returns the embedded default configuration
func DefaultConfigYAML() []byte {
	return append([]byte(nil), defaultConfigYAML...)
}

// DefaultConfig parses the embedded default configuration
func DefaultConfig() (*Config, error) {
	return ParseConfig(defaultConfigYAML, "<default>")
}

// LoadConfig reads the configuration at path. A missing file is created from
// the embedded default.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, &ConfigError{Path: path, Err: err}
		}
		LogInfo("No configuration at %s, writing defaults", path)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, &ConfigError{Path: path, Err: err}
		}
		if err := os.WriteFile(path, defaultConfigYAML, 0644); err != nil {
			return nil, &ConfigError{Path: path, Err: err}
		}
		data = defaultConfigYAML
	}
	return ParseConfig(data, path)
}

// ParseConfig decodes and validates a YAML document
func ParseConfig(data []byte, source string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &ConfigError{Path: source, Err: fmt.Errorf("failed to parse yaml: %w", err)}
	}
	cfg.path = source
	if cfg.Engine.ModuleTimeout <= 0 {
		cfg.Engine.ModuleTimeout = DefaultModuleTimeout
	}
	if cfg.Engine.Workers <= 0 {
		cfg.Engine.Workers = DefaultWorkers
	}
	if cfg.Detector.PollInterval <= 0 {
		cfg.Detector.PollInterval = 3 * time.Second
	}
	if err := cfg.validate(); err != nil {
		return nil, &ConfigError{Path: source, Err: err}
	}
	return &cfg, nil
}

// Path returns where the configuration was read from
func (c *Config) Path() string {
	return c.path
}

// guardEnv is the environment `when:` expressions are evaluated against
func (c *Config) guardEnv() map[string]any {
	return map[string]any{
		"suspend_explorer":     c.Toggles.SuspendExplorer,
		"suspend_browsers":     c.Toggles.SuspendBrowsers,
		"suspend_launchers":    c.Toggles.SuspendLaunchers,
		"isolate_network":      c.Toggles.IsolateNetwork,
		"laptop_boost":         c.Toggles.LaptopBoost,
		"mmcss_boost":          c.Toggles.MMCSSBoost,
		"hags":                 c.Toggles.HAGS,
		"large_pages":          c.Toggles.LargePages,
		"disable_mpo":          c.Toggles.DisableMPO,
		"disable_core_parking": c.Toggles.DisableCoreParking,
		"demote_background":    c.Toggles.DemoteBackground,
		"playbook":             c.Toggles.Playbook,
		"goos":                 runtime.GOOS,
	}
}

// ToggleSummary renders every toggle as name=value, sorted by name
func (c *Config) ToggleSummary() string {
	env := c.guardEnv()
	names := make([]string, 0, len(env))
	for k := range env {
		if k != "goos" {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	pairs := make([]string, len(names))
	for i, k := range names {
		pairs[i] = fmt.Sprintf("%s=%t", k, env[k])
	}
	return strings.Join(pairs, " ")
}

func (c *Config) compileGuard(when string) error {
	if when == "" {
		return nil
	}
	if _, ok := c.guards[when]; ok {
		return nil
	}
	program, err := expr.Compile(when, expr.Env(c.guardEnv()), expr.AsBool())
	if err != nil {
		return fmt.Errorf("invalid guard %q: %w", when, err)
	}
	c.guards[when] = program
	return nil
}

func (c *Config) enabled(when string) (bool, error) {
	if when == "" {
		return true, nil
	}
	program, ok := c.guards[when]
	if !ok {
		return false, fmt.Errorf("guard %q was not compiled", when)
	}
	out, err := expr.Run(program, c.guardEnv())
	if err != nil {
		return false, fmt.Errorf("failed to evaluate guard %q: %w", when, err)
	}
	b, _ := out.(bool)
	return b, nil
}

var (
	validHives         = map[string]bool{"HKLM": true, "HKCU": true, "HKU": true, "HKCR": true}
	validRegistryTypes = map[string]bool{"dword": true, "qword": true, "string": true, "expand_string": true, "binary": true}
)

func (c *Config) validate() error {
	c.guards = make(map[string]*vm.Program)

	for _, g := range c.Registry {
		if err := c.compileGuard(g.When); err != nil {
			return fmt.Errorf("registry group %s: %w", g.Name, err)
		}
		for _, v := range g.Values {
			if !validHives[strings.ToUpper(v.Hive)] {
				return fmt.Errorf("registry group %s: unknown hive %q", g.Name, v.Hive)
			}
			if !validRegistryTypes[v.Type] {
				return fmt.Errorf("registry group %s: unknown value type %q for %s", g.Name, v.Type, v.Name)
			}
			if v.Path == "" {
				return fmt.Errorf("registry group %s: empty path for %s", g.Name, v.Name)
			}
		}
	}
	for _, g := range c.Services {
		if err := c.compileGuard(g.When); err != nil {
			return fmt.Errorf("service group %s: %w", g.Name, err)
		}
	}
	for _, g := range c.Processes {
		if err := c.compileGuard(g.When); err != nil {
			return fmt.Errorf("process group %s: %w", g.Name, err)
		}
		switch g.Action {
		case ActionSuspend, ActionTerminate, ActionDemote:
		default:
			return fmt.Errorf("process group %s: unknown action %q", g.Name, g.Action)
		}
		if g.ShellCritical && g.Action != ActionTerminate {
			return fmt.Errorf("process group %s: shell_critical requires action terminate", g.Name)
		}
	}
	for _, o := range c.Power.Overrides {
		if err := c.compileGuard(o.When); err != nil {
			return fmt.Errorf("power override %s: %w", o.Name, err)
		}
		if o.Subgroup == "" || o.Setting == "" {
			return fmt.Errorf("power override %s: subgroup and setting are required", o.Name)
		}
	}
	return nil
}

// Resolve evaluates every guard and flattens the enabled targets. Duplicate
// names are dropped, keeping the first occurrence, so a target is captured
// at most once per session.
func (c *Config) Resolve() (*Targets, error) {
	t := &Targets{Plan: c.Power.Plan, Fallback: c.Power.Fallback}

	seenReg := make(map[string]bool)
	for _, g := range c.Registry {
		ok, err := c.enabled(g.When)
		if err != nil {
			return nil, &ConfigError{Path: c.path, Err: err}
		}
		if !ok {
			continue
		}
		for _, v := range g.Values {
			v.Hive = strings.ToUpper(v.Hive)
			id := strings.ToLower(v.Hive + `\` + v.Path + `\` + v.Name)
			if seenReg[id] {
				continue
			}
			seenReg[id] = true
			t.Registry = append(t.Registry, v)
		}
	}

	seenSvc := make(map[string]bool)
	for _, g := range c.Services {
		ok, err := c.enabled(g.When)
		if err != nil {
			return nil, &ConfigError{Path: c.path, Err: err}
		}
		if !ok {
			continue
		}
		for _, name := range g.Names {
			if seenSvc[strings.ToLower(name)] {
				continue
			}
			seenSvc[strings.ToLower(name)] = true
			t.Services = append(t.Services, name)
		}
	}

	seenProc := make(map[string]bool)
	for _, g := range c.Processes {
		ok, err := c.enabled(g.When)
		if err != nil {
			return nil, &ConfigError{Path: c.path, Err: err}
		}
		if !ok {
			continue
		}
		for _, name := range g.Names {
			norm := NormalizeProcessName(name)
			if seenProc[norm] {
				continue
			}
			seenProc[norm] = true
			t.Processes = append(t.Processes, ProcessTarget{Name: name, Action: g.Action, ShellCritical: g.ShellCritical})
		}
	}

	for _, o := range c.Power.Overrides {
		ok, err := c.enabled(o.When)
		if err != nil {
			return nil, &ConfigError{Path: c.path, Err: err}
		}
		if ok {
			t.Overrides = append(t.Overrides, o)
		}
	}
	return t, nil
}

// NormalizeProcessName lowercases a process name and strips the .exe suffix
func NormalizeProcessName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.TrimSuffix(name, ".exe")
}
