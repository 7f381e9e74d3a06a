package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/SanGraphic/gamemode/internal"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	listModule string
)

var (
	// Styles
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62")).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	countStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))
)

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"targets"},
	Short:   "List what a session would change",
	Long: `List the resolved tweak targets: the registry values, services, processes
and power settings a session captures and changes, after the toggles in the
configuration have been applied.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, cfg, targets, err := loadConfig()
		if err != nil {
			return err
		}
		if listModule != "" {
			switch internal.ModuleKind(listModule) {
			case internal.ModuleRegistry, internal.ModuleServices, internal.ModuleProcess, internal.ModulePower:
			default:
				return fmt.Errorf("unknown module: %s (supported: registry, services, process, power)", listModule)
			}
		}
		displayTargets(cmd.OutOrStdout(), cfg, targets, internal.ModuleKind(listModule))
		return nil
	},
}

func displayTargets(out io.Writer, cfg *internal.Config, t *internal.Targets, only internal.ModuleKind) {
	show := func(k internal.ModuleKind) bool { return only == "" || only == k }

	fmt.Fprintln(out, headerStyle.Render("Configuration: "+cfg.Path()))
	fmt.Fprintln(out, dimStyle.Render("toggles: "+cfg.ToggleSummary()))
	fmt.Fprintln(out)

	// Use tabwriter for aligned columns
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)

	if show(internal.ModuleRegistry) {
		section(out, w, "Registry", len(t.Registry))
		for _, r := range t.Registry {
			_, _ = fmt.Fprintf(w, "  %s\\%s\\%s\t%s\t%v\n", r.Hive, r.Path, r.Name, r.Type, r.Data)
		}
		_ = w.Flush()
	}

	if show(internal.ModuleServices) {
		section(out, w, "Services", len(t.Services))
		for _, s := range t.Services {
			_, _ = fmt.Fprintf(w, "  %s\tstop, disable\n", s)
		}
		_ = w.Flush()
	}

	if show(internal.ModuleProcess) {
		section(out, w, "Processes", len(t.Processes))
		for _, p := range t.Processes {
			action := p.Action
			if p.ShellCritical {
				action += ", relaunch on restore"
			}
			_, _ = fmt.Fprintf(w, "  %s\t%s\n", p.Name, action)
		}
		_ = w.Flush()
	}

	if show(internal.ModulePower) {
		if len(t.Overrides) > 0 {
			section(out, w, "Power (overrides on the active plan)", len(t.Overrides))
			for _, o := range t.Overrides {
				_, _ = fmt.Fprintf(w, "  %s\t%s/%s\t%d\n", o.Name, o.Subgroup, o.Setting, o.Value)
			}
		} else {
			section(out, w, "Power", 1)
			line := "  plan\t" + t.Plan
			if t.Fallback != "" {
				line += "\tfallback " + t.Fallback
			}
			_, _ = fmt.Fprintln(w, line)
		}
		_ = w.Flush()
	}
}

func section(out io.Writer, w *tabwriter.Writer, name string, n int) {
	_ = w.Flush()
	fmt.Fprintf(out, "%s %s\n", titleStyle.Render(name), countStyle.Render(fmt.Sprintf("(%d)", n)))
	fmt.Fprintln(out, dimStyle.Render(strings.Repeat("─", 60)))
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().StringVarP(&listModule, "module", "m", "", "Only list one module (registry, services, process, power)")
}
