package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/SanGraphic/gamemode/internal"
	"github.com/SanGraphic/gamemode/internal/process"
	"github.com/SanGraphic/gamemode/internal/tweaks"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	snoopSuccessStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("42")).
				Bold(true)

	snoopWarningStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("214")).
				Bold(true)

	snoopInfoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39"))

	snoopSectionStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("62")).
				Bold(true).
				Underline(true)

	snoopPathStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))
)

// snoopCmd represents the snoop command
var snoopCmd = &cobra.Command{
	Use:   "snoop",
	Short: "Show what game mode would touch on this host",
	Long: `Snoop inspects the host without changing anything.

This command will:
  • Report which configured games are running
  • Show the configured processes that are running and their pids
  • Show the current state of every configured service
  • Show the active power plan and whether the session plan is installed

Use --simulate to look at a simulated host instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, cfg, targets, err := loadConfig()
		if err != nil {
			return err
		}
		backends, host, err := openBackends(targets)
		if err != nil {
			return err
		}
		if host != nil {
			defer host.Close()
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		out := cmd.OutOrStdout()

		procs, err := backends.Processes.List(ctx)
		if err != nil {
			if errors.Is(err, internal.ErrUnsupported) {
				return fmt.Errorf("snoop needs a Windows host or --simulate: %w", err)
			}
			return err
		}

		fmt.Fprintln(out, snoopSectionStyle.Render("🎮 Games"))
		snoopGames(out, procs, cfg.Detector.Games)
		fmt.Fprintln(out)

		fmt.Fprintln(out, snoopSectionStyle.Render("⚙️  Processes"))
		snoopProcesses(out, procs, targets.Processes)
		fmt.Fprintln(out)

		fmt.Fprintln(out, snoopSectionStyle.Render("🧩 Services"))
		snoopServices(ctx, out, backends, targets.Services)
		fmt.Fprintln(out)

		fmt.Fprintln(out, snoopSectionStyle.Render("⚡ Power"))
		snoopPower(ctx, out, backends, targets)
		return nil
	},
}

func groupPIDs(procs []process.Proc) map[string][]uint32 {
	out := make(map[string][]uint32)
	for _, p := range procs {
		n := internal.NormalizeProcessName(p.Name)
		out[n] = append(out[n], p.PID)
	}
	return out
}

func snoopGames(out io.Writer, procs []process.Proc, games []string) {
	running := groupPIDs(procs)
	found := 0
	for _, g := range games {
		if pids := running[internal.NormalizeProcessName(g)]; len(pids) > 0 {
			fmt.Fprintf(out, "  %s %s %s\n", snoopSuccessStyle.Render("●"), g, snoopPathStyle.Render(formatPIDs(pids)))
			found++
		}
	}
	if found == 0 {
		fmt.Fprintf(out, "  %s\n", snoopInfoStyle.Render(fmt.Sprintf("No known game running (%d configured)", len(games))))
	}
}

func snoopProcesses(out io.Writer, procs []process.Proc, targets []internal.ProcessTarget) {
	running := groupPIDs(procs)
	for _, t := range targets {
		pids := running[internal.NormalizeProcessName(t.Name)]
		if len(pids) == 0 {
			continue
		}
		action := t.Action
		if t.ShellCritical {
			action += ", relaunched"
		}
		fmt.Fprintf(out, "  %-24s %-22s %s\n", t.Name, snoopPathStyle.Render(action), formatPIDs(pids))
	}
}

func snoopServices(ctx context.Context, out io.Writer, backends tweaks.Backends, names []string) {
	for _, name := range names {
		st, err := backends.Services.Query(ctx, name)
		switch {
		case errors.Is(err, internal.ErrTargetAbsent):
			fmt.Fprintf(out, "  %-24s %s\n", name, snoopPathStyle.Render("not installed"))
		case err != nil:
			fmt.Fprintf(out, "  %-24s %s\n", name, snoopWarningStyle.Render(err.Error()))
		default:
			status := "stopped"
			if st.Running {
				status = "running"
			}
			fmt.Fprintf(out, "  %-24s %-8s %s\n", name, status, snoopPathStyle.Render(string(st.StartMode)))
		}
	}
}

func snoopPower(ctx context.Context, out io.Writer, backends tweaks.Backends, targets *internal.Targets) {
	active, err := backends.Power.ActivePlan(ctx)
	if err != nil {
		fmt.Fprintf(out, "  %s\n", snoopWarningStyle.Render("⚠️  "+err.Error()))
		return
	}
	plans, err := backends.Power.ListPlans(ctx)
	if err != nil {
		fmt.Fprintf(out, "  %s\n", snoopWarningStyle.Render("⚠️  "+err.Error()))
		return
	}
	installed := make(map[string]bool)
	for _, p := range plans {
		installed[strings.ToLower(p.GUID)] = true
		mark := " "
		if strings.EqualFold(p.GUID, active) {
			mark = snoopSuccessStyle.Render("*")
		}
		fmt.Fprintf(out, "  %s %s %s\n", mark, p.GUID, snoopPathStyle.Render(p.Name))
	}
	if targets.Plan != "" && !installed[strings.ToLower(strings.Trim(targets.Plan, "{}"))] {
		fmt.Fprintf(out, "  %s\n", snoopInfoStyle.Render("Session plan "+targets.Plan+" is not installed and will be duplicated on activation"))
	}
}

func formatPIDs(pids []uint32) string {
	parts := make([]string, len(pids))
	for i, pid := range pids {
		parts[i] = fmt.Sprint(pid)
	}
	return "pid " + strings.Join(parts, ",")
}

func init() {
	rootCmd.AddCommand(snoopCmd)
}
