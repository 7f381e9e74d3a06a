package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/SanGraphic/gamemode/internal"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39"))

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("62")).
			Bold(true).
			Underline(true)
)

// healthcheckCmd represents the healthcheck command
var healthcheckCmd = &cobra.Command{
	Use:   "healthcheck",
	Short: "Check if gamemode can run on this host",
	Long: `Check the health of gamemode by verifying:
  • State directory access
  • Configuration parsing and resolved target counts
  • Host lock availability
  • Pending snapshots from an interrupted session
  • Host backend support (process table and power API)
  • Administrator rights

Use -v for detailed diagnostic information.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		failed := 0
		warned := 0

		fmt.Fprintln(out, sectionStyle.Render("🔍 Game Mode Health Check"))
		fmt.Fprintln(out)

		// Step 1: state directory
		fmt.Fprintln(out, infoStyle.Render("Step 1: Checking state directory..."))
		paths, err := internal.DetectStatePaths(stateDir)
		if err == nil {
			err = paths.Ensure()
		}
		if err != nil {
			fmt.Fprintln(out, errorStyle.Render("❌ State directory unavailable:"), err)
			return fmt.Errorf("health check failed: %w", err)
		}
		fmt.Fprintln(out, successStyle.Render("✅ State directory ready"))
		if verbose {
			fmt.Fprintf(out, "   Directory: %s\n", paths.Dir)
		}
		fmt.Fprintln(out)

		// Step 2: configuration
		fmt.Fprintln(out, infoStyle.Render("Step 2: Loading configuration..."))
		_, cfg, targets, err := loadConfig()
		if err != nil {
			fmt.Fprintln(out, errorStyle.Render("❌ Configuration invalid:"), err)
			return fmt.Errorf("health check failed: %w", err)
		}
		fmt.Fprintln(out, successStyle.Render("✅ Configuration loaded"))
		fmt.Fprintf(out, "   %d registry value(s), %d service(s), %d process(es), %d power override(s)\n",
			len(targets.Registry), len(targets.Services), len(targets.Processes), len(targets.Overrides))
		if verbose {
			fmt.Fprintf(out, "   File: %s\n", cfg.Path())
			fmt.Fprintf(out, "   Module timeout: %s, workers: %d\n", cfg.Engine.ModuleTimeout, cfg.Engine.Workers)
		}
		fmt.Fprintln(out)

		// Step 3: host lock
		fmt.Fprintln(out, infoStyle.Render("Step 3: Checking host lock..."))
		lock, err := internal.AcquireHostLock(paths.LockPath())
		switch {
		case errors.Is(err, internal.ErrWouldBlock):
			fmt.Fprintln(out, warningStyle.Render("⚠️  Another gamemode engine is running"))
			warned++
		case err != nil:
			fmt.Fprintln(out, errorStyle.Render("❌ Failed to take the host lock:"), err)
			failed++
		default:
			_ = lock.Release()
			fmt.Fprintln(out, successStyle.Render("✅ Host lock available"))
		}
		if verbose {
			fmt.Fprintf(out, "   Lock file: %s\n", paths.LockPath())
		}
		fmt.Fprintln(out)

		// Step 4: pending snapshot
		fmt.Fprintln(out, infoStyle.Render("Step 4: Checking for an interrupted session..."))
		store := internal.NewSnapshotStore(paths.SnapshotPath())
		pending, err := store.Load()
		switch {
		case err != nil:
			fmt.Fprintln(out, errorStyle.Render("❌ Snapshot unreadable:"), err)
			failed++
		case pending:
			snap := store.Snapshot()
			fmt.Fprintln(out, warningStyle.Render(fmt.Sprintf("⚠️  Session %s left %d item(s) to restore", snap.SessionID, len(snap.Items))))
			fmt.Fprintln(out, "   Run 'gamemode recover' to restore them")
			warned++
		default:
			fmt.Fprintln(out, successStyle.Render("✅ No pending snapshot"))
		}
		fmt.Fprintln(out)

		// Step 5: backends
		fmt.Fprintln(out, infoStyle.Render("Step 5: Testing host backends..."))
		backends, host, err := openBackends(targets)
		if err != nil {
			fmt.Fprintln(out, errorStyle.Render("❌ Failed to open host:"), err)
			failed++
		} else {
			if host != nil {
				defer host.Close()
				fmt.Fprintln(out, infoStyle.Render("   Using simulated host "+host.Path()))
			}
			if procs, err := backends.Processes.List(ctx); err != nil {
				fmt.Fprintln(out, errorStyle.Render("❌ Process table unavailable:"), err)
				failed++
			} else {
				fmt.Fprintln(out, successStyle.Render(fmt.Sprintf("✅ Process table readable (%d processes)", len(procs))))
			}
			if plan, err := backends.Power.ActivePlan(ctx); err != nil {
				fmt.Fprintln(out, errorStyle.Render("❌ Power API unavailable:"), err)
				failed++
			} else {
				fmt.Fprintln(out, successStyle.Render("✅ Power API readable"))
				if verbose {
					fmt.Fprintf(out, "   Active plan: %s\n", plan)
				}
			}
		}
		fmt.Fprintln(out)

		// Step 6: elevation
		fmt.Fprintln(out, infoStyle.Render("Step 6: Checking administrator rights..."))
		switch {
		case simulatePath != "":
			fmt.Fprintln(out, successStyle.Render("✅ Not required for a simulated host"))
		case internal.IsElevated():
			fmt.Fprintln(out, successStyle.Render("✅ Running elevated"))
		default:
			fmt.Fprintln(out, warningStyle.Render("⚠️  Not elevated; service and HKLM tweaks will fail"))
			warned++
		}
		fmt.Fprintln(out)

		// Summary
		fmt.Fprintln(out, sectionStyle.Render("📊 Summary"))
		fmt.Fprintln(out)
		switch {
		case failed > 0:
			fmt.Fprintln(out, errorStyle.Render(fmt.Sprintf("❌ Health check failed (%d problem(s))", failed)))
			return fmt.Errorf("health check failed: %d problem(s)", failed)
		case warned > 0:
			fmt.Fprintln(out, warningStyle.Render(fmt.Sprintf("⚠️  Health check passed with %d warning(s)", warned)))
		default:
			fmt.Fprintln(out, successStyle.Render("✅ Health check passed!"))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthcheckCmd)
}
