package cmd

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/SanGraphic/gamemode/internal"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	showItems bool
)

var (
	// Styles for show command
	sessionHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("212")).
				Padding(0, 1).
				MarginBottom(1)

	sessionMetaStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("243"))
)

// showCmd represents the show command
var showCmd = &cobra.Command{
	Use:     "show",
	Aliases: []string{"status"},
	Short:   "Show the session state and any pending snapshot",
	Long: `Show whether a gamemode engine is running, whether a snapshot is waiting to
be reverted, and the outcome of the last activation or restore.

Use --items to list every recorded item with its original value.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, err := internal.DetectStatePaths(stateDir)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		running := false
		if err := paths.Ensure(); err == nil {
			lock, err := internal.AcquireHostLock(paths.LockPath())
			switch {
			case errors.Is(err, internal.ErrWouldBlock):
				running = true
			case err == nil:
				_ = lock.Release()
			}
		}

		store := internal.NewSnapshotStore(paths.SnapshotPath())
		pending, err := store.Load()
		if err != nil {
			return err
		}

		fmt.Fprintln(out, sessionHeaderStyle.Render("gamemode "+paths.Dir))
		switch {
		case running && pending:
			fmt.Fprintf(out, "State:    %s (engine running)\n", internal.RenderState(internal.StateActive))
		case running:
			fmt.Fprintf(out, "State:    %s (engine running)\n", internal.RenderState(internal.StateInactive))
		case pending:
			fmt.Fprintf(out, "State:    %s (run 'gamemode recover')\n", internal.RenderState(internal.StateDeactivating))
		default:
			fmt.Fprintf(out, "State:    %s\n", internal.RenderState(internal.StateInactive))
		}

		if pending {
			displaySnapshot(out, store.Snapshot(), showItems)
		}

		report, err := internal.LoadReport(paths.ReportPath())
		switch {
		case errors.Is(err, internal.ErrNoReport):
		case err != nil:
			internal.LogWarn("%v", err)
		default:
			fmt.Fprintln(out)
			fmt.Fprintln(out, sessionMetaStyle.Render(fmt.Sprintf("Last %s (%s, %s):", report.Phase, report.Trigger,
				report.FinishedAt.Local().Format("2006-01-02 15:04:05"))))
			internal.RenderReport(out, report)
		}
		return nil
	},
}

func displaySnapshot(out io.Writer, snap *internal.SessionSnapshot, items bool) {
	fmt.Fprintf(out, "Session:  %s\n", snap.SessionID)
	fmt.Fprintf(out, "Started:  %s (%s)\n", snap.StartedAt.Local().Format("2006-01-02 15:04:05"), snap.Trigger)
	fmt.Fprintf(out, "Pending:  %d item(s)\n", len(snap.Items))
	for _, kind := range snap.Modules() {
		fmt.Fprintf(out, "  %-9s %d\n", kind, len(snap.ItemsFor(kind)))
	}
	if !items {
		return
	}

	fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "MODULE\tKEY\tORIGINAL\t")
	for _, it := range snap.Items {
		key := it.Key
		if it.RevertLast {
			key += " (last)"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t\n", it.Module, key, it.Original)
	}
	_ = w.Flush()
}

func init() {
	rootCmd.AddCommand(showCmd)
	showCmd.Flags().BoolVar(&showItems, "items", false, "List every pending item")
}
