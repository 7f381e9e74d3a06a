package cmd

import (
	"fmt"
	"time"

	"github.com/SanGraphic/gamemode/internal"
	"github.com/spf13/cobra"
)

var (
	runFor time.Duration
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Activate game mode until interrupted",
	Long: `Activate every configured tweak and keep them applied until Ctrl+C (or
--for elapses), then restore the system.

While the session is active an interrupt does not exit: it starts the
restore, and gamemode exits once the restore finishes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		ctx := cmd.Context()
		sigs, stop := interrupts()
		defer stop()

		if err := activate(ctx, e, cmd.OutOrStdout(), internal.TriggerCLI); err != nil {
			return err
		}
		if runFor > 0 {
			internal.PrintSuccess(fmt.Sprintf("Game mode active for %s", runFor))
		} else {
			internal.PrintSuccess("Game mode active. Press Ctrl+C to restore.")
		}

		var timeout <-chan time.Time
		if runFor > 0 {
			timeout = time.After(runFor)
		}
		select {
		case <-sigs:
			internal.PrintInfo("Interrupt received, restoring")
		case <-timeout:
		}

		if e.engine.CanExit() {
			return nil
		}
		if err := deactivate(ctx, e, cmd.OutOrStdout(), internal.TriggerCLI, sigs); err != nil {
			return err
		}
		internal.PrintSuccess("System restored")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().DurationVar(&runFor, "for", 0, "Restore automatically after this long")
}
