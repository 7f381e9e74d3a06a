package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/SanGraphic/gamemode/internal"
	"github.com/SanGraphic/gamemode/internal/detector"
	"github.com/spf13/cobra"
)

var (
	watchFor time.Duration
)

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Activate game mode whenever a known game is running",
	Long: `Poll the process list for the games listed under detector.games in the
configuration. Game mode is activated when one starts and restored when the
last one exits.

An interrupt stops watching; a session still active at that point is
restored before gamemode exits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		e, err := openEnv(internal.WithStateListener(stateWriter(out)))
		if err != nil {
			return err
		}
		defer e.Close()

		if e.engine.HasPendingSnapshot() {
			return fmt.Errorf("%w: run 'gamemode recover'", internal.ErrRecoveryPending)
		}

		sigs, stop := interrupts()
		defer stop()

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		if watchFor > 0 {
			ctx, cancel = context.WithTimeout(ctx, watchFor)
			defer cancel()
		}
		go func() {
			select {
			case <-sigs:
				if e.engine.CanExit() {
					internal.PrintInfo("Interrupt received, stopping watcher")
				} else {
					internal.PrintInfo("Interrupt received, restoring before exit")
				}
				cancel()
			case <-ctx.Done():
			}
		}()

		w := detector.New(e.backends.Processes, e.engine, e.cfg.Detector.Games, e.cfg.Detector.PollInterval)
		w.OnEvent = func(ev detector.Event, report *internal.Report) {
			e.saveReport(report)
			internal.RenderReport(out, report)
		}

		internal.PrintInfo(fmt.Sprintf("Watching for %d games", len(e.cfg.Detector.Games)))
		if err := w.Run(ctx); err != nil {
			return err
		}

		// a failed restore is retried once more on the way out
		if !e.engine.CanExit() || e.engine.Status() == internal.StateError {
			return deactivate(cmd.Context(), e, out, internal.TriggerShutdown, sigs)
		}
		if last := e.engine.LastReport(); last != nil {
			internal.PrintInfo("Last session: " + last.Summary())
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().DurationVar(&watchFor, "for", 0, "Stop watching after this long")
}
