package cmd

import (
	"fmt"

	"github.com/SanGraphic/gamemode/internal"
	"github.com/spf13/cobra"
)

var (
	recoverDiscard bool
)

// recoverCmd represents the recover command
var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Revert a session left behind by a crash or a failed restore",
	Long: `Revert every tweak recorded in the on-disk snapshot.

A snapshot is left behind when gamemode was killed during a session, or when
a restore could not revert everything. Items that revert are removed from the
snapshot, so running recover again only retries what is left.

--discard deletes the snapshot without reverting anything.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		if !e.engine.HasPendingSnapshot() {
			internal.PrintInfo("Nothing to recover")
			return nil
		}
		snap := e.engine.Snapshot()
		internal.PrintInfo(fmt.Sprintf("Found session %s from %s with %d item(s)",
			snap.SessionID, snap.StartedAt.Local().Format("2006-01-02 15:04:05"), len(snap.Items)))

		if recoverDiscard {
			if err := e.store.Clear(); err != nil {
				return err
			}
			internal.PrintWarning("Snapshot discarded; nothing was reverted")
			return nil
		}

		sigs, stop := interrupts()
		defer stop()
		if err := deactivate(cmd.Context(), e, cmd.OutOrStdout(), internal.TriggerRecovery, sigs); err != nil {
			return err
		}
		internal.PrintSuccess("System restored")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(recoverCmd)
	recoverCmd.Flags().BoolVar(&recoverDiscard, "discard", false, "Delete the snapshot without reverting")
}
