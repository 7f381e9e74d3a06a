package cmd

import (
	"fmt"
	"os"

	"github.com/SanGraphic/gamemode/internal"
	"github.com/spf13/cobra"
)

var (
	verbose      bool
	stateDir     string
	configPath   string
	simulatePath string
	version      string = "dev"
	commit       string = "unknown"
	date         string = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "gamemode",
	Short: "Apply reversible Windows gaming tweaks for the length of a session",
	Long: `gamemode applies a set of system tweaks while you play and puts every one of
them back when you stop.

Each tweak's original value is captured and written to a snapshot on disk
before anything changes, so a crash or power loss can be recovered on the
next start.

Tweaks:
  • Registry values (scheduler priority, Game Bar, multimedia profile)
  • Background services stopped and disabled
  • Shell UX processes suspended, launchers and bloatware closed
  • Ultimate Performance power plan, or laptop boost overrides

Quick Start:
  gamemode list                       # Show what a session would change
  gamemode run                        # Activate until Ctrl+C
  gamemode watch                      # Activate whenever a known game runs
  gamemode recover                    # Revert a session left behind by a crash

Use --simulate <file.db> to run against a simulated host instead of this machine.`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		internal.SetVerbose(verbose)
	},
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", "", "Directory for the snapshot, lock and config (default: per-user state dir)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file (default: <state-dir>/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&simulatePath, "simulate", "", "Run against a simulated host stored in this SQLite file")

	// Set version template to ensure --version flag works
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
}
