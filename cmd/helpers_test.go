package cmd

import (
	"bytes"
	"path/filepath"
	"testing"
)

// useSimulatedHost points every command at a fresh state dir and simulated
// host, and resets flag variables left over from earlier tests.
func useSimulatedHost(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	stateDir = dir
	simulatePath = filepath.Join(dir, "host.db")
	configPath = ""
	verbose = false
	runFor = 0
	watchFor = 0
	recoverDiscard = false
	showItems = false
	listModule = ""
	format = "md"
	outputDir = filepath.Join(dir, "exports")
	toStdout = false
	reportPath = ""
	inspectFormat = "text"
	inspectSampleRows = 3

	t.Cleanup(func() {
		stateDir = ""
		simulatePath = ""
		configPath = ""
	})
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	rootCmd.SetArgs(args)
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	err := rootCmd.Execute()
	return stdout.String(), err
}
