package cmd

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/SanGraphic/gamemode/internal"
	"github.com/SanGraphic/gamemode/internal/simhost"
	"github.com/SanGraphic/gamemode/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// crashDuringSession activates game mode and drops the engine without
// restoring, leaving the snapshot behind like a killed process would.
func crashDuringSession(t *testing.T) {
	t.Helper()
	e, err := openEnv()
	require.NoError(t, err)
	report, err := e.engine.Activate(context.Background(), internal.TriggerCLI)
	require.NoError(t, err)
	require.Equal(t, internal.StateActive.String(), report.State)
	e.Close()
}

func TestRunCommand_ActivatesAndRestores(t *testing.T) {
	dir := useSimulatedHost(t)

	_, err := execute(t, "run", "--for", "10ms")
	require.NoError(t, err)

	assert.NoFileExists(t, filepath.Join(dir, "snapshot.json"))
	report, err := internal.LoadReport(filepath.Join(dir, "last_report.json"))
	require.NoError(t, err)
	assert.Equal(t, internal.PhaseRevert, report.Phase)
	assert.Equal(t, internal.StateInactive.String(), report.State)
	assert.Empty(t, report.Failures())

	out, err := execute(t, "show")
	require.NoError(t, err)
	assert.Contains(t, out, "inactive")
	assert.Contains(t, out, "Last revert")
}

func TestRunCommand_RefusesPendingSnapshot(t *testing.T) {
	useSimulatedHost(t)
	crashDuringSession(t)

	_, err := execute(t, "run", "--for", "10ms")
	assert.ErrorIs(t, err, internal.ErrRecoveryPending)
}

func TestRecoverCommand(t *testing.T) {
	dir := useSimulatedHost(t)

	_, err := execute(t, "recover")
	require.NoError(t, err, "nothing to recover is not an error")

	crashDuringSession(t)
	out, err := execute(t, "show", "--items")
	require.NoError(t, err)
	assert.Contains(t, out, "deactivating")
	assert.Contains(t, out, "Win32PrioritySeparation")

	_, err = execute(t, "recover")
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(dir, "snapshot.json"))

	report, err := internal.LoadReport(filepath.Join(dir, "last_report.json"))
	require.NoError(t, err)
	assert.Equal(t, internal.TriggerRecovery, report.Trigger)
	assert.Empty(t, report.Failures())
}

func TestRecoverCommand_Discard(t *testing.T) {
	dir := useSimulatedHost(t)
	crashDuringSession(t)

	_, err := execute(t, "recover", "--discard")
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(dir, "snapshot.json"))
}

func TestWatchCommand_NoGameRunning(t *testing.T) {
	dir := useSimulatedHost(t)

	_, err := execute(t, "watch", "--for", "20ms")
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(dir, "snapshot.json"))
	assert.NoFileExists(t, filepath.Join(dir, "last_report.json"))
}

func TestWatchCommand_RestoresActiveSessionOnExit(t *testing.T) {
	dir := useSimulatedHost(t)
	_, targets := testutil.DefaultTargets(t, nil)
	h, err := simhost.Open(simulatePath)
	require.NoError(t, err)
	require.NoError(t, h.SeedTypical(targets))
	_, err = h.Spawn("cs2.exe")
	require.NoError(t, err)
	require.NoError(t, h.Close())

	out, err := execute(t, "watch", "--for", "1s")
	require.NoError(t, err)

	// the listener reports each transition as it happens
	assert.Contains(t, out, "session activating")
	assert.Contains(t, out, "session active")
	assert.Contains(t, out, "session deactivating")
	assert.Contains(t, out, "session inactive")
	assert.Less(t, strings.Index(out, "session active"), strings.Index(out, "session deactivating"))

	assert.NoFileExists(t, filepath.Join(dir, "snapshot.json"))
	report, err := internal.LoadReport(filepath.Join(dir, "last_report.json"))
	require.NoError(t, err)
	assert.Equal(t, internal.PhaseRevert, report.Phase)
	assert.Equal(t, internal.TriggerShutdown, report.Trigger)
}

func TestExportCommand(t *testing.T) {
	dir := useSimulatedHost(t)

	_, err := execute(t, "export")
	assert.ErrorIs(t, err, internal.ErrNoReport)

	report := internal.CreateTestReport("gm_test")
	require.NoError(t, internal.SaveReport(filepath.Join(dir, "last_report.json"), report))

	_, err = execute(t, "export", "--format", "json")
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(dir, "exports", "report_gm_test_apply.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"session_id": "gm_test"`)

	out, err := execute(t, "export", "--stdout", "--format", "md")
	require.NoError(t, err)
	assert.Contains(t, out, "Audiosrv")

	_, err = execute(t, "export", "--format", "pdf")
	assert.ErrorContains(t, err, "unsupported format")
}

func TestInspectCommand(t *testing.T) {
	useSimulatedHost(t)

	_, err := execute(t, "snoop")
	require.NoError(t, err)

	out, err := execute(t, "inspect")
	require.NoError(t, err)
	assert.Contains(t, out, "registry_values")
	assert.Contains(t, out, "power_plans")

	out, err = execute(t, "inspect", "--format", "json", "--sample", "0")
	require.NoError(t, err)
	assert.Contains(t, out, `"Name": "services"`)
}

func TestInspectCommand_NoHost(t *testing.T) {
	useSimulatedHost(t)
	simulatePath = ""

	_, err := execute(t, "inspect")
	assert.Error(t, err)
}

func TestSnoopCommand(t *testing.T) {
	useSimulatedHost(t)

	out, err := execute(t, "snoop")
	require.NoError(t, err)
	assert.Contains(t, out, "No known game running")
	assert.Contains(t, out, "SysMain")
	assert.Contains(t, out, "SearchHost")
}

func TestHealthcheckCommand(t *testing.T) {
	useSimulatedHost(t)

	out, err := execute(t, "healthcheck")
	require.NoError(t, err)
	assert.Contains(t, out, "Health check passed")
	assert.Contains(t, out, "No pending snapshot")
}

func TestHealthcheckCommand_PendingSnapshot(t *testing.T) {
	useSimulatedHost(t)
	crashDuringSession(t)

	out, err := execute(t, "healthcheck")
	require.NoError(t, err)
	assert.Contains(t, out, "gamemode recover")
	assert.Contains(t, out, "warning")
}
