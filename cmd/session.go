package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/SanGraphic/gamemode/internal"
)

// interrupts delivers Ctrl+C and SIGTERM until stop is called
func interrupts() (<-chan os.Signal, func()) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	return sigs, func() { signal.Stop(sigs) }
}

// stateWriter prints every session state change to w
func stateWriter(w io.Writer) func(internal.SessionState) {
	return func(s internal.SessionState) {
		fmt.Fprintln(w, dimStyle.Render("session "+s.String()))
	}
}

// activate runs Activate behind a spinner and prints the report
func activate(ctx context.Context, e *env, w io.Writer, trigger internal.TriggerSource) error {
	if e.engine.HasPendingSnapshot() {
		return fmt.Errorf("%w: run 'gamemode recover'", internal.ErrRecoveryPending)
	}
	var report *internal.Report
	err := internal.ShowProgress(ctx, "Activating game mode", func() error {
		var err error
		report, err = e.engine.Activate(ctx, trigger)
		return err
	})
	e.saveReport(report)
	internal.RenderReport(w, report)
	return err
}

// deactivate reverts the session. Interrupts that arrive meanwhile are
// swallowed so a revert is never cut short.
func deactivate(ctx context.Context, e *env, w io.Writer, trigger internal.TriggerSource, sigs <-chan os.Signal) error {
	done := make(chan struct{})
	defer close(done)
	if sigs != nil {
		go func() {
			for {
				select {
				case <-sigs:
					internal.PrintWarning("Restoring the system, please wait")
				case <-done:
					return
				}
			}
		}()
	}

	var report *internal.Report
	err := internal.ShowProgress(ctx, "Restoring system state", func() error {
		var err error
		report, err = e.engine.Deactivate(ctx, trigger)
		return err
	})
	e.saveReport(report)
	internal.RenderReport(w, report)
	if err != nil {
		internal.PrintError("Some tweaks could not be reverted; the snapshot is kept. Run 'gamemode recover' to retry.")
		return err
	}
	return nil
}
