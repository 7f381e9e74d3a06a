package internal

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	progressStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("62")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))
)

// ProgressStep represents a single step in a multi-step process
type ProgressStep struct {
	Message string
	Fn      func() error
}

// ShowProgress runs fn behind a spinner when stderr is a terminal
func ShowProgress(ctx context.Context, message string, fn func() error) error {
	if !isTerminal(os.Stderr) {
		LogInfo(message)
		return fn()
	}
	return showSpinner(ctx, message, fn)
}

// ShowProgressWithSteps runs steps in order, stopping at the first failure
func ShowProgressWithSteps(ctx context.Context, steps []ProgressStep) error {
	tty := isTerminal(os.Stderr)
	for i, step := range steps {
		msg := fmt.Sprintf("[%d/%d] %s", i+1, len(steps), step.Message)
		var err error
		if tty {
			err = showSpinner(ctx, msg, step.Fn)
		} else {
			LogInfo(msg)
			err = step.Fn()
		}
		if err != nil {
			return fmt.Errorf("%s: %w", step.Message, err)
		}
	}
	return nil
}

func showSpinner(ctx context.Context, message string, fn func() error) error {
	spinnerChars := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
	done := make(chan error, 1)
	stop := make(chan struct{})
	spinnerDone := make(chan struct{})

	go func() {
		defer close(spinnerDone)
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		i := 0
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				char := spinnerChars[i%len(spinnerChars)]
				fmt.Fprintf(os.Stderr, "\r%s %s", progressStyle.Render(char), message)
				i++
			}
		}
	}()

	go func() {
		done <- fn()
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	close(stop)
	<-spinnerDone

	if err != nil {
		fmt.Fprintf(os.Stderr, "\r%s %s\n", errorStyle.Render("✗"), message)
		return err
	}
	fmt.Fprintf(os.Stderr, "\r%s %s\n", successStyle.Render("✓"), message)
	return nil
}

// isTerminal checks if the writer is a terminal
func isTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return term.IsTerminal(int(f.Fd()))
	}
	return false
}

// RenderState returns the session state, colored for terminals
func RenderState(state SessionState) string {
	switch state {
	case StateActive:
		return successStyle.Render(state.String())
	case StateError:
		return errorStyle.Render(state.String())
	case StateActivating, StateDeactivating:
		return warningStyle.Render(state.String())
	default:
		return dimStyle.Render(state.String())
	}
}

// RenderReport writes a per-module breakdown of a phase report
func RenderReport(w io.Writer, report *Report) {
	if report == nil {
		return
	}
	styled := isTerminal(w)
	paint := func(s lipgloss.Style, text string) string {
		if styled {
			return s.Render(text)
		}
		return text
	}

	for _, res := range report.Results {
		mark := paint(successStyle, "✓")
		if !res.OK() {
			mark = paint(errorStyle, "✗")
		}
		fmt.Fprintf(w, "%s %-9s %d/%d\n", mark, res.Module, len(res.Succeeded), res.Attempted)
		if res.Err != "" {
			fmt.Fprintf(w, "    %s\n", paint(errorStyle, res.Err))
		}
		for _, f := range res.Failed {
			line := fmt.Sprintf("%s: %s", f.Key, f.Reason)
			if f.Message != "" && !strings.Contains(line, f.Message) {
				line += " " + paint(dimStyle, "("+f.Message+")")
			}
			fmt.Fprintf(w, "    %s\n", line)
		}
	}

	summary := report.Summary()
	if report.Err != "" {
		fmt.Fprintf(w, "%s\n%s\n", paint(errorStyle, summary), paint(errorStyle, report.Err))
		return
	}
	if len(report.Failures()) > 0 {
		fmt.Fprintln(w, paint(warningStyle, summary))
		return
	}
	fmt.Fprintln(w, paint(successStyle, summary))
}

// PrintSuccess prints a success message
func PrintSuccess(message string) {
	if isTerminal(os.Stdout) {
		fmt.Printf("%s %s\n", successStyle.Render("✓"), message)
	} else {
		fmt.Println(message)
	}
}

// PrintError prints an error message
func PrintError(message string) {
	if isTerminal(os.Stderr) {
		fmt.Fprintf(os.Stderr, "%s %s\n", errorStyle.Render("✗"), message)
	} else {
		fmt.Fprintf(os.Stderr, "%s\n", message)
	}
}

// PrintInfo prints an info message
func PrintInfo(message string) {
	if isTerminal(os.Stdout) {
		fmt.Printf("%s %s\n", progressStyle.Render("ℹ"), message)
	} else {
		fmt.Println(message)
	}
}

// PrintWarning prints a warning message
func PrintWarning(message string) {
	if isTerminal(os.Stderr) {
		fmt.Fprintf(os.Stderr, "%s %s\n", warningStyle.Render("⚠"), message)
	} else {
		fmt.Fprintf(os.Stderr, "WARNING: %s\n", message)
	}
}
