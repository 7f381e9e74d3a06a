package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/SanGraphic/gamemode/internal"
)

// MarkdownExporter exports reports in Markdown format
type MarkdownExporter struct{}

// Export exports a report to Markdown format
func (e *MarkdownExporter) Export(report *internal.Report, w io.Writer) error {
	// Header
	_, _ = fmt.Fprintf(w, "# Session %s\n\n", report.SessionID)

	_, _ = fmt.Fprintf(w, "**Phase:** %s  \n", report.Phase)
	_, _ = fmt.Fprintf(w, "**Trigger:** %s  \n", report.Trigger)
	_, _ = fmt.Fprintf(w, "**State:** %s  \n", report.State)
	if !report.StartedAt.IsZero() {
		_, _ = fmt.Fprintf(w, "**Duration:** %s  \n", report.FinishedAt.Sub(report.StartedAt))
	}
	_, _ = fmt.Fprintf(w, "**Summary:** %s\n\n", report.Summary())

	if report.Err != "" {
		_, _ = fmt.Fprintf(w, "**Error:** %s\n\n", escapeMarkdown(report.Err))
	}

	_, _ = fmt.Fprintf(w, "---\n\n")
	_, _ = fmt.Fprintf(w, "## Modules\n\n")

	for i, res := range report.Results {
		_, _ = fmt.Fprintf(w, "### %s (%d of %d)\n\n", res.Module, len(res.Succeeded), res.Attempted)
		if res.Err != "" {
			_, _ = fmt.Fprintf(w, "Module error: %s\n\n", escapeMarkdown(res.Err))
		}
		if len(res.Succeeded)+len(res.Failed) > 0 {
			_, _ = fmt.Fprintf(w, "| Item | Result |\n|---|---|\n")
			for _, key := range res.Succeeded {
				_, _ = fmt.Fprintf(w, "| `%s` | ok |\n", key)
			}
			for _, f := range res.Failed {
				_, _ = fmt.Fprintf(w, "| `%s` | %s: %s |\n", f.Key, f.Reason, escapeMarkdown(f.Message))
			}
			_, _ = fmt.Fprintf(w, "\n")
		}

		if i < len(report.Results)-1 {
			_, _ = fmt.Fprintf(w, "---\n\n")
		}
	}

	return nil
}

// escapeMarkdown escapes characters that break table cells and emphasis
func escapeMarkdown(text string) string {
	text = strings.ReplaceAll(text, "|", "\\|")
	text = strings.ReplaceAll(text, "**", "\\*\\*")
	text = strings.ReplaceAll(text, "__", "\\_\\_")
	return strings.ReplaceAll(text, "\n", " ")
}

// Extension returns the file extension for this format
func (e *MarkdownExporter) Extension() string {
	return "md"
}
