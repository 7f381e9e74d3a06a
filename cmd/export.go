package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/SanGraphic/gamemode/internal"
	"github.com/SanGraphic/gamemode/internal/export"
	"github.com/spf13/cobra"
)

var (
	format     string
	outputDir  string
	toStdout   bool
	reportPath string
)

// exportCmd represents the export command
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the last session report to file",
	Long: `Export the report of the last activation or restore to one of the supported
formats (jsonl, md, yaml, json).

The report is written to <out>/report_<session>_<phase>.<ext>, or to standard
output with --stdout.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		exporter, err := export.NewExporter(format)
		if err != nil {
			return err
		}

		src := reportPath
		if src == "" {
			paths, err := internal.DetectStatePaths(stateDir)
			if err != nil {
				return err
			}
			src = paths.ReportPath()
		}
		report, err := internal.LoadReport(src)
		if err != nil {
			if errors.Is(err, internal.ErrNoReport) {
				return fmt.Errorf("%w: activate game mode first", err)
			}
			return err
		}

		if toStdout {
			if err := exporter.Export(report, cmd.OutOrStdout()); err != nil {
				return &internal.ExportError{Format: format, Path: "<stdout>", Err: err}
			}
			return nil
		}

		if err := os.MkdirAll(outputDir, 0755); err != nil {
			return &internal.ExportError{Format: format, Path: outputDir, Err: fmt.Errorf("failed to create output directory: %w", err)}
		}
		filename := fmt.Sprintf("report_%s_%s.%s", report.SessionID, report.Phase, exporter.Extension())
		path := filepath.Join(outputDir, filename)

		err = internal.ShowProgress(context.Background(), "Exporting report to "+path, func() error {
			file, err := os.Create(path)
			if err != nil {
				return &internal.ExportError{Format: format, Path: path, Err: err}
			}
			if err := exporter.Export(report, file); err != nil {
				_ = file.Close()
				return &internal.ExportError{Format: format, Path: path, Err: err}
			}
			if err := file.Close(); err != nil {
				return &internal.ExportError{Format: format, Path: path, Err: err}
			}
			return nil
		})
		if err != nil {
			return err
		}

		internal.PrintSuccess(fmt.Sprintf("Export complete: %s", path))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVarP(&format, "format", "f", "md", "Export format (jsonl, md, yaml, json)")
	exportCmd.Flags().StringVarP(&outputDir, "out", "o", "./exports", "Output directory")
	exportCmd.Flags().BoolVar(&toStdout, "stdout", false, "Write the report to standard output")
	exportCmd.Flags().StringVar(&reportPath, "report", "", "Report file to export (default: last report in the state dir)")
}
