package cmd

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/SanGraphic/gamemode/internal/simhost"
	"github.com/spf13/cobra"
)

var (
	inspectFormat     string
	inspectSampleRows int
)

// inspectCmd represents the inspect command
var inspectCmd = &cobra.Command{
	Use:   "inspect [host-db]",
	Short: "Inspect a simulated host database",
	Long: `Inspect the tables of a simulated host created with --simulate.

This command provides detailed information about:
  • Tables, columns and types
  • Row counts
  • Sample rows from each table (registry values, services, processes, plans)

Examples:
  gamemode inspect --simulate host.db           # Inspect the simulated host
  gamemode inspect host.db --sample 10          # Show 10 rows per table
  gamemode inspect host.db --format json        # JSON output`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath := simulatePath
		if len(args) > 0 {
			dbPath = args[0]
		}
		if dbPath == "" {
			return fmt.Errorf("no simulated host given - pass a path or use --simulate")
		}
		if inspectFormat != "text" && inspectFormat != "json" {
			return fmt.Errorf("unsupported format: %s (supported: text, json)", inspectFormat)
		}

		host, err := simhost.OpenReadOnly(dbPath)
		if err != nil {
			return err
		}
		defer func() { _ = host.Close() }()

		tables, err := host.Inspect(inspectSampleRows)
		if err != nil {
			return fmt.Errorf("failed to inspect %s: %w", dbPath, err)
		}

		out := cmd.OutOrStdout()
		if inspectFormat == "json" {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(tables)
		}
		renderTables(out, dbPath, tables)
		return nil
	},
}

func renderTables(out io.Writer, dbPath string, tables []simhost.TableInfo) {
	if len(tables) == 0 {
		fmt.Fprintln(out, "⚠️  No tables found in database")
		return
	}
	fmt.Fprintf(out, "📋 Database: %s\n", dbPath)
	fmt.Fprintf(out, "📊 Found %d table(s)\n\n", len(tables))

	for _, t := range tables {
		fmt.Fprintf(out, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
		fmt.Fprintf(out, "📦 Table: %s\n", t.Name)
		fmt.Fprintf(out, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
		fmt.Fprintf(out, "📊 Rows: %d\n\n", t.Rows)

		fmt.Fprintf(out, "📐 Schema:\n")
		for _, col := range t.Columns {
			pk := ""
			if col.PrimaryKey {
				pk = " [PRIMARY KEY]"
			}
			notNull := ""
			if col.NotNull {
				notNull = " NOT NULL"
			}
			fmt.Fprintf(out, "  • %s: %s%s%s\n", col.Name, col.Type, notNull, pk)
		}

		if len(t.Sample) > 0 {
			fmt.Fprintf(out, "\n📄 Sample Data (first %d rows):\n", len(t.Sample))
			for i, row := range t.Sample {
				fmt.Fprintf(out, "\n  Row %d:\n", i+1)
				for j, col := range t.Columns {
					if j < len(row) {
						fmt.Fprintf(out, "    %s: %s\n", col.Name, formatCell(row[j]))
					}
				}
			}
		}
		fmt.Fprintln(out)
	}
}

func formatCell(v any) string {
	var s string
	switch val := v.(type) {
	case nil:
		return "<NULL>"
	case []byte:
		s = hex.EncodeToString(val)
	default:
		s = fmt.Sprintf("%v", val)
	}
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	if strings.Contains(s, "\n") {
		s = strings.Split(s, "\n")[0] + "..."
	}
	return s
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().StringVar(&inspectFormat, "format", "text", "Output format (text, json)")
	inspectCmd.Flags().IntVar(&inspectSampleRows, "sample", 3, "Number of sample rows to show")
}
