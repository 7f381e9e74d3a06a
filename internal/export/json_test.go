package export

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/SanGraphic/gamemode/internal"
)

func TestJSONExporter_Export(t *testing.T) {
	tests := []struct {
		name   string
		report *internal.Report
	}{
		{
			name:   "apply report",
			report: internal.CreateTestReport("gm_test1"),
		},
		{
			name:   "empty revert report",
			report: internal.CreateTestReportWithResults("gm_test2", internal.PhaseRevert, nil),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			exporter := &JSONExporter{}

			if err := exporter.Export(tt.report, &buf); err != nil {
				t.Fatalf("JSONExporter.Export() error = %v", err)
			}

			output := buf.String()
			var got internal.Report
			if err := json.Unmarshal([]byte(output), &got); err != nil {
				t.Fatalf("Output is not valid JSON: %v\nOutput: %s", err, output)
			}
			if got.SessionID != tt.report.SessionID {
				t.Errorf("session_id = %q, want %q", got.SessionID, tt.report.SessionID)
			}
			if len(got.Results) != len(tt.report.Results) {
				t.Errorf("got %d results, want %d", len(got.Results), len(tt.report.Results))
			}
			if !strings.Contains(output, "\n  ") {
				t.Errorf("Output should be pretty-printed with indentation")
			}
		})
	}
}

func TestJSONExporter_FieldNames(t *testing.T) {
	var buf bytes.Buffer
	if err := (&JSONExporter{}).Export(internal.CreateTestReport("gm_x"), &buf); err != nil {
		t.Fatal(err)
	}
	for _, field := range []string{`"trigger_source": "cli"`, `"items_attempted": 2`, `"reason": "Busy"`} {
		if !strings.Contains(buf.String(), field) {
			t.Errorf("output missing %s\n%s", field, buf.String())
		}
	}
}

func TestJSONExporter_Extension(t *testing.T) {
	exporter := &JSONExporter{}
	if got := exporter.Extension(); got != "json" {
		t.Errorf("JSONExporter.Extension() = %v, want json", got)
	}
}
