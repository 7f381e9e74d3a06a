package export

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/SanGraphic/gamemode/internal"
)

// JSONLExporter exports reports in JSONL format (one item outcome per line)
type JSONLExporter struct{}

type itemLine struct {
	SessionID string              `json:"session_id"`
	Phase     internal.Phase      `json:"phase"`
	Module    internal.ModuleKind `json:"module"`
	Key       string              `json:"key,omitempty"`
	OK        bool                `json:"ok"`
	Reason    internal.ErrorKind  `json:"reason,omitempty"`
	Message   string              `json:"message,omitempty"`
}

// Export exports a report to JSONL format
func (e *JSONLExporter) Export(report *internal.Report, w io.Writer) error {
	enc := json.NewEncoder(w)
	line := func(l itemLine) error {
		l.SessionID = report.SessionID
		l.Phase = report.Phase
		if err := enc.Encode(l); err != nil {
			return fmt.Errorf("failed to encode item: %w", err)
		}
		return nil
	}

	for _, res := range report.Results {
		for _, key := range res.Succeeded {
			if err := line(itemLine{Module: res.Module, Key: key, OK: true}); err != nil {
				return err
			}
		}
		for _, f := range res.Failed {
			if err := line(itemLine{Module: res.Module, Key: f.Key, Reason: f.Reason, Message: f.Message}); err != nil {
				return err
			}
		}
		// module-level failure has no item key
		if res.Err != "" {
			if err := line(itemLine{Module: res.Module, Message: res.Err}); err != nil {
				return err
			}
		}
	}

	return nil
}

// Extension returns the file extension for this format
func (e *JSONLExporter) Extension() string {
	return "jsonl"
}
