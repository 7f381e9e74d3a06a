package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// ErrNoReport means no phase has completed since the state dir was created
var ErrNoReport = errors.New("no report recorded yet")

// SaveReport persists a phase report for later export
func SaveReport(path string, report *Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := AtomicWriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write report %s: %w", path, err)
	}
	return nil
}

// LoadReport reads the report written by SaveReport
func LoadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoReport
		}
		return nil, fmt.Errorf("failed to read report %s: %w", path, err)
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse report %s: %w", path, err)
	}
	return &r, nil
}
