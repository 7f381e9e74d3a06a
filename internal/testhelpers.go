package internal

import (
	"time"
)

// CreateTestReport creates an apply report with one clean and one partial module
func CreateTestReport(sessionID string) *Report {
	started := time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC)
	return &Report{
		Phase:      PhaseApply,
		SessionID:  sessionID,
		Trigger:    TriggerCLI,
		StartedAt:  started,
		FinishedAt: started.Add(1500 * time.Millisecond),
		State:      StateActive.String(),
		Results: []ModuleResult{
			{
				Module:    ModuleRegistry,
				Phase:     PhaseApply,
				Attempted: 2,
				Succeeded: []string{`HKCU\Software\Microsoft\GameBar\AutoGameModeEnabled`, `HKCU\Software\Microsoft\GameBar\AllowAutoGameMode`},
			},
			{
				Module:    ModuleServices,
				Phase:     PhaseApply,
				Attempted: 2,
				Succeeded: []string{"SysMain"},
				Failed:    []ItemFailure{{Key: "Audiosrv", Reason: KindBusy, Message: "service Audiosrv is in use: target busy"}},
			},
		},
	}
}

// CreateTestReportWithResults creates a report with custom module results
func CreateTestReportWithResults(sessionID string, phase Phase, results []ModuleResult) *Report {
	r := CreateTestReport(sessionID)
	r.Phase = phase
	r.Results = results
	if phase == PhaseRevert {
		r.State = StateInactive.String()
	}
	return r
}
