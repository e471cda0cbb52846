package schemas

import (
	"time"
)

// -- System State Schemas --

// SystemStatus is the coarse operational state persisted with the system
// snapshot and surfaced by the status command.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"  // No open issues and the last validation passed.
	StatusDegraded SystemStatus = "degraded" // Open non-critical issues or a failing validation score.
	StatusCritical SystemStatus = "critical" // Open critical issues or repeated persistence failures.
)

// SystemState is the single persisted snapshot of the monitor. It is owned by
// the orchestration loop: engines return results, only the loop mutates state,
// and the store round-trips it without loss.
type SystemState struct {
	CycleCount          int  `json:"cycle_count"`           // Completed detection cycles.
	TotalErrorsDetected int  `json:"total_errors_detected"` // Lifetime issue detections.
	TotalErrorsFixed    int  `json:"total_errors_fixed"`    // Lifetime verified fixes.
	ErrorsFree          bool `json:"errors_free"`           // True when the last cycle ended with no open issues.

	CurrentErrors []Issue        `json:"current_errors"` // Open backlog carried into the next cycle.
	RepairHistory []RepairRecord `json:"repair_history"` // Append-only attempt ledger.

	IssueLog     []IssueLogEntry  `json:"issue_log"`     // Flattened detections for analytics.
	CycleHistory []CycleAnalytics `json:"cycle_history"` // Per-cycle summaries inside the retention window.

	SystemStatus SystemStatus `json:"system_status"` // Derived overall status.

	LastSuccessfulCycle time.Time `json:"last_successful_cycle"` // UTC end of the last clean cycle.
	UpdatedAt           time.Time `json:"updated_at"`            // UTC time of the last persist.
}

// NewSystemState returns the zero-history state used on first run or when the
// store has nothing to load.
func NewSystemState() *SystemState {
	return &SystemState{
		ErrorsFree:    true,
		CurrentErrors: []Issue{},
		RepairHistory: []RepairRecord{},
		IssueLog:      []IssueLogEntry{},
		CycleHistory:  []CycleAnalytics{},
		SystemStatus:  StatusHealthy,
	}
}

// Snapshot captures the counters for a repair ledger entry.
func (s *SystemState) Snapshot() StateSnapshot {
	return StateSnapshot{
		CycleCount:          s.CycleCount,
		TotalErrorsDetected: s.TotalErrorsDetected,
		TotalErrorsFixed:    s.TotalErrorsFixed,
		OpenIssues:          len(s.CurrentErrors),
		ErrorsFree:          s.ErrorsFree,
	}
}
