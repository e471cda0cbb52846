package schemas

import (
	"time"
)

// -- Repair Schemas --

// RepairOutcome summarizes how a single strategy attempt resolved.
type RepairOutcome string

const (
	OutcomeFixed       RepairOutcome = "fixed"        // Action applied and verification saw no recurrence.
	OutcomeFailed      RepairOutcome = "failed"       // Action applied but the issue recurred.
	OutcomeError       RepairOutcome = "error"        // The action itself failed or panicked.
	OutcomeRateLimited RepairOutcome = "rate_limited" // Skipped by a cooldown gate; no attempt consumed.
)

// StateSnapshot captures the loop counters surrounding a repair attempt so the
// ledger shows what the system looked like before and after.
type StateSnapshot struct {
	CycleCount          int  `json:"cycle_count"`
	TotalErrorsDetected int  `json:"total_errors_detected"`
	TotalErrorsFixed    int  `json:"total_errors_fixed"`
	OpenIssues          int  `json:"open_issues"`
	ErrorsFree          bool `json:"errors_free"`
}

// RepairRecord is one entry in the append-only repair ledger. Every strategy
// attempt produces a record, including attempts skipped by rate limiting.
type RepairRecord struct {
	IssueID   string        `json:"issue_id"`  // The issue the attempt targeted.
	Strategy  string        `json:"strategy"`  // Name of the strategy that ran (or was skipped).
	Outcome   RepairOutcome `json:"outcome"`   // How the attempt resolved.
	Success   bool          `json:"success"`   // True only when the action ran and verification passed.
	Timestamp time.Time     `json:"timestamp"` // UTC time the attempt concluded.

	BeforeState StateSnapshot `json:"before_state"` // Counters before the attempt.
	AfterState  StateSnapshot `json:"after_state"`  // Counters after the attempt.

	// VerificationPassed reports the recurrence check on its own: false when
	// the issue recurred inside the verification window, and also false when
	// the action errored and verification never ran.
	VerificationPassed bool `json:"verification_passed"`

	// Duration covers the action plus the verification window.
	Duration time.Duration `json:"duration"`
}
