package schemas

import (
	"context"
	"time"
)

// -- Engine Interfaces --

// Detector inspects the configured targets and reports every operational
// defect it can observe. Per-target failures degrade into synthetic issues
// rather than errors; the error return is reserved for context cancellation.
type Detector interface {
	// Detect runs one detection pass across all targets. The returned issues
	// are ordered most severe first and each carries a signature.
	Detect(ctx context.Context, targets []Target) ([]Issue, error)
}

// Verifier re-observes a single target to confirm a defect has not recurred.
// The remediation engine uses it to gate repair success.
type Verifier interface {
	// VerifyAbsence watches target for the verification window and reports
	// whether the signature stayed absent.
	VerifyAbsence(ctx context.Context, target Target, signature string, window time.Duration) (bool, error)
}

// Remediator walks the strategy chain for each issue, verifying every attempt.
// It mutates only the issues it is handed (attempt bookkeeping); all other
// state mutation stays with the caller.
type Remediator interface {
	// Remediate processes issues one at a time and returns the number verified
	// fixed plus the full attempt ledger for the pass.
	Remediate(ctx context.Context, issues []*Issue) (fixed int, records []RepairRecord)
}

// Validator runs the full check battery against one target.
type Validator interface {
	// Validate executes every check and aggregates the scores. The error
	// return is reserved for context cancellation; individual check failures
	// land in the report as zero-score results.
	Validate(ctx context.Context, target Target) (*ComprehensiveValidationReport, error)
}

// Analyst turns accumulated history into the comprehensive report artifact.
type Analyst interface {
	// Analyze clusters the issue log, computes trends over the analysis
	// window, and assembles the report for the just-completed cycle.
	Analyze(state *SystemState, cycle CycleAnalytics, validation *ComprehensiveValidationReport) *ComprehensiveReport
}

// -- Persistence Interfaces --

// StateStore persists the system snapshot between cycles and across restarts.
type StateStore interface {
	// Save writes the complete state. Implementations must be atomic enough
	// that a crash mid-save never leaves a half-written snapshot behind.
	Save(ctx context.Context, state *SystemState) error
	// Load retrieves the last saved state. The boolean is false when nothing
	// has been persisted yet, which is not an error.
	Load(ctx context.Context) (*SystemState, bool, error)
}

// ReportSink receives finished comprehensive reports.
type ReportSink interface {
	// WriteReport persists or forwards one report.
	WriteReport(ctx context.Context, report *ComprehensiveReport) error
	// Close flushes and releases the sink.
	Close() error
}

// -- Escalation Interface --

// Escalator hands persistently unfixable defects to humans, e.g. by filing a
// tracker issue. Escalation failures are logged by callers, never fatal.
type Escalator interface {
	// Escalate files (or updates) an external record for the pattern. It is
	// idempotent per signature.
	Escalate(ctx context.Context, pattern ErrorPattern, issues []Issue) error
}
