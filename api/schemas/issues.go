package schemas

import (
	"time"
)

// -- Issue Schemas --

// Severity represents the operational severity of a detected issue, ranging
// from critical to low. The values are lowercase to align with database ENUMs.
type Severity string

// Constants defining the standard severity levels for issues.
const (
	SeverityCritical Severity = "critical" // The target is broken or unsafe for users.
	SeverityHigh     Severity = "high"     // A user-visible defect that degrades the target.
	SeverityMedium   Severity = "medium"   // A defect users can work around.
	SeverityLow      Severity = "low"      // A cosmetic or latent defect.
)

// Rank returns the numeric ordering of a severity, where critical is highest.
// Unknown values rank below low so malformed input never outranks real issues.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// IssueCategory classifies where in the monitored application an issue
// surfaced. Categories drive strategy applicability and validation scoring.
type IssueCategory string

// Constants for the supported issue categories.
const (
	CategoryConsole       IssueCategory = "console"       // Browser console errors and uncaught exceptions.
	CategoryNetwork       IssueCategory = "network"       // Failed or error-status subresource requests.
	CategoryPerformance   IssueCategory = "performance"   // Slow loads, memory pressure, latency.
	CategoryAccessibility IssueCategory = "accessibility" // Accessibility audit violations.
	CategoryUI            IssueCategory = "ui"            // Structural or interactive DOM defects.
	CategorySecurity      IssueCategory = "security"      // Missing protections or credential hygiene problems.
	CategoryAPI           IssueCategory = "api"           // Backend endpoint failures.
)

// Issue is a single operational defect observed on a monitored target. Issues
// are created by the detection engine, mutated only by the remediation engine
// (repair bookkeeping), and carried across cycles while unresolved.
type Issue struct {
	ID       string        `json:"id"`       // Unique identifier (UUID).
	Category IssueCategory `json:"category"` // Where the issue surfaced.
	Severity Severity      `json:"severity"` // How badly it degrades the target.

	// Message is the raw observed description, e.g. the console error text or
	// "HTTP 503 from /api/incidents".
	Message string `json:"message"`

	Source    string `json:"source"`     // Emitting component (script URL, endpoint path, probe name).
	TargetURL string `json:"target_url"` // The monitored target the issue belongs to.

	// DetectedAt is the UTC timestamp of first detection. Re-detections of the
	// same signature on the same target merge into the original issue.
	DetectedAt time.Time `json:"detected_at"`

	// Signature is the stable classification key derived from Message. Issues
	// with equal signatures are treated as recurrences of the same defect.
	Signature string `json:"signature"`

	RepairAttempts  int      `json:"repair_attempts"`  // Real repair attempts consumed so far.
	StrategiesTried []string `json:"strategies_tried"` // Strategy names attempted, in order.
}

// -- Target Schemas --

// TargetType distinguishes browser-monitored pages from plain HTTP endpoints.
type TargetType string

const (
	TargetUI  TargetType = "ui"  // A page observed through a browser session.
	TargetAPI TargetType = "api" // An endpoint probed over plain HTTP.
)

// Target describes one monitored surface of the deployment.
type Target struct {
	Name string     `json:"name"` // Human-readable label used in logs and reports.
	URL  string     `json:"url"`  // Absolute URL of the page or endpoint.
	Type TargetType `json:"type"` // How the target is observed.
}
