package schemas

import (
	"time"
)

// -- Analytics Schemas --

// CycleAnalytics summarizes one full detect/remediate/validate cycle.
type CycleAnalytics struct {
	CycleNumber int           `json:"cycle_number"` // Monotonic cycle counter.
	Timestamp   time.Time     `json:"timestamp"`    // UTC time the cycle completed.
	Duration    time.Duration `json:"duration"`     // Wall time of the whole cycle.

	ErrorsDetected  int `json:"errors_detected"`  // Issues found this cycle (new + recurring).
	ErrorsFixed     int `json:"errors_fixed"`     // Issues verified fixed this cycle.
	IssuesAttempted int `json:"issues_attempted"` // Issues that consumed at least one real attempt.

	// FixSuccessRate is ErrorsFixed over IssuesAttempted as a percentage, or 0
	// when nothing was attempted.
	FixSuccessRate float64 `json:"fix_success_rate"`

	// PerformanceMetrics holds the cycle's tracked measurements (load time,
	// heap ratio, probe latency) keyed by metric name.
	PerformanceMetrics map[string]float64 `json:"performance_metrics"`

	StrategiesUsed map[string]int `json:"strategies_used"` // Real attempts per strategy name.

	// MostEffectiveStrategy is the strategy with the highest success ratio
	// among those used this cycle; empty when none ran.
	MostEffectiveStrategy string `json:"most_effective_strategy"`

	Issues       []Issue  `json:"issues"`       // Snapshot of the issues handled this cycle.
	Improvements []string `json:"improvements"` // Human-readable wins, e.g. "fixed HTTP_ERROR on /api".
}

// IssueLogEntry is the flattened per-detection record kept for pattern and
// trend analysis. One entry is appended for every issue observed in a cycle,
// so a defect recurring across three cycles contributes three entries.
type IssueLogEntry struct {
	Signature  string        `json:"signature"`
	Category   IssueCategory `json:"category"`
	Severity   Severity      `json:"severity"`
	TargetURL  string        `json:"target_url"`
	DetectedAt time.Time     `json:"detected_at"`

	Fixed       bool          `json:"fixed"`                  // Whether this occurrence was repaired.
	FixedBy     string        `json:"fixed_by,omitempty"`     // Strategy that repaired it.
	FixDuration time.Duration `json:"fix_duration,omitempty"` // Time from detection to verified fix.
}

// ErrorPattern is one signature cluster produced by pattern analysis.
type ErrorPattern struct {
	Signature string        `json:"signature"`
	Category  IssueCategory `json:"category"`
	Frequency int           `json:"frequency"` // Occurrences inside the analysis window.

	// Severity is the worst severity observed across the cluster.
	Severity Severity `json:"severity"`

	SuccessRate float64       `json:"success_rate"` // Percentage of occurrences repaired.
	AvgFixTime  time.Duration `json:"avg_fix_time"` // Mean fix duration of repaired occurrences.

	// RecommendedStrategy is the most common strategy among successful repairs
	// of this signature, defaulting to "reload" when nothing has worked yet.
	RecommendedStrategy string `json:"recommended_strategy"`

	Prevention []string `json:"prevention"` // Static prevention guidance for this signature.
}

// TrendDirection labels how a metric or error signature is moving.
type TrendDirection string

const (
	TrendImproving TrendDirection = "improving"
	TrendStable    TrendDirection = "stable"
	TrendDegrading TrendDirection = "degrading"

	// Error-frequency trends use increasing/decreasing rather than value
	// orientation, since more errors is never an improvement.
	TrendIncreasing TrendDirection = "increasing"
	TrendDecreasing TrendDirection = "decreasing"
)

// PerformanceTrend is the regression verdict for one tracked metric.
type PerformanceTrend struct {
	Metric    string         `json:"metric"`
	Direction TrendDirection `json:"direction"`
	Slope     float64        `json:"slope"`   // Least-squares slope over successive cycles.
	Current   float64        `json:"current"` // Most recent value.
	Samples   int            `json:"samples"` // Cycles contributing to the fit.
}

// ErrorTrend is the frequency-bucket verdict for one error signature.
type ErrorTrend struct {
	Signature   string         `json:"signature"`
	Occurrences int            `json:"occurrences"` // Count inside the analysis window.
	Direction   TrendDirection `json:"direction"`   // increasing (>10), stable (3-10), decreasing (<3).
}

// TrendReport bundles the trend verdicts for one analysis window.
type TrendReport struct {
	Window      time.Duration      `json:"window"`       // Width of the analysis window.
	GeneratedAt time.Time          `json:"generated_at"` // UTC analysis time.
	Performance []PerformanceTrend `json:"performance"`
	Errors      []ErrorTrend       `json:"errors"`
}

// ActionItem is one entry in the prioritized action plan of a comprehensive
// report.
type ActionItem struct {
	Priority    int    `json:"priority"` // 1 is most urgent.
	Title       string `json:"title"`
	Detail      string `json:"detail"`
	Signature   string `json:"signature,omitempty"` // Pattern the item addresses, when applicable.
	Occurrences int    `json:"occurrences,omitempty"`
}

// ComprehensiveReport is the full analytics artifact written at the end of a
// reporting phase: the latest cycle, clustered patterns, trends, validation,
// and recommended follow-ups.
type ComprehensiveReport struct {
	ReportID    string    `json:"report_id"`    // Unique identifier (UUID).
	GeneratedAt time.Time `json:"generated_at"` // UTC assembly time.

	Cycle      CycleAnalytics                 `json:"cycle"`                // The cycle that produced the report.
	Patterns   []ErrorPattern                 `json:"patterns"`             // Signature clusters, worst first.
	Trends     TrendReport                    `json:"trends"`               // Window analysis.
	Validation *ComprehensiveValidationReport `json:"validation,omitempty"` // Battery outcome, when one ran.

	SystemStatus SystemStatus `json:"system_status"` // Derived overall status.

	// Recommendations are bucketed by horizon: immediate (this cycle),
	// short-term (next deploy), long-term (architectural).
	Immediate []string `json:"immediate"`
	ShortTerm []string `json:"short_term"`
	LongTerm  []string `json:"long_term"`

	ActionPlan []ActionItem `json:"action_plan"` // Prioritized work items.
}
