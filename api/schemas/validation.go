package schemas

import (
	"time"
)

// -- Validation Schemas --

// CheckCategory groups validation checks by the aspect of the target they
// exercise. The categories mirror issue categories minus console, which is
// folded into ui hygiene.
type CheckCategory string

const (
	CheckFunctional    CheckCategory = "functional"
	CheckPerformance   CheckCategory = "performance"
	CheckSecurity      CheckCategory = "security"
	CheckAccessibility CheckCategory = "accessibility"
	CheckUI            CheckCategory = "ui"
	CheckAPI           CheckCategory = "api"
)

// CheckPriority weights a check's influence on the overall pass verdict. A
// battery cannot pass while any critical-priority check fails, regardless of
// the overall score.
type CheckPriority string

const (
	PriorityCritical CheckPriority = "critical"
	PriorityHigh     CheckPriority = "high"
	PriorityMedium   CheckPriority = "medium"
	PriorityLow      CheckPriority = "low"
)

// HealthRating is the coarse label derived from an overall validation score.
type HealthRating string

const (
	HealthExcellent HealthRating = "excellent" // Score >= 90.
	HealthGood      HealthRating = "good"      // Score >= 75.
	HealthFair      HealthRating = "fair"      // Score >= 60.
	HealthPoor      HealthRating = "poor"      // Score >= 40.
	HealthCritical  HealthRating = "critical"  // Everything below.
)

// HealthForScore maps an overall score onto the step function used everywhere
// a health label is reported.
func HealthForScore(score float64) HealthRating {
	switch {
	case score >= 90:
		return HealthExcellent
	case score >= 75:
		return HealthGood
	case score >= 60:
		return HealthFair
	case score >= 40:
		return HealthPoor
	default:
		return HealthCritical
	}
}

// ValidationResult is the outcome of one check in the battery.
type ValidationResult struct {
	TestID   string        `json:"test_id"`  // Stable check identifier, e.g. "page_load".
	Category CheckCategory `json:"category"` // Aspect the check exercises.
	Priority CheckPriority `json:"priority"` // Weight on the overall verdict.

	// Passed is derived from Score against the category threshold; checks never
	// set it directly.
	Passed bool `json:"passed"`

	Score   float64 `json:"score"`   // Normalized to [0,100].
	Message string  `json:"message"` // One-line human summary.

	// Details carries check-specific measurements (timings, header lists,
	// violation counts) for the report.
	Details map[string]any `json:"details,omitempty"`

	Recommendations []string `json:"recommendations,omitempty"` // Follow-ups when the check fails.

	Duration time.Duration `json:"duration"` // Wall time the check consumed.
}

// ComprehensiveValidationReport aggregates a full battery run against one
// target.
type ComprehensiveValidationReport struct {
	Target      string    `json:"target"`       // URL of the validated target.
	GeneratedAt time.Time `json:"generated_at"` // UTC completion time.

	Results []ValidationResult `json:"results"` // Per-check outcomes, in execution order.

	// OverallScore is the arithmetic mean of all check scores.
	OverallScore float64 `json:"overall_score"`

	// Passed requires OverallScore >= 70 and no failed critical-priority check.
	Passed bool `json:"passed"`

	SystemHealth   HealthRating              `json:"system_health"`   // Step function of OverallScore.
	CategoryScores map[CheckCategory]float64 `json:"category_scores"` // Mean score per category.
	FailedChecks   []string                  `json:"failed_checks"`   // TestIDs that did not pass.
}
