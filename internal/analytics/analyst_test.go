// internal/analytics/analyst_test.go
package analytics

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/suture-cli/api/schemas"
	"github.com/xkilldash9x/suture-cli/internal/config"
)

func newTestAnalyst(t *testing.T, mutate func(cfg *config.Config)) *Analyst {
	t.Helper()
	cfg := config.NewDefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	return NewAnalyst(cfg, zaptest.NewLogger(t))
}

// joined flattens a recommendation bucket for substring assertions.
func joined(list []string) string { return strings.Join(list, "\n") }

func TestAnalyze_AssemblesReport(t *testing.T) {
	analyst := newTestAnalyst(t, nil)
	now := time.Now()

	state := schemas.NewSystemState()
	state.SystemStatus = schemas.StatusCritical
	state.CurrentErrors = []schemas.Issue{
		{ID: "a", Severity: schemas.SeverityCritical, Message: "HTTP 503 from /api/incidents"},
		{ID: "b", Severity: schemas.SeverityCritical, Message: "HTTP 502 from /api/orders"},
		{ID: "c", Severity: schemas.SeverityLow, Message: "missing landmark"},
	}
	for i := 0; i < 3; i++ {
		entry := schemas.IssueLogEntry{
			Signature:  "HTTP_ERROR",
			Category:   schemas.CategoryAPI,
			Severity:   schemas.SeverityCritical,
			TargetURL:  "https://shop.example.com/api/incidents",
			DetectedAt: now.Add(-time.Hour),
		}
		if i == 0 {
			entry.Fixed = true
			entry.FixedBy = "backend_restart"
			entry.FixDuration = 30 * time.Second
		}
		state.IssueLog = append(state.IssueLog, entry)
	}
	state.CycleHistory = []schemas.CycleAnalytics{
		{CycleNumber: 1, Timestamp: now.Add(-2 * time.Hour), PerformanceMetrics: map[string]float64{"load_time_ms": 1000}},
		{CycleNumber: 2, Timestamp: now.Add(-time.Hour), PerformanceMetrics: map[string]float64{"load_time_ms": 2000}},
	}

	cycle := schemas.CycleAnalytics{CycleNumber: 3, ErrorsDetected: 3, ErrorsFixed: 1}
	validation := &schemas.ComprehensiveValidationReport{
		Target:       "https://shop.example.com",
		OverallScore: 55,
		Passed:       false,
		FailedChecks: []string{"api_health", "security_headers"},
		Results: []schemas.ValidationResult{
			{TestID: "api_health", Category: schemas.CheckAPI, Priority: schemas.PriorityCritical, Passed: false, Score: 0, Message: "endpoint answered HTTP 503"},
			{TestID: "security_headers", Category: schemas.CheckSecurity, Priority: schemas.PriorityHigh, Passed: false, Score: 60,
				Message: "2 of 5 expected protections missing", Recommendations: []string{"enable HSTS on the edge"}},
		},
	}

	report := analyst.Analyze(state, cycle, validation)
	require.NotNil(t, report)

	_, err := uuid.Parse(report.ReportID)
	assert.NoError(t, err, "report id should be a uuid")
	assert.Equal(t, time.UTC, report.GeneratedAt.Location())
	assert.Equal(t, 3, report.Cycle.CycleNumber)
	assert.Equal(t, schemas.StatusCritical, report.SystemStatus)
	assert.Same(t, validation, report.Validation)

	require.Len(t, report.Patterns, 1)
	pattern := report.Patterns[0]
	assert.Equal(t, "HTTP_ERROR", pattern.Signature)
	assert.Equal(t, 3, pattern.Frequency)
	assert.InDelta(t, 33.33, pattern.SuccessRate, 0.01)
	assert.Equal(t, "backend_restart", pattern.RecommendedStrategy)

	// A failing critical check outranks the repairable pattern, which in turn
	// outranks the failing high-priority check.
	require.Len(t, report.ActionPlan, 3)
	assert.Equal(t, 1, report.ActionPlan[0].Priority)
	assert.Equal(t, "Fix the failing api_health check", report.ActionPlan[0].Title)
	assert.Equal(t, "HTTP_ERROR", report.ActionPlan[1].Signature)
	assert.Equal(t, 2, report.ActionPlan[1].Priority)
	assert.Equal(t, "Fix the failing security_headers check", report.ActionPlan[2].Title)

	assert.Contains(t, joined(report.Immediate), "2 critical issues remain open")
	assert.Contains(t, joined(report.Immediate), "validation failed at 55/100")
	assert.Contains(t, joined(report.Immediate), "api_health, security_headers")

	assert.Contains(t, joined(report.ShortTerm), "load_time_ms is degrading")
	assert.Contains(t, joined(report.ShortTerm), "repairs fix only 33% of HTTP_ERROR")
	assert.Contains(t, joined(report.ShortTerm), "enable HSTS on the edge")

	require.NotEmpty(t, report.LongTerm)
	assert.Subset(t, report.LongTerm, preventionTable["HTTP_ERROR"])
}

func TestAnalyze_WindowBoundsHistory(t *testing.T) {
	now := time.Now()
	state := schemas.NewSystemState()
	state.IssueLog = []schemas.IssueLogEntry{
		{Signature: "TIMEOUT", Severity: schemas.SeverityHigh, DetectedAt: now.Add(-30 * time.Hour)},
	}

	narrow := newTestAnalyst(t, nil) // default 24h window
	assert.Empty(t, narrow.Analyze(state, schemas.CycleAnalytics{}, nil).Patterns)

	wide := newTestAnalyst(t, func(cfg *config.Config) { cfg.Analytics.Window = 48 * time.Hour })
	assert.Len(t, wide.Analyze(state, schemas.CycleAnalytics{}, nil).Patterns, 1)
}

func TestAnalyze_QuietStateYieldsLeanReport(t *testing.T) {
	analyst := newTestAnalyst(t, nil)
	state := schemas.NewSystemState()
	state.SystemStatus = schemas.StatusHealthy

	report := analyst.Analyze(state, schemas.CycleAnalytics{CycleNumber: 1}, nil)
	require.NotNil(t, report)
	assert.Empty(t, report.Patterns)
	assert.Empty(t, report.ActionPlan)
	assert.Empty(t, report.Immediate)
	assert.Nil(t, report.Validation)
	assert.Equal(t, schemas.StatusHealthy, report.SystemStatus)
}

func TestBuildActionPlan_CapsAndRanks(t *testing.T) {
	var patterns []schemas.ErrorPattern
	for i := 0; i < 14; i++ {
		severity := schemas.SeverityLow
		if i%2 == 0 {
			severity = schemas.SeverityHigh
		}
		patterns = append(patterns, schemas.ErrorPattern{
			Signature: string(rune('A' + i)),
			Severity:  severity,
			Frequency: i + 1,
		})
	}

	plan := buildActionPlan(patterns, nil)
	require.Len(t, plan, maxActionItems)
	for i, item := range plan {
		assert.Equal(t, i+1, item.Priority)
		if i > 0 {
			prev := plan[i-1]
			prevRank := severityOf(patterns, prev.Signature).Rank()
			rank := severityOf(patterns, item.Signature).Rank()
			assert.GreaterOrEqual(t, prevRank*1000+prev.Occurrences, rank*1000+item.Occurrences)
		}
	}
}

func severityOf(patterns []schemas.ErrorPattern, signature string) schemas.Severity {
	for _, p := range patterns {
		if p.Signature == signature {
			return p.Severity
		}
	}
	return schemas.SeverityLow
}

func TestDedupeCap(t *testing.T) {
	in := []string{"a", "", "b", "a", "c", "b", "d"}
	assert.Equal(t, []string{"a", "b", "c"}, dedupeCap(in, 3))
	assert.Equal(t, []string{"a", "b", "c", "d"}, dedupeCap(in, 8))
	assert.Empty(t, dedupeCap(nil, 4))
}
