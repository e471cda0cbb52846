package schemas_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/suture-cli/api/schemas"
)

// TestConstants verifies that the enum constants hold their expected string
// values, since the persisted state and reports depend on them.
func TestConstants(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name     string
		constant interface{}
		expected string
	}{
		// Severities
		{"SeverityCritical", schemas.SeverityCritical, "critical"},
		{"SeverityHigh", schemas.SeverityHigh, "high"},
		{"SeverityMedium", schemas.SeverityMedium, "medium"},
		{"SeverityLow", schemas.SeverityLow, "low"},

		// Issue categories
		{"CategoryConsole", schemas.CategoryConsole, "console"},
		{"CategoryNetwork", schemas.CategoryNetwork, "network"},
		{"CategoryPerformance", schemas.CategoryPerformance, "performance"},
		{"CategoryAccessibility", schemas.CategoryAccessibility, "accessibility"},
		{"CategoryUI", schemas.CategoryUI, "ui"},
		{"CategorySecurity", schemas.CategorySecurity, "security"},
		{"CategoryAPI", schemas.CategoryAPI, "api"},

		// Repair outcomes
		{"OutcomeFixed", schemas.OutcomeFixed, "fixed"},
		{"OutcomeFailed", schemas.OutcomeFailed, "failed"},
		{"OutcomeError", schemas.OutcomeError, "error"},
		{"OutcomeRateLimited", schemas.OutcomeRateLimited, "rate_limited"},

		// System status
		{"StatusHealthy", schemas.StatusHealthy, "healthy"},
		{"StatusDegraded", schemas.StatusDegraded, "degraded"},
		{"StatusCritical", schemas.StatusCritical, "critical"},

		// Target types
		{"TargetUI", schemas.TargetUI, "ui"},
		{"TargetAPI", schemas.TargetAPI, "api"},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.expected, fmt.Sprintf("%v", tc.constant))
		})
	}
}

// TestSeverityRank verifies the ordering used to sort issues most severe
// first.
func TestSeverityRank(t *testing.T) {
	t.Parallel()

	assert.Greater(t, schemas.SeverityCritical.Rank(), schemas.SeverityHigh.Rank())
	assert.Greater(t, schemas.SeverityHigh.Rank(), schemas.SeverityMedium.Rank())
	assert.Greater(t, schemas.SeverityMedium.Rank(), schemas.SeverityLow.Rank())
	assert.Greater(t, schemas.SeverityLow.Rank(), schemas.Severity("bogus").Rank(),
		"unknown severities must never outrank real ones")
}

// TestHealthForScore pins the step function boundaries.
func TestHealthForScore(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		score    float64
		expected schemas.HealthRating
	}{
		{100, schemas.HealthExcellent},
		{92, schemas.HealthExcellent},
		{90, schemas.HealthExcellent},
		{89.9, schemas.HealthGood},
		{75, schemas.HealthGood},
		{61, schemas.HealthFair},
		{60, schemas.HealthFair},
		{59.9, schemas.HealthPoor},
		{40, schemas.HealthPoor},
		{39, schemas.HealthCritical},
		{0, schemas.HealthCritical},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(fmt.Sprintf("score_%.1f", tc.score), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.expected, schemas.HealthForScore(tc.score))
		})
	}
}

// TestNewSystemState verifies the first-run snapshot starts clean with
// non-nil collections, so persistence round-trips do not turn empty slices
// into nulls.
func TestNewSystemState(t *testing.T) {
	t.Parallel()

	state := schemas.NewSystemState()
	require.NotNil(t, state)

	assert.True(t, state.ErrorsFree)
	assert.Equal(t, schemas.StatusHealthy, state.SystemStatus)
	assert.Zero(t, state.CycleCount)
	assert.NotNil(t, state.CurrentErrors)
	assert.NotNil(t, state.RepairHistory)
	assert.NotNil(t, state.IssueLog)
	assert.NotNil(t, state.CycleHistory)
}

// TestSnapshot verifies the counters copied into repair ledger entries.
func TestSnapshot(t *testing.T) {
	t.Parallel()

	state := schemas.NewSystemState()
	state.CycleCount = 7
	state.TotalErrorsDetected = 12
	state.TotalErrorsFixed = 9
	state.ErrorsFree = false
	state.CurrentErrors = []schemas.Issue{{ID: "a"}, {ID: "b"}}

	snap := state.Snapshot()
	assert.Equal(t, 7, snap.CycleCount)
	assert.Equal(t, 12, snap.TotalErrorsDetected)
	assert.Equal(t, 9, snap.TotalErrorsFixed)
	assert.Equal(t, 2, snap.OpenIssues)
	assert.False(t, snap.ErrorsFree)
}
