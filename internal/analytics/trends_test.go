// internal/analytics/trends_test.go
package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/suture-cli/api/schemas"
)

func TestLeastSquaresSlope(t *testing.T) {
	cases := []struct {
		name   string
		values []float64
		want   float64
	}{
		{"steady climb", []float64{1, 2, 3, 4}, 1},
		{"steady fall", []float64{4, 3, 2, 1}, -1},
		{"flat", []float64{5, 5, 5}, 0},
		{"noisy climb", []float64{100, 140, 120, 160}, 16},
		{"single sample", []float64{7}, 0},
		{"no samples", nil, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, leastSquaresSlope(tc.values), 0.001)
		})
	}
}

func TestMetricDirection(t *testing.T) {
	cases := []struct {
		name   string
		metric string
		slope  float64
		want   schemas.TrendDirection
	}{
		{"latency rising", "load_time_ms", 12.5, schemas.TrendDegrading},
		{"latency falling", "load_time_ms", -12.5, schemas.TrendImproving},
		{"latency flat", "load_time_ms", 0.05, schemas.TrendStable},
		{"score rising", "overall_score", 5, schemas.TrendImproving},
		{"score falling", "fix_success_rate", -5, schemas.TrendDegrading},
		{"score barely moving", "overall_score", -0.09, schemas.TrendStable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, metricDirection(tc.metric, tc.slope))
		})
	}
}

func TestErrorDirection(t *testing.T) {
	assert.Equal(t, schemas.TrendIncreasing, errorDirection(11))
	assert.Equal(t, schemas.TrendStable, errorDirection(10))
	assert.Equal(t, schemas.TrendStable, errorDirection(3))
	assert.Equal(t, schemas.TrendDecreasing, errorDirection(2))
}

func TestAnalyzeTrends(t *testing.T) {
	now := time.Now()
	mkCycle := func(age time.Duration, metrics map[string]float64) schemas.CycleAnalytics {
		return schemas.CycleAnalytics{Timestamp: now.Add(-age), PerformanceMetrics: metrics}
	}
	history := []schemas.CycleAnalytics{
		mkCycle(4*time.Hour, map[string]float64{"load_time_ms": 1200, "overall_score": 90}),
		mkCycle(3*time.Hour, map[string]float64{"load_time_ms": 1400, "overall_score": 85}),
		mkCycle(2*time.Hour, map[string]float64{"load_time_ms": 1600, "overall_score": 80}),
		// A stale cycle outside the window must not skew the fit.
		mkCycle(30*time.Hour, map[string]float64{"load_time_ms": 99999}),
	}

	var log []schemas.IssueLogEntry
	addEntries := func(sig string, n int, age time.Duration) {
		for i := 0; i < n; i++ {
			log = append(log, schemas.IssueLogEntry{Signature: sig, DetectedAt: now.Add(-age)})
		}
	}
	addEntries("HTTP_ERROR", 12, time.Hour)
	addEntries("TIMEOUT", 4, time.Hour)
	addEntries("REFERENCE_ERROR", 1, time.Hour)
	addEntries("HTTP_ERROR", 5, 30*time.Hour) // stale, excluded

	report := analyzeTrends(log, history, 24*time.Hour, now)

	assert.Equal(t, 24*time.Hour, report.Window)
	assert.Equal(t, time.UTC, report.GeneratedAt.Location())

	require.Len(t, report.Performance, 2)

	loadTime := report.Performance[0]
	assert.Equal(t, "load_time_ms", loadTime.Metric)
	assert.Equal(t, schemas.TrendDegrading, loadTime.Direction)
	assert.InDelta(t, 200, loadTime.Slope, 0.001)
	assert.Equal(t, 1600.0, loadTime.Current)
	assert.Equal(t, 3, loadTime.Samples)

	score := report.Performance[1]
	assert.Equal(t, "overall_score", score.Metric)
	assert.Equal(t, schemas.TrendDegrading, score.Direction, "a falling score degrades even though the slope is negative")
	assert.InDelta(t, -5, score.Slope, 0.001)

	require.Len(t, report.Errors, 3)
	assert.Equal(t, schemas.ErrorTrend{Signature: "HTTP_ERROR", Occurrences: 12, Direction: schemas.TrendIncreasing}, report.Errors[0])
	assert.Equal(t, schemas.ErrorTrend{Signature: "REFERENCE_ERROR", Occurrences: 1, Direction: schemas.TrendDecreasing}, report.Errors[1])
	assert.Equal(t, schemas.ErrorTrend{Signature: "TIMEOUT", Occurrences: 4, Direction: schemas.TrendStable}, report.Errors[2])
}

func TestAnalyzeTrends_EmptyHistory(t *testing.T) {
	report := analyzeTrends(nil, nil, 24*time.Hour, time.Now())
	assert.Empty(t, report.Performance)
	assert.Empty(t, report.Errors)
}
