// internal/analytics/trends.go
package analytics

import (
	"math"
	"time"

	"github.com/xkilldash9x/suture-cli/api/schemas"
)

// slopeTolerance is how flat a fitted slope must be to count as stable.
const slopeTolerance = 0.1

// higherIsBetter flags the metrics where an upward slope is an improvement.
// Everything else (timings, heap ratios, latencies) improves downward.
var higherIsBetter = map[string]bool{
	"overall_score":    true,
	"fix_success_rate": true,
}

// analyzeTrends fits a least-squares slope per performance metric over the
// cycles inside the window and buckets error signatures by occurrence count.
func analyzeTrends(log []schemas.IssueLogEntry, history []schemas.CycleAnalytics, window time.Duration, now time.Time) schemas.TrendReport {
	cutoff := now.Add(-window)
	report := schemas.TrendReport{
		Window:      window,
		GeneratedAt: now.UTC(),
	}

	series := make(map[string][]float64)
	for _, cycle := range history {
		if !cycle.Timestamp.After(cutoff) {
			continue
		}
		for name, value := range cycle.PerformanceMetrics {
			series[name] = append(series[name], value)
		}
	}
	for _, name := range sortedKeys(series) {
		values := series[name]
		slope := leastSquaresSlope(values)
		report.Performance = append(report.Performance, schemas.PerformanceTrend{
			Metric:    name,
			Direction: metricDirection(name, slope),
			Slope:     slope,
			Current:   values[len(values)-1],
			Samples:   len(values),
		})
	}

	counts := make(map[string]int)
	for _, entry := range log {
		if entry.DetectedAt.After(cutoff) {
			counts[entry.Signature]++
		}
	}
	for _, sig := range sortedKeys(counts) {
		report.Errors = append(report.Errors, schemas.ErrorTrend{
			Signature:   sig,
			Occurrences: counts[sig],
			Direction:   errorDirection(counts[sig]),
		})
	}
	return report
}

// leastSquaresSlope fits value = a + b*index over successive samples and
// returns b. Fewer than two samples have no slope.
func leastSquaresSlope(values []float64) float64 {
	n := float64(len(values))
	if n < 2 {
		return 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, v := range values {
		x := float64(i)
		sumX += x
		sumY += v
		sumXY += x * v
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

func metricDirection(metric string, slope float64) schemas.TrendDirection {
	if math.Abs(slope) <= slopeTolerance {
		return schemas.TrendStable
	}
	improving := slope < 0
	if higherIsBetter[metric] {
		improving = !improving
	}
	if improving {
		return schemas.TrendImproving
	}
	return schemas.TrendDegrading
}

// errorDirection buckets occurrence counts. This is deliberately a coarse
// heuristic, not a fit.
func errorDirection(occurrences int) schemas.TrendDirection {
	switch {
	case occurrences > 10:
		return schemas.TrendIncreasing
	case occurrences >= 3:
		return schemas.TrendStable
	default:
		return schemas.TrendDecreasing
	}
}
