// internal/analytics/analyst.go
package analytics

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/api/schemas"
	"github.com/xkilldash9x/suture-cli/internal/config"
)

const (
	maxActionItems        = 10
	maxRecommendations    = 8
	defaultAnalysisWindow = 24 * time.Hour
)

// Analyst reduces accumulated history into the comprehensive report.
type Analyst struct {
	logger *zap.Logger
	cfg    *config.Config
}

var _ schemas.Analyst = (*Analyst)(nil)

// NewAnalyst builds an analyst over the configured analysis window.
func NewAnalyst(cfg *config.Config, logger *zap.Logger) *Analyst {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyst{
		logger: logger.Named("analytics"),
		cfg:    cfg,
	}
}

// Analyze clusters the issue log, fits trends over the window, and wraps the
// cycle summary, validation outcome and follow-ups into one report.
func (a *Analyst) Analyze(state *schemas.SystemState, cycle schemas.CycleAnalytics, validation *schemas.ComprehensiveValidationReport) *schemas.ComprehensiveReport {
	now := time.Now()
	window := a.cfg.Analytics.Window
	if window <= 0 {
		window = defaultAnalysisWindow
	}

	patterns := analyzePatterns(state.IssueLog, window, now)
	trends := analyzeTrends(state.IssueLog, state.CycleHistory, window, now)

	report := &schemas.ComprehensiveReport{
		ReportID:     uuid.New().String(),
		GeneratedAt:  now.UTC(),
		Cycle:        cycle,
		Patterns:     patterns,
		Trends:       trends,
		Validation:   validation,
		SystemStatus: state.SystemStatus,
	}
	report.Immediate, report.ShortTerm, report.LongTerm = a.recommend(state, patterns, trends, validation)
	report.ActionPlan = buildActionPlan(patterns, validation)

	a.logger.Info("Comprehensive report assembled.",
		zap.String("report_id", report.ReportID),
		zap.Int("patterns", len(patterns)),
		zap.Int("performance_trends", len(trends.Performance)),
		zap.Int("action_items", len(report.ActionPlan)))
	return report
}

// recommend buckets follow-ups by horizon: immediate (this cycle),
// short-term (next deploy), long-term (architectural).
func (a *Analyst) recommend(state *schemas.SystemState, patterns []schemas.ErrorPattern, trends schemas.TrendReport, validation *schemas.ComprehensiveValidationReport) (immediate, shortTerm, longTerm []string) {
	criticalOpen := 0
	for _, issue := range state.CurrentErrors {
		if issue.Severity == schemas.SeverityCritical {
			criticalOpen++
		}
	}
	if criticalOpen > 0 {
		immediate = append(immediate, fmt.Sprintf(
			"%d critical issues remain open; intervene manually or roll back the last deploy", criticalOpen))
	}
	for _, p := range patterns {
		if p.SuccessRate == 0 && p.Frequency >= 3 {
			immediate = append(immediate, fmt.Sprintf(
				"no strategy has fixed %s (%d occurrences); manual repair needed", p.Signature, p.Frequency))
		}
	}
	if validation != nil && !validation.Passed {
		immediate = append(immediate, fmt.Sprintf(
			"validation failed at %.0f/100; review the failing checks: %s",
			validation.OverallScore, strings.Join(validation.FailedChecks, ", ")))
	}

	for _, tr := range trends.Performance {
		if tr.Direction == schemas.TrendDegrading {
			shortTerm = append(shortTerm, fmt.Sprintf(
				"%s is degrading (slope %+.2f per cycle); profile it before it breaches its budget", tr.Metric, tr.Slope))
		}
	}
	for _, p := range patterns {
		if p.SuccessRate > 0 && p.SuccessRate < 50 {
			shortTerm = append(shortTerm, fmt.Sprintf(
				"repairs fix only %.0f%% of %s; tune the %s strategy or register a corrective script",
				p.SuccessRate, p.Signature, p.RecommendedStrategy))
		}
	}
	if validation != nil {
		for _, res := range validation.Results {
			if !res.Passed && res.Priority == schemas.PriorityHigh {
				shortTerm = append(shortTerm, res.Recommendations...)
			}
		}
	}

	for _, tr := range trends.Errors {
		if tr.Direction == schemas.TrendIncreasing {
			longTerm = append(longTerm, fmt.Sprintf(
				"%s recurred %d times in the window; fix the root cause rather than re-repairing it",
				tr.Signature, tr.Occurrences))
		}
	}
	if len(patterns) > 0 {
		longTerm = append(longTerm, patterns[0].Prevention...)
	}

	return dedupeCap(immediate, maxRecommendations),
		dedupeCap(shortTerm, maxRecommendations),
		dedupeCap(longTerm, maxRecommendations)
}

// buildActionPlan merges pattern work and failing checks into one ranked
// list. Severity dominates urgency and frequency breaks ties; a failing
// critical check outranks anything the repair chain can still reach.
func buildActionPlan(patterns []schemas.ErrorPattern, validation *schemas.ComprehensiveValidationReport) []schemas.ActionItem {
	type ranked struct {
		urgency int
		item    schemas.ActionItem
	}
	var all []ranked

	for _, p := range patterns {
		all = append(all, ranked{
			urgency: p.Severity.Rank()*1000 + min(p.Frequency, 999),
			item: schemas.ActionItem{
				Title: fmt.Sprintf("Address recurring %s faults", p.Signature),
				Detail: fmt.Sprintf("%d occurrences in the window, %.0f%% repaired; recommended strategy: %s",
					p.Frequency, p.SuccessRate, p.RecommendedStrategy),
				Signature:   p.Signature,
				Occurrences: p.Frequency,
			},
		})
	}

	if validation != nil {
		for _, res := range validation.Results {
			if res.Passed {
				continue
			}
			var urgency int
			switch res.Priority {
			case schemas.PriorityCritical:
				urgency = 4500
			case schemas.PriorityHigh:
				urgency = 2500
			case schemas.PriorityMedium:
				urgency = 1500
			default:
				urgency = 500
			}
			all = append(all, ranked{
				urgency: urgency,
				item: schemas.ActionItem{
					Title:  fmt.Sprintf("Fix the failing %s check", res.TestID),
					Detail: res.Message,
				},
			})
		}
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].urgency > all[j].urgency })
	if len(all) > maxActionItems {
		all = all[:maxActionItems]
	}

	items := make([]schemas.ActionItem, len(all))
	for i, r := range all {
		r.item.Priority = i + 1
		items[i] = r.item
	}
	return items
}

// dedupeCap drops duplicates preserving order and bounds the list.
func dedupeCap(in []string, max int) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
		if len(out) == max {
			break
		}
	}
	return out
}
