// internal/monitor/cycle.go
package monitor

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/api/schemas"
)

// runCycle drives one full pass through the phases. It reports true when the
// loop should stop because the context was cancelled mid-cycle; the caller
// then persists whatever the finished units produced.
func (l *Loop) runCycle(ctx context.Context) (stopped bool) {
	if ctx.Err() != nil {
		return true
	}

	start := time.Now()
	l.state.CycleCount++
	l.cyclesRun++
	wasClean := l.state.ErrorsFree
	l.setPhase(PhaseDetecting, true)

	clog := l.logger.With(zap.Int("cycle", l.state.CycleCount))
	clog.Info("Cycle starting.", zap.Int("backlog", len(l.state.CurrentErrors)))

	detected, err := l.deps.Detector.Detect(ctx, l.targets)
	if err != nil {
		clog.Warn("Detection sweep interrupted.", zap.Error(err))
		return true
	}

	l.state.TotalErrorsDetected += len(detected)
	logStart := l.logDetections(detected)
	l.mergeBacklog(detected, clog)

	// A clean sweep following a clean cycle needs no repair or validation.
	if len(l.state.CurrentErrors) == 0 && wasClean {
		l.finishQuietCycle(ctx, start, clog)
		return false
	}

	if ctx.Err() != nil {
		return true
	}
	l.setPhase(PhaseRemediating, true)
	tally := l.remediate(ctx, logStart, clog)

	if ctx.Err() != nil {
		return true
	}
	l.setPhase(PhaseValidating, true)
	validation, metrics := l.validateTargets(ctx, clog)
	if ctx.Err() != nil {
		return true
	}

	l.setPhase(PhaseReporting, true)
	report := l.report(ctx, start, len(detected), tally, validation, metrics, clog)

	l.escalate(ctx, report, clog)
	l.persist(ctx, clog)

	clog.Info("Cycle complete.",
		zap.Duration("duration", time.Since(start).Round(time.Millisecond)),
		zap.Int("detected", len(detected)),
		zap.Int("fixed", tally.fixed),
		zap.Int("open_issues", len(l.state.CurrentErrors)),
		zap.String("status", string(l.state.SystemStatus)))
	return false
}

// finishQuietCycle records a clean sweep that followed a clean cycle: no
// repair, no validation, straight to sleep with the streak extended.
func (l *Loop) finishQuietCycle(ctx context.Context, start time.Time, clog *zap.Logger) {
	now := time.Now().UTC()
	l.state.ErrorsFree = true
	l.state.LastSuccessfulCycle = now
	l.state.SystemStatus = schemas.StatusHealthy

	l.appendCycle(schemas.CycleAnalytics{
		CycleNumber:        l.state.CycleCount,
		Timestamp:          now,
		Duration:           time.Since(start),
		PerformanceMetrics: map[string]float64{},
		StrategiesUsed:     map[string]int{},
	})
	l.persist(ctx, clog)
	clog.Info("Cycle clean, skipping to sleep.")
}

// logDetections appends one flattened log entry per observation, stamped with
// this sweep's detection time. A defect recurring across cycles gains one
// entry per cycle, which is exactly what frequency analysis counts.
func (l *Loop) logDetections(detected []schemas.Issue) int {
	start := len(l.state.IssueLog)
	for _, issue := range detected {
		l.state.IssueLog = append(l.state.IssueLog, schemas.IssueLogEntry{
			Signature:  issue.Signature,
			Category:   issue.Category,
			Severity:   issue.Severity,
			TargetURL:  issue.TargetURL,
			DetectedAt: issue.DetectedAt,
		})
	}
	return start
}

// mergeBacklog folds this sweep's detections into the open backlog. A
// re-detected issue keeps its identity and repair bookkeeping; backlog
// entries that stopped appearing are cleared without counting as fixed.
func (l *Loop) mergeBacklog(detected []schemas.Issue, clog *zap.Logger) {
	type key struct{ url, sig string }

	previous := make(map[key]schemas.Issue, len(l.state.CurrentErrors))
	for _, issue := range l.state.CurrentErrors {
		previous[key{issue.TargetURL, issue.Signature}] = issue
	}

	next := make([]schemas.Issue, 0, len(detected))
	for _, issue := range detected {
		k := key{issue.TargetURL, issue.Signature}
		if prior, ok := previous[k]; ok {
			delete(previous, k)
			issue.ID = prior.ID
			issue.DetectedAt = prior.DetectedAt
			issue.RepairAttempts = prior.RepairAttempts
			issue.StrategiesTried = prior.StrategiesTried
		}
		next = append(next, issue)
	}

	for _, gone := range previous {
		clog.Info("Backlog issue no longer detected, clearing.",
			zap.String("signature", gone.Signature),
			zap.String("target", gone.TargetURL))
	}
	l.state.CurrentErrors = next
}

// repairTally aggregates one remediation pass for the cycle summary.
type repairTally struct {
	fixed          int
	attempted      int
	strategiesUsed map[string]int
	strategyFixes  map[string]int
	handled        []schemas.Issue
	improvements   []string
}

// bestStrategy returns the strategy with the highest success ratio this
// cycle, preferring more uses and then name order on ties.
func (t repairTally) bestStrategy() string {
	names := make([]string, 0, len(t.strategiesUsed))
	for name := range t.strategiesUsed {
		names = append(names, name)
	}
	sort.Strings(names)

	best := ""
	bestRatio := -1.0
	bestUses := 0
	for _, name := range names {
		uses := t.strategiesUsed[name]
		ratio := float64(t.strategyFixes[name]) / float64(uses)
		if ratio > bestRatio || (ratio == bestRatio && uses > bestUses) {
			best, bestRatio, bestUses = name, ratio, uses
		}
	}
	return best
}

// remediate walks the strategy chain over the open backlog and folds the
// attempt ledger into state. Verified fixes leave the backlog; everything
// else rolls into the next cycle.
func (l *Loop) remediate(ctx context.Context, logStart int, clog *zap.Logger) repairTally {
	tally := repairTally{
		strategiesUsed: map[string]int{},
		strategyFixes:  map[string]int{},
	}
	if len(l.state.CurrentErrors) == 0 {
		return tally
	}

	open := make([]*schemas.Issue, len(l.state.CurrentErrors))
	for i := range l.state.CurrentErrors {
		open[i] = &l.state.CurrentErrors[i]
	}

	fixed, records := l.deps.Remediator.Remediate(ctx, open)
	l.state.TotalErrorsFixed += fixed
	l.state.RepairHistory = append(l.state.RepairHistory, records...)
	tally.fixed = fixed

	attempted := make(map[string]struct{})
	fixedBy := make(map[string]string, fixed)
	fixedAt := make(map[string]time.Time, fixed)
	for _, rec := range records {
		if rec.Outcome == schemas.OutcomeRateLimited {
			continue
		}
		attempted[rec.IssueID] = struct{}{}
		tally.strategiesUsed[rec.Strategy]++
		if rec.Success {
			tally.strategyFixes[rec.Strategy]++
			fixedBy[rec.IssueID] = rec.Strategy
			fixedAt[rec.IssueID] = rec.Timestamp
		}
	}
	tally.attempted = len(attempted)

	// Snapshot of the handled set, with the attempt bookkeeping the engine
	// wrote into the issues.
	tally.handled = append([]schemas.Issue(nil), l.state.CurrentErrors...)

	kept := l.state.CurrentErrors[:0]
	for _, issue := range l.state.CurrentErrors {
		strategy, ok := fixedBy[issue.ID]
		if !ok {
			kept = append(kept, issue)
			continue
		}
		l.markFixed(logStart, issue, strategy, fixedAt[issue.ID])
		tally.improvements = append(tally.improvements,
			fmt.Sprintf("fixed %s on %s", issue.Signature, issue.TargetURL))
		clog.Info("Issue repaired.",
			zap.String("signature", issue.Signature),
			zap.String("target", issue.TargetURL),
			zap.String("strategy", strategy))
	}
	l.state.CurrentErrors = kept
	return tally
}

// markFixed flips this cycle's log entry for the issue so pattern analysis
// sees the repair.
func (l *Loop) markFixed(logStart int, issue schemas.Issue, strategy string, at time.Time) {
	for i := logStart; i < len(l.state.IssueLog); i++ {
		entry := &l.state.IssueLog[i]
		if entry.Fixed || entry.Signature != issue.Signature || entry.TargetURL != issue.TargetURL {
			continue
		}
		entry.Fixed = true
		entry.FixedBy = strategy
		if at.After(entry.DetectedAt) {
			entry.FixDuration = at.Sub(entry.DetectedAt)
		}
		return
	}
}

// validateTargets runs the check battery against every target in turn and
// keeps the weakest report as the cycle verdict: one failing surface means
// the system is not healthy. Per-metric worst values across targets feed the
// trend series.
func (l *Loop) validateTargets(ctx context.Context, clog *zap.Logger) (*schemas.ComprehensiveValidationReport, map[string]float64) {
	metrics := map[string]float64{}
	var worst *schemas.ComprehensiveValidationReport

	for _, target := range l.targets {
		if ctx.Err() != nil {
			return worst, metrics
		}
		report, err := l.deps.Validator.Validate(ctx, target)
		if err != nil {
			clog.Warn("Validation interrupted.",
				zap.String("target", target.URL), zap.Error(err))
			return worst, metrics
		}
		collectMetrics(report, metrics)
		if worst == nil || report.OverallScore < worst.OverallScore {
			worst = report
		}
	}

	if worst != nil {
		metrics["overall_score"] = worst.OverallScore
	}
	return worst, metrics
}

// trendedDetails maps check measurements worth tracking over time to their
// metric names in cycle analytics.
var trendedDetails = map[string]struct{ key, metric string }{
	"load_time":       {"load_ms", "load_time_ms"},
	"api_health":      {"latency_ms", "api_latency_ms"},
	"memory_headroom": {"usage", "heap_usage"},
}

// collectMetrics pulls trended measurements out of check details. The worst
// value across targets wins; every trended measurement reads lower-is-better.
func collectMetrics(report *schemas.ComprehensiveValidationReport, metrics map[string]float64) {
	for _, res := range report.Results {
		td, ok := trendedDetails[res.TestID]
		if !ok {
			continue
		}
		v, ok := detailFloat(res.Details, td.key)
		if !ok {
			continue
		}
		if cur, seen := metrics[td.metric]; !seen || v > cur {
			metrics[td.metric] = v
		}
	}
}

// detailFloat reads a numeric check detail regardless of how the check typed
// it.
func detailFloat(details map[string]any, key string) (float64, bool) {
	switch v := details[key].(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	}
	return 0, false
}

// report assembles the cycle summary, derives the coarse status, and hands
// everything to the analyst. A sink failure is logged and absorbed.
func (l *Loop) report(ctx context.Context, start time.Time, detected int, tally repairTally,
	validation *schemas.ComprehensiveValidationReport, metrics map[string]float64, clog *zap.Logger) *schemas.ComprehensiveReport {

	now := time.Now().UTC()
	cycle := schemas.CycleAnalytics{
		CycleNumber:           l.state.CycleCount,
		Timestamp:             now,
		Duration:              time.Since(start),
		ErrorsDetected:        detected,
		ErrorsFixed:           tally.fixed,
		IssuesAttempted:       tally.attempted,
		PerformanceMetrics:    metrics,
		StrategiesUsed:        tally.strategiesUsed,
		MostEffectiveStrategy: tally.bestStrategy(),
		Issues:                tally.handled,
		Improvements:          tally.improvements,
	}
	if tally.attempted > 0 {
		cycle.FixSuccessRate = float64(tally.fixed) / float64(tally.attempted) * 100
	}
	metrics["fix_success_rate"] = cycle.FixSuccessRate

	l.appendCycle(cycle)

	l.state.ErrorsFree = len(l.state.CurrentErrors) == 0
	if l.state.ErrorsFree {
		l.state.LastSuccessfulCycle = now
	}
	l.state.SystemStatus = l.deriveStatus(validation)

	report := l.deps.Analyst.Analyze(l.state, cycle, validation)
	if err := l.deps.Sink.WriteReport(ctx, report); err != nil {
		clog.Error("Writing report failed.", zap.Error(err))
	}
	return report
}

// appendCycle records the cycle summary and prunes history and the issue log
// to their retention caps.
func (l *Loop) appendCycle(cycle schemas.CycleAnalytics) {
	l.state.CycleHistory = append(l.state.CycleHistory, cycle)
	if n := l.cfg.Analytics.MaxCycles; n > 0 && len(l.state.CycleHistory) > n {
		l.state.CycleHistory = append(l.state.CycleHistory[:0], l.state.CycleHistory[len(l.state.CycleHistory)-n:]...)
	}
	if n := l.cfg.Analytics.MaxLogEntries; n > 0 && len(l.state.IssueLog) > n {
		l.state.IssueLog = append(l.state.IssueLog[:0], l.state.IssueLog[len(l.state.IssueLog)-n:]...)
	}
}

// deriveStatus folds the backlog and the validation verdict into the coarse
// status: critical when a critical issue stays open or saves keep failing,
// degraded when anything is open or validation failed, healthy otherwise.
func (l *Loop) deriveStatus(validation *schemas.ComprehensiveValidationReport) schemas.SystemStatus {
	if l.persistFailures >= 2 {
		return schemas.StatusCritical
	}
	for _, issue := range l.state.CurrentErrors {
		if issue.Severity == schemas.SeverityCritical {
			return schemas.StatusCritical
		}
	}
	if len(l.state.CurrentErrors) > 0 {
		return schemas.StatusDegraded
	}
	if validation != nil && !validation.Passed {
		return schemas.StatusDegraded
	}
	return schemas.StatusHealthy
}

// escalate files tracker issues for critical backlog entries that exhausted
// their repair attempts and have recurred across enough cycles. An escalation
// failure is logged and the loop moves on.
func (l *Loop) escalate(ctx context.Context, report *schemas.ComprehensiveReport, clog *zap.Logger) {
	if l.deps.Escalator == nil {
		return
	}

	needed := max(l.cfg.Escalation.AfterCycles, 1)
	handled := make(map[string]bool)
	for _, issue := range l.state.CurrentErrors {
		if issue.Severity != schemas.SeverityCritical || handled[issue.Signature] {
			continue
		}
		if issue.RepairAttempts < l.cfg.Remediation.MaxRepairAttempts {
			continue
		}
		if l.cyclesObserved(issue) < needed {
			continue
		}
		handled[issue.Signature] = true

		group := make([]schemas.Issue, 0, 1)
		for _, open := range l.state.CurrentErrors {
			if open.Signature == issue.Signature {
				group = append(group, open)
			}
		}
		if err := l.deps.Escalator.Escalate(ctx, patternFor(report, issue), group); err != nil {
			clog.Warn("Escalation failed.",
				zap.String("signature", issue.Signature), zap.Error(err))
		}
	}
}

// cyclesObserved counts how many cycles have logged this defect. One entry is
// appended per observation per cycle, so the count is the number of cycles
// the issue has persisted within log retention.
func (l *Loop) cyclesObserved(issue schemas.Issue) int {
	n := 0
	for _, entry := range l.state.IssueLog {
		if entry.Signature == issue.Signature && entry.TargetURL == issue.TargetURL {
			n++
		}
	}
	return n
}

// patternFor pulls the analyzed cluster for the signature, synthesizing a
// minimal one when the analysis window no longer covers it.
func patternFor(report *schemas.ComprehensiveReport, issue schemas.Issue) schemas.ErrorPattern {
	if report != nil {
		for _, p := range report.Patterns {
			if p.Signature == issue.Signature {
				return p
			}
		}
	}
	return schemas.ErrorPattern{
		Signature:           issue.Signature,
		Category:            issue.Category,
		Severity:            issue.Severity,
		Frequency:           1,
		RecommendedStrategy: "reload",
	}
}

// persist saves state, counting consecutive failures so repeated ones can
// surface in the derived status. A failed save never stops the loop.
func (l *Loop) persist(ctx context.Context, clog *zap.Logger) {
	if err := l.deps.Store.Save(ctx, l.state); err != nil {
		l.persistFailures++
		clog.Error("Persisting state failed.",
			zap.Int("consecutive_failures", l.persistFailures), zap.Error(err))
		return
	}
	l.persistFailures = 0
}
