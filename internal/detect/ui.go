// internal/detect/ui.go

package detect

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/api/schemas"
	"github.com/xkilldash9x/suture-cli/internal/browser"
	"github.com/xkilldash9x/suture-cli/internal/config"
	"github.com/xkilldash9x/suture-cli/internal/inspect"
)

// scanUI observes one page target through a browser session: navigate, hold
// the observation window open for async faults, then run the active probes.
// Every failure mode degrades into issues; the slice is never abandoned
// half-built.
func (e *Engine) scanUI(ctx context.Context, target schemas.Target, window time.Duration) []schemas.Issue {
	session, err := e.manager.OpenSession(ctx, target)
	if err != nil {
		e.logger.Warn("Could not open monitoring session.",
			zap.String("target", target.Name),
			zap.Error(err))
		return []schemas.Issue{newIssue(schemas.CategoryUI, schemas.SeverityCritical,
			fmt.Sprintf("monitoring session could not open: %v", err),
			"session", target.URL, "session open failure")}
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if cerr := session.Close(closeCtx); cerr != nil {
			e.logger.Debug("Session close reported an error.", zap.Error(cerr))
		}
	}()

	var issues []schemas.Issue

	if err := session.Navigate(ctx, target.URL); err != nil {
		issues = append(issues, newIssue(schemas.CategoryNetwork, schemas.SeverityCritical,
			fmt.Sprintf("page failed to load: %v", err),
			"navigation", target.URL, err.Error()))
		// Whatever the collector caught before the failure is still evidence.
		return append(issues, mapObservations(session.Observations(), target)...)
	}

	// Deferred scripts and background requests fail after load; keep the
	// session open so the collector sees them.
	select {
	case <-time.After(window):
	case <-ctx.Done():
		return append(issues, mapObservations(session.Observations(), target)...)
	}

	issues = append(issues, mapObservations(session.Observations(), target)...)
	issues = append(issues, e.performanceIssues(ctx, session, target)...)
	issues = append(issues, e.structureIssues(ctx, session, target)...)
	issues = append(issues, e.accessibilityIssues(ctx, session, target)...)
	return issues
}

// mapObservations turns collector events into issues. Exceptions outrank
// console errors; 5xx subresources outrank 4xx.
func mapObservations(observations []browser.Observation, target schemas.Target) []schemas.Issue {
	issues := make([]schemas.Issue, 0, len(observations))
	for _, obs := range observations {
		var (
			category schemas.IssueCategory
			severity schemas.Severity
		)
		switch obs.Kind {
		case browser.ObsException:
			category, severity = schemas.CategoryConsole, schemas.SeverityCritical
		case browser.ObsConsoleError:
			category, severity = schemas.CategoryConsole, schemas.SeverityHigh
		case browser.ObsHTTPError:
			category, severity = schemas.CategoryNetwork, schemas.SeverityHigh
			if obs.Status >= 500 {
				severity = schemas.SeverityCritical
			}
		case browser.ObsRequestFailed:
			category, severity = schemas.CategoryNetwork, schemas.SeverityHigh
		default:
			continue
		}

		source := obs.Source
		if obs.URL != "" {
			source = obs.URL
		}
		issues = append(issues, newIssue(category, severity, obs.Text, source, target.URL, obs.Text))
	}
	return issues
}

// performanceIssues samples navigation timing and heap usage and applies the
// configured thresholds.
func (e *Engine) performanceIssues(ctx context.Context, session *browser.Session, target schemas.Target) []schemas.Issue {
	probeCtx, cancel := context.WithTimeout(ctx, e.cfg.Detection.ProbeTimeout)
	defer cancel()

	perf, err := session.CollectPerformance(probeCtx)
	if err != nil {
		e.logger.Debug("Performance probe failed.",
			zap.String("target", target.Name),
			zap.Error(err))
		return nil
	}
	return evaluatePerformance(perf, e.cfg.Detection, target)
}

func evaluatePerformance(perf *browser.PerformanceSnapshot, cfg config.DetectionConfig, target schemas.Target) []schemas.Issue {
	var issues []schemas.Issue

	if cfg.LoadTimeThreshold > 0 && perf.DOMContentLoaded > cfg.LoadTimeThreshold {
		issues = append(issues, newIssue(schemas.CategoryPerformance, schemas.SeverityMedium,
			fmt.Sprintf("page load slow: content loaded in %s against a %s budget",
				perf.DOMContentLoaded.Round(time.Millisecond), cfg.LoadTimeThreshold),
			"navigation_timing", target.URL, "page load slow"))
	}

	if cfg.HeapUsageThreshold > 0 {
		if ratio := perf.HeapUsageRatio(); ratio > cfg.HeapUsageThreshold {
			issues = append(issues, newIssue(schemas.CategoryPerformance, schemas.SeverityHigh,
				fmt.Sprintf("JS heap usage at %.0f%% of the %.0fMB limit",
					ratio*100, float64(perf.JSHeapLimit)/(1<<20)),
				"memory", target.URL, "heap usage over threshold"))
		}
	}
	return issues
}

// structureIssues snapshots the DOM and checks the landmark skeleton plus
// form readiness.
func (e *Engine) structureIssues(ctx context.Context, session *browser.Session, target schemas.Target) []schemas.Issue {
	probeCtx, cancel := context.WithTimeout(ctx, e.cfg.Detection.ProbeTimeout)
	defer cancel()

	var issues []schemas.Issue

	htmlDoc, err := session.CollectHTML(probeCtx)
	if err != nil {
		e.logger.Debug("DOM snapshot failed.", zap.String("target", target.Name), zap.Error(err))
	} else if page, perr := inspect.ParsePage(target.URL, strings.NewReader(htmlDoc)); perr != nil {
		e.logger.Debug("DOM parse failed.", zap.String("target", target.Name), zap.Error(perr))
	} else if issue, ok := landmarkIssue(page, e.cfg.Detection.RequiredLandmarks, target); ok {
		issues = append(issues, issue)
	}

	var readiness inspect.FormReadiness
	if err := session.Evaluate(probeCtx, inspect.RequiredFieldsScript, &readiness); err != nil {
		e.logger.Debug("Form readiness probe failed.", zap.String("target", target.Name), zap.Error(err))
	} else if issue, ok := formReadinessIssue(readiness, target); ok {
		issues = append(issues, issue)
	}

	return issues
}

// landmarkIssue aggregates every absent landmark into one issue per target so
// recurrence tracking sees a single defect with a single signature.
func landmarkIssue(page *inspect.PageStructure, required []string, target schemas.Target) (schemas.Issue, bool) {
	missing := page.MissingLandmarks(required)
	if len(missing) == 0 {
		return schemas.Issue{}, false
	}
	msg := fmt.Sprintf("missing required landmarks: %s", strings.Join(missing, ", "))
	return newIssue(schemas.CategoryUI, schemas.SeverityHigh, msg, "dom_structure", target.URL, msg), true
}

func formReadinessIssue(readiness inspect.FormReadiness, target schemas.Target) (schemas.Issue, bool) {
	if readiness.DisabledVisible == 0 {
		return schemas.Issue{}, false
	}
	msg := fmt.Sprintf("required form fields disabled but visible: %s",
		strings.Join(readiness.Names, ", "))
	return newIssue(schemas.CategoryUI, schemas.SeverityMedium, msg,
		"form_readiness", target.URL, "required form fields disabled"), true
}

// accessibilityIssues runs the in-page audit and maps each violated rule to
// an issue at the severity its impact implies.
func (e *Engine) accessibilityIssues(ctx context.Context, session *browser.Session, target schemas.Target) []schemas.Issue {
	probeCtx, cancel := context.WithTimeout(ctx, e.cfg.Detection.ProbeTimeout)
	defer cancel()

	var violations []inspect.A11yViolation
	if err := session.Evaluate(probeCtx, inspect.AccessibilityAuditScript, &violations); err != nil {
		e.logger.Debug("Accessibility audit failed.",
			zap.String("target", target.Name),
			zap.Error(err))
		return nil
	}
	return mapViolations(violations, target)
}

func mapViolations(violations []inspect.A11yViolation, target schemas.Target) []schemas.Issue {
	issues := make([]schemas.Issue, 0, len(violations))
	for _, v := range violations {
		issues = append(issues, newIssue(schemas.CategoryAccessibility, inspect.SeverityForImpact(v.Impact),
			fmt.Sprintf("accessibility violation %s: %s (%d nodes)", v.Rule, v.Description, v.Nodes),
			"a11y_audit", target.URL,
			fmt.Sprintf("accessibility violation %s", v.Rule)))
	}
	return issues
}
