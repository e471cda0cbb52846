// Package validate runs the post-remediation check battery: independent
// checks across functional, performance, security, accessibility, ui and api
// categories, folded into one scored report per target. Checks never abort
// each other; a check that errors or panics contributes a zero score and the
// rest of the battery completes.
package validate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/suture-cli/api/schemas"
	"github.com/xkilldash9x/suture-cli/internal/browser"
	"github.com/xkilldash9x/suture-cli/internal/config"
	"github.com/xkilldash9x/suture-cli/internal/inspect"
	"github.com/xkilldash9x/suture-cli/internal/netprobe"
)

// outcome is what one check reports back before thresholds are applied.
type outcome struct {
	Score           float64
	Message         string
	Details         map[string]any
	Recommendations []string
}

type checkFunc func(ctx context.Context, target schemas.Target, ev *evidence) (outcome, error)

// check is one battery entry. Page checks need a browser capture and only
// run for ui targets; the rest run for every target type.
type check struct {
	id       string
	category schemas.CheckCategory
	priority schemas.CheckPriority
	pageOnly bool
	run      checkFunc
}

// Engine owns the battery and the evidence gathering that feeds it.
type Engine struct {
	logger  *zap.Logger
	cfg     *config.Config
	manager *browser.Manager
	prober  *netprobe.Prober
	battery []check
}

var _ schemas.Validator = (*Engine)(nil)

// NewEngine builds a validation engine over the shared browser pool and
// prober. manager may be nil, in which case page checks report missing
// evidence instead of opening sessions.
func NewEngine(cfg *config.Config, manager *browser.Manager, prober *netprobe.Prober, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		logger:  logger.Named("validate"),
		cfg:     cfg,
		manager: manager,
		prober:  prober,
	}
	e.battery = e.buildBattery()
	return e
}

// buildBattery lists the checks in report order.
func (e *Engine) buildBattery() []check {
	return []check{
		{id: "page_load", category: schemas.CheckFunctional, priority: schemas.PriorityCritical, pageOnly: true, run: e.checkPageLoad},
		{id: "internal_links", category: schemas.CheckFunctional, priority: schemas.PriorityMedium, pageOnly: true, run: e.checkInternalLinks},
		{id: "form_readiness", category: schemas.CheckFunctional, priority: schemas.PriorityMedium, pageOnly: true, run: e.checkFormReadiness},
		{id: "load_time", category: schemas.CheckPerformance, priority: schemas.PriorityHigh, pageOnly: true, run: e.checkLoadTime},
		{id: "memory_headroom", category: schemas.CheckPerformance, priority: schemas.PriorityMedium, pageOnly: true, run: e.checkMemoryHeadroom},
		{id: "page_weight", category: schemas.CheckPerformance, priority: schemas.PriorityLow, pageOnly: true, run: e.checkPageWeight},
		{id: "security_headers", category: schemas.CheckSecurity, priority: schemas.PriorityHigh, run: e.checkSecurityHeaders},
		{id: "tls_certificate", category: schemas.CheckSecurity, priority: schemas.PriorityHigh, run: e.checkTLSCertificate},
		{id: "auth_token_hygiene", category: schemas.CheckSecurity, priority: schemas.PriorityMedium, pageOnly: true, run: e.checkTokenHygiene},
		{id: "accessibility_audit", category: schemas.CheckAccessibility, priority: schemas.PriorityHigh, pageOnly: true, run: e.checkAccessibility},
		{id: "landmark_structure", category: schemas.CheckAccessibility, priority: schemas.PriorityMedium, pageOnly: true, run: e.checkLandmarks},
		{id: "structural_integrity", category: schemas.CheckUI, priority: schemas.PriorityMedium, pageOnly: true, run: e.checkStructure},
		{id: "console_hygiene", category: schemas.CheckUI, priority: schemas.PriorityMedium, pageOnly: true, run: e.checkConsoleHygiene},
		{id: "api_health", category: schemas.CheckAPI, priority: schemas.PriorityCritical, run: e.checkAPIHealth},
		{id: "sitemap_integrity", category: schemas.CheckAPI, priority: schemas.PriorityLow, pageOnly: true, run: e.checkSitemap},
	}
}

// Validate gathers evidence for the target and runs every applicable check,
// bounded by the configured concurrency. Only a cancelled context is an
// error; unhealthy targets come back as low scores, not failures.
func (e *Engine) Validate(ctx context.Context, target schemas.Target) (*schemas.ComprehensiveValidationReport, error) {
	started := time.Now()
	ev := e.gather(ctx, target)

	var applicable []check
	for _, c := range e.battery {
		if c.pageOnly && target.Type != schemas.TargetUI {
			continue
		}
		applicable = append(applicable, c)
	}

	results := make([]schemas.ValidationResult, len(applicable))

	limit := e.cfg.Validation.Concurrency
	if limit <= 0 {
		limit = 4
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, c := range applicable {
		i, c := i, c
		g.Go(func() error {
			results[i] = e.runCheck(gctx, c, target, ev)
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	report := e.assemble(target, results)
	e.logger.Info("Validation battery complete.",
		zap.String("target", target.URL),
		zap.Float64("score", report.OverallScore),
		zap.Bool("passed", report.Passed),
		zap.Strings("failed_checks", report.FailedChecks),
		zap.Duration("took", time.Since(started)))
	return report, nil
}

// runCheck executes one check, folding errors and panics into a zero-score
// result so the rest of the battery is unaffected.
func (e *Engine) runCheck(ctx context.Context, c check, target schemas.Target, ev *evidence) (res schemas.ValidationResult) {
	started := time.Now()
	res = schemas.ValidationResult{
		TestID:   c.id,
		Category: c.category,
		Priority: c.priority,
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Validation check panicked.",
				zap.String("check", c.id), zap.Any("panic", r))
			res.Passed = false
			res.Score = 0
			res.Message = fmt.Sprintf("check panicked: %v", r)
		}
		res.Duration = time.Since(started)
	}()

	out, err := c.run(ctx, target, ev)
	if err != nil {
		e.logger.Warn("Validation check could not run.",
			zap.String("check", c.id), zap.Error(err))
		res.Message = err.Error()
		return res
	}

	res.Score = clampScore(out.Score)
	res.Message = out.Message
	res.Details = out.Details
	res.Recommendations = out.Recommendations
	res.Passed = res.Score >= e.passThreshold()
	return res
}

// assemble reduces per-check results into the report: mean scores, the
// failed-check list, and the overall verdict. A failed critical check vetoes
// the pass regardless of the mean.
func (e *Engine) assemble(target schemas.Target, results []schemas.ValidationResult) *schemas.ComprehensiveValidationReport {
	report := &schemas.ComprehensiveValidationReport{
		Target:         target.URL,
		GeneratedAt:    time.Now().UTC(),
		Results:        results,
		CategoryScores: make(map[schemas.CheckCategory]float64),
	}

	var sum float64
	counts := make(map[schemas.CheckCategory]int)
	criticalFailed := false
	for _, r := range results {
		sum += r.Score
		report.CategoryScores[r.Category] += r.Score
		counts[r.Category]++
		if !r.Passed {
			report.FailedChecks = append(report.FailedChecks, r.TestID)
			if r.Priority == schemas.PriorityCritical {
				criticalFailed = true
			}
		}
	}
	if len(results) > 0 {
		report.OverallScore = sum / float64(len(results))
	}
	for cat, total := range report.CategoryScores {
		report.CategoryScores[cat] = total / float64(counts[cat])
	}
	report.Passed = report.OverallScore >= e.passThreshold() && !criticalFailed
	report.SystemHealth = schemas.HealthForScore(report.OverallScore)
	return report
}

func (e *Engine) passThreshold() float64 {
	if e.cfg.Validation.PassThreshold > 0 {
		return e.cfg.Validation.PassThreshold
	}
	return 70
}

// evidence is the shared capture one battery run works from. Gathering is
// best-effort: any field may be missing, and each check scores only what it
// depends on.
type evidence struct {
	probe    *netprobe.ProbeResult
	probeErr error

	// page is the browser-side half, nil for api targets and when the engine
	// has no browser pool.
	page *pageCapture
}

// pageCapture is everything one validation load of the page produced.
type pageCapture struct {
	err          error // session open or navigation failure
	loadDuration time.Duration

	observations []browser.Observation
	perf         *browser.PerformanceSnapshot
	structure    *inspect.PageStructure
	violations   []inspect.A11yViolation
	readiness    *inspect.FormReadiness
	storage      *browser.StorageSnapshot
}

// loadedPage returns the browser capture, or an error when the battery ran
// without one or the load itself failed.
func (ev *evidence) loadedPage() (*pageCapture, error) {
	if ev.page == nil {
		return nil, errors.New("no browser capture for this target")
	}
	if ev.page.err != nil {
		return nil, ev.page.err
	}
	return ev.page, nil
}

// gather captures the battery's raw material: one transport probe of the
// target, plus a full browser pass for page targets.
func (e *Engine) gather(ctx context.Context, target schemas.Target) *evidence {
	ev := &evidence{}
	ev.probe, ev.probeErr = e.prober.Probe(ctx, target.URL)

	if target.Type == schemas.TargetUI && e.manager != nil {
		ev.page = e.capturePage(ctx, target)
	}
	return ev
}

// capturePage loads the target once and collects everything the page checks
// read: timing, DOM, audit results, storage, and the session's fault events.
func (e *Engine) capturePage(ctx context.Context, target schemas.Target) *pageCapture {
	pc := &pageCapture{}

	session, err := e.manager.OpenSession(ctx, target)
	if err != nil {
		pc.err = fmt.Errorf("validation session could not open: %w", err)
		return pc
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if cerr := session.Close(closeCtx); cerr != nil {
			e.logger.Debug("Validation session close failed.", zap.Error(cerr))
		}
	}()

	started := time.Now()
	if err := session.Navigate(ctx, target.URL); err != nil {
		pc.err = fmt.Errorf("validation load failed: %w", err)
		pc.observations = session.Observations()
		return pc
	}
	pc.loadDuration = time.Since(started)

	budget := e.cfg.Detection.ProbeTimeout
	if budget <= 0 {
		budget = 5 * time.Second
	}

	perfCtx, cancel := context.WithTimeout(ctx, budget)
	if perf, err := session.CollectPerformance(perfCtx); err == nil {
		pc.perf = perf
	} else {
		e.logger.Debug("Performance capture failed.", zap.Error(err))
	}
	cancel()

	domCtx, cancel := context.WithTimeout(ctx, budget)
	if html, err := session.CollectHTML(domCtx); err == nil {
		if ps, perr := inspect.ParsePage(target.URL, strings.NewReader(html)); perr == nil {
			pc.structure = ps
		} else {
			e.logger.Debug("DOM snapshot did not parse.", zap.Error(perr))
		}
	} else {
		e.logger.Debug("DOM capture failed.", zap.Error(err))
	}
	cancel()

	auditCtx, cancel := context.WithTimeout(ctx, budget)
	var violations []inspect.A11yViolation
	if err := session.Evaluate(auditCtx, inspect.AccessibilityAuditScript, &violations); err == nil {
		if violations == nil {
			violations = []inspect.A11yViolation{}
		}
		pc.violations = violations
	} else {
		e.logger.Debug("Accessibility audit failed.", zap.Error(err))
	}
	var readiness inspect.FormReadiness
	if err := session.Evaluate(auditCtx, inspect.RequiredFieldsScript, &readiness); err == nil {
		pc.readiness = &readiness
	} else {
		e.logger.Debug("Form readiness audit failed.", zap.Error(err))
	}
	cancel()

	storageCtx, cancel := context.WithTimeout(ctx, budget)
	if snap, err := session.CollectStorage(storageCtx); err == nil {
		pc.storage = snap
	} else {
		e.logger.Debug("Storage capture failed.", zap.Error(err))
	}
	cancel()

	pc.observations = session.Observations()
	return pc
}

// scoreAgainstBudget maps a lower-is-better measurement onto [0,100]: full
// marks at or under budget, falling linearly to zero at three times it.
func scoreAgainstBudget(value, budget float64) float64 {
	if budget <= 0 || value <= budget {
		return 100
	}
	if value >= 3*budget {
		return 0
	}
	return 100 * (3*budget - value) / (2 * budget)
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}
