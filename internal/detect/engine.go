// internal/detect/engine.go

// Package detect is the issue detection engine: one sweep opens a browser
// session per UI target and a rate-limited probe per API target, collects
// passive fault events and active probe results, folds in backend log
// faults, and returns the merged issue list ordered by severity. It also
// answers the absence queries the remediation engine uses to verify fixes.
package detect

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/suture-cli/api/schemas"
	"github.com/xkilldash9x/suture-cli/internal/browser"
	"github.com/xkilldash9x/suture-cli/internal/config"
	"github.com/xkilldash9x/suture-cli/internal/netprobe"
	"github.com/xkilldash9x/suture-cli/internal/signature"
)

// Engine runs detection sweeps. Safe for concurrent use; per-target scans
// share only the browser pool and the prober's rate limiter.
type Engine struct {
	logger  *zap.Logger
	cfg     *config.Config
	manager *browser.Manager
	prober  *netprobe.Prober
	logs    *LogWatch // nil when no backend log is configured
}

var (
	_ schemas.Detector = (*Engine)(nil)
	_ schemas.Verifier = (*Engine)(nil)
)

// NewEngine wires a detection engine. logs may be nil.
func NewEngine(cfg *config.Config, manager *browser.Manager, prober *netprobe.Prober, logs *LogWatch, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		logger:  logger.Named("detect"),
		cfg:     cfg,
		manager: manager,
		prober:  prober,
		logs:    logs,
	}
}

// Detect sweeps every target concurrently and returns the merged issue list,
// most severe first. A target that cannot be observed yields a synthetic
// issue describing the monitoring failure; detection itself never aborts the
// cycle.
func (e *Engine) Detect(ctx context.Context, targets []schemas.Target) ([]schemas.Issue, error) {
	var (
		mu  sync.Mutex
		all []schemas.Issue
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Browser.PoolSize)

	for _, target := range targets {
		target := target
		g.Go(func() error {
			issues := e.scanTarget(gctx, target, e.cfg.Detection.ObservationWindow)
			if len(issues) > 0 {
				mu.Lock()
				all = append(all, issues...)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if e.logs != nil {
		all = append(all, e.backendIssues()...)
	}

	merged := mergeDuplicates(all)
	sortBySeverity(merged)

	e.logger.Info("Detection sweep complete.",
		zap.Int("targets", len(targets)),
		zap.Int("issues", len(merged)))
	return merged, nil
}

// VerifyAbsence re-observes a single target for the window and reports
// whether the signature stayed gone. Used after a repair action to decide
// whether it actually worked.
func (e *Engine) VerifyAbsence(ctx context.Context, target schemas.Target, sig string, window time.Duration) (bool, error) {
	if window <= 0 {
		window = e.cfg.Remediation.VerificationWindow
	}

	// Backend log issues verify against fresh log lines, not a page scan.
	if e.logs != nil && target.URL == e.logs.path {
		return e.verifyLogQuiet(ctx, sig, window)
	}

	issues := e.scanTarget(ctx, target, window)
	if err := ctx.Err(); err != nil {
		return false, err
	}

	for _, issue := range issues {
		if issue.Signature == sig {
			return false, nil
		}
	}
	return true, nil
}

// verifyLogQuiet waits out the window and reports whether the backend log
// produced another line with the signature. Unrelated fault lines drained in
// the process go back to the buffer for the next sweep.
func (e *Engine) verifyLogQuiet(ctx context.Context, sig string, window time.Duration) (bool, error) {
	select {
	case <-time.After(window):
	case <-ctx.Done():
		return false, ctx.Err()
	}

	lines := e.logs.Drain()
	recurred := false
	kept := lines[:0]
	for _, line := range lines {
		if signature.Extract(line) == sig {
			recurred = true
			continue
		}
		kept = append(kept, line)
	}
	e.logs.Restore(kept)
	return !recurred, nil
}

func (e *Engine) scanTarget(ctx context.Context, target schemas.Target, window time.Duration) []schemas.Issue {
	if target.Type == schemas.TargetAPI {
		return e.scanAPI(ctx, target)
	}
	return e.scanUI(ctx, target, window)
}

// backendIssues converts fault lines drained from the backend log into
// issues attributed to the log itself.
func (e *Engine) backendIssues() []schemas.Issue {
	lines := e.logs.Drain()
	issues := make([]schemas.Issue, 0, len(lines))
	for _, line := range lines {
		sig := signature.Extract(line)
		severity := schemas.SeverityHigh
		if sig == "BACKEND_PANIC" {
			severity = schemas.SeverityCritical
		}
		issues = append(issues, schemas.Issue{
			ID:         uuid.New().String(),
			Category:   schemas.CategoryAPI,
			Severity:   severity,
			Message:    fmt.Sprintf("backend log fault: %s", truncate(line, 300)),
			Source:     "backend_log",
			TargetURL:  e.logs.path,
			DetectedAt: time.Now().UTC(),
			Signature:  sig,
		})
	}
	return issues
}

// newIssue stamps a fresh issue. signatureText is classified separately from
// the display message so decorated messages cannot destabilize signatures.
func newIssue(category schemas.IssueCategory, severity schemas.Severity, message, source, targetURL, signatureText string) schemas.Issue {
	return schemas.Issue{
		ID:         uuid.New().String(),
		Category:   category,
		Severity:   severity,
		Message:    message,
		Source:     source,
		TargetURL:  targetURL,
		DetectedAt: time.Now().UTC(),
		Signature:  signature.Extract(signatureText),
	}
}

// mergeDuplicates collapses issues sharing (TargetURL, Signature) within one
// sweep. The surviving entry carries the highest severity seen.
func mergeDuplicates(issues []schemas.Issue) []schemas.Issue {
	merged := make([]schemas.Issue, 0, len(issues))
	index := make(map[string]int, len(issues))

	for _, issue := range issues {
		key := issue.TargetURL + "|" + issue.Signature
		at, ok := index[key]
		if !ok {
			index[key] = len(merged)
			merged = append(merged, issue)
			continue
		}
		if issue.Severity.Rank() > merged[at].Severity.Rank() {
			detectedAt := merged[at].DetectedAt
			merged[at] = issue
			merged[at].DetectedAt = detectedAt
		}
	}
	return merged
}

// sortBySeverity orders critical first, preserving detection order within a
// severity level.
func sortBySeverity(issues []schemas.Issue) {
	sort.SliceStable(issues, func(i, j int) bool {
		return issues[i].Severity.Rank() > issues[j].Severity.Rank()
	})
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
