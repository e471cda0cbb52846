// internal/remedy/strategy.go

package remedy

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/xkilldash9x/suture-cli/api/schemas"
)

// Strategy names, in chain order.
const (
	StrategyReload         = "reload"
	StrategyClearCache     = "clear_cache"
	StrategyRestartSession = "restart_session"
	StrategyInjectScript   = "inject_script"
	StrategyPatchDOM       = "patch_dom"
	StrategyBackendRestart = "backend_restart"
)

// Strategy is one repair technique. Strategies form an ascending-priority
// chain per issue; the first verified success stops the walk.
type Strategy struct {
	Name     string
	Priority int

	// Cooldown spaces runs of this strategy against the same target; zero
	// means no gate.
	Cooldown time.Duration

	// Applicable reports whether this strategy can plausibly address issue.
	Applicable func(issue *schemas.Issue) bool

	// Apply performs the repair against target.
	Apply func(ctx context.Context, target schemas.Target, issue *schemas.Issue) error
}

// buildRegistry assembles the standard strategy chain, closing over the
// engine for its surgeon, restart hook, and script tables.
func (e *Engine) buildRegistry() []Strategy {
	return []Strategy{
		{
			Name:     StrategyReload,
			Priority: 1,
			Applicable: func(issue *schemas.Issue) bool {
				return pageIssue(issue) && categoryIn(issue,
					schemas.CategoryConsole, schemas.CategoryNetwork,
					schemas.CategoryPerformance, schemas.CategoryUI)
			},
			Apply: func(ctx context.Context, target schemas.Target, _ *schemas.Issue) error {
				return e.surgeon.Reload(ctx, target, false)
			},
		},
		{
			Name:     StrategyClearCache,
			Priority: 2,
			Applicable: func(issue *schemas.Issue) bool {
				return pageIssue(issue) && categoryIn(issue,
					schemas.CategoryConsole, schemas.CategoryNetwork,
					schemas.CategoryPerformance)
			},
			Apply: func(ctx context.Context, target schemas.Target, _ *schemas.Issue) error {
				return e.surgeon.ClearState(ctx, target)
			},
		},
		{
			Name:     StrategyRestartSession,
			Priority: 3,
			Applicable: func(issue *schemas.Issue) bool {
				return pageIssue(issue) && categoryIn(issue,
					schemas.CategoryConsole, schemas.CategoryNetwork,
					schemas.CategoryPerformance, schemas.CategoryUI)
			},
			Apply: func(ctx context.Context, target schemas.Target, _ *schemas.Issue) error {
				return e.surgeon.FreshSession(ctx, target)
			},
		},
		{
			Name:     StrategyInjectScript,
			Priority: 4,
			Applicable: func(issue *schemas.Issue) bool {
				if !pageIssue(issue) {
					return false
				}
				_, ok := e.injections[issue.Signature]
				return ok
			},
			Apply: func(ctx context.Context, target schemas.Target, issue *schemas.Issue) error {
				return e.surgeon.RunScript(ctx, target, e.injections[issue.Signature])
			},
		},
		{
			Name:     StrategyPatchDOM,
			Priority: 5,
			Applicable: func(issue *schemas.Issue) bool {
				if !pageIssue(issue) || !categoryIn(issue, schemas.CategoryUI, schemas.CategoryAccessibility) {
					return false
				}
				_, ok := e.patches[issue.Signature]
				return ok
			},
			Apply: func(ctx context.Context, target schemas.Target, issue *schemas.Issue) error {
				return e.surgeon.RunScript(ctx, target, e.patches[issue.Signature])
			},
		},
		{
			Name:     StrategyBackendRestart,
			Priority: 6,
			Cooldown: e.cfg.Remediation.BackendRestartCooldown,
			Applicable: func(issue *schemas.Issue) bool {
				return backendFault(issue)
			},
			Apply: func(ctx context.Context, target schemas.Target, _ *schemas.Issue) error {
				return e.restart.Restart(ctx, target)
			},
		},
	}
}

// applicableStrategies filters the registry for issue and orders the result
// by ascending priority.
func (e *Engine) applicableStrategies(issue *schemas.Issue) []Strategy {
	var out []Strategy
	for _, strat := range e.registry {
		if strat.Applicable(issue) {
			out = append(out, strat)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// serverErrorPattern spots 5xx mentions in issue messages; the signature
// alone does not separate 4xx from 5xx.
var serverErrorPattern = regexp.MustCompile(`(?i)\bHTTP[ /]?5\d{2}\b`)

// backendFault reports whether the issue points at the backend itself rather
// than the page, which is what a restart can address.
func backendFault(issue *schemas.Issue) bool {
	if issue.Category != schemas.CategoryNetwork && issue.Category != schemas.CategoryAPI {
		return false
	}
	return issue.Signature == "BACKEND_PANIC" || serverErrorPattern.MatchString(issue.Message)
}

// pageIssue reports whether the issue lives on a navigable page. Browser
// strategies cannot operate on probe results or backend log lines.
func pageIssue(issue *schemas.Issue) bool {
	if issue.Source == "api_probe" || issue.Source == "backend_log" {
		return false
	}
	return strings.HasPrefix(issue.TargetURL, "http://") || strings.HasPrefix(issue.TargetURL, "https://")
}

func categoryIn(issue *schemas.Issue, categories ...schemas.IssueCategory) bool {
	for _, category := range categories {
		if issue.Category == category {
			return true
		}
	}
	return false
}

// targetFor reconstructs the observation target an issue belongs to. Probe
// and backend findings verify through the API path; everything else reloads
// in a browser.
func targetFor(issue *schemas.Issue) schemas.Target {
	target := schemas.Target{Name: issue.TargetURL, URL: issue.TargetURL, Type: schemas.TargetUI}
	if issue.Category == schemas.CategoryAPI || issue.Source == "api_probe" || issue.Source == "backend_log" {
		target.Type = schemas.TargetAPI
	}
	return target
}
