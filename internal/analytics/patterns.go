// Package analytics clusters the issue log into recurring error patterns,
// fits trends over the recent cycle history, and assembles the comprehensive
// report the loop writes at the end of each cycle.
package analytics

import (
	"sort"
	"time"

	"github.com/xkilldash9x/suture-cli/api/schemas"
)

// preventionTable carries static prevention guidance per signature. Unknown
// signatures fall back to the generic advice.
var preventionTable = map[string][]string{
	"HTTP_ERROR": {
		"add upstream health checks and circuit breakers",
		"serve cached content while the origin recovers",
	},
	"CONNECTION_ERROR": {
		"verify DNS and liveness probes for the backend",
		"add client-side retry with backoff",
	},
	"TIMEOUT": {
		"tighten upstream timeouts and surface partial results",
		"profile the slowest handlers",
	},
	"REFERENCE_ERROR": {
		"bundle and version-pin frontend dependencies",
		"add a smoke test that loads every page script",
	},
	"UNDEFINED_ERROR": {
		"guard optional globals before use",
		"fail the build on unresolved imports",
	},
	"SYNTAX_ERROR": {
		"lint bundles in CI before deploying them",
	},
	"CSP_VIOLATION": {
		"keep the CSP allowlist in sync with asset origins",
	},
	"CORS_ERROR": {
		"pin allowed origins in the API gateway configuration",
	},
	"TLS_ERROR": {
		"automate certificate renewal",
		"monitor expiry from outside the origin",
	},
	"MEMORY_PRESSURE": {
		"profile heap growth under a soak test",
		"bound client-side caches",
	},
	"BACKEND_PANIC": {
		"add recovery middleware and alert on panic logs",
		"turn the panicking input into a regression test",
	},
	"MISSING_LANDMARK": {
		"render structural landmarks server-side so they never depend on client scripts",
	},
	"PAGE_LOAD_SLOW": {
		"budget page weight in CI",
		"lazy-load below-the-fold assets",
	},
	"API_RESPONSE_LATENCY": {
		"cache or index the hot endpoints",
	},
	"REQUIRED_FORM_FIELDS": {
		"gate field disabling on explicit UI state, not load order",
	},
}

var genericPrevention = []string{
	"add a regression test that reproduces the fault",
	"alert on the first recurrence rather than at the analysis window",
}

// defaultStrategy is recommended while no repair has succeeded yet.
const defaultStrategy = "reload"

// patternAccumulator collects one signature's occurrences before reduction.
type patternAccumulator struct {
	category   schemas.IssueCategory
	severity   schemas.Severity
	frequency  int
	fixed      int
	fixTime    time.Duration
	strategies map[string]int
}

// analyzePatterns groups the issue log entries inside the window by
// signature and reduces each group to an ErrorPattern. Patterns come back
// worst first: severity, then frequency, then signature.
func analyzePatterns(log []schemas.IssueLogEntry, window time.Duration, now time.Time) []schemas.ErrorPattern {
	cutoff := now.Add(-window)

	groups := make(map[string]*patternAccumulator)
	for _, entry := range log {
		if !entry.DetectedAt.After(cutoff) {
			continue
		}
		g := groups[entry.Signature]
		if g == nil {
			g = &patternAccumulator{
				category:   entry.Category,
				severity:   entry.Severity,
				strategies: make(map[string]int),
			}
			groups[entry.Signature] = g
		}
		g.frequency++
		if entry.Severity.Rank() > g.severity.Rank() {
			g.severity = entry.Severity
		}
		if entry.Fixed {
			g.fixed++
			g.fixTime += entry.FixDuration
			if entry.FixedBy != "" {
				g.strategies[entry.FixedBy]++
			}
		}
	}

	patterns := make([]schemas.ErrorPattern, 0, len(groups))
	for sig, g := range groups {
		p := schemas.ErrorPattern{
			Signature:           sig,
			Category:            g.category,
			Frequency:           g.frequency,
			Severity:            g.severity,
			SuccessRate:         100 * float64(g.fixed) / float64(g.frequency),
			RecommendedStrategy: topStrategy(g.strategies),
			Prevention:          preventionFor(sig),
		}
		if g.fixed > 0 {
			p.AvgFixTime = g.fixTime / time.Duration(g.fixed)
		}
		patterns = append(patterns, p)
	}

	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].Severity.Rank() != patterns[j].Severity.Rank() {
			return patterns[i].Severity.Rank() > patterns[j].Severity.Rank()
		}
		if patterns[i].Frequency != patterns[j].Frequency {
			return patterns[i].Frequency > patterns[j].Frequency
		}
		return patterns[i].Signature < patterns[j].Signature
	})
	return patterns
}

// topStrategy picks the most common successful strategy, breaking ties by
// name so reports stay stable.
func topStrategy(counts map[string]int) string {
	best := defaultStrategy
	bestCount := 0
	for _, name := range sortedKeys(counts) {
		if counts[name] > bestCount {
			best = name
			bestCount = counts[name]
		}
	}
	return best
}

func preventionFor(signature string) []string {
	if guidance, ok := preventionTable[signature]; ok {
		return guidance
	}
	return genericPrevention
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
