// internal/detect/api.go

package detect

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/xkilldash9x/suture-cli/api/schemas"
	"github.com/xkilldash9x/suture-cli/internal/config"
	"github.com/xkilldash9x/suture-cli/internal/netprobe"
)

// scanAPI probes one endpoint over plain HTTP. A transport failure is itself
// a critical finding; an HTTP response is evaluated against status and
// latency expectations.
func (e *Engine) scanAPI(ctx context.Context, target schemas.Target) []schemas.Issue {
	probeCtx, cancel := context.WithTimeout(ctx, e.probeBudget())
	defer cancel()

	result, err := e.prober.Probe(probeCtx, target.URL)
	if err != nil {
		return []schemas.Issue{newIssue(schemas.CategoryAPI, schemas.SeverityCritical,
			fmt.Sprintf("API endpoint unreachable: %v", err),
			"api_probe", target.URL, err.Error())}
	}
	return evaluateProbe(result, e.cfg.Detection, target)
}

// probeBudget leaves room for the network timeout plus the limiter wait.
func (e *Engine) probeBudget() time.Duration {
	budget := e.cfg.Network.Timeout
	if e.cfg.Detection.ProbeTimeout > budget {
		budget = e.cfg.Detection.ProbeTimeout
	}
	if budget <= 0 {
		budget = 30 * time.Second
	}
	return budget + 5*time.Second
}

func evaluateProbe(result *netprobe.ProbeResult, cfg config.DetectionConfig, target schemas.Target) []schemas.Issue {
	var issues []schemas.Issue

	switch {
	case result.StatusCode >= 500:
		msg := fmt.Sprintf("API endpoint returned HTTP %d %s",
			result.StatusCode, http.StatusText(result.StatusCode))
		issues = append(issues, newIssue(schemas.CategoryAPI, schemas.SeverityCritical,
			msg, "api_probe", target.URL, msg))
	case result.StatusCode >= 400:
		msg := fmt.Sprintf("API endpoint returned HTTP %d %s",
			result.StatusCode, http.StatusText(result.StatusCode))
		issues = append(issues, newIssue(schemas.CategoryAPI, schemas.SeverityHigh,
			msg, "api_probe", target.URL, msg))
	}

	if cfg.APILatencyThreshold > 0 && result.Latency > cfg.APILatencyThreshold {
		issues = append(issues, newIssue(schemas.CategoryPerformance, schemas.SeverityMedium,
			fmt.Sprintf("API response latency above threshold (%s > %s)",
				result.Latency.Round(time.Millisecond), cfg.APILatencyThreshold),
			"api_probe", target.URL, "API response latency above threshold"))
	}
	return issues
}
