// internal/validate/checks_page.go
package validate

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/xkilldash9x/suture-cli/api/schemas"
	"github.com/xkilldash9x/suture-cli/internal/browser"
)

// maxLinkProbes caps how many internal links one battery run follows.
const maxLinkProbes = 10

// maxTokenLifetime is the issued-to-expiry span beyond which a stored
// session token counts as a hygiene finding.
const maxTokenLifetime = 30 * 24 * time.Hour

// checkPageLoad verifies the document loaded in a real browser and rendered
// something.
func (e *Engine) checkPageLoad(ctx context.Context, target schemas.Target, ev *evidence) (outcome, error) {
	if ev.page == nil {
		return outcome{}, errors.New("no browser capture for this target")
	}
	if ev.page.err != nil {
		return outcome{
			Message:         fmt.Sprintf("page failed to load: %v", ev.page.err),
			Recommendations: []string{"confirm the target URL is reachable from the monitor host"},
		}, nil
	}

	det := map[string]any{"load_duration_ms": ev.page.loadDuration.Milliseconds()}
	if ev.page.structure != nil && ev.page.structure.TextLength == 0 {
		return outcome{
			Score:           25,
			Message:         "page loaded but rendered no visible text",
			Details:         det,
			Recommendations: []string{"check for a client-side rendering failure or an empty response body"},
		}, nil
	}
	return outcome{
		Score:   100,
		Message: fmt.Sprintf("page loaded in %s", ev.page.loadDuration.Round(time.Millisecond)),
		Details: det,
	}, nil
}

// checkInternalLinks probes a sample of same-host links found in the DOM.
func (e *Engine) checkInternalLinks(ctx context.Context, target schemas.Target, ev *evidence) (outcome, error) {
	pc, err := ev.loadedPage()
	if err != nil {
		return outcome{}, err
	}
	if pc.structure == nil {
		return outcome{}, errors.New("no DOM snapshot to extract links from")
	}

	links := pc.structure.InternalLinks
	if len(links) == 0 {
		return outcome{Score: 100, Message: "page has no internal links"}, nil
	}
	sample := links
	if len(sample) > maxLinkProbes {
		sample = sample[:maxLinkProbes]
	}

	var broken []string
	for _, link := range sample {
		if ctx.Err() != nil {
			return outcome{}, ctx.Err()
		}
		res, perr := e.prober.Probe(ctx, link)
		if perr != nil || res.StatusCode >= 400 {
			broken = append(broken, link)
		}
	}

	out := outcome{
		Score:   100 * float64(len(sample)-len(broken)) / float64(len(sample)),
		Message: fmt.Sprintf("%d of %d sampled internal links respond", len(sample)-len(broken), len(sample)),
		Details: map[string]any{"sampled": len(sample), "total": len(links)},
	}
	if len(broken) > 0 {
		out.Details["broken"] = broken
		out.Recommendations = []string{"fix or remove internal links that return errors"}
	}
	return out, nil
}

// checkFormReadiness scores whether required form fields accept input.
func (e *Engine) checkFormReadiness(ctx context.Context, target schemas.Target, ev *evidence) (outcome, error) {
	pc, err := ev.loadedPage()
	if err != nil {
		return outcome{}, err
	}
	if pc.readiness == nil {
		return outcome{}, errors.New("form readiness audit did not run")
	}

	r := pc.readiness
	if r.Required == 0 {
		return outcome{Score: 100, Message: "page has no required form fields"}, nil
	}
	if r.DisabledVisible == 0 {
		return outcome{
			Score:   100,
			Message: fmt.Sprintf("all %d required fields accept input", r.Required),
		}, nil
	}
	return outcome{
		Score:           100 * float64(r.Required-r.DisabledVisible) / float64(r.Required),
		Message:         fmt.Sprintf("%d of %d required fields are disabled but visible", r.DisabledVisible, r.Required),
		Details:         map[string]any{"fields": r.Names},
		Recommendations: []string{"enable required fields or hide them until they apply"},
	}, nil
}

// checkLoadTime scores navigation timing against the configured budget.
func (e *Engine) checkLoadTime(ctx context.Context, target schemas.Target, ev *evidence) (outcome, error) {
	pc, err := ev.loadedPage()
	if err != nil {
		return outcome{}, err
	}
	budget := e.cfg.Detection.LoadTimeThreshold
	if budget <= 0 {
		return outcome{Score: 100, Message: "load time budget disabled"}, nil
	}

	load := pc.loadDuration
	if pc.perf != nil && pc.perf.LoadTime > 0 {
		load = pc.perf.LoadTime
	}

	out := outcome{
		Score:   scoreAgainstBudget(float64(load), float64(budget)),
		Message: fmt.Sprintf("page loaded in %s against a %s budget", load.Round(time.Millisecond), budget),
		Details: map[string]any{"load_ms": load.Milliseconds(), "budget_ms": budget.Milliseconds()},
	}
	if out.Score < 100 {
		out.Recommendations = []string{"profile slow resources and defer non-critical assets"}
	}
	return out, nil
}

// checkMemoryHeadroom scores JS heap usage against its limit.
func (e *Engine) checkMemoryHeadroom(ctx context.Context, target schemas.Target, ev *evidence) (outcome, error) {
	pc, err := ev.loadedPage()
	if err != nil {
		return outcome{}, err
	}
	if pc.perf == nil {
		return outcome{}, errors.New("no heap figures captured")
	}

	ratio := pc.perf.HeapUsageRatio()
	if ratio == 0 {
		return outcome{Score: 100, Message: "browser did not report heap figures"}, nil
	}

	threshold := e.cfg.Detection.HeapUsageThreshold
	if threshold <= 0 || threshold >= 1 {
		threshold = 0.8
	}
	det := map[string]any{
		"heap_used_mb":  pc.perf.UsedJSHeap >> 20,
		"heap_limit_mb": pc.perf.JSHeapLimit >> 20,
		"usage":         ratio,
	}
	if ratio <= threshold {
		return outcome{
			Score:   100,
			Message: fmt.Sprintf("JS heap at %.0f%% of its limit", ratio*100),
			Details: det,
		}, nil
	}
	// Above the threshold, headroom shrinks linearly toward zero at full usage.
	return outcome{
		Score:           100 * (1 - ratio) / (1 - threshold),
		Message:         fmt.Sprintf("JS heap at %.0f%% of its limit", ratio*100),
		Details:         det,
		Recommendations: []string{"profile the page for leaked references or unbounded caches"},
	}, nil
}

// checkPageWeight scores total transfer size against the configured budget.
func (e *Engine) checkPageWeight(ctx context.Context, target schemas.Target, ev *evidence) (outcome, error) {
	pc, err := ev.loadedPage()
	if err != nil {
		return outcome{}, err
	}
	if pc.perf == nil {
		return outcome{}, errors.New("no transfer figures captured")
	}
	if pc.perf.PageWeight <= 0 {
		return outcome{Score: 100, Message: "browser reported no transfer sizes"}, nil
	}

	budget := e.cfg.Validation.PageWeightBudget
	if budget <= 0 {
		budget = 5 << 20
	}
	out := outcome{
		Score: scoreAgainstBudget(float64(pc.perf.PageWeight), float64(budget)),
		Message: fmt.Sprintf("page transferred %dKB across %d resources",
			pc.perf.PageWeight>>10, pc.perf.ResourceCount),
		Details: map[string]any{
			"weight_kb": pc.perf.PageWeight >> 10,
			"budget_kb": budget >> 10,
			"resources": pc.perf.ResourceCount,
		},
	}
	if out.Score < 100 {
		out.Recommendations = []string{"compress or lazy-load the heaviest resources"}
	}
	return out, nil
}

// a11yWeights prices one violating node per audit impact level.
var a11yWeights = map[string]float64{
	"critical": 25,
	"serious":  10,
	"moderate": 5,
	"minor":    2,
}

// checkAccessibility turns the in-page audit into a weighted score.
func (e *Engine) checkAccessibility(ctx context.Context, target schemas.Target, ev *evidence) (outcome, error) {
	pc, err := ev.loadedPage()
	if err != nil {
		return outcome{}, err
	}
	if pc.violations == nil {
		return outcome{}, errors.New("accessibility audit did not run")
	}
	if len(pc.violations) == 0 {
		return outcome{Score: 100, Message: "no accessibility violations"}, nil
	}

	var deduction float64
	rules := make(map[string]any, len(pc.violations))
	for _, v := range pc.violations {
		weight, ok := a11yWeights[v.Impact]
		if !ok {
			weight = 2
		}
		deduction += weight * float64(v.Nodes)
		rules[v.Rule] = v.Nodes
	}
	return outcome{
		Score:           100 - deduction,
		Message:         fmt.Sprintf("%d accessibility rules violated", len(pc.violations)),
		Details:         map[string]any{"rules": rules},
		Recommendations: []string{"run a full accessibility audit and fix the flagged nodes"},
	}, nil
}

// checkLandmarks scores the page's structural landmarks against the
// configured requirements.
func (e *Engine) checkLandmarks(ctx context.Context, target schemas.Target, ev *evidence) (outcome, error) {
	pc, err := ev.loadedPage()
	if err != nil {
		return outcome{}, err
	}
	if pc.structure == nil {
		return outcome{}, errors.New("no DOM snapshot to inspect landmarks in")
	}

	required := e.cfg.Detection.RequiredLandmarks
	if len(required) == 0 {
		return outcome{Score: 100, Message: "no landmarks required"}, nil
	}
	missing := pc.structure.MissingLandmarks(required)
	if len(missing) == 0 {
		return outcome{
			Score:   100,
			Message: fmt.Sprintf("all %d required landmarks present", len(required)),
		}, nil
	}
	return outcome{
		Score:           100 * float64(len(required)-len(missing)) / float64(len(required)),
		Message:         "missing landmarks: " + strings.Join(missing, ", "),
		Details:         map[string]any{"missing": missing},
		Recommendations: []string{"add the missing landmark elements or equivalent ARIA roles"},
	}, nil
}

// checkStructure verifies the basic shape of the rendered document: a title,
// visible text, and no template syntax leaking through.
func (e *Engine) checkStructure(ctx context.Context, target schemas.Target, ev *evidence) (outcome, error) {
	pc, err := ev.loadedPage()
	if err != nil {
		return outcome{}, err
	}
	if pc.structure == nil {
		return outcome{}, errors.New("no DOM snapshot to inspect")
	}

	ps := pc.structure
	var faults []string
	if ps.Title == "" {
		faults = append(faults, "document has no title")
	}
	if ps.TextLength == 0 {
		faults = append(faults, "page renders no visible text")
	}
	if len(ps.TemplateMarkers) > 0 {
		faults = append(faults, "unrendered template syntax: "+strings.Join(ps.TemplateMarkers, " "))
	}

	if len(faults) == 0 {
		return outcome{Score: 100, Message: "document structure intact"}, nil
	}
	return outcome{
		Score:           100 * float64(3-len(faults)) / 3,
		Message:         strings.Join(faults, "; "),
		Details:         map[string]any{"faults": faults},
		Recommendations: []string{"fix the rendering pipeline for this page"},
	}, nil
}

// checkConsoleHygiene scores the fault events the validation load produced.
func (e *Engine) checkConsoleHygiene(ctx context.Context, target schemas.Target, ev *evidence) (outcome, error) {
	pc, err := ev.loadedPage()
	if err != nil {
		return outcome{}, err
	}

	var exceptions, consoleErrors int
	for _, obs := range pc.observations {
		switch obs.Kind {
		case browser.ObsException:
			exceptions++
		case browser.ObsConsoleError:
			consoleErrors++
		}
	}
	if exceptions == 0 && consoleErrors == 0 {
		return outcome{Score: 100, Message: "console clean during validation load"}, nil
	}
	return outcome{
		Score: 100 - float64(25*exceptions+10*consoleErrors),
		Message: fmt.Sprintf("%d exceptions and %d console errors during validation load",
			exceptions, consoleErrors),
		Details:         map[string]any{"exceptions": exceptions, "console_errors": consoleErrors},
		Recommendations: []string{"resolve the logged errors before they surface as defects"},
	}, nil
}

// jwtPattern spots the three dot-separated base64url segments of a JWT.
var jwtPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]*$`)

// parserUnverified inspects token contents without checking signatures; the
// battery never holds signing keys.
var parserUnverified = new(jwt.Parser)

// storedToken is a JWT found in client storage.
type storedToken struct {
	Where string // cookie, localStorage, sessionStorage
	Key   string
	Value string
}

// checkTokenHygiene decodes every JWT found in cookies and web storage and
// flags unsigned, expired, and overly long-lived tokens.
func (e *Engine) checkTokenHygiene(ctx context.Context, target schemas.Target, ev *evidence) (outcome, error) {
	pc, err := ev.loadedPage()
	if err != nil {
		return outcome{}, err
	}
	if pc.storage == nil {
		return outcome{}, errors.New("no storage snapshot captured")
	}

	tokens := collectTokens(pc.storage)
	if len(tokens) == 0 {
		return outcome{Score: 100, Message: "no bearer tokens in client storage"}, nil
	}

	now := time.Now()
	var findings []string
	var deduction float64
	for _, tok := range tokens {
		f, d := tokenFindings(tok, now)
		findings = append(findings, f...)
		deduction += d
	}

	if len(findings) == 0 {
		return outcome{
			Score:   100,
			Message: fmt.Sprintf("%d stored tokens look healthy", len(tokens)),
			Details: map[string]any{"tokens": len(tokens)},
		}, nil
	}
	return outcome{
		Score:   100 - deduction,
		Message: fmt.Sprintf("%d token hygiene findings across %d stored tokens", len(findings), len(tokens)),
		Details: map[string]any{"tokens": len(tokens), "findings": findings},
		Recommendations: []string{
			"expire and rotate stale session tokens on the server",
			"reject unsigned tokens at the API boundary",
		},
	}, nil
}

// collectTokens scans a storage snapshot for JWT-shaped values, in a stable
// order.
func collectTokens(snap *browser.StorageSnapshot) []storedToken {
	var out []storedToken
	for _, c := range snap.Cookies {
		if c != nil && jwtPattern.MatchString(c.Value) {
			out = append(out, storedToken{Where: "cookie", Key: c.Name, Value: c.Value})
		}
	}
	for k, v := range snap.LocalStorage {
		if jwtPattern.MatchString(v) {
			out = append(out, storedToken{Where: "localStorage", Key: k, Value: v})
		}
	}
	for k, v := range snap.SessionStorage {
		if jwtPattern.MatchString(v) {
			out = append(out, storedToken{Where: "sessionStorage", Key: k, Value: v})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Where != out[j].Where {
			return out[i].Where < out[j].Where
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// tokenFindings decodes one stored token and returns its hygiene findings
// with the score deduction they cost. Values that merely look like JWTs but
// do not parse are ignored.
func tokenFindings(tok storedToken, now time.Time) (findings []string, deduction float64) {
	parsed, _, err := parserUnverified.ParseUnverified(tok.Value, jwt.MapClaims{})
	if err != nil {
		return nil, 0
	}

	where := fmt.Sprintf("%s %q", tok.Where, tok.Key)
	if alg, ok := parsed.Header["alg"].(string); ok && strings.EqualFold(alg, "none") {
		findings = append(findings, where+": token is unsigned (alg none)")
		deduction += 50
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return findings, deduction
	}
	exp, expErr := claims.GetExpirationTime()
	switch {
	case expErr != nil || exp == nil:
		findings = append(findings, where+": token has no expiration claim")
		deduction += 15
	case exp.Before(now):
		findings = append(findings, where+": expired token still stored")
		deduction += 25
	default:
		if iat, iatErr := claims.GetIssuedAt(); iatErr == nil && iat != nil {
			if lifetime := exp.Sub(iat.Time); lifetime > maxTokenLifetime {
				findings = append(findings, fmt.Sprintf("%s: token lifetime %s exceeds %s",
					where, lifetime.Round(time.Hour), maxTokenLifetime))
				deduction += 15
			}
		}
	}
	return findings, deduction
}
