// internal/validate/checks_transport.go
package validate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/beevik/etree"

	"github.com/xkilldash9x/suture-cli/api/schemas"
)

// sitemapFetchLimit bounds how much of /sitemap.xml the battery reads.
const sitemapFetchLimit = 512 << 10

// checkSecurityHeaders scores the hardening headers on the probe response.
func (e *Engine) checkSecurityHeaders(ctx context.Context, target schemas.Target, ev *evidence) (outcome, error) {
	if ev.probeErr != nil {
		return outcome{}, fmt.Errorf("target did not answer a probe: %w", ev.probeErr)
	}

	h := ev.probe.Headers
	csp := h.Get("Content-Security-Policy")

	var missing []string
	total, present := 0, 0
	consider := func(name string, ok bool) {
		total++
		if ok {
			present++
		} else {
			missing = append(missing, name)
		}
	}

	consider("Content-Security-Policy", csp != "")
	consider("X-Content-Type-Options",
		strings.EqualFold(strings.TrimSpace(h.Get("X-Content-Type-Options")), "nosniff"))
	consider("X-Frame-Options",
		h.Get("X-Frame-Options") != "" || strings.Contains(strings.ToLower(csp), "frame-ancestors"))
	consider("Referrer-Policy", h.Get("Referrer-Policy") != "")
	if strings.HasPrefix(ev.probe.FinalURL, "https://") {
		consider("Strict-Transport-Security", h.Get("Strict-Transport-Security") != "")
	}

	if len(missing) == 0 {
		return outcome{
			Score:   100,
			Message: fmt.Sprintf("all %d expected security headers present", total),
		}, nil
	}
	return outcome{
		Score:           100 * float64(present) / float64(total),
		Message:         fmt.Sprintf("%d of %d expected security headers missing", len(missing), total),
		Details:         map[string]any{"missing": missing},
		Recommendations: []string{"send the missing hardening headers from the edge or the application"},
	}, nil
}

// checkTLSCertificate scores certificate freshness and protocol version.
func (e *Engine) checkTLSCertificate(ctx context.Context, target schemas.Target, ev *evidence) (outcome, error) {
	if ev.probeErr != nil {
		return outcome{}, fmt.Errorf("target did not answer a probe: %w", ev.probeErr)
	}

	info := ev.probe.TLS
	if info == nil {
		if strings.HasPrefix(target.URL, "https://") {
			return outcome{}, errors.New("no TLS state captured for an https target")
		}
		return outcome{
			Score:           25,
			Message:         "target is served over plain http",
			Recommendations: []string{"serve the application over HTTPS"},
		}, nil
	}

	warning := e.cfg.Validation.CertExpiryWarning
	if warning <= 0 {
		warning = 720 * time.Hour
	}
	det := map[string]any{
		"subject":   info.Subject,
		"issuer":    info.Issuer,
		"not_after": info.NotAfter,
		"version":   info.Version,
	}

	now := time.Now()
	if now.After(info.NotAfter) {
		return outcome{
			Score:           0,
			Message:         fmt.Sprintf("certificate expired %s ago", now.Sub(info.NotAfter).Round(time.Hour)),
			Details:         det,
			Recommendations: []string{"renew the certificate immediately"},
		}, nil
	}

	remaining := info.NotAfter.Sub(now)
	score := 100.0
	msg := fmt.Sprintf("certificate valid for another %d days", int(remaining.Hours()/24))
	var recs []string
	if remaining < warning {
		// Falls from 70 toward zero as expiry approaches.
		score = 70 * remaining.Seconds() / warning.Seconds()
		msg = fmt.Sprintf("certificate expires in %d days", int(remaining.Hours()/24))
		recs = append(recs, "schedule a certificate renewal")
	}
	if info.Version == "TLS 1.0" || info.Version == "TLS 1.1" {
		if score > 40 {
			score = 40
		}
		recs = append(recs, fmt.Sprintf("disable legacy %s support", info.Version))
	}
	return outcome{Score: score, Message: msg, Details: det, Recommendations: recs}, nil
}

// checkAPIHealth requires a 2xx answer inside the latency budget. An
// unreachable or erroring endpoint is the finding, not a battery failure.
func (e *Engine) checkAPIHealth(ctx context.Context, target schemas.Target, ev *evidence) (outcome, error) {
	if ev.probeErr != nil {
		return outcome{
			Message:         fmt.Sprintf("endpoint unreachable: %v", ev.probeErr),
			Recommendations: []string{"confirm the service is up and resolvable from the monitor host"},
		}, nil
	}

	res := ev.probe
	budget := e.cfg.Validation.LatencyBudget
	if budget <= 0 {
		budget = 2 * time.Second
	}
	det := map[string]any{
		"status":     res.StatusCode,
		"latency_ms": res.Latency.Milliseconds(),
		"budget_ms":  budget.Milliseconds(),
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return outcome{
			Score:           0,
			Message:         fmt.Sprintf("endpoint answered HTTP %d", res.StatusCode),
			Details:         det,
			Recommendations: []string{"restore a 2xx response on the monitored endpoint"},
		}, nil
	}

	out := outcome{
		Score:   scoreAgainstBudget(float64(res.Latency), float64(budget)),
		Message: fmt.Sprintf("HTTP %d in %s", res.StatusCode, res.Latency.Round(time.Millisecond)),
		Details: det,
	}
	if out.Score < 100 {
		out.Recommendations = []string{"bring response latency back under the budget"}
	}
	return out, nil
}

// checkSitemap fetches /sitemap.xml for the target's origin and verifies it
// is well-formed XML whose URLs stay on the target's host.
func (e *Engine) checkSitemap(ctx context.Context, target schemas.Target, ev *evidence) (outcome, error) {
	base, err := url.Parse(target.URL)
	if err != nil || base.Host == "" {
		return outcome{}, fmt.Errorf("target url %q is not absolute", target.URL)
	}
	sitemapURL := base.Scheme + "://" + base.Host + "/sitemap.xml"

	res, body, err := e.prober.FetchBody(ctx, sitemapURL, sitemapFetchLimit)
	if err != nil {
		return outcome{}, fmt.Errorf("sitemap fetch failed: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		return outcome{
			Score:           50,
			Message:         fmt.Sprintf("no sitemap at /sitemap.xml (HTTP %d)", res.StatusCode),
			Recommendations: []string{"publish a sitemap so crawlers and the monitor can discover pages"},
		}, nil
	}
	if int64(len(body)) >= sitemapFetchLimit {
		return outcome{
			Score:   90,
			Message: fmt.Sprintf("sitemap exceeds the %dKB verification sample", sitemapFetchLimit>>10),
		}, nil
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return outcome{
			Score:           0,
			Message:         fmt.Sprintf("sitemap is not well-formed XML: %v", err),
			Recommendations: []string{"regenerate the sitemap; crawlers will reject it as-is"},
		}, nil
	}
	root := doc.Root()
	if root == nil || (root.Tag != "urlset" && root.Tag != "sitemapindex") {
		return outcome{
			Score:           25,
			Message:         "sitemap root element is neither urlset nor sitemapindex",
			Recommendations: []string{"emit the sitemap protocol's urlset or sitemapindex root"},
		}, nil
	}

	locs := doc.FindElements("//loc")
	if len(locs) == 0 {
		return outcome{Score: 90, Message: "sitemap is well-formed but lists no URLs"}, nil
	}

	var outOfScope, malformed int
	for _, loc := range locs {
		u, perr := url.Parse(strings.TrimSpace(loc.Text()))
		if perr != nil || u.Host == "" {
			malformed++
			continue
		}
		if !strings.EqualFold(u.Host, base.Host) {
			outOfScope++
		}
	}

	good := len(locs) - outOfScope - malformed
	out := outcome{
		Score:   100 * float64(good) / float64(len(locs)),
		Message: fmt.Sprintf("%d of %d sitemap URLs are well-formed and in scope", good, len(locs)),
		Details: map[string]any{"urls": len(locs)},
	}
	if outOfScope > 0 || malformed > 0 {
		out.Details["out_of_scope"] = outOfScope
		out.Details["malformed"] = malformed
		out.Recommendations = []string{"keep sitemap entries absolute and on the canonical host"}
	}
	return out, nil
}
