// internal/netprobe/prober.go
package netprobe

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/suture-cli/internal/config"
)

const (
	userAgent = "suture-cli/0.1"

	// bodySampleLimit bounds how much of a response a plain Probe reads.
	bodySampleLimit = 4 << 10

	maxRedirects = 10
)

// TLSInfo is the certificate summary captured from an HTTPS probe.
type TLSInfo struct {
	Version     string    `json:"version"`
	CipherSuite string    `json:"cipher_suite"`
	Subject     string    `json:"subject"`
	Issuer      string    `json:"issuer"`
	NotBefore   time.Time `json:"not_before"`
	NotAfter    time.Time `json:"not_after"`
	DNSNames    []string  `json:"dns_names,omitempty"`
}

// ProbeResult is what one HTTP round trip against a target looked like.
// A non-2xx status is reported here, not as an error; errors mean the
// request never completed.
type ProbeResult struct {
	URL           string        `json:"url"`
	FinalURL      string        `json:"final_url"`
	StatusCode    int           `json:"status_code"`
	Status        string        `json:"status"`
	Latency       time.Duration `json:"latency"`
	Headers       http.Header   `json:"headers"`
	RedirectCount int           `json:"redirect_count"`
	BodySize      int64         `json:"body_size"`
	TLS           *TLSInfo      `json:"tls,omitempty"`
}

// Prober issues rate-limited plain HTTP requests against monitored hosts.
// It backs the API detection probes and the network-facing validation
// checks; browser traffic never goes through it.
type Prober struct {
	transport http.RoundTripper
	limiter   *rate.Limiter
	cfg       config.NetworkConfig
	logger    *zap.Logger
}

// NewProber builds a prober honoring the network configuration's rate limit
// and TLS settings.
func NewProber(cfg config.NetworkConfig, logger *zap.Logger) *Prober {
	if logger == nil {
		logger = zap.NewNop()
	}

	limit := rate.Inf
	burst := 1
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
		if cfg.RequestsPerSecond > 1 {
			burst = int(cfg.RequestsPerSecond)
		}
	}

	return &Prober{
		transport: NewTransport(cfg),
		limiter:   rate.NewLimiter(limit, burst),
		cfg:       cfg,
		logger:    logger.Named("netprobe"),
	}
}

// Probe performs a GET against rawURL and summarizes the exchange. The body
// is sampled and discarded.
func (p *Prober) Probe(ctx context.Context, rawURL string) (*ProbeResult, error) {
	result, _, err := p.fetch(ctx, rawURL, bodySampleLimit)
	return result, err
}

// FetchBody performs a GET and additionally returns up to limit bytes of the
// decoded response body.
func (p *Prober) FetchBody(ctx context.Context, rawURL string, limit int64) (*ProbeResult, []byte, error) {
	if limit <= 0 {
		limit = bodySampleLimit
	}
	return p.fetch(ctx, rawURL, limit)
}

func (p *Prober) fetch(ctx context.Context, rawURL string, bodyLimit int64) (*ProbeResult, []byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, nil, fmt.Errorf("probe target %q is not an absolute URL", rawURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, nil, fmt.Errorf("probe target %q uses unsupported scheme %q", rawURL, u.Scheme)
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, nil, fmt.Errorf("rate limiter: %w", err)
	}

	redirects := 0
	client := &http.Client{
		Transport: p.transport,
		Timeout:   p.cfg.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			redirects = len(via)
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("building probe request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	for k, v := range p.cfg.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return nil, nil, fmt.Errorf("probe of %s failed: %w", rawURL, err)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, bodyLimit))
	if readErr != nil {
		p.logger.Debug("Response body truncated by read error.",
			zap.String("url", rawURL), zap.Error(readErr))
	}

	result := &ProbeResult{
		URL:           rawURL,
		FinalURL:      resp.Request.URL.String(),
		StatusCode:    resp.StatusCode,
		Status:        resp.Status,
		Latency:       latency,
		Headers:       resp.Header,
		RedirectCount: redirects,
		BodySize:      int64(len(body)),
	}

	if resp.TLS != nil {
		info := &TLSInfo{
			Version:     tls.VersionName(resp.TLS.Version),
			CipherSuite: tls.CipherSuiteName(resp.TLS.CipherSuite),
		}
		if len(resp.TLS.PeerCertificates) > 0 {
			cert := resp.TLS.PeerCertificates[0]
			info.Subject = cert.Subject.CommonName
			info.Issuer = cert.Issuer.CommonName
			info.NotBefore = cert.NotBefore
			info.NotAfter = cert.NotAfter
			info.DNSNames = cert.DNSNames
		}
		result.TLS = info
	}

	p.logger.Debug("Probe complete.",
		zap.String("url", rawURL),
		zap.Int("status", result.StatusCode),
		zap.Duration("latency", latency))

	return result, body, nil
}
