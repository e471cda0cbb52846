// internal/browser/session.go
package browser

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/api/schemas"
	"github.com/xkilldash9x/suture-cli/internal/config"
)

// Session represents an active browser session (a tab) pinned to a single
// monitored target.
type Session struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
	cfg    *config.Config
	target schemas.Target

	collector *Collector

	onClose func()

	mu       sync.Mutex
	isClosed bool
}

// StorageSnapshot captures cookies and web storage for token hygiene checks.
type StorageSnapshot struct {
	Cookies        []*network.Cookie
	LocalStorage   map[string]string
	SessionStorage map[string]string
}

// PerformanceSnapshot is the page's own view of its load timing and memory.
type PerformanceSnapshot struct {
	LoadTime         time.Duration
	DOMContentLoaded time.Duration
	PageWeight       int64
	ResourceCount    int
	UsedJSHeap       int64
	TotalJSHeap      int64
	JSHeapLimit      int64
}

// HeapUsageRatio returns used/limit, or 0 when the browser did not report a
// heap limit.
func (p PerformanceSnapshot) HeapUsageRatio() float64 {
	if p.JSHeapLimit <= 0 {
		return 0
	}
	return float64(p.UsedJSHeap) / float64(p.JSHeapLimit)
}

// NewSession creates a new Session wrapper around an allocated tab context.
func NewSession(
	ctx context.Context,
	cancel context.CancelFunc,
	target schemas.Target,
	cfg *config.Config,
	logger *zap.Logger,
) (*Session, error) {
	if cfg == nil {
		return nil, fmt.Errorf("session requires a configuration")
	}

	sessionID := uuid.New().String()
	sessionLogger := logger.With(
		zap.String("session_id", sessionID),
		zap.String("target", target.Name),
	)

	s := &Session{
		id:     sessionID,
		ctx:    ctx,
		cancel: cancel,
		logger: sessionLogger,
		cfg:    cfg,
		target: target,
	}

	return s, nil
}

// ID returns the unique identifier for the session.
func (s *Session) ID() string {
	return s.id
}

// Target returns the monitored target this session is pinned to.
func (s *Session) Target() schemas.Target {
	return s.target
}

// Initialize connects the tab, attaches the event collector and applies
// viewport and header configuration. It must be called before Navigate.
func (s *Session) Initialize(ctx context.Context) error {
	// 1. Ensure the target (tab) is created and CDP is connected.
	if err := s.runActions(ctx); err != nil {
		return fmt.Errorf("failed to initialize browser target connection: %w", err)
	}

	// 2. Attach the collector before any navigation so failures during the
	// initial load are observed too.
	s.collector = NewCollector(s.ctx, s.logger)
	if err := s.collector.Start(ctx); err != nil {
		return fmt.Errorf("failed to start event collector: %w", err)
	}

	var tasks chromedp.Tasks

	// 3. Viewport.
	if w, h := s.cfg.Browser.Viewport["width"], s.cfg.Browser.Viewport["height"]; w > 0 && h > 0 {
		tasks = append(tasks, chromedp.EmulateViewport(int64(w), int64(h)))
	}

	// 4. Custom headers.
	if len(s.cfg.Network.Headers) > 0 {
		headers := make(network.Headers)
		for k, v := range s.cfg.Network.Headers {
			headers[k] = v
		}
		tasks = append(tasks, network.SetExtraHTTPHeaders(headers))
	}

	if len(tasks) > 0 {
		if err := s.runActions(ctx, tasks); err != nil {
			return fmt.Errorf("failed to run session initialization tasks: %w", err)
		}
	}

	return nil
}

// Navigate loads the target URL and waits for the page to stabilize.
func (s *Session) Navigate(ctx context.Context, pageURL string) error {
	s.logger.Debug("Navigating to URL", zap.String("url", pageURL))

	opCtx, opCancel := CombineContext(s.ctx, ctx)
	defer opCancel()

	// Apply a specific timeout for the navigation action itself.
	navTimeout := s.cfg.Network.NavigationTimeout
	if navTimeout <= 0 {
		navTimeout = 90 * time.Second
	}
	navCtx, navCancel := context.WithTimeout(opCtx, navTimeout)
	defer navCancel()

	if err := chromedp.Run(navCtx, chromedp.Navigate(pageURL)); err != nil {
		if navCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("navigation timed out after %s: %w", navTimeout, err)
		}
		if opCtx.Err() != nil {
			return fmt.Errorf("navigation canceled: %w", opCtx.Err())
		}
		return fmt.Errorf("navigation failed: %w", err)
	}

	// Stabilize using the operation context, not navCtx, so a slow settle is
	// not cut short by the navigation timeout.
	if err := s.Settle(opCtx, 1500*time.Millisecond); err != nil {
		if opCtx.Err() != nil {
			return opCtx.Err()
		}
		s.logger.Warn("Page stabilization failed after navigation (non-critical).", zap.Error(err))
	}

	return nil
}

// Settle waits for the page state to settle (DOM ready and network idle).
func (s *Session) Settle(ctx context.Context, quietPeriod time.Duration) error {
	settleCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := chromedp.Run(settleCtx, chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Debug("WaitReady failed during stabilization.", zap.Error(err))
	}

	if s.collector != nil {
		if err := s.collector.WaitNetworkIdle(settleCtx, quietPeriod); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Debug("Network idle wait failed during stabilization.", zap.Error(err))
		}
	}
	return nil
}

// Reload refreshes the current page, optionally bypassing the browser cache,
// and waits for it to stabilize again.
func (s *Session) Reload(ctx context.Context, ignoreCache bool) error {
	s.logger.Debug("Reloading page", zap.Bool("ignore_cache", ignoreCache))

	opCtx, opCancel := CombineContext(s.ctx, ctx)
	defer opCancel()

	navTimeout := s.cfg.Network.NavigationTimeout
	if navTimeout <= 0 {
		navTimeout = 90 * time.Second
	}
	navCtx, navCancel := context.WithTimeout(opCtx, navTimeout)
	defer navCancel()

	reload := page.Reload().WithIgnoreCache(ignoreCache)
	if err := chromedp.Run(navCtx, reload); err != nil {
		if navCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("reload timed out after %s: %w", navTimeout, err)
		}
		return fmt.Errorf("reload failed: %w", err)
	}

	return s.Settle(opCtx, 1500*time.Millisecond)
}

// ClearBrowsingState drops cookies, cache and origin storage for the target.
func (s *Session) ClearBrowsingState(ctx context.Context) error {
	origin, err := originOf(s.target.URL)
	if err != nil {
		return fmt.Errorf("cannot derive origin for %q: %w", s.target.URL, err)
	}

	s.logger.Debug("Clearing browsing state", zap.String("origin", origin))

	return s.runActions(ctx,
		network.ClearBrowserCookies(),
		network.ClearBrowserCache(),
		chromedp.ActionFunc(func(c context.Context) error {
			return storage.ClearDataForOrigin(origin, "all").Do(c)
		}),
	)
}

// Evaluate runs a snippet of JavaScript in the current document and
// optionally unmarshals the result into res.
func (s *Session) Evaluate(ctx context.Context, script string, res interface{}) error {
	// chromedp.Evaluate handles the case where res is nil (no result expected).
	return s.runActions(ctx, chromedp.Evaluate(script, res))
}

// InjectScript runs a corrective script once in the current document.
func (s *Session) InjectScript(ctx context.Context, script string) error {
	return s.Evaluate(ctx, script, nil)
}

// InjectScriptPersistently adds a script that will be executed on all new
// documents in the session, surviving reloads.
func (s *Session) InjectScriptPersistently(ctx context.Context, script string) error {
	var scriptID page.ScriptIdentifier
	err := s.runActions(ctx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		scriptID, err = page.AddScriptToEvaluateOnNewDocument(script).Do(c)
		return err
	}))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("could not inject persistent script: %w", err)
	}
	s.logger.Debug("Injected persistent script.", zap.String("scriptID", string(scriptID)))
	return nil
}

// CollectHTML returns the serialized DOM of the current document.
func (s *Session) CollectHTML(ctx context.Context) (string, error) {
	var dom string
	if err := s.runActions(ctx, chromedp.OuterHTML("html", &dom, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("could not capture DOM: %w", err)
	}
	return dom, nil
}

// CollectStorage retrieves cookies and local/session storage.
func (s *Session) CollectStorage(ctx context.Context) (*StorageSnapshot, error) {
	snapshot := &StorageSnapshot{}

	err := s.runActions(ctx, chromedp.ActionFunc(func(c context.Context) error {
		cookies, err := network.GetCookies().Do(c)
		if err != nil {
			s.logger.Warn("Failed to get cookies via CDP.", zap.Error(err))
		}
		snapshot.Cookies = cookies
		return nil
	}))
	if err != nil {
		return nil, err
	}

	jsGetStorage := func(storageType string) string {
		return fmt.Sprintf(`(function() {
            let items = {};
            try {
                const s = window.%s;
                if (s) {
                    for (let i = 0; i < s.length; i++) {
                        const k = s.key(i);
                        if (k) { items[k] = s.getItem(k); }
                    }
                }
            } catch (e) { /* SecurityError or storage disabled */ }
            return items;
        })()`, storageType)
	}

	if err := s.runActions(ctx,
		chromedp.Evaluate(jsGetStorage("localStorage"), &snapshot.LocalStorage),
		chromedp.Evaluate(jsGetStorage("sessionStorage"), &snapshot.SessionStorage),
	); err != nil {
		s.logger.Warn("Could not capture Local/Session storage via JS.", zap.Error(err))
	}

	return snapshot, nil
}

// CollectPerformance reads navigation timing and JS heap figures from the
// page. Heap figures are zero on browsers without performance.memory.
func (s *Session) CollectPerformance(ctx context.Context) (*PerformanceSnapshot, error) {
	const script = `(function() {
        const out = { loadTime: 0, domContentLoaded: 0, pageWeight: 0, resourceCount: 0,
                      usedJSHeap: 0, totalJSHeap: 0, jsHeapLimit: 0 };
        try {
            const nav = performance.getEntriesByType('navigation')[0];
            if (nav) {
                out.loadTime = nav.loadEventEnd > 0 ? nav.loadEventEnd : nav.duration;
                out.domContentLoaded = nav.domContentLoadedEventEnd;
                out.pageWeight = nav.transferSize || 0;
            }
            const resources = performance.getEntriesByType('resource');
            out.resourceCount = resources.length;
            out.pageWeight += resources.reduce((sum, r) => sum + (r.transferSize || 0), 0);
            if (performance.memory) {
                out.usedJSHeap = performance.memory.usedJSHeapSize;
                out.totalJSHeap = performance.memory.totalJSHeapSize;
                out.jsHeapLimit = performance.memory.jsHeapSizeLimit;
            }
        } catch (e) { /* timing API unavailable */ }
        return out;
    })()`

	var raw struct {
		LoadTime         float64 `json:"loadTime"`
		DOMContentLoaded float64 `json:"domContentLoaded"`
		PageWeight       float64 `json:"pageWeight"`
		ResourceCount    int     `json:"resourceCount"`
		UsedJSHeap       float64 `json:"usedJSHeap"`
		TotalJSHeap      float64 `json:"totalJSHeap"`
		JSHeapLimit      float64 `json:"jsHeapLimit"`
	}
	if err := s.Evaluate(ctx, script, &raw); err != nil {
		return nil, fmt.Errorf("could not read performance timing: %w", err)
	}

	return &PerformanceSnapshot{
		LoadTime:         time.Duration(raw.LoadTime * float64(time.Millisecond)),
		DOMContentLoaded: time.Duration(raw.DOMContentLoaded * float64(time.Millisecond)),
		PageWeight:       int64(raw.PageWeight),
		ResourceCount:    raw.ResourceCount,
		UsedJSHeap:       int64(raw.UsedJSHeap),
		TotalJSHeap:      int64(raw.TotalJSHeap),
		JSHeapLimit:      int64(raw.JSHeapLimit),
	}, nil
}

// Observations drains the events collected since the last call.
func (s *Session) Observations() []Observation {
	if s.collector == nil {
		return nil
	}
	return s.collector.Drain()
}

// Close terminates the browser session gracefully.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return nil
	}
	s.isClosed = true
	s.mu.Unlock()

	s.logger.Debug("Closing browser session.")

	// 1. Stop the collector.
	if s.collector != nil {
		s.collector.Stop()
	}

	// 2. Cancel the session context.
	if s.cancel != nil {
		s.cancel()
	}

	// 3. Execute the onClose callback.
	if s.onClose != nil {
		s.onClose()
	}

	return nil
}

// runActions executes chromedp.Actions, ensuring they respect both the
// session lifetime (s.ctx) and the incoming request context (ctx).
func (s *Session) runActions(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()

	return chromedp.Run(runCtx, actions...)
}

// originOf reduces a URL to its scheme://host origin for storage clearing.
func originOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q has no scheme or host", rawURL)
	}
	return u.Scheme + "://" + u.Host, nil
}

// CombineContext creates a new context that is canceled when either parentCtx
// or secondaryCtx is canceled. Operations derived from it respect both the
// session lifecycle and specific request deadlines.
func CombineContext(parentCtx, secondaryCtx context.Context) (context.Context, context.CancelFunc) {
	combinedCtx, cancel := context.WithCancel(parentCtx)

	go func() {
		select {
		case <-secondaryCtx.Done():
			cancel()
		case <-combinedCtx.Done():
		}
	}()

	return combinedCtx, cancel
}
