package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/xkilldash9x/suture-cli/api/schemas"
	"github.com/xkilldash9x/suture-cli/internal/config"
)

const shutdownGracePeriod = 15 * time.Second

// Manager owns the headless browser process and hands out monitored sessions
// from a bounded pool. One manager serves the whole monitor lifetime; the
// browser process is launched lazily on the first session request.
type Manager struct {
	logger *zap.Logger
	cfg    *config.Config

	allocCtx    context.Context
	allocCancel context.CancelFunc

	// pool bounds how many sessions may be open at once.
	pool *semaphore.Weighted

	sessions map[string]*Session
	mu       sync.RWMutex
	wg       sync.WaitGroup

	initOnce sync.Once
	initErr  error
}

// NewManager creates a browser manager. The browser process itself starts on
// first use so commands that never touch a page stay light.
func NewManager(cfg *config.Config, logger *zap.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Manager{
		logger:   logger.Named("browser_manager"),
		cfg:      cfg,
		pool:     semaphore.NewWeighted(int64(cfg.Browser.PoolSize)),
		sessions: make(map[string]*Session),
	}, nil
}

// DefaultAllocatorOptions translates browser configuration into chromedp exec
// allocator options.
func DefaultAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)

	if cfg.DisableCache {
		opts = append(opts,
			chromedp.Flag("disk-cache-size", "0"),
			chromedp.Flag("media-cache-size", "0"),
			chromedp.Flag("disable-cache", true),
		)
	}

	if cfg.IgnoreTLSErrors {
		opts = append(opts,
			chromedp.Flag("ignore-certificate-errors", true),
			chromedp.Flag("allow-insecure-localhost", true),
		)
	}

	if w, h := cfg.Viewport["width"], cfg.Viewport["height"]; w > 0 && h > 0 {
		opts = append(opts, chromedp.WindowSize(w, h))
	}

	for _, arg := range cfg.Args {
		opts = append(opts, chromedp.Flag(trimFlag(arg), true))
	}

	return opts
}

// trimFlag strips the leading dashes chromedp.Flag does not expect.
func trimFlag(arg string) string {
	for len(arg) > 0 && arg[0] == '-' {
		arg = arg[1:]
	}
	return arg
}

// initialize launches the browser allocator exactly once.
func (m *Manager) initialize() error {
	m.initOnce.Do(func() {
		m.logger.Info("Launching headless browser.",
			zap.Bool("headless", m.cfg.Browser.Headless),
			zap.Int("pool_size", m.cfg.Browser.PoolSize))

		opts := DefaultAllocatorOptions(m.cfg.Browser)
		m.allocCtx, m.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	})
	return m.initErr
}

// OpenSession acquires a pool slot and opens a monitored session on target.
// The caller must Close the session to release the slot. Acquisition blocks
// until a slot frees up or ctx is done.
func (m *Manager) OpenSession(ctx context.Context, target schemas.Target) (*Session, error) {
	if err := m.initialize(); err != nil {
		return nil, err
	}

	if err := m.pool.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for a free browser session: %w", err)
	}

	tabCtx, tabCancel := chromedp.NewContext(m.allocCtx)

	session, err := NewSession(tabCtx, tabCancel, target, m.cfg, m.logger)
	if err != nil {
		tabCancel()
		m.pool.Release(1)
		return nil, err
	}

	m.wg.Add(1)
	session.onClose = func() {
		m.mu.Lock()
		delete(m.sessions, session.ID())
		m.mu.Unlock()
		m.pool.Release(1)
		m.wg.Done()
		m.logger.Debug("Session released.", zap.String("session_id", session.ID()))
	}

	sessionTimeout := m.cfg.Browser.SessionTimeout
	if sessionTimeout <= 0 {
		sessionTimeout = 30 * time.Second
	}
	initCtx, cancel := context.WithTimeout(ctx, sessionTimeout)
	defer cancel()

	if err := session.Initialize(initCtx); err != nil {
		cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cleanupCancel()
		session.Close(cleanupCtx)
		return nil, fmt.Errorf("failed to initialize session for %s: %w", target.URL, err)
	}

	m.mu.Lock()
	m.sessions[session.ID()] = session
	m.mu.Unlock()

	m.logger.Debug("Session opened.",
		zap.String("session_id", session.ID()),
		zap.String("target", target.URL))
	return session, nil
}

// Shutdown closes every open session, waits for them to drain, and tears the
// browser process down.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Shutting down browser manager.")

	if m.allocCtx == nil {
		m.logger.Debug("Browser never launched; nothing to shut down.")
		return nil
	}

	m.mu.RLock()
	sessionsToClose := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessionsToClose = append(sessionsToClose, s)
	}
	m.mu.RUnlock()

	for _, s := range sessionsToClose {
		go func(s *Session) {
			if err := s.Close(ctx); err != nil {
				m.logger.Warn("Error closing session during shutdown.",
					zap.String("session_id", s.ID()), zap.Error(err))
			}
		}(s)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("All sessions closed.")
	case <-ctx.Done():
		m.logger.Warn("Timeout waiting for sessions to close; forcing browser shutdown.", zap.Error(ctx.Err()))
	case <-time.After(shutdownGracePeriod):
		m.logger.Warn("Grace period elapsed waiting for sessions; forcing browser shutdown.")
	}

	m.allocCancel()
	m.logger.Info("Browser manager shutdown complete.")
	return nil
}
