// internal/remedy/surgeon.go

package remedy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/api/schemas"
	"github.com/xkilldash9x/suture-cli/internal/browser"
	"github.com/xkilldash9x/suture-cli/internal/config"
)

// surgeon abstracts the in-page operations strategies perform, so the
// strategy chain is testable without a browser.
type surgeon interface {
	// Reload loads the target and reloads it, optionally bypassing the cache.
	Reload(ctx context.Context, target schemas.Target, ignoreCache bool) error
	// ClearState wipes cookies, cache, and origin storage, then reloads.
	ClearState(ctx context.Context, target schemas.Target) error
	// FreshSession loads the target in a brand-new browser context.
	FreshSession(ctx context.Context, target schemas.Target) error
	// RunScript loads the target and evaluates script in the page.
	RunScript(ctx context.Context, target schemas.Target, script string) error
}

// sessionSurgeon performs repairs through short-lived sessions from the
// shared browser pool.
type sessionSurgeon struct {
	manager *browser.Manager
	logger  *zap.Logger
}

func newSessionSurgeon(manager *browser.Manager, logger *zap.Logger) *sessionSurgeon {
	return &sessionSurgeon{manager: manager, logger: logger.Named("surgeon")}
}

// withSession opens a session, loads the target, runs fn, and always closes
// the session.
func (s *sessionSurgeon) withSession(ctx context.Context, target schemas.Target, fn func(ctx context.Context, session *browser.Session) error) error {
	session, err := s.manager.OpenSession(ctx, target)
	if err != nil {
		return fmt.Errorf("failed to open repair session: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if cerr := session.Close(closeCtx); cerr != nil {
			s.logger.Debug("Repair session close reported an error.", zap.Error(cerr))
		}
	}()

	if err := session.Navigate(ctx, target.URL); err != nil {
		return fmt.Errorf("failed to load %s for repair: %w", target.URL, err)
	}
	return fn(ctx, session)
}

func (s *sessionSurgeon) Reload(ctx context.Context, target schemas.Target, ignoreCache bool) error {
	return s.withSession(ctx, target, func(ctx context.Context, session *browser.Session) error {
		return session.Reload(ctx, ignoreCache)
	})
}

func (s *sessionSurgeon) ClearState(ctx context.Context, target schemas.Target) error {
	return s.withSession(ctx, target, func(ctx context.Context, session *browser.Session) error {
		if err := session.ClearBrowsingState(ctx); err != nil {
			return err
		}
		return session.Reload(ctx, true)
	})
}

func (s *sessionSurgeon) FreshSession(ctx context.Context, target schemas.Target) error {
	// Opening the session is the repair: the pool hands out a new browser
	// context with clean per-tab state, and the load happens in it.
	return s.withSession(ctx, target, func(context.Context, *browser.Session) error {
		return nil
	})
}

func (s *sessionSurgeon) RunScript(ctx context.Context, target schemas.Target, script string) error {
	return s.withSession(ctx, target, func(ctx context.Context, session *browser.Session) error {
		return session.InjectScript(ctx, script)
	})
}

// -- Backend Restart Hook --

// restarter triggers a backend restart out of band.
type restarter interface {
	Restart(ctx context.Context, target schemas.Target) error
}

// hookRestarter executes the configured restart hook: a shell command, a
// webhook POST, or nothing (which is an error when the strategy fires).
type hookRestarter struct {
	cfg    config.RestartHookConfig
	client *http.Client
	logger *zap.Logger
}

func newHookRestarter(cfg config.RestartHookConfig, logger *zap.Logger) *hookRestarter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &hookRestarter{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger.Named("restart_hook"),
	}
}

func (h *hookRestarter) Restart(ctx context.Context, target schemas.Target) error {
	if h.cfg.Command == "" && h.cfg.URL == "" {
		return errors.New("no backend restart hook configured")
	}

	timeout := h.cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	hookCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if h.cfg.Command != "" {
		return h.runCommand(hookCtx, target)
	}
	return h.postWebhook(hookCtx, target)
}

func (h *hookRestarter) runCommand(ctx context.Context, target schemas.Target) error {
	h.logger.Info("Running backend restart command.",
		zap.String("command", h.cfg.Command),
		zap.String("target", target.URL))

	// A shell keeps hook declarations to one config line.
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", h.cfg.Command)
	cmd.Env = append(os.Environ(),
		"SUTURE_TARGET_URL="+target.URL,
		"SUTURE_TARGET_NAME="+target.Name,
	)

	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("restart command failed: %w\nOutput: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}

func (h *hookRestarter) postWebhook(ctx context.Context, target schemas.Target) error {
	h.logger.Info("Posting backend restart webhook.",
		zap.String("url", h.cfg.URL),
		zap.String("target", target.URL))

	payload, err := json.Marshal(map[string]string{
		"action": "restart",
		"target": target.URL,
		"source": "suture-cli",
	})
	if err != nil {
		return fmt.Errorf("failed to encode restart payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build restart request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("restart webhook failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("restart webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}
