// internal/remedy/surgeon_test.go
package remedy

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/suture-cli/api/schemas"
	"github.com/xkilldash9x/suture-cli/internal/config"
)

func TestHookRestarter_Unconfigured(t *testing.T) {
	t.Parallel()
	h := newHookRestarter(config.RestartHookConfig{}, zaptest.NewLogger(t))

	err := h.Restart(context.Background(), schemas.Target{URL: "https://api.example.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no backend restart hook configured")
}

func TestHookRestarter_Command(t *testing.T) {
	t.Parallel()
	target := schemas.Target{Name: "api", URL: "https://api.example.com"}

	t.Run("success", func(t *testing.T) {
		t.Parallel()
		h := newHookRestarter(config.RestartHookConfig{
			Command: `test "$SUTURE_TARGET_URL" = "https://api.example.com"`,
			Timeout: 10 * time.Second,
		}, zaptest.NewLogger(t))
		assert.NoError(t, h.Restart(context.Background(), target))
	})

	t.Run("failure carries the output", func(t *testing.T) {
		t.Parallel()
		h := newHookRestarter(config.RestartHookConfig{
			Command: "echo restart refused >&2; exit 3",
			Timeout: 10 * time.Second,
		}, zaptest.NewLogger(t))

		err := h.Restart(context.Background(), target)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "restart command failed")
		assert.Contains(t, err.Error(), "restart refused")
	})

	t.Run("timeout kills the command", func(t *testing.T) {
		t.Parallel()
		h := newHookRestarter(config.RestartHookConfig{
			Command: "sleep 30",
			Timeout: 200 * time.Millisecond,
		}, zaptest.NewLogger(t))

		start := time.Now()
		err := h.Restart(context.Background(), target)
		require.Error(t, err)
		assert.Less(t, time.Since(start), 5*time.Second)
	})
}

func TestHookRestarter_Webhook(t *testing.T) {
	t.Parallel()
	target := schemas.Target{Name: "api", URL: "https://api.example.com"}

	t.Run("posts the restart payload", func(t *testing.T) {
		t.Parallel()
		var (
			gotMethod      string
			gotContentType string
			gotBody        map[string]string
		)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotMethod = r.Method
			gotContentType = r.Header.Get("Content-Type")
			body, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(body, &gotBody)
			w.WriteHeader(http.StatusAccepted)
		}))
		t.Cleanup(srv.Close)

		h := newHookRestarter(config.RestartHookConfig{URL: srv.URL, Timeout: 10 * time.Second}, zaptest.NewLogger(t))
		require.NoError(t, h.Restart(context.Background(), target))

		assert.Equal(t, http.MethodPost, gotMethod)
		assert.Equal(t, "application/json", gotContentType)
		assert.Equal(t, "restart", gotBody["action"])
		assert.Equal(t, target.URL, gotBody["target"])
	})

	t.Run("non-2xx is an error", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", http.StatusInternalServerError)
		}))
		t.Cleanup(srv.Close)

		h := newHookRestarter(config.RestartHookConfig{URL: srv.URL, Timeout: 10 * time.Second}, zaptest.NewLogger(t))
		err := h.Restart(context.Background(), target)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "HTTP 500")
	})

	t.Run("command takes precedence over the webhook", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("webhook must not fire when a command is configured")
		}))
		t.Cleanup(srv.Close)

		h := newHookRestarter(config.RestartHookConfig{
			Command: "exit 0",
			URL:     srv.URL,
			Timeout: 10 * time.Second,
		}, zaptest.NewLogger(t))
		assert.NoError(t, h.Restart(context.Background(), target))
	})
}
