package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	// Verify a few key defaults to ensure the mechanism works.
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, 10*time.Second, cfg.Monitor.Interval)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 4, cfg.Browser.PoolSize)
	assert.Equal(t, 3*time.Second, cfg.Detection.LoadTimeThreshold)
	assert.Equal(t, 0.8, cfg.Detection.HeapUsageThreshold)
	assert.Equal(t, []string{"header", "nav", "main", "footer"}, cfg.Detection.RequiredLandmarks)
	assert.Equal(t, 3, cfg.Remediation.MaxRepairAttempts)
	assert.Equal(t, 3*time.Second, cfg.Remediation.VerificationWindow)
	assert.Equal(t, 5*time.Minute, cfg.Remediation.BackendRestartCooldown)
	assert.Equal(t, 70.0, cfg.Validation.PassThreshold)
	assert.Equal(t, 24*time.Hour, cfg.Analytics.Window)
	assert.Equal(t, "file", cfg.Storage.Backend)
	assert.False(t, cfg.Escalation.Enabled)
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	t.Run("Core Validation", func(t *testing.T) {
		cfg := NewDefaultConfig()

		err := cfg.Validate()
		assert.NoError(t, err, "A valid config should not produce a validation error")

		cfgInvalidInterval := *cfg
		cfgInvalidInterval.Monitor.Interval = 0
		err = cfgInvalidInterval.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "monitor.interval must be positive")

		cfgInvalidPool := *cfg
		cfgInvalidPool.Browser.PoolSize = -1
		err = cfgInvalidPool.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "browser.pool_size must be a positive integer")
	})

	t.Run("Target Validation", func(t *testing.T) {
		valid := TargetConfig{Name: "app", URL: "https://app.example.com", Type: "ui"}
		assert.NoError(t, valid.Validate())

		missingURL := valid
		missingURL.URL = ""
		err := missingURL.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "url is required")

		relativeURL := valid
		relativeURL.URL = "/dashboard"
		err = relativeURL.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "not absolute")

		badType := valid
		badType.Type = "mobile"
		err = badType.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "not supported")

		missingType := valid
		missingType.Type = ""
		err = missingType.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "type is required")
	})

	t.Run("Remediation Validation", func(t *testing.T) {
		valid := RemediationConfig{
			MaxRepairAttempts:      3,
			VerificationWindow:     3 * time.Second,
			BackendRestartCooldown: 5 * time.Minute,
		}
		assert.NoError(t, valid.Validate())

		noAttempts := valid
		noAttempts.MaxRepairAttempts = 0
		err := noAttempts.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "max_repair_attempts must be a positive integer")

		noWindow := valid
		noWindow.VerificationWindow = 0
		err = noWindow.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "verification_window must be positive")

		negativeCooldown := valid
		negativeCooldown.BackendRestartCooldown = -time.Minute
		err = negativeCooldown.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "backend_restart_cooldown cannot be negative")
	})

	t.Run("Storage Validation", func(t *testing.T) {
		fileStore := StorageConfig{Backend: "file", StatePath: "~/.suture/state.json"}
		assert.NoError(t, fileStore.Validate())

		fileNoPath := fileStore
		fileNoPath.StatePath = ""
		err := fileNoPath.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "state_path is required")

		pgStore := StorageConfig{Backend: "postgres", Postgres: PostgresConfig{URL: "postgres://u:p@h/db"}}
		assert.NoError(t, pgStore.Validate())

		pgNoURL := pgStore
		pgNoURL.Postgres.URL = ""
		err = pgNoURL.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "postgres.url")

		unknown := StorageConfig{Backend: "redis"}
		err = unknown.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "not supported")
	})

	t.Run("Escalation Validation", func(t *testing.T) {
		valid := EscalationConfig{
			Enabled:     true,
			AfterCycles: 3,
			GitHub: GitHubConfig{
				Token:     "ghp_testtoken123",
				RepoOwner: "test-owner",
				RepoName:  "test-repo",
			},
		}
		assert.NoError(t, valid.Validate())

		disabled := valid
		disabled.Enabled = false
		disabled.GitHub.RepoOwner = ""
		assert.NoError(t, disabled.Validate(), "disabled escalation should always be valid")

		missingRepo := valid
		missingRepo.GitHub.RepoName = ""
		err := missingRepo.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "github.repo_owner and github.repo_name are required")

		badCycles := valid
		badCycles.AfterCycles = 0
		err = badCycles.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "after_cycles must be a positive integer")
	})
}

// -- Factory Function Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("Successful Load from YAML", func(t *testing.T) {
		yamlBytes := []byte(`
monitor:
  interval: 30s
  targets:
    - name: storefront
      url: "https://shop.example.com"
      type: ui
    - name: orders-api
      url: "https://shop.example.com/api/orders"
      type: api
detection:
  load_time_threshold: 5s
remediation:
  max_repair_attempts: 2
`)
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		err := v.ReadConfig(bytes.NewBuffer(yamlBytes))
		require.NoError(t, err)

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		assert.Equal(t, 30*time.Second, cfg.Monitor.Interval)
		require.Len(t, cfg.Monitor.Targets, 2)
		assert.Equal(t, "storefront", cfg.Monitor.Targets[0].Name)
		assert.Equal(t, "api", cfg.Monitor.Targets[1].Type)
		assert.Equal(t, 5*time.Second, cfg.Detection.LoadTimeThreshold)
		assert.Equal(t, 2, cfg.Remediation.MaxRepairAttempts)
		// Defaults still apply where the file is silent.
		assert.Equal(t, "info", cfg.Logger.Level)
		assert.Equal(t, 3*time.Second, cfg.Remediation.VerificationWindow)
	})

	t.Run("Validation Failure", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("monitor.interval", "0s") // Intentionally invalid

		cfg, err := NewConfigFromViper(v)
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "invalid configuration")
	})

	t.Run("Invalid Target Rejected", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("monitor.targets", []map[string]any{
			{"name": "broken", "url": "not-a-url", "type": "ui"},
		})

		cfg, err := NewConfigFromViper(v)
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "monitor.targets[0]")
	})
}
