package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for the monitor. Fields are exported so
// viper can unmarshal them; code elsewhere treats the struct as read-only
// after load.
type Config struct {
	Logger      LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	Monitor     MonitorConfig     `mapstructure:"monitor" yaml:"monitor"`
	Browser     BrowserConfig     `mapstructure:"browser" yaml:"browser"`
	Network     NetworkConfig     `mapstructure:"network" yaml:"network"`
	Detection   DetectionConfig   `mapstructure:"detection" yaml:"detection"`
	Remediation RemediationConfig `mapstructure:"remediation" yaml:"remediation"`
	Validation  ValidationConfig  `mapstructure:"validation" yaml:"validation"`
	Analytics   AnalyticsConfig   `mapstructure:"analytics" yaml:"analytics"`
	Storage     StorageConfig     `mapstructure:"storage" yaml:"storage"`
	Escalation  EscalationConfig  `mapstructure:"escalation" yaml:"escalation"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color names for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// TargetConfig describes one monitored surface as declared in config.
type TargetConfig struct {
	Name string `mapstructure:"name" yaml:"name"`
	URL  string `mapstructure:"url" yaml:"url"`
	Type string `mapstructure:"type" yaml:"type"` // "ui" or "api"
}

// MonitorConfig drives the orchestration loop.
type MonitorConfig struct {
	// Interval is the sleep between cycles.
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`

	Targets []TargetConfig `mapstructure:"targets" yaml:"targets"`

	// BackendLog, when set, is a server log file tailed for panics between
	// cycles.
	BackendLog string `mapstructure:"backend_log" yaml:"backend_log"`

	// MaxCycles stops the loop after N cycles; 0 means run until signalled.
	MaxCycles int `mapstructure:"max_cycles" yaml:"max_cycles"`
}

// BrowserConfig holds settings for the headless browser pool.
type BrowserConfig struct {
	Headless        bool           `mapstructure:"headless" yaml:"headless"`
	DisableCache    bool           `mapstructure:"disable_cache" yaml:"disable_cache"`
	IgnoreTLSErrors bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	PoolSize        int            `mapstructure:"pool_size" yaml:"pool_size"`
	Debug           bool           `mapstructure:"debug" yaml:"debug"`
	Args            []string       `mapstructure:"args" yaml:"args"`
	Viewport        map[string]int `mapstructure:"viewport" yaml:"viewport"`

	// SessionTimeout bounds opening a session and attaching the collector.
	SessionTimeout time.Duration `mapstructure:"session_timeout" yaml:"session_timeout"`
}

// NetworkConfig tunes the plain-HTTP prober used for API targets.
type NetworkConfig struct {
	Timeout           time.Duration     `mapstructure:"timeout" yaml:"timeout"`
	NavigationTimeout time.Duration     `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	RequestsPerSecond float64           `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Headers           map[string]string `mapstructure:"headers" yaml:"headers"`
	IgnoreTLSErrors   bool              `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
}

// DetectionConfig holds the active probe thresholds.
type DetectionConfig struct {
	// LoadTimeThreshold flags pages whose DOM-content-loaded exceeds it.
	LoadTimeThreshold time.Duration `mapstructure:"load_time_threshold" yaml:"load_time_threshold"`

	// HeapUsageThreshold is the used/limit JS heap ratio that counts as
	// memory pressure.
	HeapUsageThreshold float64 `mapstructure:"heap_usage_threshold" yaml:"heap_usage_threshold"`

	// APILatencyThreshold flags API probes slower than this.
	APILatencyThreshold time.Duration `mapstructure:"api_latency_threshold" yaml:"api_latency_threshold"`

	ProbeTimeout time.Duration `mapstructure:"probe_timeout" yaml:"probe_timeout"`

	// RequiredLandmarks are the structural elements every UI target must have.
	RequiredLandmarks []string `mapstructure:"required_landmarks" yaml:"required_landmarks"`

	// ObservationWindow is how long a session collects passive events after
	// the page settles.
	ObservationWindow time.Duration `mapstructure:"observation_window" yaml:"observation_window"`
}

// RestartHookConfig describes how a backend restart is executed: a command,
// a webhook URL, or both (command wins when both are set).
type RestartHookConfig struct {
	Command string        `mapstructure:"command" yaml:"command"`
	URL     string        `mapstructure:"url" yaml:"url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// RemediationConfig drives the repair strategy chain.
type RemediationConfig struct {
	MaxRepairAttempts  int           `mapstructure:"max_repair_attempts" yaml:"max_repair_attempts"`
	VerificationWindow time.Duration `mapstructure:"verification_window" yaml:"verification_window"`

	// BackendRestartCooldown is the minimum spacing between backend restarts
	// of the same target.
	BackendRestartCooldown time.Duration     `mapstructure:"backend_restart_cooldown" yaml:"backend_restart_cooldown"`
	BackendRestartHook     RestartHookConfig `mapstructure:"backend_restart_hook" yaml:"backend_restart_hook"`

	// CorrectiveScripts maps issue signatures to JavaScript applied by the
	// inject_script strategy. Scripts are syntax-checked at startup.
	CorrectiveScripts map[string]string `mapstructure:"corrective_scripts" yaml:"corrective_scripts"`
}

// ValidationConfig tunes the check battery.
type ValidationConfig struct {
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`

	// PassThreshold is the minimum per-check score that counts as passing.
	PassThreshold float64 `mapstructure:"pass_threshold" yaml:"pass_threshold"`

	// LatencyBudget bounds api_health response times.
	LatencyBudget time.Duration `mapstructure:"latency_budget" yaml:"latency_budget"`

	// CertExpiryWarning is how close to expiry a TLS certificate may get
	// before the tls_certificate check fails.
	CertExpiryWarning time.Duration `mapstructure:"cert_expiry_warning" yaml:"cert_expiry_warning"`

	// PageWeightBudget is the total transfer size in bytes above which the
	// page_weight check starts degrading.
	PageWeightBudget int64 `mapstructure:"page_weight_budget" yaml:"page_weight_budget"`
}

// AnalyticsConfig bounds the history analytics works over.
type AnalyticsConfig struct {
	Window        time.Duration `mapstructure:"window" yaml:"window"`
	MaxLogEntries int           `mapstructure:"max_log_entries" yaml:"max_log_entries"`
	MaxCycles     int           `mapstructure:"max_cycles" yaml:"max_cycles"`
}

// PostgresConfig holds the connection details for a PostgreSQL state store.
type PostgresConfig struct {
	URL string `mapstructure:"url" yaml:"-"`
}

// StorageConfig selects and tunes the state store and report output.
type StorageConfig struct {
	// Backend is "file" or "postgres".
	Backend string `mapstructure:"backend" yaml:"backend"`

	// StatePath is the JSON snapshot location for the file backend. Supports
	// "~" expansion.
	StatePath string `mapstructure:"state_path" yaml:"state_path"`

	// ReportDir receives comprehensive report files.
	ReportDir string `mapstructure:"report_dir" yaml:"report_dir"`

	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
}

// GitHubConfig identifies the repository escalations are filed against.
type GitHubConfig struct {
	Token     string   `mapstructure:"token" yaml:"-"`
	RepoOwner string   `mapstructure:"repo_owner" yaml:"repo_owner"`
	RepoName  string   `mapstructure:"repo_name" yaml:"repo_name"`
	Labels    []string `mapstructure:"labels" yaml:"labels"`
}

// EscalationConfig controls handing stuck criticals to humans.
type EscalationConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// AfterCycles is how many cycles a critical issue must persist with
	// exhausted repairs before escalating.
	AfterCycles int `mapstructure:"after_cycles" yaml:"after_cycles"`

	GitHub GitHubConfig `mapstructure:"github" yaml:"github"`
}

// NewDefaultConfig returns a configuration populated with defaults only.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Unreachable with defaults only.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for every configuration parameter.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "suture-cli")
	v.SetDefault("logger.log_file", "suture.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Monitor --
	v.SetDefault("monitor.interval", "10s")
	v.SetDefault("monitor.max_cycles", 0)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.disable_cache", false)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.pool_size", 4)
	v.SetDefault("browser.debug", false)
	v.SetDefault("browser.session_timeout", "30s")

	// -- Network --
	v.SetDefault("network.timeout", "30s")
	v.SetDefault("network.navigation_timeout", "90s")
	v.SetDefault("network.requests_per_second", 5.0)

	// -- Detection --
	v.SetDefault("detection.load_time_threshold", "3s")
	v.SetDefault("detection.heap_usage_threshold", 0.8)
	v.SetDefault("detection.api_latency_threshold", "2s")
	v.SetDefault("detection.probe_timeout", "5s")
	v.SetDefault("detection.required_landmarks", []string{"header", "nav", "main", "footer"})
	v.SetDefault("detection.observation_window", "3s")

	// -- Remediation --
	v.SetDefault("remediation.max_repair_attempts", 3)
	v.SetDefault("remediation.verification_window", "3s")
	v.SetDefault("remediation.backend_restart_cooldown", "5m")
	v.SetDefault("remediation.backend_restart_hook.timeout", "30s")

	// -- Validation --
	v.SetDefault("validation.concurrency", 4)
	v.SetDefault("validation.pass_threshold", 70.0)
	v.SetDefault("validation.latency_budget", "2s")
	v.SetDefault("validation.cert_expiry_warning", "720h") // 30 days
	v.SetDefault("validation.page_weight_budget", 5<<20)

	// -- Analytics --
	v.SetDefault("analytics.window", "24h")
	v.SetDefault("analytics.max_log_entries", 10000)
	v.SetDefault("analytics.max_cycles", 500)

	// -- Storage --
	v.SetDefault("storage.backend", "file")
	v.SetDefault("storage.state_path", "~/.suture/state.json")
	v.SetDefault("storage.report_dir", "~/.suture/reports")

	// -- Escalation --
	v.SetDefault("escalation.enabled", false)
	v.SetDefault("escalation.after_cycles", 3)
}

// NewConfigFromViper unmarshals and validates a configuration.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Secrets come from the environment, never from config files.
	v.BindEnv("escalation.github.token", "SUTURE_GH_TOKEN")
	v.BindEnv("storage.postgres.url", "SUTURE_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// BindEnv only surfaces through Unmarshal when the key is otherwise
	// present; fall back to the environment directly.
	if cfg.Escalation.Enabled && cfg.Escalation.GitHub.Token == "" {
		cfg.Escalation.GitHub.Token = os.Getenv("SUTURE_GH_TOKEN")
	}
	if cfg.Storage.Backend == "postgres" && cfg.Storage.Postgres.URL == "" {
		cfg.Storage.Postgres.URL = os.Getenv("SUTURE_DATABASE_URL")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor.interval must be positive")
	}
	if c.Browser.PoolSize <= 0 {
		return fmt.Errorf("browser.pool_size must be a positive integer")
	}
	for i, t := range c.Monitor.Targets {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("monitor.targets[%d]: %w", i, err)
		}
	}
	if err := c.Remediation.Validate(); err != nil {
		return fmt.Errorf("remediation configuration invalid: %w", err)
	}
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage configuration invalid: %w", err)
	}
	if err := c.Escalation.Validate(); err != nil {
		return fmt.Errorf("escalation configuration invalid: %w", err)
	}
	return nil
}

// Validate checks a single target declaration.
func (t *TargetConfig) Validate() error {
	if t.URL == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(t.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("url %q is not absolute", t.URL)
	}
	switch t.Type {
	case "ui", "api":
	case "":
		return fmt.Errorf("type is required (ui or api)")
	default:
		return fmt.Errorf("type %q is not supported (want ui or api)", t.Type)
	}
	return nil
}

// Validate checks the remediation settings.
func (r *RemediationConfig) Validate() error {
	if r.MaxRepairAttempts <= 0 {
		return fmt.Errorf("max_repair_attempts must be a positive integer")
	}
	if r.VerificationWindow <= 0 {
		return fmt.Errorf("verification_window must be positive")
	}
	if r.BackendRestartCooldown < 0 {
		return fmt.Errorf("backend_restart_cooldown cannot be negative")
	}
	return nil
}

// Validate checks the storage settings.
func (s *StorageConfig) Validate() error {
	switch s.Backend {
	case "file":
		if s.StatePath == "" {
			return fmt.Errorf("state_path is required for the file backend")
		}
	case "postgres":
		if s.Postgres.URL == "" {
			return fmt.Errorf("postgres.url (or SUTURE_DATABASE_URL) is required for the postgres backend")
		}
	default:
		return fmt.Errorf("backend %q is not supported (want file or postgres)", s.Backend)
	}
	return nil
}

// Validate checks the escalation settings.
func (e *EscalationConfig) Validate() error {
	if !e.Enabled {
		return nil
	}
	if e.GitHub.RepoOwner == "" || e.GitHub.RepoName == "" {
		return fmt.Errorf("github.repo_owner and github.repo_name are required when escalation is enabled")
	}
	if e.AfterCycles <= 0 {
		return fmt.Errorf("after_cycles must be a positive integer")
	}
	return nil
}
