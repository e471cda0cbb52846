// File: cmd/watch.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/api/schemas"
	"github.com/xkilldash9x/suture-cli/internal/analytics"
	"github.com/xkilldash9x/suture-cli/internal/browser"
	"github.com/xkilldash9x/suture-cli/internal/config"
	"github.com/xkilldash9x/suture-cli/internal/detect"
	"github.com/xkilldash9x/suture-cli/internal/escalate"
	"github.com/xkilldash9x/suture-cli/internal/monitor"
	"github.com/xkilldash9x/suture-cli/internal/netprobe"
	"github.com/xkilldash9x/suture-cli/internal/observability"
	"github.com/xkilldash9x/suture-cli/internal/remedy"
	"github.com/xkilldash9x/suture-cli/internal/reporting"
	"github.com/xkilldash9x/suture-cli/internal/state"
	"github.com/xkilldash9x/suture-cli/internal/validate"
)

// newWatchCmd creates and configures the `watch` command, the long-running
// detect/remediate/validate loop.
func newWatchCmd() *cobra.Command {
	watchCmd := &cobra.Command{
		Use:   "watch [urls...]",
		Short: "Continuously monitor targets, repairing and reporting every cycle",
		Long: `Starts the self-healing loop against the configured targets. URLs passed as
arguments are monitored as UI pages in addition to monitor.targets from the
config file; use --api for plain HTTP endpoints. The loop runs until it is
signalled (SIGINT/SIGTERM) or --max-cycles is reached.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}

			// CLI targets are appended to whatever the config declares.
			for _, raw := range args {
				if err := appendTarget(cfg, raw, "ui"); err != nil {
					return err
				}
			}
			apiTargets, _ := cmd.Flags().GetStringSlice("api")
			for _, raw := range apiTargets {
				if err := appendTarget(cfg, raw, "api"); err != nil {
					return err
				}
			}
			if len(cfg.Monitor.Targets) == 0 {
				return fmt.Errorf("no targets to monitor: pass URLs as arguments or set monitor.targets in the config")
			}

			logger.Info("Starting monitor",
				zap.Int("targets", len(cfg.Monitor.Targets)),
				zap.Duration("interval", cfg.Monitor.Interval),
				zap.Int("max_cycles", cfg.Monitor.MaxCycles),
				zap.String("storage_backend", cfg.Storage.Backend),
			)

			// Initialize core components.
			components, err := initializeMonitorComponents(ctx, cfg, logger)
			if err != nil {
				if components != nil {
					components.Shutdown()
				}
				return fmt.Errorf("failed to initialize monitor components: %w", err)
			}
			defer components.Shutdown()

			if err := components.Loop.Start(ctx); err != nil {
				return err
			}

			// Run until the signal context ends or the loop retires itself at
			// its cycle budget.
			select {
			case <-ctx.Done():
				logger.Info("Shutdown signal received, stopping monitor.")
				components.Loop.Stop()
			case <-components.Loop.Done():
				components.Loop.Stop()
			}

			status := components.Loop.Status()
			fmt.Printf("\nMonitoring stopped. Cycles: %d  Detected: %d  Fixed: %d  Open: %d  Status: %s\n",
				status.CycleCount, status.TotalErrorsDetected, status.TotalErrorsFixed,
				status.OpenIssues, status.SystemStatus)
			return nil
		},
	}

	// Loop override flags; bound to their config keys in bindLoopFlags.
	watchCmd.Flags().Duration("interval", 0, "Sleep between cycles. (Overrides config/env)")
	watchCmd.Flags().Int("max-cycles", 0, "Stop after N cycles; 0 runs until signalled. (Overrides config/env)")
	watchCmd.Flags().String("backend-log", "", "Backend log file to tail for faults. (Overrides config/env)")
	watchCmd.Flags().StringSlice("api", nil, "API endpoint to monitor as a plain HTTP target (repeatable)")

	return watchCmd
}

// appendTarget turns a raw command-line URL into a validated monitor target.
func appendTarget(cfg *config.Config, raw, kind string) error {
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}

	tc := config.TargetConfig{URL: raw, Type: kind}
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		tc.Name = u.Host
	} else {
		tc.Name = raw
	}
	if err := tc.Validate(); err != nil {
		return fmt.Errorf("target %q: %w", raw, err)
	}

	cfg.Monitor.Targets = append(cfg.Monitor.Targets, tc)
	return nil
}

// monitorComponents holds initialized services so a partial failure can still
// release what did come up.
type monitorComponents struct {
	Store   schemas.StateStore
	Sink    *reporting.FileSink
	Manager *browser.Manager
	Loop    *monitor.Loop

	// logCancel stops the backend log tailer; nil when none is configured.
	logCancel context.CancelFunc
	logger    *zap.Logger
}

// Shutdown gracefully closes all components. Safe on a partially initialized
// struct.
func (mc *monitorComponents) Shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if mc.Loop != nil {
		mc.Loop.Stop()
	}
	if mc.logCancel != nil {
		mc.logCancel()
	}
	if mc.Manager != nil {
		if err := mc.Manager.Shutdown(shutdownCtx); err != nil {
			mc.logger.Warn("Error during browser manager shutdown", zap.Error(err))
		}
	}
	if mc.Sink != nil {
		if err := mc.Sink.Close(); err != nil {
			mc.logger.Warn("Error closing report sink", zap.Error(err))
		}
	}
	if closer, ok := mc.Store.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			mc.logger.Warn("Error closing state store", zap.Error(err))
		}
	}
}

// initializeMonitorComponents handles dependency injection for the loop.
func initializeMonitorComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*monitorComponents, error) {
	components := &monitorComponents{logger: logger}

	// 1. Persistence: state store and report sink.
	store, err := state.New(ctx, cfg, logger)
	if err != nil {
		return components, fmt.Errorf("failed to initialize state store: %w", err)
	}
	components.Store = store

	sink, err := reporting.NewFileSink(cfg.Storage.ReportDir, logger)
	if err != nil {
		return components, fmt.Errorf("failed to initialize report sink: %w", err)
	}
	components.Sink = sink

	// 2. Observation plumbing: browser pool, HTTP prober, backend log tail.
	manager, err := browser.NewManager(cfg, logger)
	if err != nil {
		return components, fmt.Errorf("failed to initialize browser manager: %w", err)
	}
	components.Manager = manager

	prober := netprobe.NewProber(cfg.Network, logger)

	var logs *detect.LogWatch
	if cfg.Monitor.BackendLog != "" {
		logs = detect.NewLogWatch(cfg.Monitor.BackendLog, logger)
		// The tailer outlives the signal context so the final cycle can still
		// drain it; Shutdown cancels it explicitly.
		logCtx, logCancel := context.WithCancel(context.Background())
		components.logCancel = logCancel
		if err := logs.Start(logCtx); err != nil {
			return components, fmt.Errorf("failed to start backend log watch: %w", err)
		}
	}

	// 3. Engines. The detection engine doubles as the repair verifier.
	detector := detect.NewEngine(cfg, manager, prober, logs, logger)

	remediator, err := remedy.NewEngine(cfg, manager, detector, logger)
	if err != nil {
		return components, fmt.Errorf("failed to initialize remediation engine: %w", err)
	}

	validator := validate.NewEngine(cfg, manager, prober, logger)
	analyst := analytics.NewAnalyst(cfg, logger)

	deps := monitor.Deps{
		Detector:   detector,
		Remediator: remediator,
		Validator:  validator,
		Analyst:    analyst,
		Store:      store,
		Sink:       sink,
	}
	if cfg.Escalation.Enabled {
		deps.Escalator = escalate.NewGitHubEscalator(cfg.Escalation, logger)
	}

	// 4. The loop itself.
	loop, err := monitor.New(cfg, deps, logger)
	if err != nil {
		return components, fmt.Errorf("failed to create monitor loop: %w", err)
	}
	components.Loop = loop

	// The backend restart strategy consults live cycle state before firing.
	remediator.SetStateProvider(loop.StateSnapshot)

	return components, nil
}
