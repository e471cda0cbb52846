// File: cmd/report.go
package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/api/schemas"
	"github.com/xkilldash9x/suture-cli/internal/config"
	"github.com/xkilldash9x/suture-cli/internal/observability"
	"github.com/xkilldash9x/suture-cli/internal/reporting"
	"github.com/xkilldash9x/suture-cli/internal/state"
)

// newReportCmd creates and configures the `report` command.
func newReportCmd() *cobra.Command {
	var outputPath string
	var format string

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Export the latest comprehensive report",
		Long: `Loads the most recent comprehensive report written by the watch loop and
renders it as JSON or SARIF. SARIF output enumerates the open backlog as
results, one rule per issue signature, for CI annotation tooling.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}

			return runReport(ctx, logger, cfg, outputPath, format)
		},
	}

	reportCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file path. If unset, the report is printed to stdout.")
	reportCmd.Flags().StringVarP(&format, "format", "f", "json", "Output format ('json' or 'sarif').")

	return reportCmd
}

// runReport contains the core, testable logic for exporting a report.
func runReport(
	ctx context.Context,
	logger *zap.Logger,
	cfg *config.Config,
	outputPath, format string,
) error {
	sink, err := reporting.NewFileSink(cfg.Storage.ReportDir, logger)
	if err != nil {
		return fmt.Errorf("failed to open report directory: %w", err)
	}

	report, found, err := sink.LatestReport()
	if err != nil {
		return fmt.Errorf("failed to load latest report: %w", err)
	}
	if !found {
		return fmt.Errorf("no report has been written yet; run `suture-cli watch` first")
	}

	// The persisted state supplies the open backlog for formats that
	// enumerate issues. Missing state degrades to an empty backlog.
	st, err := loadStateForReport(ctx, cfg, logger)
	if err != nil {
		return err
	}

	writer, err := reporting.New(format, outputPath, Version, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize report writer: %w", err)
	}
	defer func() {
		if err := writer.Close(); err != nil {
			logger.Warn("Failed to close report writer cleanly.", zap.Error(err))
		}
	}()

	if err := writer.Write(st, report); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	if outputPath != "" && outputPath != "stdout" {
		logger.Info("Report successfully written to file",
			zap.String("path", outputPath),
			zap.String("format", format))
	}
	return nil
}

// loadStateForReport fetches the persisted snapshot, tolerating a store with
// nothing in it.
func loadStateForReport(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*schemas.SystemState, error) {
	store, err := state.New(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize state store: %w", err)
	}
	if closer, ok := store.(io.Closer); ok {
		defer closer.Close()
	}

	st, found, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load monitor state: %w", err)
	}
	if !found {
		return schemas.NewSystemState(), nil
	}
	return st, nil
}
