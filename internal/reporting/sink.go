package reporting

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	json "github.com/json-iterator/go"
	homedir "github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/api/schemas"
)

// FileSink writes each cycle's comprehensive report into the report
// directory, one timestamped file per report plus a rolling latest.json.
type FileSink struct {
	dir    string
	logger *zap.Logger
}

var _ schemas.ReportSink = (*FileSink)(nil)

// NewFileSink expands the directory path and creates it.
func NewFileSink(dir string, logger *zap.Logger) (*FileSink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir == "" {
		return nil, errors.New("report directory is empty")
	}
	expanded, err := homedir.Expand(dir)
	if err != nil {
		return nil, fmt.Errorf("expanding report directory %q: %w", dir, err)
	}
	if err := os.MkdirAll(expanded, 0o755); err != nil {
		return nil, fmt.Errorf("creating report directory: %w", err)
	}
	return &FileSink{
		dir:    expanded,
		logger: logger.Named("report_sink"),
	}, nil
}

// WriteReport persists the report under a cycle-and-time name and refreshes
// latest.json.
func (s *FileSink) WriteReport(ctx context.Context, report *schemas.ComprehensiveReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}

	name := fmt.Sprintf("report-cycle%05d-%s.json",
		report.Cycle.CycleNumber,
		report.GeneratedAt.UTC().Format("20060102T150405Z"))
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing report file: %w", err)
	}

	latest := filepath.Join(s.dir, "latest.json")
	if err := os.WriteFile(latest, data, 0o644); err != nil {
		return fmt.Errorf("refreshing latest report: %w", err)
	}

	s.logger.Debug("Report written.",
		zap.String("path", path),
		zap.Int("bytes", len(data)))
	return nil
}

// Close is a no-op; every report is flushed as it is written.
func (s *FileSink) Close() error {
	return nil
}

// LatestReport loads latest.json from the report directory. The boolean is
// false when no report has been written yet.
func (s *FileSink) LatestReport() (*schemas.ComprehensiveReport, bool, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, "latest.json"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading latest report: %w", err)
	}

	var report schemas.ComprehensiveReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, false, fmt.Errorf("latest report is corrupt: %w", err)
	}
	return &report, true, nil
}

// Prune removes report files older than the retention window, keeping
// latest.json regardless of age.
func (s *FileSink) Prune(retention time.Duration) error {
	if retention <= 0 {
		return nil
	}
	cutoff := time.Now().Add(-retention)

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("listing report directory: %w", err)
	}
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || entry.Name() == "latest.json" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(s.dir, entry.Name())); err == nil {
				removed++
			}
		}
	}
	if removed > 0 {
		s.logger.Debug("Old reports pruned.", zap.Int("removed", removed))
	}
	return nil
}
