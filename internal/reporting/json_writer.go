package reporting

import (
	"fmt"
	"io"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/api/schemas"
)

// jsonWriter emits the comprehensive report as indented JSON.
type jsonWriter struct {
	writer io.WriteCloser
	logger *zap.Logger
}

func newJSONWriter(writer io.WriteCloser, logger *zap.Logger) *jsonWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &jsonWriter{
		writer: writer,
		logger: logger.Named("json_writer"),
	}
}

func (w *jsonWriter) Write(_ *schemas.SystemState, report *schemas.ComprehensiveReport) error {
	encoder := json.NewEncoder(w.writer)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(report); err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	return nil
}

func (w *jsonWriter) Close() error {
	return w.writer.Close()
}
