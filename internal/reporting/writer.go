// Package reporting renders persisted monitor output for people and CI
// tooling: a per-cycle JSON sink the loop writes through, and on-demand
// exports of the latest comprehensive report as JSON or SARIF.
package reporting

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/api/schemas"
)

// ReportWriter renders one comprehensive report together with the state it
// was derived from.
type ReportWriter interface {
	// Write renders the report. The state supplies the open backlog for
	// formats that enumerate issues.
	Write(state *schemas.SystemState, report *schemas.ComprehensiveReport) error
	// Close finalizes the output and releases the underlying writer.
	Close() error
}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// New creates a report writer for the given format. An empty or "stdout"
// path writes to standard output without closing it.
func New(format, outputPath, toolVersion string, logger *zap.Logger) (ReportWriter, error) {
	var writer io.WriteCloser
	isStdOut := outputPath == "" || outputPath == "stdout"

	if isStdOut {
		writer = &nopWriteCloser{os.Stdout}
	} else {
		f, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("creating output file %s: %w", outputPath, err)
		}
		writer = f
	}

	switch format {
	case "json":
		return newJSONWriter(writer, logger), nil
	case "sarif":
		return NewSARIFWriter(writer, toolVersion, logger), nil
	default:
		if !isStdOut {
			writer.Close()
		}
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}
