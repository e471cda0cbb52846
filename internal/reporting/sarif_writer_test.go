// internal/reporting/sarif_writer_test.go
package reporting_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/suture-cli/api/schemas"
	"github.com/xkilldash9x/suture-cli/internal/reporting"
	"github.com/xkilldash9x/suture-cli/internal/reporting/sarif"
)

// MockWriteCloser captures output and can simulate I/O errors.
type MockWriteCloser struct {
	Buffer    *bytes.Buffer
	FailWrite bool
	FailClose bool
}

func (m *MockWriteCloser) Write(p []byte) (n int, err error) {
	if m.FailWrite {
		return 0, errors.New("simulated write error")
	}
	return m.Buffer.Write(p)
}

func (m *MockWriteCloser) Close() error {
	if m.FailClose {
		return errors.New("simulated close error")
	}
	return nil
}

func setupSARIFTest(t *testing.T) (*reporting.SARIFWriter, *MockWriteCloser) {
	t.Helper()
	mockWriter := &MockWriteCloser{Buffer: new(bytes.Buffer)}
	writer := reporting.NewSARIFWriter(mockWriter, "v1.2.3-test", zaptest.NewLogger(t))
	return writer, mockWriter
}

func backlogState() *schemas.SystemState {
	detected := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	st := schemas.NewSystemState()
	st.CurrentErrors = []schemas.Issue{
		{
			ID:              "issue-1",
			Category:        schemas.CategoryAPI,
			Severity:        schemas.SeverityCritical,
			Message:         "HTTP 503 from /api/incidents",
			Source:          "/api/incidents",
			TargetURL:       "https://shop.example.com/api/incidents",
			DetectedAt:      detected,
			Signature:       "HTTP_ERROR",
			RepairAttempts:  2,
			StrategiesTried: []string{"reload", "backend_restart"},
		},
		{
			ID:         "issue-2",
			Category:   schemas.CategoryAPI,
			Severity:   schemas.SeverityCritical,
			Message:    "HTTP 502 from /api/orders",
			Source:     "/api/orders",
			TargetURL:  "https://shop.example.com/api/orders",
			DetectedAt: detected,
			Signature:  "HTTP_ERROR",
		},
		{
			ID:         "issue-3",
			Category:   schemas.CategoryAccessibility,
			Severity:   schemas.SeverityMedium,
			Message:    "missing landmarks: main",
			Source:     "landmark_probe",
			TargetURL:  "https://shop.example.com/",
			DetectedAt: detected,
			Signature:  "MISSING_LANDMARK",
		},
	}
	return st
}

func TestSARIFWriter_EmptyLog(t *testing.T) {
	writer, mock := setupSARIFTest(t)

	require.NoError(t, writer.Close())

	var log sarif.Log
	require.NoError(t, json.Unmarshal(mock.Buffer.Bytes(), &log), "output should be valid SARIF JSON")

	assert.Equal(t, reporting.SARIFVersion, log.Version)
	require.Len(t, log.Runs, 1)
	run := log.Runs[0]
	require.NotNil(t, run.Tool)
	require.NotNil(t, run.Tool.Driver)
	assert.Equal(t, reporting.ToolName, run.Tool.Driver.Name)
	assert.Equal(t, "v1.2.3-test", *run.Tool.Driver.Version)

	// Results and rules must serialize as [] rather than null.
	require.NotNil(t, run.Results)
	assert.Empty(t, run.Results)
	assert.Empty(t, run.Tool.Driver.Rules)
}

func TestSARIFWriter_RendersBacklog(t *testing.T) {
	writer, mock := setupSARIFTest(t)

	report := &schemas.ComprehensiveReport{
		Patterns: []schemas.ErrorPattern{{
			Signature:           "HTTP_ERROR",
			Category:            schemas.CategoryAPI,
			Frequency:           5,
			SuccessRate:         60,
			RecommendedStrategy: "backend_restart",
			Prevention:          []string{"Add a health endpoint.", "Alert on error-rate spikes."},
		}},
	}

	require.NoError(t, writer.Write(backlogState(), report))
	require.NoError(t, writer.Close())

	var log sarif.Log
	require.NoError(t, json.Unmarshal(mock.Buffer.Bytes(), &log))
	run := log.Runs[0]

	// Two HTTP_ERROR issues share one rule; the landmark issue gets its own.
	require.Len(t, run.Tool.Driver.Rules, 2)
	assert.Equal(t, "SUTURE-HTTP_ERROR", run.Tool.Driver.Rules[0].ID)
	assert.Equal(t, "SUTURE-MISSING_LANDMARK", run.Tool.Driver.Rules[1].ID)

	httpRule := run.Tool.Driver.Rules[0]
	require.NotNil(t, httpRule.Help)
	assert.Contains(t, *httpRule.Help.Text, "Add a health endpoint.")
	require.NotNil(t, httpRule.Properties)
	assert.EqualValues(t, 5, (*httpRule.Properties)["frequency"])
	assert.Equal(t, "backend_restart", (*httpRule.Properties)["recommended_strategy"])

	landmarkRule := run.Tool.Driver.Rules[1]
	require.NotNil(t, landmarkRule.Help)
	assert.Equal(t, "No repair guidance recorded yet.", *landmarkRule.Help.Text)

	require.Len(t, run.Results, 3)
	first := run.Results[0]
	assert.Equal(t, "SUTURE-HTTP_ERROR", first.RuleID)
	assert.Equal(t, sarif.LevelError, first.Level)
	assert.Equal(t, "HTTP 503 from /api/incidents", *first.Message.Text)
	assert.Equal(t, "HTTP_ERROR", first.PartialFingerprints["suture/signature"])
	require.Len(t, first.Locations, 1)
	assert.Equal(t, "https://shop.example.com/api/incidents", *first.Locations[0].PhysicalLocation.ArtifactLocation.URI)
	assert.EqualValues(t, 2, (*first.Properties)["repair_attempts"])

	assert.Equal(t, sarif.LevelWarning, run.Results[2].Level)
}

func TestSARIFWriter_WriteWithoutReport(t *testing.T) {
	writer, mock := setupSARIFTest(t)

	require.NoError(t, writer.Write(backlogState(), nil))
	require.NoError(t, writer.Close())

	var log sarif.Log
	require.NoError(t, json.Unmarshal(mock.Buffer.Bytes(), &log))
	assert.Len(t, log.Runs[0].Results, 3)
}

func TestSARIFWriter_SeverityLevels(t *testing.T) {
	writer, mock := setupSARIFTest(t)

	st := schemas.NewSystemState()
	for i, severity := range []schemas.Severity{
		schemas.SeverityCritical, schemas.SeverityHigh,
		schemas.SeverityMedium, schemas.SeverityLow,
	} {
		st.CurrentErrors = append(st.CurrentErrors, schemas.Issue{
			ID:        string(rune('a' + i)),
			Severity:  severity,
			Message:   "probe failure",
			TargetURL: "https://shop.example.com/",
			Signature: "SIG_" + string(rune('A'+i)),
		})
	}

	require.NoError(t, writer.Write(st, nil))
	require.NoError(t, writer.Close())

	var log sarif.Log
	require.NoError(t, json.Unmarshal(mock.Buffer.Bytes(), &log))
	results := log.Runs[0].Results
	require.Len(t, results, 4)
	assert.Equal(t, sarif.LevelError, results[0].Level)
	assert.Equal(t, sarif.LevelError, results[1].Level)
	assert.Equal(t, sarif.LevelWarning, results[2].Level)
	assert.Equal(t, sarif.LevelNote, results[3].Level)
}

func TestSARIFWriter_CloseErrors(t *testing.T) {
	t.Run("write failure wins over close failure", func(t *testing.T) {
		writer, mock := setupSARIFTest(t)
		mock.FailWrite = true
		mock.FailClose = true

		err := writer.Close()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "encoding sarif output")
	})

	t.Run("close failure alone is reported", func(t *testing.T) {
		writer, mock := setupSARIFTest(t)
		mock.FailClose = true

		err := writer.Close()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "closing sarif output")
	})
}
