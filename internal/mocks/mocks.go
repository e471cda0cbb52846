// File: internal/mocks/mocks.go

// Package mocks holds hand-rolled testify mocks for the engine and
// persistence interfaces. The loop and command tests share them; engine
// packages keep their own narrower mocks next to the code they exercise.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/suture-cli/api/schemas"
)

// -- Engine Mocks --

// MockDetector mocks schemas.Detector.
type MockDetector struct{ mock.Mock }

var _ schemas.Detector = (*MockDetector)(nil)

func (m *MockDetector) Detect(ctx context.Context, targets []schemas.Target) ([]schemas.Issue, error) {
	args := m.Called(ctx, targets)
	issues, _ := args.Get(0).([]schemas.Issue)
	return issues, args.Error(1)
}

// MockRemediator mocks schemas.Remediator. Use Run callbacks to mutate the
// handed-in issues the way the real engine stamps attempt bookkeeping.
type MockRemediator struct{ mock.Mock }

var _ schemas.Remediator = (*MockRemediator)(nil)

func (m *MockRemediator) Remediate(ctx context.Context, issues []*schemas.Issue) (int, []schemas.RepairRecord) {
	args := m.Called(ctx, issues)
	records, _ := args.Get(1).([]schemas.RepairRecord)
	return args.Int(0), records
}

// MockValidator mocks schemas.Validator.
type MockValidator struct{ mock.Mock }

var _ schemas.Validator = (*MockValidator)(nil)

func (m *MockValidator) Validate(ctx context.Context, target schemas.Target) (*schemas.ComprehensiveValidationReport, error) {
	args := m.Called(ctx, target)
	report, _ := args.Get(0).(*schemas.ComprehensiveValidationReport)
	return report, args.Error(1)
}

// MockAnalyst mocks schemas.Analyst.
type MockAnalyst struct{ mock.Mock }

var _ schemas.Analyst = (*MockAnalyst)(nil)

func (m *MockAnalyst) Analyze(state *schemas.SystemState, cycle schemas.CycleAnalytics, validation *schemas.ComprehensiveValidationReport) *schemas.ComprehensiveReport {
	args := m.Called(state, cycle, validation)
	report, _ := args.Get(0).(*schemas.ComprehensiveReport)
	return report
}

// -- Persistence Mocks --

// MockStateStore mocks schemas.StateStore.
type MockStateStore struct{ mock.Mock }

var _ schemas.StateStore = (*MockStateStore)(nil)

func (m *MockStateStore) Save(ctx context.Context, state *schemas.SystemState) error {
	args := m.Called(ctx, state)
	return args.Error(0)
}

func (m *MockStateStore) Load(ctx context.Context) (*schemas.SystemState, bool, error) {
	args := m.Called(ctx)
	state, _ := args.Get(0).(*schemas.SystemState)
	return state, args.Bool(1), args.Error(2)
}

// MockReportSink mocks schemas.ReportSink.
type MockReportSink struct{ mock.Mock }

var _ schemas.ReportSink = (*MockReportSink)(nil)

func (m *MockReportSink) WriteReport(ctx context.Context, report *schemas.ComprehensiveReport) error {
	args := m.Called(ctx, report)
	return args.Error(0)
}

func (m *MockReportSink) Close() error {
	args := m.Called()
	return args.Error(0)
}

// -- Escalation Mock --

// MockEscalator mocks schemas.Escalator.
type MockEscalator struct{ mock.Mock }

var _ schemas.Escalator = (*MockEscalator)(nil)

func (m *MockEscalator) Escalate(ctx context.Context, pattern schemas.ErrorPattern, issues []schemas.Issue) error {
	args := m.Called(ctx, pattern, issues)
	return args.Error(0)
}
