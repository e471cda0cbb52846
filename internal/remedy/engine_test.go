// internal/remedy/engine_test.go
package remedy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/suture-cli/api/schemas"
	"github.com/xkilldash9x/suture-cli/internal/config"
)

// -- Mocks --

type mockSurgeon struct{ mock.Mock }

func (m *mockSurgeon) Reload(ctx context.Context, target schemas.Target, ignoreCache bool) error {
	args := m.Called(ctx, target, ignoreCache)
	return args.Error(0)
}

func (m *mockSurgeon) ClearState(ctx context.Context, target schemas.Target) error {
	args := m.Called(ctx, target)
	return args.Error(0)
}

func (m *mockSurgeon) FreshSession(ctx context.Context, target schemas.Target) error {
	args := m.Called(ctx, target)
	return args.Error(0)
}

func (m *mockSurgeon) RunScript(ctx context.Context, target schemas.Target, script string) error {
	args := m.Called(ctx, target, script)
	return args.Error(0)
}

type mockVerifier struct{ mock.Mock }

func (m *mockVerifier) VerifyAbsence(ctx context.Context, target schemas.Target, sig string, window time.Duration) (bool, error) {
	args := m.Called(ctx, target, sig, window)
	return args.Bool(0), args.Error(1)
}

type mockRestarter struct{ mock.Mock }

func (m *mockRestarter) Restart(ctx context.Context, target schemas.Target) error {
	args := m.Called(ctx, target)
	return args.Error(0)
}

// newTestEngine builds an engine with every external effect mocked out.
func newTestEngine(t *testing.T, mutate func(cfg *config.Config)) (*Engine, *mockSurgeon, *mockVerifier, *mockRestarter) {
	t.Helper()
	cfg := config.NewDefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}

	verifier := new(mockVerifier)
	e, err := NewEngine(cfg, nil, verifier, zaptest.NewLogger(t))
	require.NoError(t, err)

	s := new(mockSurgeon)
	r := new(mockRestarter)
	e.surgeon = s
	e.restart = r
	e.registry = e.buildRegistry() // Rebind closures to the mocks.
	return e, s, verifier, r
}

func consoleIssue() *schemas.Issue {
	return &schemas.Issue{
		ID:         uuid.New().String(),
		Category:   schemas.CategoryConsole,
		Severity:   schemas.SeverityHigh,
		Message:    "ReferenceError: trackEvent is not defined",
		Source:     "console",
		TargetURL:  "https://shop.example.com",
		Signature:  "REFERENCE_ERROR",
		DetectedAt: time.Now().UTC(),
	}
}

func apiOutageIssue() *schemas.Issue {
	return &schemas.Issue{
		ID:         uuid.New().String(),
		Category:   schemas.CategoryAPI,
		Severity:   schemas.SeverityCritical,
		Message:    "API endpoint returned HTTP 503 Service Unavailable",
		Source:     "api_probe",
		TargetURL:  "https://api.example.com/health",
		Signature:  "HTTP_ERROR",
		DetectedAt: time.Now().UTC(),
	}
}

// -- Tests --

func TestRemediate_FirstStrategyFixes(t *testing.T) {
	e, s, v, _ := newTestEngine(t, nil)
	e.SetStateProvider(func() schemas.StateSnapshot {
		return schemas.StateSnapshot{CycleCount: 7, TotalErrorsDetected: 12, TotalErrorsFixed: 10, OpenIssues: 3}
	})

	issue := consoleIssue()
	s.On("Reload", mock.Anything, mock.Anything, false).Return(nil).Once()
	v.On("VerifyAbsence", mock.Anything, mock.Anything, "REFERENCE_ERROR", 3*time.Second).Return(true, nil).Once()

	fixed, records := e.Remediate(context.Background(), []*schemas.Issue{issue})

	assert.Equal(t, 1, fixed)
	require.Len(t, records, 1)

	record := records[0]
	assert.Equal(t, issue.ID, record.IssueID)
	assert.Equal(t, StrategyReload, record.Strategy)
	assert.Equal(t, schemas.OutcomeFixed, record.Outcome)
	assert.True(t, record.Success)
	assert.True(t, record.VerificationPassed)
	assert.False(t, record.Timestamp.IsZero())

	assert.Equal(t, 3, record.BeforeState.OpenIssues)
	assert.Equal(t, 10, record.BeforeState.TotalErrorsFixed)
	assert.Equal(t, 2, record.AfterState.OpenIssues)
	assert.Equal(t, 11, record.AfterState.TotalErrorsFixed)
	assert.False(t, record.AfterState.ErrorsFree)

	assert.Equal(t, 1, issue.RepairAttempts)
	assert.Equal(t, []string{StrategyReload}, issue.StrategiesTried)

	s.AssertExpectations(t)
	v.AssertExpectations(t)
	s.AssertNotCalled(t, "ClearState", mock.Anything, mock.Anything)
}

func TestRemediate_ChainFallsThrough(t *testing.T) {
	e, s, v, _ := newTestEngine(t, nil)
	issue := consoleIssue()

	// reload's action fails outright, clear_cache applies but the issue
	// recurs, restart_session finally sticks.
	s.On("Reload", mock.Anything, mock.Anything, false).Return(errors.New("tab crashed")).Once()
	s.On("ClearState", mock.Anything, mock.Anything).Return(nil).Once()
	s.On("FreshSession", mock.Anything, mock.Anything).Return(nil).Once()
	v.On("VerifyAbsence", mock.Anything, mock.Anything, "REFERENCE_ERROR", mock.Anything).Return(false, nil).Once()
	v.On("VerifyAbsence", mock.Anything, mock.Anything, "REFERENCE_ERROR", mock.Anything).Return(true, nil).Once()

	fixed, records := e.Remediate(context.Background(), []*schemas.Issue{issue})

	assert.Equal(t, 1, fixed)
	require.Len(t, records, 3)
	assert.Equal(t, schemas.OutcomeError, records[0].Outcome)
	assert.False(t, records[0].VerificationPassed)
	assert.Equal(t, schemas.OutcomeFailed, records[1].Outcome)
	assert.Equal(t, schemas.OutcomeFixed, records[2].Outcome)

	assert.Equal(t, 3, issue.RepairAttempts)
	assert.Equal(t, []string{StrategyReload, StrategyClearCache, StrategyRestartSession}, issue.StrategiesTried)
	s.AssertExpectations(t)
}

func TestRemediate_AttemptBudget(t *testing.T) {
	e, s, v, _ := newTestEngine(t, func(cfg *config.Config) {
		cfg.Remediation.MaxRepairAttempts = 2
	})
	issue := consoleIssue()

	s.On("Reload", mock.Anything, mock.Anything, false).Return(nil).Once()
	s.On("ClearState", mock.Anything, mock.Anything).Return(nil).Once()
	v.On("VerifyAbsence", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(false, nil).Twice()

	fixed, records := e.Remediate(context.Background(), []*schemas.Issue{issue})

	assert.Zero(t, fixed)
	require.Len(t, records, 2, "the chain stops at the attempt budget")
	assert.Equal(t, 2, issue.RepairAttempts)
	s.AssertNotCalled(t, "FreshSession", mock.Anything, mock.Anything)
}

func TestRemediate_CarriedAttemptsCountAgainstBudget(t *testing.T) {
	e, s, _, _ := newTestEngine(t, nil)
	issue := consoleIssue()
	issue.RepairAttempts = 3 // Exhausted in earlier cycles.

	fixed, records := e.Remediate(context.Background(), []*schemas.Issue{issue})

	assert.Zero(t, fixed)
	assert.Empty(t, records)
	s.AssertNotCalled(t, "Reload", mock.Anything, mock.Anything, mock.Anything)
}

func TestRemediate_NoApplicableStrategy(t *testing.T) {
	e, _, _, _ := newTestEngine(t, nil)
	issue := &schemas.Issue{
		ID:        uuid.New().String(),
		Category:  schemas.CategorySecurity,
		Severity:  schemas.SeverityMedium,
		Message:   "response is missing the Content-Security-Policy header",
		Source:    "security_headers",
		TargetURL: "https://shop.example.com",
		Signature: "CSP_VIOLATION",
	}

	fixed, records := e.Remediate(context.Background(), []*schemas.Issue{issue})

	assert.Zero(t, fixed)
	assert.Empty(t, records)
	assert.Zero(t, issue.RepairAttempts)
}

func TestRemediate_BackendRestartCooldown(t *testing.T) {
	e, _, v, r := newTestEngine(t, nil)

	first := apiOutageIssue()
	r.On("Restart", mock.Anything, mock.Anything).Return(nil).Once()
	v.On("VerifyAbsence", mock.Anything, mock.Anything, "HTTP_ERROR", mock.Anything).Return(true, nil).Once()

	fixed, records := e.Remediate(context.Background(), []*schemas.Issue{first})
	assert.Equal(t, 1, fixed)
	require.Len(t, records, 1)
	assert.Equal(t, StrategyBackendRestart, records[0].Strategy)
	assert.Equal(t, schemas.OutcomeFixed, records[0].Outcome)

	// The same endpoint degrades again immediately; the cooldown gate skips
	// the restart without consuming an attempt.
	second := apiOutageIssue()
	fixed, records = e.Remediate(context.Background(), []*schemas.Issue{second})

	assert.Zero(t, fixed)
	require.Len(t, records, 1)
	assert.Equal(t, schemas.OutcomeRateLimited, records[0].Outcome)
	assert.False(t, records[0].Success)
	assert.Zero(t, second.RepairAttempts, "a rate limited skip is not an attempt")
	assert.Empty(t, second.StrategiesTried)

	r.AssertNumberOfCalls(t, "Restart", 1)
}

func TestRemediate_CooldownExpiryAllowsRestart(t *testing.T) {
	e, _, v, r := newTestEngine(t, nil)

	// Backdate the last run past the cooldown.
	issue := apiOutageIssue()
	e.lastRun[StrategyBackendRestart+"|"+issue.TargetURL] = time.Now().Add(-10 * time.Minute)

	r.On("Restart", mock.Anything, mock.Anything).Return(nil).Once()
	v.On("VerifyAbsence", mock.Anything, mock.Anything, "HTTP_ERROR", mock.Anything).Return(true, nil).Once()

	fixed, _ := e.Remediate(context.Background(), []*schemas.Issue{issue})
	assert.Equal(t, 1, fixed)
	r.AssertExpectations(t)
}

func TestRemediate_PanickingStrategyIsContained(t *testing.T) {
	e, s, v, _ := newTestEngine(t, nil)
	e.registry = []Strategy{
		{
			Name:       "explode",
			Priority:   1,
			Applicable: func(*schemas.Issue) bool { return true },
			Apply: func(context.Context, schemas.Target, *schemas.Issue) error {
				panic("boom")
			},
		},
		{
			Name:       StrategyReload,
			Priority:   2,
			Applicable: func(*schemas.Issue) bool { return true },
			Apply: func(ctx context.Context, target schemas.Target, _ *schemas.Issue) error {
				return s.Reload(ctx, target, false)
			},
		},
	}

	issue := consoleIssue()
	s.On("Reload", mock.Anything, mock.Anything, false).Return(nil).Once()
	v.On("VerifyAbsence", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(true, nil).Once()

	fixed, records := e.Remediate(context.Background(), []*schemas.Issue{issue})

	assert.Equal(t, 1, fixed)
	require.Len(t, records, 2)
	assert.Equal(t, schemas.OutcomeError, records[0].Outcome)
	assert.Equal(t, schemas.OutcomeFixed, records[1].Outcome)
}

func TestRemediate_VerifierErrorIsAnErrorOutcome(t *testing.T) {
	e, s, v, _ := newTestEngine(t, func(cfg *config.Config) {
		cfg.Remediation.MaxRepairAttempts = 1
	})
	issue := consoleIssue()

	s.On("Reload", mock.Anything, mock.Anything, false).Return(nil).Once()
	v.On("VerifyAbsence", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(false, context.DeadlineExceeded).Once()

	fixed, records := e.Remediate(context.Background(), []*schemas.Issue{issue})

	assert.Zero(t, fixed)
	require.Len(t, records, 1)
	assert.Equal(t, schemas.OutcomeError, records[0].Outcome)
	assert.False(t, records[0].Success)
	assert.False(t, records[0].VerificationPassed)
}

func TestRemediate_CancelledContextStopsThePass(t *testing.T) {
	e, s, _, _ := newTestEngine(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fixed, records := e.Remediate(ctx, []*schemas.Issue{consoleIssue(), consoleIssue()})

	assert.Zero(t, fixed)
	assert.Empty(t, records)
	s.AssertNotCalled(t, "Reload", mock.Anything, mock.Anything, mock.Anything)
}

func TestNewEngine_RejectsMalformedCorrectiveScript(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Remediation.CorrectiveScripts = map[string]string{
		"CUSTOM_WIDGET_ERROR": "function ( { oops",
	}

	_, err := NewEngine(cfg, nil, new(mockVerifier), zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "syntax error")
}

func TestNewEngine_AcceptsAndMergesCorrectiveScripts(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Remediation.CorrectiveScripts = map[string]string{
		"CUSTOM_WIDGET_ERROR": "document.querySelectorAll('.widget').forEach((w) => w.remove());",
		"REFERENCE_ERROR":     "window.__custom = true;",
	}

	e, err := NewEngine(cfg, nil, new(mockVerifier), zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.Contains(t, e.injections, "CUSTOM_WIDGET_ERROR")
	assert.Equal(t, "window.__custom = true;", e.injections["REFERENCE_ERROR"],
		"configured scripts override builtins for the same signature")
	assert.Contains(t, e.injections, "UNDEFINED_ERROR", "builtins stay available")
}
