// internal/remedy/engine.go

// Package remedy walks the repair strategy chain for each detected issue,
// verifies every attempt against the detector, and returns the attempt
// ledger. It never mutates loop state beyond the issues it is handed.
package remedy

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/api/schemas"
	"github.com/xkilldash9x/suture-cli/internal/browser"
	"github.com/xkilldash9x/suture-cli/internal/config"
)

// Engine drives remediation. Issues are processed one at a time; a striped
// per-issue lock keeps at most one repair in flight per issue even when
// callers overlap.
type Engine struct {
	logger   *zap.Logger
	cfg      *config.Config
	surgeon  surgeon
	restart  restarter
	verifier schemas.Verifier
	registry []Strategy

	// injections and patches map signatures to repair scripts; injections
	// carry configured corrective scripts on top of the builtins.
	injections map[string]string
	patches    map[string]string

	repairLocks [64]sync.Mutex

	cooldownMu sync.Mutex
	lastRun    map[string]time.Time // strategy|target -> last start

	snapshot func() schemas.StateSnapshot
}

var _ schemas.Remediator = (*Engine)(nil)

// NewEngine wires the repair chain. Corrective scripts from configuration are
// syntax-checked here so a malformed script rejects startup instead of
// failing inside a live page.
func NewEngine(cfg *config.Config, manager *browser.Manager, verifier schemas.Verifier, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("remedy")

	injections := make(map[string]string, len(builtinInjections)+len(cfg.Remediation.CorrectiveScripts))
	for sig, src := range builtinInjections {
		injections[sig] = src
	}
	for sig, src := range cfg.Remediation.CorrectiveScripts {
		if err := lintScript(sig, src); err != nil {
			return nil, err
		}
		injections[sig] = src
	}

	patches := make(map[string]string, len(builtinPatches))
	for sig, src := range builtinPatches {
		patches[sig] = src
	}

	e := &Engine{
		logger:     logger,
		cfg:        cfg,
		surgeon:    newSessionSurgeon(manager, logger),
		restart:    newHookRestarter(cfg.Remediation.BackendRestartHook, logger),
		verifier:   verifier,
		injections: injections,
		patches:    patches,
		lastRun:    make(map[string]time.Time),
		snapshot:   func() schemas.StateSnapshot { return schemas.StateSnapshot{} },
	}
	e.registry = e.buildRegistry()
	return e, nil
}

// SetStateProvider installs the loop's counter view, used to fill the
// before/after snapshots on repair records.
func (e *Engine) SetStateProvider(fn func() schemas.StateSnapshot) {
	if fn != nil {
		e.snapshot = fn
	}
}

// Remediate walks the chain for every issue and returns how many were
// verified fixed plus the full attempt ledger.
func (e *Engine) Remediate(ctx context.Context, issues []*schemas.Issue) (int, []schemas.RepairRecord) {
	fixed := 0
	var records []schemas.RepairRecord

	for i, issue := range issues {
		if ctx.Err() != nil {
			e.logger.Warn("Remediation pass interrupted.",
				zap.Int("handled", i),
				zap.Int("total", len(issues)))
			break
		}

		issueRecords, ok := e.repairIssue(ctx, issue, fixed)
		records = append(records, issueRecords...)
		if ok {
			fixed++
		}
	}

	e.logger.Info("Remediation pass complete.",
		zap.Int("issues", len(issues)),
		zap.Int("fixed", fixed),
		zap.Int("attempts", len(records)))
	return fixed, records
}

// repairIssue runs the applicable strategies for one issue, stopping at the
// first verified fix or when the attempt budget runs out.
func (e *Engine) repairIssue(ctx context.Context, issue *schemas.Issue, fixedSoFar int) ([]schemas.RepairRecord, bool) {
	unlock := e.lockIssue(issue.ID)
	defer unlock()

	strategies := e.applicableStrategies(issue)
	if len(strategies) == 0 {
		e.logger.Debug("No applicable repair strategy.",
			zap.String("issue_id", issue.ID),
			zap.String("signature", issue.Signature))
		return nil, false
	}

	var records []schemas.RepairRecord
	for _, strat := range strategies {
		if ctx.Err() != nil {
			break
		}
		if issue.RepairAttempts >= e.cfg.Remediation.MaxRepairAttempts {
			e.logger.Info("Repair attempt budget exhausted; issue stays open.",
				zap.String("issue_id", issue.ID),
				zap.String("signature", issue.Signature),
				zap.Int("attempts", issue.RepairAttempts))
			break
		}

		if strat.Cooldown > 0 && !e.cooldownElapsed(strat, issue.TargetURL) {
			e.logger.Info("Strategy inside its cooldown window; skipping.",
				zap.String("strategy", strat.Name),
				zap.String("target", issue.TargetURL))
			records = append(records, e.rateLimitedRecord(strat, issue, fixedSoFar))
			continue
		}

		record := e.attempt(ctx, strat, issue, fixedSoFar)
		records = append(records, record)

		if record.Success {
			e.logger.Info("Issue verified fixed.",
				zap.String("issue_id", issue.ID),
				zap.String("signature", issue.Signature),
				zap.String("strategy", strat.Name))
			return records, true
		}
	}
	return records, false
}

// attempt applies one strategy and verifies the signature stayed gone. The
// action is panic-safe; a panicking strategy produces an error outcome, not a
// crashed loop.
func (e *Engine) attempt(ctx context.Context, strat Strategy, issue *schemas.Issue, fixedSoFar int) schemas.RepairRecord {
	start := time.Now()
	target := targetFor(issue)

	issue.RepairAttempts++
	issue.StrategiesTried = append(issue.StrategiesTried, strat.Name)
	e.stampCooldown(strat, issue.TargetURL)

	record := schemas.RepairRecord{
		IssueID:     issue.ID,
		Strategy:    strat.Name,
		BeforeState: e.snapshotAt(fixedSoFar),
	}

	e.logger.Info("Attempting repair.",
		zap.String("issue_id", issue.ID),
		zap.String("signature", issue.Signature),
		zap.String("strategy", strat.Name),
		zap.Int("attempt", issue.RepairAttempts))

	if err := e.applySafely(ctx, strat, issue, target); err != nil {
		e.logger.Warn("Repair action failed.",
			zap.String("strategy", strat.Name),
			zap.Error(err))
		record.Outcome = schemas.OutcomeError
	} else {
		gone, verr := e.verifier.VerifyAbsence(ctx, target, issue.Signature, e.cfg.Remediation.VerificationWindow)
		switch {
		case verr != nil:
			e.logger.Warn("Verification could not run.", zap.Error(verr))
			record.Outcome = schemas.OutcomeError
		case gone:
			record.Outcome = schemas.OutcomeFixed
			record.Success = true
			record.VerificationPassed = true
		default:
			e.logger.Info("Issue recurred inside the verification window.",
				zap.String("strategy", strat.Name),
				zap.String("signature", issue.Signature))
			record.Outcome = schemas.OutcomeFailed
		}
	}

	delta := fixedSoFar
	if record.Success {
		delta++
	}
	record.AfterState = e.snapshotAt(delta)
	record.Timestamp = time.Now().UTC()
	record.Duration = time.Since(start)
	return record
}

// applySafely shields the pass from a panicking strategy action.
func (e *Engine) applySafely(ctx context.Context, strat Strategy, issue *schemas.Issue, target schemas.Target) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("strategy %s panicked: %v", strat.Name, r)
		}
	}()
	return strat.Apply(ctx, target, issue)
}

// rateLimitedRecord ledgers a skip without consuming a repair attempt.
func (e *Engine) rateLimitedRecord(strat Strategy, issue *schemas.Issue, fixedSoFar int) schemas.RepairRecord {
	snap := e.snapshotAt(fixedSoFar)
	return schemas.RepairRecord{
		IssueID:     issue.ID,
		Strategy:    strat.Name,
		Outcome:     schemas.OutcomeRateLimited,
		Timestamp:   time.Now().UTC(),
		BeforeState: snap,
		AfterState:  snap,
	}
}

// lockIssue serializes repairs per issue through a striped lock. Collisions
// between distinct issues only over-serialize, never corrupt.
func (e *Engine) lockIssue(id string) func() {
	h := fnv.New32a()
	h.Write([]byte(id))
	lock := &e.repairLocks[h.Sum32()%uint32(len(e.repairLocks))]
	lock.Lock()
	return lock.Unlock
}

func (e *Engine) cooldownElapsed(strat Strategy, targetURL string) bool {
	e.cooldownMu.Lock()
	defer e.cooldownMu.Unlock()
	last, ok := e.lastRun[strat.Name+"|"+targetURL]
	return !ok || time.Since(last) >= strat.Cooldown
}

func (e *Engine) stampCooldown(strat Strategy, targetURL string) {
	if strat.Cooldown <= 0 {
		return
	}
	e.cooldownMu.Lock()
	e.lastRun[strat.Name+"|"+targetURL] = time.Now()
	e.cooldownMu.Unlock()
}

// snapshotAt returns the loop's counter snapshot adjusted for fixes this pass
// has already verified.
func (e *Engine) snapshotAt(fixedDelta int) schemas.StateSnapshot {
	snap := e.snapshot()
	snap.TotalErrorsFixed += fixedDelta
	if snap.OpenIssues > fixedDelta {
		snap.OpenIssues -= fixedDelta
	} else {
		snap.OpenIssues = 0
	}
	snap.ErrorsFree = snap.OpenIssues == 0
	return snap
}
