// internal/monitor/loop.go

// Package monitor drives the self-healing cycle: detect issues, walk the
// repair strategies, validate the result, report, and sleep until the next
// pass. A single loop goroutine owns the persisted SystemState. Engines are
// injected as interfaces and hand results back; nothing outside the loop
// mutates state.
package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/api/schemas"
	"github.com/xkilldash9x/suture-cli/internal/config"
)

// Phase labels where the loop currently is in its cycle.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseDetecting   Phase = "detecting"
	PhaseRemediating Phase = "remediating"
	PhaseValidating  Phase = "validating"
	PhaseReporting   Phase = "reporting"
	PhaseSleeping    Phase = "sleeping"
	PhaseStopping    Phase = "stopping"
)

// finalPersistTimeout bounds the state save that runs during shutdown, when
// the loop context is typically already cancelled.
const finalPersistTimeout = 30 * time.Second

// Status is a point-in-time copy of the loop's coarse state. Readers get a
// value; the loop-owned SystemState is never shared.
type Status struct {
	Phase               Phase
	Running             bool
	CycleCount          int
	OpenIssues          int
	TotalErrorsDetected int
	TotalErrorsFixed    int
	ErrorsFree          bool
	SystemStatus        schemas.SystemStatus
	LastSuccessfulCycle time.Time
}

// Deps bundles the engines and persistence the loop drives. Escalator may be
// nil, in which case escalation is skipped entirely.
type Deps struct {
	Detector   schemas.Detector
	Remediator schemas.Remediator
	Validator  schemas.Validator
	Analyst    schemas.Analyst
	Store      schemas.StateStore
	Sink       schemas.ReportSink
	Escalator  schemas.Escalator
}

func (d Deps) validate() error {
	switch {
	case d.Detector == nil:
		return errors.New("detector cannot be nil")
	case d.Remediator == nil:
		return errors.New("remediator cannot be nil")
	case d.Validator == nil:
		return errors.New("validator cannot be nil")
	case d.Analyst == nil:
		return errors.New("analyst cannot be nil")
	case d.Store == nil:
		return errors.New("state store cannot be nil")
	case d.Sink == nil:
		return errors.New("report sink cannot be nil")
	}
	return nil
}

// Loop is the orchestrator. Create one with New, run it with Start, and shut
// it down with Stop; a Loop runs once and cannot be restarted.
type Loop struct {
	cfg    *config.Config
	logger *zap.Logger
	deps   Deps

	targets []schemas.Target

	// state and the fields below it belong to the run goroutine alone.
	state           *schemas.SystemState
	cyclesRun       int
	persistFailures int

	statusMu sync.Mutex
	status   Status

	stateLock sync.Mutex
	started   bool
	running   bool
	cancel    context.CancelFunc

	wg   sync.WaitGroup
	done chan struct{}
}

// New wires a loop from configuration and its engine dependencies.
func New(cfg *config.Config, deps Deps, logger *zap.Logger) (*Loop, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	targets := make([]schemas.Target, 0, len(cfg.Monitor.Targets))
	for _, t := range cfg.Monitor.Targets {
		targets = append(targets, schemas.Target{
			Name: t.Name,
			URL:  t.URL,
			Type: schemas.TargetType(t.Type),
		})
	}
	if len(targets) == 0 {
		return nil, errors.New("at least one monitor target is required")
	}

	return &Loop{
		cfg:     cfg,
		logger:  logger.Named("monitor"),
		deps:    deps,
		targets: targets,
		status: Status{
			Phase:        PhaseIdle,
			ErrorsFree:   true,
			SystemStatus: schemas.StatusHealthy,
		},
		done: make(chan struct{}),
	}, nil
}

// Start launches the loop goroutine. It returns an error when the loop is
// already running or has already finished.
func (l *Loop) Start(ctx context.Context) error {
	l.stateLock.Lock()
	defer l.stateLock.Unlock()

	if l.running {
		return errors.New("monitor loop is already running")
	}
	if l.started {
		return errors.New("monitor loop cannot be restarted")
	}
	l.started = true
	l.running = true

	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel

	l.wg.Add(1)
	go l.run(runCtx)
	return nil
}

// Stop asks the loop to wind down and blocks until it has persisted state and
// exited. The loop finishes its in-flight unit of work first. Safe to call
// more than once and after the loop stopped on its own.
func (l *Loop) Stop() {
	l.stateLock.Lock()
	cancel := l.cancel
	l.stateLock.Unlock()

	if cancel != nil {
		cancel()
	}
	l.wg.Wait()

	l.stateLock.Lock()
	l.running = false
	l.stateLock.Unlock()
}

// Done is closed once the loop has fully stopped, whether by Stop, context
// cancellation, or an exhausted cycle budget.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Status returns the current phase and counters. Safe from any goroutine.
func (l *Loop) Status() Status {
	l.statusMu.Lock()
	defer l.statusMu.Unlock()
	return l.status
}

// StateSnapshot exposes the counters the remediation engine stamps onto
// repair records. Safe from any goroutine.
func (l *Loop) StateSnapshot() schemas.StateSnapshot {
	l.statusMu.Lock()
	defer l.statusMu.Unlock()
	return schemas.StateSnapshot{
		CycleCount:          l.status.CycleCount,
		TotalErrorsDetected: l.status.TotalErrorsDetected,
		TotalErrorsFixed:    l.status.TotalErrorsFixed,
		OpenIssues:          l.status.OpenIssues,
		ErrorsFree:          l.status.ErrorsFree,
	}
}

func (l *Loop) run(ctx context.Context) {
	defer l.wg.Done()
	defer close(l.done)

	l.loadState(ctx)
	l.setPhase(PhaseIdle, true)

	for {
		if l.runCycle(ctx) {
			break
		}
		if max := l.cfg.Monitor.MaxCycles; max > 0 && l.cyclesRun >= max {
			l.logger.Info("Cycle budget exhausted, stopping.", zap.Int("cycles_run", l.cyclesRun))
			break
		}
		if !l.sleep(ctx) {
			break
		}
	}

	l.shutdown()
}

// loadState restores the persisted snapshot or starts fresh. An unreadable
// snapshot is logged and discarded; a monitor that refuses to start cannot
// heal anything.
func (l *Loop) loadState(ctx context.Context) {
	st, found, err := l.deps.Store.Load(ctx)
	switch {
	case err != nil:
		l.logger.Error("Persisted state unreadable, starting fresh.", zap.Error(err))
		l.state = schemas.NewSystemState()
	case !found:
		l.logger.Info("No persisted state found, starting fresh.")
		l.state = schemas.NewSystemState()
	default:
		l.logger.Info("Resuming from persisted state.",
			zap.Int("cycle_count", st.CycleCount),
			zap.Int("open_issues", len(st.CurrentErrors)))
		l.state = st
	}
}

// sleep waits out the configured interval, waking immediately on stop. It
// reports whether the loop should run another cycle.
func (l *Loop) sleep(ctx context.Context) bool {
	l.setPhase(PhaseSleeping, true)

	timer := time.NewTimer(l.cfg.Monitor.Interval)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// shutdown persists the final state with its own deadline so the snapshot
// survives even when the loop context is already cancelled.
func (l *Loop) shutdown() {
	l.setPhase(PhaseStopping, true)

	persistCtx, cancel := context.WithTimeout(context.Background(), finalPersistTimeout)
	defer cancel()
	if err := l.deps.Store.Save(persistCtx, l.state); err != nil {
		l.logger.Error("Final state persist failed.", zap.Error(err))
	}

	l.logger.Info("Monitor loop stopped.",
		zap.Int("cycle_count", l.state.CycleCount),
		zap.Int("open_issues", len(l.state.CurrentErrors)),
		zap.Int("total_fixed", l.state.TotalErrorsFixed))
	l.setPhase(PhaseStopping, false)
}

// setPhase publishes the phase transition together with a fresh counter copy
// for Status and StateSnapshot readers.
func (l *Loop) setPhase(phase Phase, running bool) {
	l.statusMu.Lock()
	defer l.statusMu.Unlock()

	l.status.Phase = phase
	l.status.Running = running
	if l.state == nil {
		return
	}
	l.status.CycleCount = l.state.CycleCount
	l.status.OpenIssues = len(l.state.CurrentErrors)
	l.status.TotalErrorsDetected = l.state.TotalErrorsDetected
	l.status.TotalErrorsFixed = l.state.TotalErrorsFixed
	l.status.ErrorsFree = l.state.ErrorsFree
	l.status.SystemStatus = l.state.SystemStatus
	l.status.LastSuccessfulCycle = l.state.LastSuccessfulCycle
}
