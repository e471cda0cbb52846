package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/api/schemas"
)

// DBPool abstracts pgxpool.Pool so tests can substitute a mock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	Close()
}

// stateDDL is applied at construction. Everything is idempotent so repeated
// startups against the same database are harmless.
var stateDDL = []string{
	`CREATE TABLE IF NOT EXISTS monitor_state (
        id smallint PRIMARY KEY DEFAULT 1 CHECK (id = 1),
        snapshot jsonb NOT NULL,
        updated_at timestamptz NOT NULL
    );`,
	`CREATE TABLE IF NOT EXISTS repair_history (
        id bigserial PRIMARY KEY,
        issue_id text NOT NULL,
        strategy text NOT NULL,
        outcome text NOT NULL,
        success boolean NOT NULL,
        verification_passed boolean NOT NULL,
        duration_ms bigint NOT NULL,
        attempted_at timestamptz NOT NULL
    );`,
	`CREATE TABLE IF NOT EXISTS reports (
        id uuid PRIMARY KEY,
        generated_at timestamptz NOT NULL,
        cycle_number integer NOT NULL,
        system_status text NOT NULL,
        report jsonb NOT NULL
    );`,
}

const (
	sqlUpsertState = `
        INSERT INTO monitor_state (id, snapshot, updated_at)
        VALUES (1, $1, $2)
        ON CONFLICT (id) DO UPDATE SET
            snapshot = EXCLUDED.snapshot,
            updated_at = EXCLUDED.updated_at;
    `
	sqlLoadState = `
        SELECT snapshot FROM monitor_state WHERE id = 1;
    `
	sqlInsertReport = `
        INSERT INTO reports (id, generated_at, cycle_number, system_status, report)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (id) DO NOTHING;
    `
)

var repairColumns = []string{
	"issue_id", "strategy", "outcome", "success",
	"verification_passed", "duration_ms", "attempted_at",
}

// PostgresStore keeps the snapshot in a single upserted row and mirrors the
// repair ledger into an append-only table. It also accepts comprehensive
// reports, so the same database holds everything the status and report
// commands need.
type PostgresStore struct {
	pool   DBPool
	logger *zap.Logger

	mu sync.Mutex
	// persistedRepairs counts the RepairHistory prefix already mirrored to
	// the ledger table, so each save appends only the new suffix.
	persistedRepairs int
}

var (
	_ schemas.StateStore = (*PostgresStore)(nil)
	_ schemas.ReportSink = (*PostgresStore)(nil)
)

// NewPostgresStore verifies the connection and applies the schema.
func NewPostgresStore(ctx context.Context, pool DBPool, logger *zap.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging state database: %w", err)
	}
	s := &PostgresStore{
		pool:   pool,
		logger: logger.Named("state"),
	}
	for _, ddl := range stateDDL {
		if _, err := s.pool.Exec(ctx, ddl); err != nil {
			return nil, fmt.Errorf("preparing state schema: %w", err)
		}
	}
	return s, nil
}

// Save upserts the snapshot row and appends any repair records added since
// the last save, in one transaction.
func (s *PostgresStore) Save(ctx context.Context, st *schemas.SystemState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st.UpdatedAt = time.Now().UTC()
	snapshot, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning state transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.logger.Error("State transaction rollback failed.", zap.Error(rollbackErr))
		}
	}()

	if _, err := tx.Exec(ctx, sqlUpsertState, snapshot, st.UpdatedAt); err != nil {
		return fmt.Errorf("upserting state snapshot: %w", err)
	}

	start := min(s.persistedRepairs, len(st.RepairHistory))
	pending := st.RepairHistory[start:]
	if len(pending) > 0 {
		rows := make([][]any, len(pending))
		for i, r := range pending {
			rows[i] = []any{
				r.IssueID, r.Strategy, string(r.Outcome), r.Success,
				r.VerificationPassed, r.Duration.Milliseconds(), r.Timestamp.UTC(),
			}
		}
		copied, err := tx.CopyFrom(ctx, pgx.Identifier{"repair_history"}, repairColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("appending repair history: %w", err)
		}
		if int(copied) != len(pending) {
			return fmt.Errorf("repair history append wrote %d of %d rows", copied, len(pending))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing state transaction: %w", err)
	}
	s.persistedRepairs = len(st.RepairHistory)

	s.logger.Debug("State persisted.",
		zap.Int("cycles", st.CycleCount),
		zap.Int("new_repair_rows", len(pending)))
	return nil
}

// Load reads the snapshot row. No row means a first run.
func (s *PostgresStore) Load(ctx context.Context) (*schemas.SystemState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.pool.Query(ctx, sqlLoadState)
	if err != nil {
		return nil, false, fmt.Errorf("querying state snapshot: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, false, fmt.Errorf("reading state snapshot: %w", err)
		}
		return nil, false, nil
	}

	var raw []byte
	if err := rows.Scan(&raw); err != nil {
		return nil, false, fmt.Errorf("scanning state snapshot: %w", err)
	}

	var st schemas.SystemState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, false, fmt.Errorf("persisted state snapshot is corrupt: %w", err)
	}
	s.persistedRepairs = len(st.RepairHistory)

	s.logger.Debug("State loaded.",
		zap.Int("cycles", st.CycleCount),
		zap.Int("open_issues", len(st.CurrentErrors)))
	return &st, true, nil
}

// WriteReport inserts one comprehensive report keyed by its report ID.
// Replays of an already stored report are no-ops.
func (s *PostgresStore) WriteReport(ctx context.Context, report *schemas.ComprehensiveReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	_, err = s.pool.Exec(ctx, sqlInsertReport,
		report.ReportID, report.GeneratedAt, report.Cycle.CycleNumber,
		string(report.SystemStatus), payload)
	if err != nil {
		return fmt.Errorf("inserting report: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
