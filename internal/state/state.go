// Package state persists the monitor snapshot between cycles and across
// restarts. Two backends implement schemas.StateStore: a JSON file with
// atomic replace semantics, and PostgreSQL with a single snapshot row plus
// an append-only repair ledger.
package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/api/schemas"
	"github.com/xkilldash9x/suture-cli/internal/config"
)

// New builds the store selected by storage.backend. The postgres backend
// owns its connection pool; callers release it through Close.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (schemas.StateStore, error) {
	switch cfg.Storage.Backend {
	case "", "file":
		return NewFileStore(cfg.Storage.StatePath, logger)
	case "postgres":
		url := cfg.Storage.Postgres.URL
		if url == "" {
			return nil, errors.New("storage.backend is postgres but no connection url is configured")
		}
		pool, err := pgxpool.New(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("opening state database pool: %w", err)
		}
		store, err := NewPostgresStore(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
