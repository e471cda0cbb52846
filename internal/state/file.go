package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	json "github.com/json-iterator/go"
	homedir "github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/api/schemas"
)

// FileStore keeps the snapshot in a single JSON file. Saves write a sibling
// temp file and rename it over the target, so a crash mid-save leaves either
// the old snapshot or the new one, never a torn write.
type FileStore struct {
	path   string
	logger *zap.Logger

	mu sync.Mutex
}

var _ schemas.StateStore = (*FileStore)(nil)

// NewFileStore expands the path ("~" included) and makes sure its directory
// exists.
func NewFileStore(path string, logger *zap.Logger) (*FileStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path == "" {
		return nil, errors.New("state path is empty")
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("expanding state path %q: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}
	return &FileStore{
		path:   expanded,
		logger: logger.Named("state"),
	}, nil
}

// Save stamps UpdatedAt and replaces the snapshot file atomically.
func (s *FileStore) Save(ctx context.Context, st *schemas.SystemState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	st.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replacing state file: %w", err)
	}

	s.logger.Debug("State persisted.",
		zap.String("path", s.path),
		zap.Int("bytes", len(data)),
		zap.Int("cycles", st.CycleCount))
	return nil
}

// Load reads the last snapshot. A missing or empty file means a first run,
// reported as (nil, false, nil); a file that exists but does not parse is an
// error so the caller can decide whether to start fresh.
func (s *FileStore) Load(ctx context.Context) (*schemas.SystemState, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading state file: %w", err)
	}
	if len(data) == 0 {
		return nil, false, nil
	}

	var st schemas.SystemState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, false, fmt.Errorf("state file %s is corrupt: %w", s.path, err)
	}

	s.logger.Debug("State loaded.",
		zap.String("path", s.path),
		zap.Int("cycles", st.CycleCount),
		zap.Int("open_issues", len(st.CurrentErrors)))
	return &st, true, nil
}
