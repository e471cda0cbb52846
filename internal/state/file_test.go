// internal/state/file_test.go
package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/suture-cli/api/schemas"
)

func newFileStore(t *testing.T) (*FileStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.json")
	store, err := NewFileStore(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	return store, path
}

// populatedState exercises every field group the snapshot carries: counters,
// the open backlog, the repair ledger, the analytics log and cycle history.
func populatedState() *schemas.SystemState {
	detected := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	st := schemas.NewSystemState()
	st.CycleCount = 12
	st.TotalErrorsDetected = 40
	st.TotalErrorsFixed = 31
	st.ErrorsFree = false
	st.SystemStatus = schemas.StatusDegraded
	st.LastSuccessfulCycle = detected.Add(-time.Hour)
	st.CurrentErrors = []schemas.Issue{{
		ID:              "9f2c9f5e-8a64-4d1a-9f27-1df25b1f5a11",
		Category:        schemas.CategoryConsole,
		Severity:        schemas.SeverityHigh,
		Message:         "TypeError: Cannot read properties of undefined (reading 'map')",
		Source:          "https://shop.example.com/static/app.js",
		TargetURL:       "https://shop.example.com/",
		DetectedAt:      detected,
		Signature:       "UNDEFINED_ERROR",
		RepairAttempts:  2,
		StrategiesTried: []string{"reload", "clear_cache"},
	}}
	st.RepairHistory = []schemas.RepairRecord{{
		IssueID:            "9f2c9f5e-8a64-4d1a-9f27-1df25b1f5a11",
		Strategy:           "reload",
		Outcome:            schemas.OutcomeFailed,
		Success:            false,
		Timestamp:          detected.Add(5 * time.Second),
		BeforeState:        schemas.StateSnapshot{CycleCount: 12, TotalErrorsDetected: 40},
		AfterState:         schemas.StateSnapshot{CycleCount: 12, TotalErrorsDetected: 40},
		VerificationPassed: false,
		Duration:           4200 * time.Millisecond,
	}}
	st.IssueLog = []schemas.IssueLogEntry{{
		Signature:  "UNDEFINED_ERROR",
		Category:   schemas.CategoryConsole,
		Severity:   schemas.SeverityHigh,
		TargetURL:  "https://shop.example.com/",
		DetectedAt: detected,
	}}
	st.CycleHistory = []schemas.CycleAnalytics{{
		CycleNumber:        12,
		Timestamp:          detected.Add(time.Minute),
		Duration:           48 * time.Second,
		ErrorsDetected:     1,
		IssuesAttempted:    1,
		PerformanceMetrics: map[string]float64{"load_time_ms": 1430.5, "heap_ratio": 0.41},
		StrategiesUsed:     map[string]int{"reload": 1, "clear_cache": 1},
	}}
	return st
}

func TestFileStore_RoundTrip(t *testing.T) {
	store, _ := newFileStore(t)
	ctx := context.Background()

	saved := populatedState()
	require.NoError(t, store.Save(ctx, saved))

	loaded, ok, err := store.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	if diff := cmp.Diff(saved, loaded); diff != "" {
		t.Fatalf("state changed across save/load (-saved +loaded):\n%s", diff)
	}
}

func TestFileStore_LoadBeforeFirstSave(t *testing.T) {
	store, _ := newFileStore(t)

	loaded, ok, err := store.Load(context.Background())
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, loaded)
}

func TestFileStore_SaveStampsUpdatedAt(t *testing.T) {
	store, _ := newFileStore(t)
	before := time.Now().Add(-time.Second)

	st := schemas.NewSystemState()
	require.NoError(t, store.Save(context.Background(), st))

	assert.Equal(t, time.UTC, st.UpdatedAt.Location())
	assert.True(t, st.UpdatedAt.After(before))
}

func TestFileStore_SaveLeavesNoTempFile(t *testing.T) {
	store, path := newFileStore(t)
	require.NoError(t, store.Save(context.Background(), populatedState()))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "state.json", entries[0].Name())
}

func TestFileStore_SecondSaveWins(t *testing.T) {
	store, _ := newFileStore(t)
	ctx := context.Background()

	first := populatedState()
	require.NoError(t, store.Save(ctx, first))

	second := populatedState()
	second.CycleCount = 13
	second.ErrorsFree = true
	second.CurrentErrors = []schemas.Issue{}
	require.NoError(t, store.Save(ctx, second))

	loaded, ok, err := store.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 13, loaded.CycleCount)
	assert.True(t, loaded.ErrorsFree)
	assert.Empty(t, loaded.CurrentErrors)
}

func TestFileStore_CorruptFile(t *testing.T) {
	store, path := newFileStore(t)
	require.NoError(t, os.WriteFile(path, []byte("{\"cycle_count\": "), 0o600))

	_, ok, err := store.Load(context.Background())
	require.Error(t, err)
	assert.False(t, ok)
	assert.Contains(t, err.Error(), "corrupt")
}

func TestFileStore_EmptyFileMeansFirstRun(t *testing.T) {
	store, path := newFileStore(t)
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	loaded, ok, err := store.Load(context.Background())
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, loaded)
}

func TestFileStore_ExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	homedir.Reset()
	t.Cleanup(homedir.Reset)

	store, err := NewFileStore("~/.suture/state.json", zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), schemas.NewSystemState()))

	_, err = os.Stat(filepath.Join(home, ".suture", "state.json"))
	assert.NoError(t, err)
}

func TestFileStore_RejectsEmptyPath(t *testing.T) {
	_, err := NewFileStore("", zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestFileStore_CancelledContext(t *testing.T) {
	store, _ := newFileStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, store.Save(ctx, schemas.NewSystemState()), context.Canceled)
	_, _, err := store.Load(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
