// internal/detect/logwatch_test.go
package detect

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestFaultLineRegex(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		line  string
		fault bool
	}{
		{"plain panic", "panic: runtime error: invalid memory address", true},
		{"timestamped panic", "2026/08/23 10:02:11 panic: close of closed channel", true},
		{"json fatal level", `{"level":"fatal","msg":"listen tcp :8080: address already in use"}`, true},
		{"json error level", `{"level":"error","msg":"query failed"}`, true},
		{"bracketed error marker", "[ERROR] database connection lost", true},
		{"fatal marker", "FATAL: out of disk space", true},
		{"json info level", `{"level":"info","msg":"request served"}`, false},
		{"access log line", "GET /api/incidents 200 12ms", false},
		{"lowercase error prose", "recovered from a transient error, retrying", false},
		{"panic inside a word", "companic: not a real panic marker", false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.fault, faultLineRegex.MatchString(tt.line))
		})
	}
}

// appendLine writes one line to the log file the way a backend process would.
func appendLine(t *testing.T, path, line string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	defer f.Close()
	_, err = f.WriteString(line + "\n")
	require.NoError(t, err)
	// Small sleep helps ensure the OS notifies the tailer promptly.
	time.Sleep(10 * time.Millisecond)
}

func TestLogWatch_CollectsOnlyFaultLines(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "app.log")

	// Content present before Start must not be replayed into the first sweep.
	require.NoError(t, os.WriteFile(logFile, []byte("panic: from a previous run\n"), 0o644))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	w := NewLogWatch(logFile, zaptest.NewLogger(t))
	w.poll = true
	require.NoError(t, w.Start(ctx))
	time.Sleep(300 * time.Millisecond) // Allow the tailer to reach the end of the file.

	appendLine(t, logFile, `{"level":"info","msg":"healthy"}`)
	appendLine(t, logFile, "panic: runtime error: index out of range [3] with length 2")
	appendLine(t, logFile, "GET /api/incidents 200 9ms")
	appendLine(t, logFile, `{"level":"error","msg":"incident writeback failed"}`)

	var collected []string
	require.Eventually(t, func() bool {
		collected = append(collected, w.Drain()...)
		return len(collected) >= 2
	}, 8*time.Second, 100*time.Millisecond, "fault lines never arrived")

	require.Len(t, collected, 2)
	assert.Contains(t, collected[0], "panic: runtime error")
	assert.Contains(t, collected[1], "incident writeback failed")
	assert.NotContains(t, collected, "panic: from a previous run")

	// A drain consumes the buffer.
	assert.Empty(t, w.Drain())
}

func TestLogWatch_ToleratesMissingFile(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "not-yet-created.log")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	w := NewLogWatch(logFile, zaptest.NewLogger(t))
	w.poll = true
	require.NoError(t, w.Start(ctx), "a missing log file must not fail startup")
	time.Sleep(300 * time.Millisecond)

	// The backend comes up later and starts logging. The tailer seeks to the
	// end of the file it finds, so give it time to open before writing.
	require.NoError(t, os.WriteFile(logFile, []byte{}, 0o644))
	time.Sleep(time.Second)
	appendLine(t, logFile, "FATAL: migrations out of date")

	var collected []string
	require.Eventually(t, func() bool {
		collected = append(collected, w.Drain()...)
		return len(collected) >= 1
	}, 8*time.Second, 100*time.Millisecond)

	assert.Contains(t, collected[0], "migrations out of date")
}
