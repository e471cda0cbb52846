// internal/detect/logwatch.go
package detect

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"github.com/hpcloud/tail"
	"go.uber.org/zap"
)

// faultLineRegex picks the backend log lines worth turning into issues:
// plain-text panics, zap-style JSON panic/fatal/error levels, and classic
// uppercase level markers. The marker alternative is case-sensitive so prose
// containing the word "error" does not count as a fault.
var faultLineRegex = regexp.MustCompile(`(?i:(^|[\s:])panic:)|"level":"(?i:panic|fatal|error)"|\b(FATAL|ERROR)\b`)

// maxBufferedLines caps the drain buffer; a wedged backend can emit faults
// faster than cycles consume them.
const maxBufferedLines = 1000

// LogWatch tails the backend application log between detection sweeps and
// buffers fault lines until the next Drain.
type LogWatch struct {
	logger *zap.Logger
	path   string

	mu      sync.Mutex
	lines   []string
	dropped int

	// poll forces polling instead of inotify; set by tests.
	poll bool
}

// NewLogWatch prepares a watcher for the log file at path. Start must be
// called before lines accumulate.
func NewLogWatch(path string, logger *zap.Logger) *LogWatch {
	return &LogWatch{
		logger: logger.Named("logwatch"),
		path:   path,
	}
}

// Start begins tailing in a background goroutine that lives until ctx ends.
// The file may not exist yet; tailing picks it up on creation and survives
// rotation.
func (w *LogWatch) Start(ctx context.Context) error {
	t, err := tail.TailFile(w.path, tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: false,
		Poll:      w.poll,
		// Only lines written after the monitor starts matter.
		Location: &tail.SeekInfo{Offset: 0, Whence: 2},
		Logger:   tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to tail backend log %s: %w", w.path, err)
	}

	w.logger.Info("Watching backend log.", zap.String("path", w.path))
	go w.monitorLoop(ctx, t)
	return nil
}

// monitorLoop reads tailed lines and keeps the ones that look like faults.
func (w *LogWatch) monitorLoop(ctx context.Context, t *tail.Tail) {
	defer func() {
		t.Stop()
		t.Cleanup()
	}()

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("Stopping backend log watcher.")
			return

		case line, ok := <-t.Lines:
			if !ok {
				w.logger.Debug("Backend log tailer channel closed.")
				return
			}
			if line.Err != nil {
				w.logger.Warn("Error reading from backend log.", zap.Error(line.Err))
				continue
			}
			if !faultLineRegex.MatchString(line.Text) {
				continue
			}

			w.mu.Lock()
			if len(w.lines) < maxBufferedLines {
				w.lines = append(w.lines, line.Text)
			} else {
				w.dropped++
			}
			w.mu.Unlock()
		}
	}
}

// Restore pushes lines back to the front of the buffer. Verification drains
// the log and returns whatever it did not consume.
func (w *LogWatch) Restore(lines []string) {
	if len(lines) == 0 {
		return
	}
	w.mu.Lock()
	w.lines = append(lines, w.lines...)
	w.mu.Unlock()
}

// Drain returns the fault lines buffered since the previous call.
func (w *LogWatch) Drain() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.dropped > 0 {
		w.logger.Warn("Backend log fault buffer overflowed between sweeps.",
			zap.Int("dropped", w.dropped))
		w.dropped = 0
	}

	drained := w.lines
	w.lines = nil
	return drained
}
