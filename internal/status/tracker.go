// Package status tracks the lifecycle, progress and log ring of each source's crawl.
package status

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/epaper-crawler/internal/crawler"
)

// DefaultLogCapacity bounds the number of log lines kept per source.
const DefaultLogCapacity = 100

// LogEntry is one timestamped status line.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

// String renders the entry the way the dashboard shows it.
func (e LogEntry) String() string {
	return fmt.Sprintf("[%s] %s", e.Time.Format("15:04:05"), e.Message)
}

// Snapshot is a point-in-time copy of a tracker.
type Snapshot struct {
	SourceKey     string           `json:"source_key"`
	State         crawler.RunState `json:"state"`
	Progress      int              `json:"progress"`
	TotalArticles int              `json:"total_articles"`
	RunID         string           `json:"run_id,omitempty"`
	StartTime     *time.Time       `json:"start_time,omitempty"`
	EndTime       *time.Time       `json:"end_time,omitempty"`
	LastError     string           `json:"last_error,omitempty"`
	Logs          []LogEntry       `json:"logs"`
}

// Tracker holds the run state of a single source. All methods are safe for
// concurrent use.
type Tracker struct {
	mu sync.Mutex

	key      string
	state    crawler.RunState
	progress int
	total    int
	runID    string
	start    time.Time
	end      time.Time
	lastErr  string
	logs     *ring

	clock  crawler.Clock
	logger *zap.Logger
}

func newTracker(key string, capacity int, clock crawler.Clock, logger *zap.Logger) *Tracker {
	return &Tracker{
		key:    key,
		state:  crawler.RunStateIdle,
		logs:   newRing(capacity),
		clock:  clock,
		logger: logger.With(zap.String("source", key)),
	}
}

// Key returns the source key the tracker belongs to.
func (t *Tracker) Key() string {
	return t.key
}

// StartRun atomically moves the tracker into Running. It returns
// crawler.ErrRunAlreadyInProgress without touching any state when a run is
// already active.
func (t *Tracker) StartRun(runID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == crawler.RunStateRunning {
		return crawler.ErrRunAlreadyInProgress
	}
	t.state = crawler.RunStateRunning
	t.progress = 0
	t.total = 0
	t.runID = runID
	t.start = t.clock.Now()
	t.end = time.Time{}
	t.lastErr = ""
	t.logs.reset()
	t.logger.Info("crawl run started", zap.String("run_id", runID))
	return nil
}

// FinishRun records a successful completion with the saved article count.
func (t *Tracker) FinishRun(count int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != crawler.RunStateRunning {
		return fmt.Errorf("finish from %s: %w", t.state, crawler.ErrInvalidTransition)
	}
	t.state = crawler.RunStateCompleted
	t.progress = 100
	t.total = count
	t.end = t.clock.Now()
	t.appendLocked(fmt.Sprintf("Crawl completed. Saved %d articles.", count))
	t.logger.Info("crawl run completed", zap.String("run_id", t.runID), zap.Int("articles", count))
	return nil
}

// FailRun records a run-fatal error.
func (t *Tracker) FailRun(cause error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != crawler.RunStateRunning {
		return fmt.Errorf("fail from %s: %w", t.state, crawler.ErrInvalidTransition)
	}
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	t.state = crawler.RunStateFailed
	t.end = t.clock.Now()
	t.lastErr = msg
	t.appendLocked("Error: " + msg)
	t.logger.Error("crawl run failed", zap.String("run_id", t.runID), zap.Error(cause))
	return nil
}

// AddLog appends a timestamped line to the ring, evicting the oldest line once full.
func (t *Tracker) AddLog(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.appendLocked(message)
}

// SetProgress raises the progress percentage. Values are clamped to 0..100
// and never move backwards within a run.
func (t *Tracker) SetProgress(percent int) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if percent > t.progress {
		t.progress = percent
	}
}

// State returns the current run state.
func (t *Tracker) State() crawler.RunState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Snapshot returns a copy of the tracker's state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := Snapshot{
		SourceKey:     t.key,
		State:         t.state,
		Progress:      t.progress,
		TotalArticles: t.total,
		RunID:         t.runID,
		LastError:     t.lastErr,
		Logs:          t.logs.entries(),
	}
	if !t.start.IsZero() {
		start := t.start
		snap.StartTime = &start
	}
	if !t.end.IsZero() {
		end := t.end
		snap.EndTime = &end
	}
	return snap
}

// appendLocked pushes message onto the ring and mirrors it to the process
// log, at Warn for error lines.
func (t *Tracker) appendLocked(message string) {
	t.logs.push(LogEntry{Time: t.clock.Now(), Message: message})
	fields := []zap.Field{zap.String("run_id", t.runID)}
	if strings.HasPrefix(message, "Error") {
		t.logger.Warn(message, fields...)
		return
	}
	t.logger.Info(message, fields...)
}
