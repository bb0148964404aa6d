package status

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/epaper-crawler/internal/crawler"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTestRegistry(keys ...string) *Registry {
	clk := &stepClock{now: time.Date(2025, 11, 19, 9, 0, 0, 0, time.UTC)}
	return NewRegistry(keys, WithClock(clk))
}

func TestStartRunRejectsWhileRunning(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry("fujian")
	tr, ok := reg.Get("fujian")
	require.True(t, ok)

	require.NoError(t, tr.StartRun("run-1"))
	tr.SetProgress(40)
	tr.AddLog("found 8 pages")

	err := tr.StartRun("run-2")
	require.ErrorIs(t, err, crawler.ErrRunAlreadyInProgress)

	snap := tr.Snapshot()
	require.Equal(t, crawler.RunStateRunning, snap.State)
	require.Equal(t, 40, snap.Progress)
	require.Equal(t, "run-1", snap.RunID)
	require.Len(t, snap.Logs, 1)
	require.Equal(t, "found 8 pages", snap.Logs[0].Message)
}

func TestStartRunResetsPreviousRun(t *testing.T) {
	t.Parallel()

	tr, _ := newTestRegistry("hainan").Get("hainan")
	require.NoError(t, tr.StartRun("run-1"))
	tr.AddLog("hello")
	require.NoError(t, tr.FinishRun(12))

	require.NoError(t, tr.StartRun("run-2"))
	snap := tr.Snapshot()
	require.Equal(t, 0, snap.Progress)
	require.Equal(t, 0, snap.TotalArticles)
	require.Empty(t, snap.Logs)
	require.NotNil(t, snap.StartTime)
	require.Nil(t, snap.EndTime)
}

func TestFinishAndFailTransitions(t *testing.T) {
	t.Parallel()

	tr, _ := newTestRegistry("guangxi").Get("guangxi")
	require.ErrorIs(t, tr.FinishRun(1), crawler.ErrInvalidTransition)
	require.ErrorIs(t, tr.FailRun(errors.New("x")), crawler.ErrInvalidTransition)

	require.NoError(t, tr.StartRun("run-1"))
	require.NoError(t, tr.FinishRun(7))
	snap := tr.Snapshot()
	require.Equal(t, crawler.RunStateCompleted, snap.State)
	require.Equal(t, 100, snap.Progress)
	require.Equal(t, 7, snap.TotalArticles)
	require.NotNil(t, snap.EndTime)
	require.True(t, snap.EndTime.After(*snap.StartTime))

	require.NoError(t, tr.StartRun("run-2"))
	tr.SetProgress(30)
	require.NoError(t, tr.FailRun(errors.New("store unreachable")))
	snap = tr.Snapshot()
	require.Equal(t, crawler.RunStateFailed, snap.State)
	require.Equal(t, 30, snap.Progress)
	require.Equal(t, "store unreachable", snap.LastError)
	require.Contains(t, snap.Logs[len(snap.Logs)-1].Message, "store unreachable")
}

func TestLogRingEvictsOldest(t *testing.T) {
	t.Parallel()

	tr, _ := newTestRegistry("nanfang").Get("nanfang")
	for i := 0; i <= DefaultLogCapacity; i++ {
		tr.AddLog(fmt.Sprintf("line %d", i))
	}
	logs := tr.Snapshot().Logs
	require.Len(t, logs, DefaultLogCapacity)
	require.Equal(t, "line 1", logs[0].Message)
	require.Equal(t, fmt.Sprintf("line %d", DefaultLogCapacity), logs[len(logs)-1].Message)
	for _, entry := range logs {
		require.NotEqual(t, "line 0", entry.Message)
	}
}

func TestSetProgressIsMonotonicAndClamped(t *testing.T) {
	t.Parallel()

	tr, _ := newTestRegistry("guangzhou").Get("guangzhou")
	require.NoError(t, tr.StartRun("run"))
	tr.SetProgress(50)
	tr.SetProgress(20)
	require.Equal(t, 50, tr.Snapshot().Progress)
	tr.SetProgress(250)
	require.Equal(t, 100, tr.Snapshot().Progress)
}

func TestConcurrentStartRunAdmitsExactlyOne(t *testing.T) {
	t.Parallel()

	tr, _ := newTestRegistry("fujian").Get("fujian")
	var (
		wg       sync.WaitGroup
		admitted atomic.Int32
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if err := tr.StartRun(fmt.Sprintf("run-%d", n)); err == nil {
				admitted.Add(1)
			}
		}(i)
	}
	wg.Wait()
	require.Equal(t, int32(1), admitted.Load())
}

func TestRegistryKeysAndSnapshots(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry("nanfang", "fujian", "fujian")
	require.Equal(t, []string{"fujian", "nanfang"}, reg.Keys())
	_, ok := reg.Get("unknown")
	require.False(t, ok)

	snaps := reg.Snapshots()
	require.Len(t, snaps, 2)
	require.Equal(t, crawler.RunStateIdle, snaps["fujian"].State)
}

func TestLogEntryString(t *testing.T) {
	t.Parallel()

	entry := LogEntry{Time: time.Date(2025, 1, 2, 9, 4, 5, 0, time.UTC), Message: "ok"}
	require.Equal(t, "[09:04:05] ok", entry.String())
}

func TestLogLinesReachProcessLog(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	clk := &stepClock{now: time.Date(2025, 11, 19, 9, 0, 0, 0, time.UTC)}
	reg := NewRegistry([]string{"fujian"}, WithClock(clk), WithLogger(zap.New(core)))
	tr, _ := reg.Get("fujian")

	require.NoError(t, tr.StartRun("run-7"))
	tr.AddLog("Found 12 pages")
	tr.AddLog("Error fetching page A02: status 503")

	found := logs.FilterMessage("Found 12 pages").All()
	require.Len(t, found, 1)
	require.Equal(t, zapcore.InfoLevel, found[0].Level)
	require.Equal(t, "fujian", found[0].ContextMap()["source"])
	require.Equal(t, "run-7", found[0].ContextMap()["run_id"])

	failed := logs.FilterMessage("Error fetching page A02: status 503").All()
	require.Len(t, failed, 1)
	require.Equal(t, zapcore.WarnLevel, failed[0].Level)
}
