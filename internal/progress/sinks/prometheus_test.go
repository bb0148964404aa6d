package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/epaper-crawler/internal/progress"
)

func TestPrometheusSinkRecordsRunLifecycle(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	ts := time.Now()
	batch := []progress.Event{
		{RunID: "r1", Source: "fujian", TS: ts, Stage: progress.StageRunStart},
		{RunID: "r1", Source: "fujian", TS: ts, Stage: progress.StageRunStart},
		{RunID: "r1", Source: "fujian", TS: ts, Stage: progress.StagePageDone, URL: "https://x/1", Articles: 4},
		{RunID: "r1", Source: "fujian", TS: ts, Stage: progress.StagePersisted, Articles: 4},
		{RunID: "r1", Source: "fujian", TS: ts, Stage: progress.StageRunDone, Articles: 4, Dur: 3 * time.Second},
		{RunID: "r2", Source: "guangxi", TS: ts, Stage: progress.StageRunStart},
		{RunID: "r2", Source: "guangxi", TS: ts, Stage: progress.StageRunError, Note: "boom"},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.InDelta(t, 2.0, testutil.ToFloat64(sink.runsStarted.WithLabelValues("fujian")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("fujian", "success")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("guangxi", "error")), 1e-9)
	require.InDelta(t, 0.0, testutil.ToFloat64(sink.runsRunning), 1e-9)
	require.InDelta(t, 4.0, testutil.ToFloat64(sink.pageArticles.WithLabelValues("fujian")), 1e-9)
	require.InDelta(t, 4.0, testutil.ToFloat64(sink.savedArticles.WithLabelValues("fujian")), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.runDuration, "epaper_run_duration_seconds"))
}

func TestPrometheusSinkRejectsDoubleRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
