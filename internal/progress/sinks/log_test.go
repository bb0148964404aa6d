package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/epaper-crawler/internal/progress"
)

func TestLogSinkLevels(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	sink := NewLogSink(zap.New(core))

	err := sink.Consume(context.Background(), []progress.Event{
		{RunID: "r1", Source: "hainan", TS: time.Now(), Stage: progress.StageRunStart},
		{RunID: "r1", Source: "hainan", TS: time.Now(), Stage: progress.StageRunError, Note: "root unreachable"},
	})
	require.NoError(t, err)

	entries := logs.AllUntimed()
	require.Len(t, entries, 2)
	require.Equal(t, zapcore.DebugLevel, entries[0].Level)
	require.Equal(t, zapcore.WarnLevel, entries[1].Level)
	require.Equal(t, "root unreachable", entries[1].ContextMap()["note"])
	require.NoError(t, sink.Close(context.Background()))
}
