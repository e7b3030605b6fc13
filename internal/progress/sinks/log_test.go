package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/realtime-task-progress/internal/progress"
)

func TestLogSinkLevelsAndFields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	sink := NewLogSink(zap.New(core))

	sessionID := progress.UUIDToBytes(uuid.New())
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{SessionID: sessionID, TS: time.Now(), Stage: progress.StageTaskProgress, TaskID: "a", ProgressID: "3", Percent: 25},
		{SessionID: sessionID, TS: time.Now(), Stage: progress.StageRoutingFailure, Note: "no task id"},
	}))

	entries := logs.AllUntimed()
	require.Len(t, entries, 2)
	require.Equal(t, zapcore.InfoLevel, entries[0].Level)
	ctx := entries[0].ContextMap()
	require.Equal(t, "a", ctx["task_id"])
	require.Equal(t, "3", ctx["progress_id"])
	require.Equal(t, 25.0, ctx["percent"])

	require.Equal(t, zapcore.WarnLevel, entries[1].Level)
	require.Equal(t, "no task id", entries[1].ContextMap()["note"])
	require.NoError(t, sink.Close(context.Background()))
}
