package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-task-progress/internal/progress"
)

// LogSink emits one structured log line per tracking event.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch. Failures are logged at warn level,
// everything else at info.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.Stringer("session_id", evt.SessionUUID()),
			zap.String("stage", string(evt.Stage)),
		}
		if evt.TaskID != "" {
			fields = append(fields, zap.String("task_id", evt.TaskID))
		}
		if evt.ProgressID != "" {
			fields = append(fields, zap.String("progress_id", evt.ProgressID))
		}
		switch evt.Stage {
		case progress.StageTaskProgress:
			fields = append(fields, zap.Float64("percent", evt.Percent))
		case progress.StageSessionOpen:
			fields = append(fields, zap.Int("tasks", evt.Tasks))
		case progress.StageSessionClosed:
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		switch evt.Stage {
		case progress.StageRoutingFailure, progress.StageTransportFailure:
			s.logger.Warn("tracking event", fields...)
		default:
			s.logger.Info("tracking event", fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
