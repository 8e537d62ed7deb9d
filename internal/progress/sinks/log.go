package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/danfs-crawler/internal/progress"
)

// LogSink writes one structured line per event. Failures are logged at Warn,
// everything else at Debug so per-record lines stay out of production logs.
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

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunID.String()),
			zap.String("stage", string(evt.Stage)),
			zap.String("collection", evt.Collection),
		}
		if evt.Path != "" {
			fields = append(fields, zap.String("path", evt.Path))
		}
		if evt.Title != "" {
			fields = append(fields, zap.String("title", evt.Title))
		}
		if evt.URL != "" {
			fields = append(fields, zap.String("url", evt.URL))
		}
		if evt.StatusCode != 0 {
			fields = append(fields, zap.Int("status", evt.StatusCode))
		}
		if evt.Bytes > 0 {
			fields = append(fields, zap.Int64("bytes", evt.Bytes))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		if ce := s.logger.Check(levelFor(evt.Stage), "progress event"); ce != nil {
			ce.Write(fields...)
		}
	}
	return nil
}

func levelFor(stage progress.Stage) zapcore.Level {
	switch stage {
	case progress.StageRunError, progress.StageIndexError, progress.StageFetchFailed,
		progress.StageExtractEmpty, progress.StageDuplicateID:
		return zapcore.WarnLevel
	case progress.StageRunStart, progress.StageRunDone:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
