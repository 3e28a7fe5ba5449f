package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/newsharvest/internal/progress"
)

// LogSink emits structured logs for progress streams. Fetch attempts are
// logged at debug; everything else at info.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("progress")}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		level := zapcore.InfoLevel
		if evt.Stage == progress.StageFetchAttempt {
			level = zapcore.DebugLevel
		}
		ce := s.logger.Check(level, "progress event")
		if ce == nil {
			continue
		}
		fields := []zap.Field{
			zap.String("job_id", evt.JobUUID().String()),
			zap.String("stage", string(evt.Stage)),
		}
		fields = appendNonEmpty(fields, "topic_id", evt.TopicID)
		fields = appendNonEmpty(fields, "domain", evt.Domain)
		fields = appendNonEmpty(fields, "url", evt.URL)
		fields = appendNonEmpty(fields, "source_id", evt.SourceID)
		fields = appendNonEmpty(fields, "strategy", evt.Strategy)
		fields = appendNonEmpty(fields, "diagnosis", evt.Diagnosis)
		fields = appendNonEmpty(fields, "status_class", string(evt.StatusClass))
		fields = appendNonEmpty(fields, "outcome", evt.Outcome)
		fields = appendNonEmpty(fields, "reason", evt.Reason)
		if evt.Count > 0 {
			fields = append(fields, zap.Int("count", evt.Count))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		ce.Write(fields...)
	}
	return nil
}

func appendNonEmpty(fields []zap.Field, key, value string) []zap.Field {
	if value == "" {
		return fields
	}
	return append(fields, zap.String(key, value))
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
