package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/mibworks/tasktrack/internal/track"
)

// LogListener emits structured logs for task changes. Useful during
// development or audits where a durable journal is unavailable.
type LogListener struct {
	logger *zap.Logger
}

// NewLogListener wires a Zap logger to the listener interface.
func NewLogListener(logger *zap.Logger) *LogListener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogListener{logger: logger}
}

// Consume logs each change in the batch using structured fields.
func (l *LogListener) Consume(_ context.Context, batch []track.Change) error {
	for _, ch := range batch {
		fields := []zap.Field{
			zap.String("task_id", ch.Record.ID),
			zap.String("kind", string(ch.Record.Kind)),
			zap.String("status", string(ch.Record.Status)),
			zap.String("phase", ch.Record.Phase),
			zap.Float64("progress", ch.Record.Progress),
			zap.Time("at", ch.At),
		}
		if ch.Transition {
			fields = append(fields,
				zap.String("from", string(ch.From)),
				zap.String("to", string(ch.To)),
			)
			l.logger.Info("task transition", fields...)
			continue
		}
		l.logger.Debug("task progress", fields...)
	}
	return nil
}

// Close implements the Listener interface; it performs no action.
func (l *LogListener) Close(context.Context) error {
	return nil
}
