// Package notify delivers notifications about accepted work items and
// transport failures. Sinks are fire-and-forget: Notify never returns an
// error and must not block the caller for long.
package notify

import (
	"context"

	"workfeed/internal/constants"
	"workfeed/internal/logger"
	"workfeed/pkg/metrics"
	"workfeed/pkg/models"
)

type Sink interface {
	Notify(ctx context.Context, n models.Notification)
}

// LogSink writes each notification as a structured log line.
type LogSink struct {
	logger logger.Logger
}

func NewLogSink(log logger.Logger) *LogSink {
	return &LogSink{logger: log}
}

func (s *LogSink) Notify(ctx context.Context, n models.Notification) {
	fields := []interface{}{
		"notification_id", n.ID,
		"kind", n.Kind,
		"title", n.Title,
		"message", n.Message,
		"source", n.Source,
	}
	if n.WorkItemID != "" {
		fields = append(fields, "work_item_id", n.WorkItemID)
	}

	if n.Kind == models.NotificationConnectionError {
		s.logger.WarnwCtx(ctx, "Notification", fields...)
	} else {
		s.logger.InfowCtx(ctx, "Notification", fields...)
	}
	metrics.IncNotification(constants.SinkLog, n.Kind, "delivered")
}

// MultiSink fans a notification out to every sink in order.
type MultiSink []Sink

func NewMultiSink(sinks ...Sink) MultiSink {
	out := make(MultiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m MultiSink) Notify(ctx context.Context, n models.Notification) {
	for _, s := range m {
		s.Notify(ctx, n)
	}
	metrics.IncNotification(constants.SinkMulti, n.Kind, "delivered")
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, n models.Notification)

func (f SinkFunc) Notify(ctx context.Context, n models.Notification) {
	f(ctx, n)
}
