package dispatch

import (
	"context"

	"hushd/pkg/logx"
)

// LogSink writes deliveries to the log. It is the default sink when no
// push transport is configured, and doubles as a dry-run mode.
type LogSink struct {
	log logx.Logger
}

func NewLogSink(log logx.Logger) *LogSink {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &LogSink{log: log}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(_ context.Context, d Delivery) error {
	fields := []logx.Field{
		logx.String("kind", d.Kind.String()),
		logx.String("user", d.UserID),
		logx.String("id", d.ID),
	}
	switch {
	case d.Bundle != nil:
		fields = append(fields,
			logx.String("bundle", d.Bundle.Key),
			logx.String("summary", d.Bundle.Summary.Description),
		)
	case d.Notification != nil:
		fields = append(fields,
			logx.String("app", d.Notification.AppName),
			logx.String("sender", d.Notification.Sender),
			logx.String("priority", d.Priority.String()),
		)
	}
	s.log.Info("delivered", fields...)
	return nil
}
