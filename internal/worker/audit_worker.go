package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/authgate/internal/events"
)

// AuditWorker writes every security event to the audit log.
type AuditWorker struct {
	logger *zap.Logger
}

// StartAuditWorker subscribes the audit log to all events.
func StartAuditWorker(dispatcher events.Dispatcher, logger *zap.Logger) *AuditWorker {
	if dispatcher == nil {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &AuditWorker{logger: logger.Named("audit")}
	dispatcher.Subscribe(events.AnyEvent, w.handle)
	return w
}

func (w *AuditWorker) handle(_ context.Context, event events.Event) error {
	fields := []zap.Field{
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.Time("timestamp", event.Timestamp),
	}
	if event.SubjectID != "" {
		fields = append(fields, zap.String("subject_id", event.SubjectID))
	}
	if event.ActorID != "" {
		fields = append(fields, zap.String("actor_id", event.ActorID))
	}
	if event.IP != "" {
		fields = append(fields, zap.String("ip", event.IP))
	}
	if event.Payload != nil {
		fields = append(fields, zap.Any("payload", event.Payload))
	}

	switch event.Type {
	case events.EventLoginFailed, events.EventRateLimited:
		w.logger.Warn("security event", fields...)
	default:
		w.logger.Info("security event", fields...)
	}
	return nil
}
