package audit

import (
	"context"

	"github.com/platinummonkey/warden/pkg/observability"
)

// SlogLogger writes audit events to the structured application log
type SlogLogger struct {
	logger *observability.Logger
}

// NewSlogLogger creates an audit logger backed by the application logger
func NewSlogLogger(logger *observability.Logger) *SlogLogger {
	return &SlogLogger{logger: logger.WithField("audit", true)}
}

// Log writes the event as one structured log line
func (l *SlogLogger) Log(ctx context.Context, event *AuditEvent) error {
	fields := map[string]interface{}{
		"event_type":    string(event.EventType),
		"status":        string(event.Status),
		"resource_type": string(event.ResourceType),
		"resource_id":   event.ResourceID,
	}
	if event.UserID != nil {
		fields["actor_id"] = *event.UserID
	}
	if event.RequestID != "" {
		fields["request_id"] = event.RequestID
	}
	for k, v := range event.Metadata {
		fields["meta_"+k] = v
	}

	entry := l.logger.WithFields(fields)
	if event.Status == EventStatusSuccess {
		entry.Info(event.Message)
	} else {
		entry.Warn(event.Message)
	}
	return nil
}

// Close is a no-op
func (l *SlogLogger) Close() error {
	return nil
}
