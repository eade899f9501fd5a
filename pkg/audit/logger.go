package audit

import (
	"context"
	"time"

	"github.com/platinummonkey/warden/pkg/contextkeys"
)

// Logger is the interface for audit logging. Audit records are a side effect
// of administration calls: callers log failures and carry on.
type Logger interface {
	// Log records one event. Build events with NewAuthorizationEvent or
	// NewDataMutationEvent.
	Log(ctx context.Context, event *AuditEvent) error
	Close() error
}

// NewNoOpLogger returns a logger that discards every event
func NewNoOpLogger() Logger {
	return noOpLogger{}
}

type noOpLogger struct{}

func (noOpLogger) Log(ctx context.Context, event *AuditEvent) error { return nil }

func (noOpLogger) Close() error { return nil }

// buildBaseEvent creates an event with the request ID taken from context
func buildBaseEvent(ctx context.Context, eventType EventType, status EventStatus) *AuditEvent {
	return &AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		RequestID: contextkeys.GetRequestID(ctx),
		Metadata:  make(map[string]interface{}),
	}
}

// NewAuthorizationEvent builds an authorization event
func NewAuthorizationEvent(ctx context.Context, eventType EventType, actorID *int64, resourceType ResourceType, resourceID string, status EventStatus, message string) *AuditEvent {
	event := buildBaseEvent(ctx, eventType, status)
	event.UserID = actorID
	event.ResourceType = resourceType
	event.ResourceID = resourceID
	event.Message = message
	return event
}

// NewDataMutationEvent builds a successful data mutation event
func NewDataMutationEvent(ctx context.Context, eventType EventType, actorID *int64, resourceType ResourceType, resourceID string, changes *ChangeDetails, message string) *AuditEvent {
	event := buildBaseEvent(ctx, eventType, EventStatusSuccess)
	event.UserID = actorID
	event.ResourceType = resourceType
	event.ResourceID = resourceID
	event.Changes = changes
	event.Message = message
	return event
}
