package audit

import (
	"encoding/json"
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Authentication events
	EventTypeAuthTokenCreate       EventType = "auth.token_create"
	EventTypeAuthTokenValidateFail EventType = "auth.token_validate_fail"

	// Authorization events
	EventTypeAuthzPermissionGrant  EventType = "authz.permission_grant"
	EventTypeAuthzPermissionDeny   EventType = "authz.permission_deny"
	EventTypeAuthzPermissionRevoke EventType = "authz.permission_revoke"
	EventTypeAuthzRoleAssign       EventType = "authz.role_assign"
	EventTypeAuthzRoleUnassign     EventType = "authz.role_unassign"
	EventTypeAuthzRoleChange       EventType = "authz.role_change"
	EventTypeAuthzAccessDenied     EventType = "authz.access_denied"

	// Admin events
	EventTypeAdminRoleCreate       EventType = "admin.role_create"
	EventTypeAdminRoleUpdate       EventType = "admin.role_update"
	EventTypeAdminRoleDelete       EventType = "admin.role_delete"
	EventTypeAdminPermissionCreate EventType = "admin.permission_create"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// ResourceType represents the type of resource an event is about
type ResourceType string

const (
	ResourceTypeUser       ResourceType = "user"
	ResourceTypeRole       ResourceType = "role"
	ResourceTypePermission ResourceType = "permission"
	ResourceTypeOverride   ResourceType = "permission_override"
	ResourceTypeToken      ResourceType = "token"
)

// AuditEvent represents a single audit log entry
type AuditEvent struct {
	ID        int64       `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Actor
	UserID   *int64 `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`

	// Subject
	ResourceType ResourceType `json:"resource_type,omitempty"`
	ResourceID   string       `json:"resource_id,omitempty"`

	RequestID string `json:"request_id,omitempty"`

	Message      string                 `json:"message,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	Changes      *ChangeDetails         `json:"changes,omitempty"`
}

// ChangeDetails tracks before/after values for updates
type ChangeDetails struct {
	Before map[string]interface{} `json:"before,omitempty"`
	After  map[string]interface{} `json:"after,omitempty"`
}

// ToJSON converts the audit event to JSON
func (e *AuditEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}
