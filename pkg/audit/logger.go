package audit

import (
	"context"
	"time"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log logs an audit event
	Log(ctx context.Context, event *Event) error

	// LogAuthorization logs an authorization event
	LogAuthorization(ctx context.Context, eventType EventType, userID, tenantID string, resourceType ResourceType, resourceID string, status EventStatus, message string) error

	// LogRoleChange logs a role lifecycle event with before/after detail
	LogRoleChange(ctx context.Context, eventType EventType, userID, tenantID, roleID string, changes *ChangeDetails, message string) error

	// Close closes the logger and flushes any buffered logs
	Close() error
}

// NewEvent creates an event with the timestamp set
func NewEvent(eventType EventType, status EventStatus) *Event {
	return &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
	}
}

// NoOpLogger is a logger that discards every event. Used when auditing is
// not configured.
type NoOpLogger struct{}

func (l *NoOpLogger) Log(ctx context.Context, event *Event) error {
	return nil
}

func (l *NoOpLogger) LogAuthorization(ctx context.Context, eventType EventType, userID, tenantID string, resourceType ResourceType, resourceID string, status EventStatus, message string) error {
	return nil
}

func (l *NoOpLogger) LogRoleChange(ctx context.Context, eventType EventType, userID, tenantID, roleID string, changes *ChangeDetails, message string) error {
	return nil
}

func (l *NoOpLogger) Close() error {
	return nil
}
