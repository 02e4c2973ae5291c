package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// DBLogger implements audit logging to PostgreSQL database
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a new database-based audit logger
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	logger := &DBLogger{
		db: db,
	}

	if err := logger.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_logs table: %w", err)
	}

	return logger, nil
}

// ensureTable creates the audit_logs table if it doesn't exist
func (l *DBLogger) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_logs (
		id BIGSERIAL PRIMARY KEY,
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
		event_type VARCHAR(100) NOT NULL,
		status VARCHAR(20) NOT NULL,
		user_id VARCHAR(255),
		tenant_id VARCHAR(255),
		resource_type VARCHAR(50),
		resource_id VARCHAR(255),
		resource_name VARCHAR(255),
		message TEXT,
		error_message TEXT,
		metadata JSONB,
		changes JSONB,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_event_type ON audit_logs(event_type);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_user_id ON audit_logs(user_id);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_tenant_id ON audit_logs(tenant_id);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_resource ON audit_logs(resource_type, resource_id);
	`

	_, err := l.db.Exec(query)
	return err
}

// Log logs an audit event to the database
func (l *DBLogger) Log(ctx context.Context, event *Event) error {
	var metadataJSON, changesJSON []byte
	var err error

	if event.Metadata != nil {
		metadataJSON, err = json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	if event.Changes != nil {
		changesJSON, err = json.Marshal(event.Changes)
		if err != nil {
			return fmt.Errorf("failed to marshal changes: %w", err)
		}
	}

	query := `
		INSERT INTO audit_logs (
			timestamp, event_type, status,
			user_id, tenant_id,
			resource_type, resource_id, resource_name,
			message, error_message, metadata, changes
		) VALUES (
			$1, $2, $3,
			$4, $5,
			$6, $7, $8,
			$9, $10, $11, $12
		) RETURNING id
	`

	err = l.db.QueryRowContext(ctx, query,
		event.Timestamp, event.EventType, event.Status,
		nullIfEmpty(event.UserID), nullIfEmpty(event.TenantID),
		nullIfEmpty(string(event.ResourceType)), nullIfEmpty(event.ResourceID), nullIfEmpty(event.ResourceName),
		nullIfEmpty(event.Message), nullIfEmpty(event.ErrorMessage),
		nullableJSON(metadataJSON), nullableJSON(changesJSON),
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// LogAuthorization logs an authorization event to the database
func (l *DBLogger) LogAuthorization(ctx context.Context, eventType EventType, userID, tenantID string, resourceType ResourceType, resourceID string, status EventStatus, message string) error {
	event := NewEvent(eventType, status)
	event.UserID = userID
	event.TenantID = tenantID
	event.ResourceType = resourceType
	event.ResourceID = resourceID
	event.Message = message
	return l.Log(ctx, event)
}

// LogRoleChange logs a role lifecycle event to the database
func (l *DBLogger) LogRoleChange(ctx context.Context, eventType EventType, userID, tenantID, roleID string, changes *ChangeDetails, message string) error {
	event := NewEvent(eventType, EventStatusSuccess)
	event.UserID = userID
	event.TenantID = tenantID
	event.ResourceType = ResourceTypeRole
	event.ResourceID = roleID
	event.Changes = changes
	event.Message = message
	return l.Log(ctx, event)
}

// Close is a no-op for the database logger; the pool is owned by the caller.
func (l *DBLogger) Close() error {
	return nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableJSON(data []byte) interface{} {
	if len(data) == 0 {
		return nil
	}
	return string(data)
}
