// Package directory provides PostgreSQL-backed lookups of user and project
// records for permission resolution. Users and projects are owned by other
// services; this package only reads the authorization-relevant columns.
package directory

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/meridianhq/meridian/pkg/authz"
)

// UserDirectory reads user records. Satisfies authz.UserDirectory.
type UserDirectory struct {
	db *sql.DB
}

// NewUserDirectory creates a user directory over the shared database.
func NewUserDirectory(db *sql.DB) *UserDirectory {
	return &UserDirectory{db: db}
}

// GetUser retrieves the authorization-relevant view of a user record.
func (d *UserDirectory) GetUser(ctx context.Context, userID string) (*authz.UserRecord, error) {
	query := `SELECT user_id, tenant_id, role, is_active FROM users WHERE user_id = $1`

	var user authz.UserRecord
	var role string
	err := d.db.QueryRowContext(ctx, query, userID).Scan(
		&user.UserID,
		&user.TenantID,
		&role,
		&user.IsActive,
	)
	if err == sql.ErrNoRows {
		return nil, authz.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	parsed, err := authz.ParseGlobalRole(role)
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", userID, err)
	}
	user.Role = parsed
	return &user, nil
}

// ProjectDirectory reads project records. Satisfies authz.ProjectDirectory.
type ProjectDirectory struct {
	db *sql.DB
}

// NewProjectDirectory creates a project directory over the shared database.
func NewProjectDirectory(db *sql.DB) *ProjectDirectory {
	return &ProjectDirectory{db: db}
}

// GetProject retrieves the authorization-relevant view of a project record.
func (d *ProjectDirectory) GetProject(ctx context.Context, projectID string) (*authz.ProjectRecord, error) {
	query := `SELECT project_id, tenant_id, owner_id FROM projects WHERE project_id = $1`

	var project authz.ProjectRecord
	err := d.db.QueryRowContext(ctx, query, projectID).Scan(
		&project.ProjectID,
		&project.TenantID,
		&project.OwnerID,
	)
	if err == sql.ErrNoRows {
		return nil, authz.ErrProjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return &project, nil
}
