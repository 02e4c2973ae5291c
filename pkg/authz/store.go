package authz

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Store handles role and membership persistence. All queries are
// context-aware so caller deadlines and cancellation propagate to the
// database driver.
type Store struct {
	db *sql.DB
}

// NewStore creates a new authorization store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const roleColumns = "role_id, name, description, permissions, is_system_role, tenant_id, created_at, updated_at"

// CreateRole persists a new role. RoleID and timestamps must already be set
// by the caller.
func (s *Store) CreateRole(ctx context.Context, role *Role) error {
	permissionsJSON, err := json.Marshal(role.Permissions)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}

	query := `
		INSERT INTO roles (role_id, name, description, permissions, is_system_role, tenant_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = s.db.ExecContext(ctx, query,
		role.RoleID,
		role.Name,
		role.Description,
		string(permissionsJSON),
		role.IsSystemRole,
		role.TenantID,
		role.CreatedAt,
		role.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create role: %w", err)
	}
	return nil
}

// GetRole retrieves a role by ID across all tenants. Tenant filtering is the
// caller's responsibility so that cross-tenant reads can be rendered
// indistinguishably from absence.
func (s *Store) GetRole(ctx context.Context, roleID string) (*Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE role_id = $1`

	role, err := scanRole(s.db.QueryRowContext(ctx, query, roleID))
	if err == sql.ErrNoRows {
		return nil, ErrRoleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return role, nil
}

// ListRoles lists every role belonging to a tenant, system roles first.
func (s *Store) ListRoles(ctx context.Context, tenantID string) ([]Role, error) {
	query := `
		SELECT ` + roleColumns + `
		FROM roles
		WHERE tenant_id = $1
		ORDER BY is_system_role DESC, name ASC
	`

	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, *role)
	}
	return roles, rows.Err()
}

// UpdateRole persists the mutable fields of a role. The tenant is part of
// the predicate so a role can never be rewritten across tenants.
func (s *Store) UpdateRole(ctx context.Context, role *Role) error {
	permissionsJSON, err := json.Marshal(role.Permissions)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}

	query := `
		UPDATE roles
		SET name = $1, description = $2, permissions = $3, updated_at = $4
		WHERE role_id = $5 AND tenant_id = $6
	`

	role.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx, query,
		role.Name,
		role.Description,
		string(permissionsJSON),
		role.UpdatedAt,
		role.RoleID,
		role.TenantID,
	)
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrRoleNotFound
	}
	return nil
}

// DeleteRole removes a role within a tenant.
func (s *Store) DeleteRole(ctx context.Context, roleID, tenantID string) error {
	query := `DELETE FROM roles WHERE role_id = $1 AND tenant_id = $2`

	result, err := s.db.ExecContext(ctx, query, roleID, tenantID)
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrRoleNotFound
	}
	return nil
}

// HasSystemRoles reports whether any seeded system role already exists for
// the tenant. Used to make seeding idempotent.
func (s *Store) HasSystemRoles(ctx context.Context, tenantID string) (bool, error) {
	query := `SELECT COUNT(*) FROM roles WHERE tenant_id = $1 AND is_system_role = TRUE`

	var count int64
	if err := s.db.QueryRowContext(ctx, query, tenantID).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to count system roles: %w", err)
	}
	return count > 0, nil
}

// CountRoles returns the total number of roles across all tenants. Feeds the
// inventory gauges.
func (s *Store) CountRoles(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM roles`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count roles: %w", err)
	}
	return count, nil
}

// CountMemberships returns the total number of project memberships.
func (s *Store) CountMemberships(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM project_memberships`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count memberships: %w", err)
	}
	return count, nil
}

// CountMembershipsByRole returns how many memberships reference a role. A
// role cannot be deleted while this is non-zero.
func (s *Store) CountMembershipsByRole(ctx context.Context, roleID string) (int64, error) {
	query := `SELECT COUNT(*) FROM project_memberships WHERE role_id = $1`

	var count int64
	if err := s.db.QueryRowContext(ctx, query, roleID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count memberships: %w", err)
	}
	return count, nil
}

const membershipColumns = "membership_id, user_id, project_id, role_id, tenant_id, created_at, updated_at"

// CreateMembership persists a new membership row. The unique index on
// (user_id, project_id) backstops the one-role-per-pair invariant.
func (s *Store) CreateMembership(ctx context.Context, m *ProjectMembership) error {
	query := `
		INSERT INTO project_memberships (membership_id, user_id, project_id, role_id, tenant_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := s.db.ExecContext(ctx, query,
		m.MembershipID,
		m.UserID,
		m.ProjectID,
		m.RoleID,
		m.TenantID,
		m.CreatedAt,
		m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create membership: %w", err)
	}
	return nil
}

// UpdateMembershipRole overwrites the role reference of an existing
// membership.
func (s *Store) UpdateMembershipRole(ctx context.Context, userID, projectID, tenantID, roleID string) error {
	query := `
		UPDATE project_memberships
		SET role_id = $1, updated_at = $2
		WHERE user_id = $3 AND project_id = $4 AND tenant_id = $5
	`

	result, err := s.db.ExecContext(ctx, query, roleID, time.Now().UTC(), userID, projectID, tenantID)
	if err != nil {
		return fmt.Errorf("failed to update membership: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrMembershipNotFound
	}
	return nil
}

// DeleteMembership removes the membership for a (user, project) pair.
func (s *Store) DeleteMembership(ctx context.Context, userID, projectID, tenantID string) error {
	query := `DELETE FROM project_memberships WHERE user_id = $1 AND project_id = $2 AND tenant_id = $3`

	result, err := s.db.ExecContext(ctx, query, userID, projectID, tenantID)
	if err != nil {
		return fmt.Errorf("failed to delete membership: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrMembershipNotFound
	}
	return nil
}

// GetMembership retrieves the membership for a (user, project) pair.
func (s *Store) GetMembership(ctx context.Context, userID, projectID string) (*ProjectMembership, error) {
	query := `SELECT ` + membershipColumns + ` FROM project_memberships WHERE user_id = $1 AND project_id = $2`

	m, err := scanMembership(s.db.QueryRowContext(ctx, query, userID, projectID))
	if err == sql.ErrNoRows {
		return nil, ErrMembershipNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return m, nil
}

// ListMembershipsByProject lists every membership of a project.
func (s *Store) ListMembershipsByProject(ctx context.Context, projectID string) ([]ProjectMembership, error) {
	query := `SELECT ` + membershipColumns + ` FROM project_memberships WHERE project_id = $1 ORDER BY created_at ASC`
	return s.listMemberships(ctx, query, projectID)
}

// ListMembershipsByUser lists every membership held by a user.
func (s *Store) ListMembershipsByUser(ctx context.Context, userID string) ([]ProjectMembership, error) {
	query := `SELECT ` + membershipColumns + ` FROM project_memberships WHERE user_id = $1 ORDER BY created_at ASC`
	return s.listMemberships(ctx, query, userID)
}

// ListMembershipsByRole lists every membership referencing a role. Role
// updates fan invalidation out over this set.
func (s *Store) ListMembershipsByRole(ctx context.Context, roleID string) ([]ProjectMembership, error) {
	query := `SELECT ` + membershipColumns + ` FROM project_memberships WHERE role_id = $1 ORDER BY created_at ASC`
	return s.listMemberships(ctx, query, roleID)
}

func (s *Store) listMemberships(ctx context.Context, query string, arg interface{}) ([]ProjectMembership, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer rows.Close()

	var memberships []ProjectMembership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		memberships = append(memberships, *m)
	}
	return memberships, rows.Err()
}

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRole(scanner rowScanner) (*Role, error) {
	var role Role
	var permissionsJSON string

	err := scanner.Scan(
		&role.RoleID,
		&role.Name,
		&role.Description,
		&permissionsJSON,
		&role.IsSystemRole,
		&role.TenantID,
		&role.CreatedAt,
		&role.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if permissionsJSON != "" {
		if err := json.Unmarshal([]byte(permissionsJSON), &role.Permissions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal permissions: %w", err)
		}
	}
	return &role, nil
}

func scanMembership(scanner rowScanner) (*ProjectMembership, error) {
	var m ProjectMembership
	err := scanner.Scan(
		&m.MembershipID,
		&m.UserID,
		&m.ProjectID,
		&m.RoleID,
		&m.TenantID,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}
