package authz

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/meridianhq/meridian/pkg/audit"
	"github.com/meridianhq/meridian/pkg/observability"
)

const maxNameLength = 100

// CreateRoleInput carries the caller-supplied fields of a new role.
type CreateRoleInput struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
}

// UpdateRoleInput is a partial patch over a role's mutable fields. Nil
// pointers leave the corresponding field unchanged.
type UpdateRoleInput struct {
	Name        *string   `json:"name,omitempty"`
	Description *string   `json:"description,omitempty"`
	Permissions *[]string `json:"permissions,omitempty"`
}

// ServiceConfig wires the service's collaborators. Cache, Audit, Logger and
// Metrics are optional.
type ServiceConfig struct {
	Store    *Store
	Users    UserDirectory
	Projects ProjectDirectory
	Cache    Cache
	Audit    audit.Logger
	Logger   *observability.Logger
	Metrics  *observability.Metrics
}

// Service owns role and membership management and the cache-invalidation
// protocol around it. Every mutating operation invalidates exactly the cache
// keys its change can affect; callers never invalidate on their own.
type Service struct {
	store    *Store
	users    UserDirectory
	projects ProjectDirectory
	cache    Cache
	resolver *Resolver
	audit    audit.Logger
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewService creates the authorization service and its resolver.
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	auditLogger := cfg.Audit
	if auditLogger == nil {
		auditLogger = &audit.NoOpLogger{}
	}
	resolver := NewResolver(ResolverConfig{
		Roles:       cfg.Store,
		Memberships: cfg.Store,
		Users:       cfg.Users,
		Projects:    cfg.Projects,
		Cache:       cfg.Cache,
		Logger:      logger,
		Metrics:     cfg.Metrics,
	})
	return &Service{
		store:    cfg.Store,
		users:    cfg.Users,
		projects: cfg.Projects,
		cache:    cfg.Cache,
		resolver: resolver,
		audit:    auditLogger,
		logger:   logger,
		metrics:  cfg.Metrics,
	}
}

// Resolver returns the permission resolver backed by this service's store
// and cache.
func (s *Service) Resolver() *Resolver {
	return s.resolver
}

// CreateRole validates and persists a new custom role. No cache invalidation
// is needed: no membership can reference the role yet.
func (s *Service) CreateRole(ctx context.Context, tenantID string, input CreateRoleInput) (*Role, error) {
	if err := validateRoleName(input.Name); err != nil {
		return nil, err
	}
	if err := ValidatePermissions(input.Permissions); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	role := &Role{
		RoleID:       uuid.New().String(),
		Name:         strings.TrimSpace(input.Name),
		Description:  input.Description,
		Permissions:  append([]string{}, input.Permissions...),
		IsSystemRole: false,
		TenantID:     tenantID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.store.CreateRole(ctx, role); err != nil {
		return nil, Internal("create role", err)
	}

	s.auditRoleChange(ctx, audit.EventTypeRoleCreate, tenantID, role.RoleID, nil, "role created: "+role.Name)
	s.logger.WithFields(map[string]interface{}{
		"role_id":   role.RoleID,
		"tenant_id": tenantID,
	}).Info("role created")
	return role, nil
}

// GetRole retrieves a role within a tenant. A role belonging to another
// tenant reports ErrRoleNotFound so cross-tenant probes cannot distinguish
// absence from denial.
func (s *Service) GetRole(ctx context.Context, roleID, tenantID string) (*Role, error) {
	role, err := s.resolver.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if role.TenantID != tenantID {
		return nil, ErrRoleNotFound
	}
	return role, nil
}

// ListRoles lists every role belonging to a tenant, system roles first.
func (s *Service) ListRoles(ctx context.Context, tenantID string) ([]Role, error) {
	roles, err := s.store.ListRoles(ctx, tenantID)
	if err != nil {
		return nil, Internal("list roles", err)
	}
	return roles, nil
}

// UpdateRole applies a partial patch to a custom role, then invalidates the
// role's cache entry and the resolved permissions of every user holding the
// role on any project.
func (s *Service) UpdateRole(ctx context.Context, roleID, tenantID string, patch UpdateRoleInput) (*Role, error) {
	role, err := s.loadMutableRole(ctx, roleID, tenantID)
	if err != nil {
		return nil, err
	}

	before := roleSnapshot(role)

	if patch.Name != nil {
		if err := validateRoleName(*patch.Name); err != nil {
			return nil, err
		}
		role.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Description != nil {
		role.Description = *patch.Description
	}
	if patch.Permissions != nil {
		if err := ValidatePermissions(*patch.Permissions); err != nil {
			return nil, err
		}
		role.Permissions = append([]string{}, (*patch.Permissions)...)
	}

	if err := s.store.UpdateRole(ctx, role); err != nil {
		if err == ErrRoleNotFound {
			return nil, err
		}
		return nil, Internal("update role", err)
	}

	s.invalidateRole(ctx, roleID)
	if err := s.invalidateRoleHolders(ctx, roleID); err != nil {
		// Store write already committed; staleness is bounded by TTL.
		s.logger.WithError(err).WithField("role_id", roleID).Warn("role holder invalidation incomplete")
	}

	s.auditRoleChange(ctx, audit.EventTypeRoleUpdate, tenantID, roleID, &audit.ChangeDetails{
		Before: before,
		After:  roleSnapshot(role),
	}, "role updated: "+role.Name)
	return role, nil
}

// DeleteRole removes a custom role that no membership references. Deleting a
// role still in use fails with RoleInUseError, forcing explicit revocation
// first.
func (s *Service) DeleteRole(ctx context.Context, roleID, tenantID string) error {
	role, err := s.loadMutableRole(ctx, roleID, tenantID)
	if err != nil {
		return err
	}

	count, err := s.store.CountMembershipsByRole(ctx, roleID)
	if err != nil {
		return Internal("delete role", err)
	}
	if count > 0 {
		return &RoleInUseError{RoleID: roleID, Memberships: count}
	}

	if err := s.store.DeleteRole(ctx, roleID, tenantID); err != nil {
		if err == ErrRoleNotFound {
			return err
		}
		return Internal("delete role", err)
	}

	// No memberships exist by construction, so only the role entry needs
	// invalidating.
	s.invalidateRole(ctx, roleID)

	s.auditRoleChange(ctx, audit.EventTypeRoleDelete, tenantID, roleID, nil, "role deleted: "+role.Name)
	return nil
}

// EnsureSystemRoles seeds the four canonical system roles for a tenant.
// Idempotent: repeated invocation is a no-op once any system role exists.
func (s *Service) EnsureSystemRoles(ctx context.Context, tenantID string) error {
	exists, err := s.store.HasSystemRoles(ctx, tenantID)
	if err != nil {
		return Internal("ensure system roles", err)
	}
	if exists {
		return nil
	}

	now := time.Now().UTC()
	for _, role := range SystemRoles(tenantID) {
		role.CreatedAt = now
		role.UpdatedAt = now
		if err := s.store.CreateRole(ctx, &role); err != nil {
			return Internal("ensure system roles", err)
		}
	}

	s.auditRoleChange(ctx, audit.EventTypeRoleSeed, tenantID, "", nil, "system roles seeded")
	s.logger.WithField("tenant_id", tenantID).Info("system roles seeded")
	return nil
}

// AssignRole grants a role to a user on a project. If the user is already a
// member the role reference is overwritten in place; at most one membership
// ever exists per (user, project) pair. The user's resolved permissions for
// the project and for the global scope are invalidated.
func (s *Service) AssignRole(ctx context.Context, actorID, userID, projectID, roleID, tenantID string) (*ProjectMembership, error) {
	role, err := s.resolver.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if role.TenantID != tenantID {
		return nil, ErrRoleNotFound
	}

	project, err := s.projects.GetProject(ctx, projectID)
	if err != nil {
		if err == ErrProjectNotFound {
			return nil, err
		}
		return nil, Internal("assign role: get project", err)
	}
	if project.TenantID != tenantID {
		return nil, ErrProjectNotFound
	}

	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		if err == ErrUserNotFound {
			return nil, err
		}
		return nil, Internal("assign role: get user", err)
	}
	if user.TenantID != tenantID {
		return nil, ErrUserNotFound
	}

	existing, err := s.store.GetMembership(ctx, userID, projectID)
	switch {
	case err == nil:
		if err := s.store.UpdateMembershipRole(ctx, userID, projectID, tenantID, roleID); err != nil {
			if err == ErrMembershipNotFound {
				return nil, err
			}
			return nil, Internal("assign role", err)
		}
		existing.RoleID = roleID
		existing.UpdatedAt = time.Now().UTC()

	case err == ErrMembershipNotFound:
		now := time.Now().UTC()
		existing = &ProjectMembership{
			MembershipID: uuid.New().String(),
			UserID:       userID,
			ProjectID:    projectID,
			RoleID:       roleID,
			TenantID:     tenantID,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.store.CreateMembership(ctx, existing); err != nil {
			return nil, Internal("assign role", err)
		}

	default:
		return nil, Internal("assign role", err)
	}

	s.invalidatePermissions(ctx, userID, projectID)

	if err := s.audit.LogAuthorization(ctx, audit.EventTypeAuthzPermissionGrant, actorID, tenantID,
		audit.ResourceTypeMembership, existing.MembershipID, audit.EventStatusSuccess,
		"role "+role.Name+" assigned to user "+userID+" on project "+projectID); err != nil {
		s.logger.WithError(err).Warn("audit write failed")
	}
	return existing, nil
}

// RevokeRole removes a user's membership on a project and invalidates the
// user's resolved permissions for the project and the global scope.
func (s *Service) RevokeRole(ctx context.Context, actorID, userID, projectID, tenantID string) error {
	if err := s.store.DeleteMembership(ctx, userID, projectID, tenantID); err != nil {
		if err == ErrMembershipNotFound {
			return err
		}
		return Internal("revoke role", err)
	}

	s.invalidatePermissions(ctx, userID, projectID)

	if err := s.audit.LogAuthorization(ctx, audit.EventTypeAuthzPermissionRevoke, actorID, tenantID,
		audit.ResourceTypeMembership, userID+"/"+projectID, audit.EventStatusSuccess,
		"membership revoked for user "+userID+" on project "+projectID); err != nil {
		s.logger.WithError(err).Warn("audit write failed")
	}
	return nil
}

// GetMembership retrieves the membership for a (user, project) pair.
func (s *Service) GetMembership(ctx context.Context, userID, projectID string) (*ProjectMembership, error) {
	m, err := s.store.GetMembership(ctx, userID, projectID)
	if err != nil {
		if err == ErrMembershipNotFound {
			return nil, err
		}
		return nil, Internal("get membership", err)
	}
	return m, nil
}

// ListMembershipsByProject lists every membership of a project.
func (s *Service) ListMembershipsByProject(ctx context.Context, projectID string) ([]ProjectMembership, error) {
	memberships, err := s.store.ListMembershipsByProject(ctx, projectID)
	if err != nil {
		return nil, Internal("list memberships", err)
	}
	return memberships, nil
}

// ListMembershipsByUser lists every membership held by a user.
func (s *Service) ListMembershipsByUser(ctx context.Context, userID string) ([]ProjectMembership, error) {
	memberships, err := s.store.ListMembershipsByUser(ctx, userID)
	if err != nil {
		return nil, Internal("list memberships", err)
	}
	return memberships, nil
}

// loadMutableRole fetches a role and asserts it may be mutated by the
// tenant: tenant mismatch reads as absence, system roles are immutable.
func (s *Service) loadMutableRole(ctx context.Context, roleID, tenantID string) (*Role, error) {
	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		if err == ErrRoleNotFound {
			return nil, err
		}
		return nil, Internal("get role", err)
	}
	if role.TenantID != tenantID {
		return nil, ErrRoleNotFound
	}
	if role.IsSystemRole {
		return nil, ErrSystemRoleImmutable
	}
	return role, nil
}

// invalidateRole drops the role's cache entry.
func (s *Service) invalidateRole(ctx context.Context, roleID string) {
	s.invalidate(ctx, "role", RoleCacheKey(roleID))
}

// invalidatePermissions drops the user's resolved permissions for the
// project scope and the global scope.
func (s *Service) invalidatePermissions(ctx context.Context, userID, projectID string) {
	s.invalidate(ctx, "permissions",
		PermissionCacheKey(userID, projectID),
		PermissionCacheKey(userID, ""),
	)
}

// invalidateRoleHolders drops the resolved permissions of every user whose
// membership references the role. Called after a role's permission set
// changes so holders observe the new set on their next resolution.
func (s *Service) invalidateRoleHolders(ctx context.Context, roleID string) error {
	memberships, err := s.store.ListMembershipsByRole(ctx, roleID)
	if err != nil {
		return err
	}
	for _, m := range memberships {
		s.invalidatePermissions(ctx, m.UserID, m.ProjectID)
	}
	return nil
}

// invalidate deletes cache keys, logging but never surfacing failures:
// staleness is bounded by the TTL, so invalidation failure is a freshness
// delay, not an error.
func (s *Service) invalidate(ctx context.Context, keyType string, keys ...string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.logger.WithError(err).WithField("keys", strings.Join(keys, ",")).Warn("cache invalidation failed")
		if s.metrics != nil {
			s.metrics.CacheErrorsTotal.WithLabelValues("delete").Inc()
		}
		return
	}
	if s.metrics != nil {
		s.metrics.CacheInvalidationsTotal.WithLabelValues(keyType).Add(float64(len(keys)))
	}
}

func (s *Service) auditRoleChange(ctx context.Context, eventType audit.EventType, tenantID, roleID string, changes *audit.ChangeDetails, message string) {
	if err := s.audit.LogRoleChange(ctx, eventType, "", tenantID, roleID, changes, message); err != nil {
		s.logger.WithError(err).Warn("audit write failed")
	}
}

func validateRoleName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return &ValidationError{Field: "name", Message: "name is required"}
	}
	if len(trimmed) > maxNameLength {
		return &ValidationError{Field: "name", Message: "name exceeds 100 characters"}
	}
	return nil
}

func roleSnapshot(role *Role) map[string]interface{} {
	return map[string]interface{}{
		"name":        role.Name,
		"description": role.Description,
		"permissions": append([]string{}, role.Permissions...),
	}
}
