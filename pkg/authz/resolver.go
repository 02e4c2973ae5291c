package authz

import (
	"context"
	"encoding/json"
	"time"

	"github.com/meridianhq/meridian/pkg/observability"
)

// RoleSource supplies role records to the resolver. *Store satisfies it; the
// resolver wraps it with the role cache.
type RoleSource interface {
	GetRole(ctx context.Context, roleID string) (*Role, error)
}

// MembershipSource supplies membership records to the resolver.
type MembershipSource interface {
	GetMembership(ctx context.Context, userID, projectID string) (*ProjectMembership, error)
}

// UserDirectory is the external directory of user records. Implementations
// return ErrUserNotFound when no record exists.
type UserDirectory interface {
	GetUser(ctx context.Context, userID string) (*UserRecord, error)
}

// ProjectDirectory is the external directory of project records.
// Implementations return ErrProjectNotFound when no record exists.
type ProjectDirectory interface {
	GetProject(ctx context.Context, projectID string) (*ProjectRecord, error)
}

// ResolverConfig wires the resolver's collaborators. Cache, Logger and
// Metrics are optional; the rest are required.
type ResolverConfig struct {
	Roles       RoleSource
	Memberships MembershipSource
	Users       UserDirectory
	Projects    ProjectDirectory
	Cache       Cache
	Logger      *observability.Logger
	Metrics     *observability.Metrics
}

// Resolver computes the effective permission set for a user in a given
// scope. Every invocation is independent: the resolver holds no mutable
// state beyond its collaborator handles, so it is safe for concurrent use.
type Resolver struct {
	roles       RoleSource
	memberships MembershipSource
	users       UserDirectory
	projects    ProjectDirectory
	cache       Cache
	logger      *observability.Logger
	metrics     *observability.Metrics
}

// NewResolver creates a permission resolver.
func NewResolver(cfg ResolverConfig) *Resolver {
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Resolver{
		roles:       cfg.Roles,
		memberships: cfg.Memberships,
		users:       cfg.Users,
		projects:    cfg.Projects,
		cache:       cfg.Cache,
		logger:      logger,
		metrics:     cfg.Metrics,
	}
}

// ResolvePermissions computes the effective permission set for userID,
// optionally scoped to projectID (empty string means global scope).
//
// Resolution precedence: cached value, admin short-circuit, membership role,
// ownership fallback, empty set. Store and directory failures surface as
// Internal errors and callers must treat them as denial; cache failures are
// logged and resolution falls through to direct computation.
func (r *Resolver) ResolvePermissions(ctx context.Context, userID, projectID string) (*ResolvedPermissions, error) {
	scope := projectID
	if scope == "" {
		scope = GlobalScope
	}
	start := time.Now()

	if cached := r.cacheGetResolved(ctx, userID, projectID); cached != nil {
		r.observeResolution(scope, "cache_hit", start)
		return cached, nil
	}

	user, err := r.users.GetUser(ctx, userID)
	if err != nil {
		if err == ErrUserNotFound {
			r.observeResolution(scope, "user_not_found", start)
			return nil, err
		}
		r.observeResolution(scope, "error", start)
		return nil, Internal("resolve: get user", err)
	}

	resolved, err := r.computePermissions(ctx, user, projectID)
	if err != nil {
		r.observeResolution(scope, "error", start)
		return nil, err
	}

	r.cacheSetResolved(ctx, resolved)
	r.observeResolution(scope, "computed", start)
	return resolved, nil
}

func (r *Resolver) computePermissions(ctx context.Context, user *UserRecord, projectID string) (*ResolvedPermissions, error) {
	resolved := &ResolvedPermissions{
		UserID:     user.UserID,
		ProjectID:  projectID,
		ResolvedAt: time.Now().UTC(),
	}

	// Admins hold the full catalog everywhere; no membership or ownership
	// lookups are performed.
	if user.Role == GlobalRoleAdmin {
		resolved.IsAdmin = true
		resolved.Permissions = AllPermissionStrings()
		return resolved, nil
	}

	if projectID == "" {
		resolved.Permissions = PermissionStrings(BundleFor(user.Role))
		return resolved, nil
	}

	membership, err := r.memberships.GetMembership(ctx, user.UserID, projectID)
	switch {
	case err == nil:
		role, err := r.GetRole(ctx, membership.RoleID)
		if err != nil {
			if err == ErrRoleNotFound {
				// Dangling role reference; treat as no grant rather than
				// failing every check for the user.
				r.logger.WithFields(map[string]interface{}{
					"user_id": user.UserID,
					"role_id": membership.RoleID,
				}).Warn("membership references missing role")
				resolved.Permissions = []string{}
				return resolved, nil
			}
			return nil, err
		}
		resolved.Permissions = append([]string{}, role.Permissions...)
		return resolved, nil

	case err == ErrMembershipNotFound:
		project, err := r.projects.GetProject(ctx, projectID)
		if err != nil {
			if err == ErrProjectNotFound {
				return nil, err
			}
			return nil, Internal("resolve: get project", err)
		}
		if project.OwnerID == user.UserID {
			resolved.Permissions = PermissionStrings(OwnerBundle())
		} else {
			resolved.Permissions = []string{}
		}
		return resolved, nil

	default:
		return nil, Internal("resolve: get membership", err)
	}
}

// GetRole retrieves a role through the role cache (TTL 600s), falling back
// to the underlying source on miss or cache failure.
func (r *Resolver) GetRole(ctx context.Context, roleID string) (*Role, error) {
	key := RoleCacheKey(roleID)

	if r.cache != nil {
		data, err := r.cache.Get(ctx, key)
		if err != nil {
			r.cacheError("get", err)
		} else if data != nil {
			var role Role
			decodeErr := json.Unmarshal(data, &role)
			if decodeErr == nil {
				r.cacheHit("role")
				return &role, nil
			}
			r.logger.WithError(decodeErr).WithField("key", key).Warn("discarding undecodable cached role")
		} else {
			r.cacheMiss("role")
		}
	}

	role, err := r.roles.GetRole(ctx, roleID)
	if err != nil {
		if err == ErrRoleNotFound {
			return nil, err
		}
		return nil, Internal("resolve: get role", err)
	}

	if r.cache != nil {
		if data, err := json.Marshal(role); err == nil {
			if err := r.cache.Set(ctx, key, data, RoleCacheTTL); err != nil {
				r.cacheError("set", err)
			}
		}
	}
	return role, nil
}

// CheckPermission resolves the user's permissions and asserts that the set
// grants p, returning ErrPermissionDenied otherwise. Infrastructure failures
// propagate as Internal errors, never as a grant.
func (r *Resolver) CheckPermission(ctx context.Context, userID, projectID string, p Permission) (*ResolvedPermissions, error) {
	resolved, err := r.ResolvePermissions(ctx, userID, projectID)
	if err != nil {
		return nil, err
	}
	if !resolved.Has(p) {
		r.checkOutcome(p, "denied")
		return nil, ErrPermissionDenied
	}
	r.checkOutcome(p, "granted")
	return resolved, nil
}

// VerifyProjectAccess asserts that the user may read the project. Admins
// bypass the check; everyone else needs project:read in the project scope.
// A project outside the caller's tenant reports ErrProjectNotFound so
// cross-tenant probes cannot distinguish absence from denial.
func (r *Resolver) VerifyProjectAccess(ctx context.Context, userID, projectID, tenantID string) (*ResolvedPermissions, error) {
	project, err := r.projects.GetProject(ctx, projectID)
	if err != nil {
		if err == ErrProjectNotFound {
			return nil, err
		}
		return nil, Internal("verify access: get project", err)
	}
	if project.TenantID != tenantID {
		return nil, ErrProjectNotFound
	}

	resolved, err := r.ResolvePermissions(ctx, userID, projectID)
	if err != nil {
		return nil, err
	}
	if resolved.IsAdmin {
		return resolved, nil
	}
	if !resolved.Has(PermProjectRead) {
		return nil, ErrPermissionDenied
	}
	return resolved, nil
}

func (r *Resolver) cacheGetResolved(ctx context.Context, userID, projectID string) *ResolvedPermissions {
	if r.cache == nil {
		return nil
	}
	key := PermissionCacheKey(userID, projectID)

	data, err := r.cache.Get(ctx, key)
	if err != nil {
		r.cacheError("get", err)
		return nil
	}
	if data == nil {
		r.cacheMiss("permissions")
		return nil
	}

	var resolved ResolvedPermissions
	if err := json.Unmarshal(data, &resolved); err != nil {
		r.logger.WithError(err).WithField("key", key).Warn("discarding undecodable cached permissions")
		return nil
	}
	r.cacheHit("permissions")
	return &resolved
}

func (r *Resolver) cacheSetResolved(ctx context.Context, resolved *ResolvedPermissions) {
	if r.cache == nil {
		return
	}
	data, err := json.Marshal(resolved)
	if err != nil {
		return
	}
	key := PermissionCacheKey(resolved.UserID, resolved.ProjectID)
	if err := r.cache.Set(ctx, key, data, PermissionCacheTTL); err != nil {
		r.cacheError("set", err)
	}
}

func (r *Resolver) cacheHit(keyType string) {
	if r.metrics != nil {
		r.metrics.CacheHitsTotal.WithLabelValues(keyType).Inc()
	}
}

func (r *Resolver) cacheMiss(keyType string) {
	if r.metrics != nil {
		r.metrics.CacheMissesTotal.WithLabelValues(keyType).Inc()
	}
}

func (r *Resolver) cacheError(operation string, err error) {
	r.logger.WithError(err).WithField("operation", operation).Warn("permission cache unavailable")
	if r.metrics != nil {
		r.metrics.CacheErrorsTotal.WithLabelValues(operation).Inc()
	}
}

func (r *Resolver) observeResolution(scope, outcome string, start time.Time) {
	if r.metrics == nil {
		return
	}
	scopeLabel := "project"
	if scope == GlobalScope {
		scopeLabel = GlobalScope
	}
	r.metrics.ResolutionsTotal.WithLabelValues(scopeLabel, outcome).Inc()
	r.metrics.ResolutionDuration.WithLabelValues(scopeLabel).Observe(time.Since(start).Seconds())
}

func (r *Resolver) checkOutcome(p Permission, outcome string) {
	if r.metrics != nil {
		r.metrics.PermissionChecksTotal.WithLabelValues(p.String(), outcome).Inc()
	}
}
