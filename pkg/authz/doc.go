// Package authz provides the multi-tenant authorization core for Meridian.
//
// # Overview
//
// This package implements a flat permission-catalog RBAC model: a closed
// catalog of permissions, tenant-scoped roles bundling them, per-project
// membership assignments, and a resolver that computes a user's effective
// permission set for a given scope. There is no policy language, no wildcard
// matching, and no resource hierarchy.
//
// # Components
//
//   1. Permission catalog: the closed set of "resource:action" identifiers.
//      Catalog membership is the sole validity check for any permission
//      string accepted from input.
//   2. Store: PostgreSQL persistence for roles and project memberships.
//   3. Resolver: computes ResolvedPermissions for (user, scope) through a
//      Redis-backed read-through cache.
//   4. Service: role and membership management with centralized cache
//      invalidation and audit logging.
//   5. Handlers and middleware: the HTTP surface and per-route permission
//      gates.
//
// # Resolution
//
// ResolvePermissions walks a fixed precedence order:
//
//   1. Cached value for "permissions:{user}:{project|global}".
//   2. Admin global-role flag: the full catalog, is_admin set, no further
//      lookups.
//   3. Project scope: the membership's role permissions verbatim; absent a
//      membership, the owner bundle when the user owns the project, else the
//      empty set.
//   4. Global scope: the canonical bundle for the user's global role flag.
//
// Store and directory failures fail closed: resolution surfaces an error and
// callers must treat it as a denial. Cache failures degrade gracefully: they
// are logged and resolution falls through to direct computation.
//
// # Staleness
//
// Mutations invalidate exactly the cache keys they can affect, but there is
// a window between a store write committing and its invalidation landing
// during which a resolution can observe pre-mutation state. Staleness is
// bounded by the cache TTL (300s for permission sets, 600s for roles);
// invalidation failure is a freshness delay, never an error.
//
// # Usage
//
//	store := authz.NewStore(db)
//	service := authz.NewService(authz.ServiceConfig{
//		Store:    store,
//		Users:    userDirectory,
//		Projects: projectDirectory,
//		Cache:    authz.NewRedisCache(redisClient),
//		Audit:    auditLogger,
//		Logger:   logger,
//	})
//
//	resolved, err := service.Resolver().ResolvePermissions(ctx, userID, projectID)
//	if err != nil {
//		// treat as denied
//	}
//	if resolved.Has(authz.PermChatWrite) {
//		// allowed
//	}
//
// Route gating uses the resolver's middleware:
//
//	r := mux.NewRouter()
//	r.Use(service.Resolver().RequirePermission(authz.PermProjectRead))
//
// # Related Packages
//
//   - pkg/auth: the authenticated principal and its context plumbing
//   - pkg/directory: PostgreSQL-backed user and project directories
//   - pkg/audit: audit logging of role changes and assignments
//   - pkg/observability: structured logging, metrics, health checks
package authz
