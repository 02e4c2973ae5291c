package authz

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/meridianhq/meridian/pkg/auth"
	"github.com/meridianhq/meridian/pkg/httputil"
	"github.com/meridianhq/meridian/pkg/observability"
)

// Handlers provides the HTTP surface over the authorization service.
type Handlers struct {
	service *Service
	logger  *observability.Logger
}

// NewHandlers creates authorization handlers.
func NewHandlers(service *Service, logger *observability.Logger) *Handlers {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Handlers{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes registers all authorization routes. Every route assumes the
// principal has already been attached to the request context upstream.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	resolver := h.service.Resolver()

	// Catalog and self-inspection
	router.HandleFunc("/authz/permissions", h.ListPermissions).Methods("GET")
	router.HandleFunc("/authz/me", h.MyPermissions).Methods("GET")
	router.HandleFunc("/authz/me/memberships", h.MyMemberships).Methods("GET")

	// Role management
	roleRead := router.NewRoute().Subrouter()
	roleRead.Use(resolver.RequirePermission(PermUserRead))
	roleRead.HandleFunc("/authz/roles", h.ListRoles).Methods("GET")
	roleRead.HandleFunc("/authz/roles/{role_id}", h.GetRole).Methods("GET")

	roleWrite := router.NewRoute().Subrouter()
	roleWrite.Use(resolver.RequirePermission(PermUserManageRoles))
	roleWrite.HandleFunc("/authz/roles", h.CreateRole).Methods("POST")
	roleWrite.HandleFunc("/authz/roles/{role_id}", h.UpdateRole).Methods("PUT")
	roleWrite.HandleFunc("/authz/roles/{role_id}", h.DeleteRole).Methods("DELETE")

	// Membership management. Assignment names its project in the request
	// body, so the manage-members gate runs inside the handler against that
	// project; route middleware here would resolve in the wrong scope.
	router.HandleFunc("/authz/assignments", h.AssignRole).Methods("POST")

	revoke := router.NewRoute().Subrouter()
	revoke.Use(resolver.RequirePermission(PermProjectManageMembers))
	revoke.HandleFunc("/authz/projects/{project_id}/members/{user_id}", h.RevokeRole).Methods("DELETE")

	members := router.NewRoute().Subrouter()
	members.Use(resolver.RequirePermission(PermProjectRead))
	members.HandleFunc("/authz/projects/{project_id}/members", h.ListProjectMembers).Methods("GET")

	// System role seeding
	seed := router.NewRoute().Subrouter()
	seed.Use(resolver.RequirePermission(PermAdminAccess))
	seed.HandleFunc("/authz/system-roles", h.InitializeSystemRoles).Methods("POST")
}

// ListPermissions returns the full permission catalog.
func (h *Handlers) ListPermissions(w http.ResponseWriter, r *http.Request) {
	if _, err := auth.FromContext(r.Context()); err != nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"permissions": AllPermissionStrings(),
	})
}

// MyPermissions returns the caller's resolved permissions, optionally scoped
// to ?project_id.
func (h *Handlers) MyPermissions(w http.ResponseWriter, r *http.Request) {
	principal, err := auth.FromContext(r.Context())
	if err != nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	projectID := httputil.ParseQueryString(r, "project_id", "")
	resolved, err := h.service.Resolver().ResolvePermissions(r.Context(), principal.UserID, projectID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, resolved)
}

// MyMemberships lists the caller's project memberships.
func (h *Handlers) MyMemberships(w http.ResponseWriter, r *http.Request) {
	principal, err := auth.FromContext(r.Context())
	if err != nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	memberships, err := h.service.ListMembershipsByUser(r.Context(), principal.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if memberships == nil {
		memberships = []ProjectMembership{}
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"memberships": memberships,
	})
}

// CreateRole creates a new custom role for the caller's tenant.
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	principal, err := auth.FromContext(r.Context())
	if err != nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	var input CreateRoleInput
	if !httputil.ParseJSONOrError(w, r, &input) {
		return
	}

	role, err := h.service.CreateRole(r.Context(), principal.TenantID, input)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteCreated(w, role)
}

// ListRoles lists the caller's tenant's roles, system roles first.
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	principal, err := auth.FromContext(r.Context())
	if err != nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	roles, err := h.service.ListRoles(r.Context(), principal.TenantID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if roles == nil {
		roles = []Role{}
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"roles": roles,
	})
}

// GetRole retrieves a single role within the caller's tenant.
func (h *Handlers) GetRole(w http.ResponseWriter, r *http.Request) {
	principal, err := auth.FromContext(r.Context())
	if err != nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	roleID, ok := httputil.ParsePathStringOrError(w, r, "role_id")
	if !ok {
		return
	}

	role, err := h.service.GetRole(r.Context(), roleID, principal.TenantID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, role)
}

// UpdateRole applies a partial patch to a custom role.
func (h *Handlers) UpdateRole(w http.ResponseWriter, r *http.Request) {
	principal, err := auth.FromContext(r.Context())
	if err != nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	roleID, ok := httputil.ParsePathStringOrError(w, r, "role_id")
	if !ok {
		return
	}

	var patch UpdateRoleInput
	if !httputil.ParseJSONOrError(w, r, &patch) {
		return
	}

	role, err := h.service.UpdateRole(r.Context(), roleID, principal.TenantID, patch)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, role)
}

// DeleteRole deletes an unreferenced custom role.
func (h *Handlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	principal, err := auth.FromContext(r.Context())
	if err != nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	roleID, ok := httputil.ParsePathStringOrError(w, r, "role_id")
	if !ok {
		return
	}

	if err := h.service.DeleteRole(r.Context(), roleID, principal.TenantID); err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// AssignRole grants a role to a user on a project, upserting any existing
// membership.
func (h *Handlers) AssignRole(w http.ResponseWriter, r *http.Request) {
	principal, err := auth.FromContext(r.Context())
	if err != nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	var req struct {
		UserID    string `json:"user_id"`
		ProjectID string `json:"project_id"`
		RoleID    string `json:"role_id"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.UserID, "user_id") ||
		!httputil.RequireNonEmpty(w, req.ProjectID, "project_id") ||
		!httputil.RequireNonEmpty(w, req.RoleID, "role_id") {
		return
	}

	// The caller must hold manage-members in the scope of the target
	// project, not globally.
	if _, err := h.service.Resolver().CheckPermission(r.Context(), principal.UserID, req.ProjectID, PermProjectManageMembers); err != nil {
		h.writeError(w, r, err)
		return
	}

	membership, err := h.service.AssignRole(r.Context(), principal.UserID, req.UserID, req.ProjectID, req.RoleID, principal.TenantID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteCreated(w, membership)
}

// RevokeRole removes a user's membership on a project.
func (h *Handlers) RevokeRole(w http.ResponseWriter, r *http.Request) {
	principal, err := auth.FromContext(r.Context())
	if err != nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	vars := mux.Vars(r)
	projectID, userID := vars["project_id"], vars["user_id"]

	if err := h.service.RevokeRole(r.Context(), principal.UserID, userID, projectID, principal.TenantID); err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// memberView is a membership enriched with its role's name for listing.
type memberView struct {
	ProjectMembership
	RoleName string `json:"role_name,omitempty"`
}

// ListProjectMembers lists a project's memberships with role names attached.
func (h *Handlers) ListProjectMembers(w http.ResponseWriter, r *http.Request) {
	projectID, ok := httputil.ParsePathStringOrError(w, r, "project_id")
	if !ok {
		return
	}

	memberships, err := h.service.ListMembershipsByProject(r.Context(), projectID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	members := make([]memberView, 0, len(memberships))
	roleNames := make(map[string]string)
	for _, m := range memberships {
		name, seen := roleNames[m.RoleID]
		if !seen {
			role, err := h.service.Resolver().GetRole(r.Context(), m.RoleID)
			if err == nil {
				name = role.Name
			}
			roleNames[m.RoleID] = name
		}
		members = append(members, memberView{ProjectMembership: m, RoleName: name})
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"members": members,
	})
}

// InitializeSystemRoles seeds the canonical system roles for the caller's
// tenant. Idempotent.
func (h *Handlers) InitializeSystemRoles(w http.ResponseWriter, r *http.Request) {
	principal, err := auth.FromContext(r.Context())
	if err != nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	if err := h.service.EnsureSystemRoles(r.Context(), principal.TenantID); err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]string{
		"status": "system roles initialized",
	})
}

// writeError maps domain errors to HTTP responses. Tenant-mismatch reads as
// absence upstream, so every not-found shape here is already safe to render.
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var validationErr *ValidationError
	var inUseErr *RoleInUseError

	switch {
	case errors.Is(err, ErrRoleNotFound),
		errors.Is(err, ErrMembershipNotFound),
		errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrProjectNotFound),
		errors.Is(err, ErrTenantMismatch):
		httputil.WriteNotFoundError(w, "not found")

	case errors.As(err, &validationErr):
		httputil.WriteValidationError(w, validationErr.Error())

	case errors.Is(err, ErrSystemRoleImmutable):
		httputil.WriteConflict(w, err.Error())

	case errors.As(err, &inUseErr):
		httputil.WriteConflict(w, inUseErr.Error())

	case errors.Is(err, ErrPermissionDenied):
		httputil.WriteForbidden(w, "insufficient permissions")

	default:
		h.logger.WithContext(r.Context()).WithError(err).WithField("path", r.URL.Path).Error("request failed")
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, "internal error")
	}
}
