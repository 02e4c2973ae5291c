package authz

import (
	"fmt"
	"time"
)

// Role is a named, tenant-scoped bundle of permissions. System roles are
// seeded once per tenant and are immutable: they cannot be updated or
// deleted through the role CRUD surface.
type Role struct {
	RoleID       string    `json:"role_id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Permissions  []string  `json:"permissions"`
	IsSystemRole bool      `json:"is_system_role"`
	TenantID     string    `json:"tenant_id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ProjectMembership assigns exactly one role to one user within one project.
// At most one membership exists per (user, project) pair; re-assignment
// overwrites the role reference in place.
type ProjectMembership struct {
	MembershipID string    `json:"membership_id"`
	UserID       string    `json:"user_id"`
	ProjectID    string    `json:"project_id"`
	RoleID       string    `json:"role_id"`
	TenantID     string    `json:"tenant_id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ResolvedPermissions is the computed, cache-backed outcome of permission
// resolution for a user in a given scope. It is never persisted durably and
// is always derivable from role/membership/user/project state; freshness is
// bounded by the resolution cache TTL.
type ResolvedPermissions struct {
	UserID      string    `json:"user_id"`
	ProjectID   string    `json:"project_id,omitempty"`
	Permissions []string  `json:"permissions"`
	IsAdmin     bool      `json:"is_admin"`
	ResolvedAt  time.Time `json:"resolved_at"`
}

// Has reports whether the resolved set grants the permission. Admins pass
// every check regardless of the set contents.
func (rp *ResolvedPermissions) Has(p Permission) bool {
	if rp.IsAdmin {
		return true
	}
	want := p.String()
	for _, s := range rp.Permissions {
		if s == want {
			return true
		}
	}
	return false
}

// HasAny reports whether the resolved set grants at least one of the
// permissions.
func (rp *ResolvedPermissions) HasAny(perms ...Permission) bool {
	if rp.IsAdmin {
		return true
	}
	for _, p := range perms {
		if rp.Has(p) {
			return true
		}
	}
	return false
}

// HasAll reports whether the resolved set grants every one of the
// permissions.
func (rp *ResolvedPermissions) HasAll(perms ...Permission) bool {
	if rp.IsAdmin {
		return true
	}
	for _, p := range perms {
		if !rp.Has(p) {
			return false
		}
	}
	return true
}

// GlobalRole is the coarse role flag carried on a user's directory record.
// It drives admin short-circuiting and global-scope (projectless) resolution.
type GlobalRole string

const (
	GlobalRoleAdmin         GlobalRole = "admin"
	GlobalRoleProjectOwner  GlobalRole = "project_owner"
	GlobalRoleProjectMember GlobalRole = "project_member"
	GlobalRoleViewer        GlobalRole = "viewer"
)

// ParseGlobalRole decodes a global role flag.
func ParseGlobalRole(s string) (GlobalRole, error) {
	switch GlobalRole(s) {
	case GlobalRoleAdmin, GlobalRoleProjectOwner, GlobalRoleProjectMember, GlobalRoleViewer:
		return GlobalRole(s), nil
	}
	return "", fmt.Errorf("unknown global role: %q", s)
}

// OwnerBundle is the fixed permission set implicitly granted to a project's
// owner absent any explicit membership row. The seeded "Project Owner" system
// role carries exactly this bundle: both are derived from this single source.
func OwnerBundle() []Permission {
	return []Permission{
		PermProjectRead,
		PermProjectUpdate,
		PermProjectManageMembers,
		PermUserRead,
		PermChatRead,
		PermChatWrite,
		PermChatDelete,
		PermChatExport,
		PermReportCreate,
		PermReportRead,
		PermReportExport,
		PermReportDelete,
	}
}

// MemberBundle is the standard project-member permission set.
func MemberBundle() []Permission {
	return []Permission{
		PermProjectRead,
		PermChatRead,
		PermChatWrite,
		PermReportCreate,
		PermReportRead,
	}
}

// ViewerBundle is the read-only permission set.
func ViewerBundle() []Permission {
	return []Permission{
		PermProjectRead,
		PermChatRead,
		PermReportRead,
	}
}

// BundleFor maps a non-admin global role flag to its canonical permission
// bundle for global-scope resolution. Admin is handled by the resolver's
// short-circuit and never reaches this mapping.
func BundleFor(role GlobalRole) []Permission {
	switch role {
	case GlobalRoleAdmin:
		return AllPermissions()
	case GlobalRoleProjectOwner:
		return OwnerBundle()
	case GlobalRoleProjectMember:
		return MemberBundle()
	default:
		return ViewerBundle()
	}
}

// System role names.
const (
	RoleNameAdministrator = "Administrator"
	RoleNameProjectOwner  = "Project Owner"
	RoleNameProjectMember = "Project Member"
	RoleNameViewer        = "Viewer"
)

// SystemRoleID returns the deterministic identifier of a seeded system role,
// derived from the tenant so repeated seeding is a no-op. The suffix is one
// of "admin", "owner", "member", "viewer".
func SystemRoleID(tenantID, suffix string) string {
	return tenantID + "-" + suffix
}

// SystemRoles returns the four canonical system roles for a tenant, with
// deterministic identifiers and permission sets derived from the catalog and
// the canonical bundles.
func SystemRoles(tenantID string) []Role {
	return []Role{
		{
			RoleID:       SystemRoleID(tenantID, "admin"),
			Name:         RoleNameAdministrator,
			Description:  "Full system access",
			Permissions:  AllPermissionStrings(),
			IsSystemRole: true,
			TenantID:     tenantID,
		},
		{
			RoleID:       SystemRoleID(tenantID, "owner"),
			Name:         RoleNameProjectOwner,
			Description:  "Full project access",
			Permissions:  PermissionStrings(OwnerBundle()),
			IsSystemRole: true,
			TenantID:     tenantID,
		},
		{
			RoleID:       SystemRoleID(tenantID, "member"),
			Name:         RoleNameProjectMember,
			Description:  "Standard project access",
			Permissions:  PermissionStrings(MemberBundle()),
			IsSystemRole: true,
			TenantID:     tenantID,
		},
		{
			RoleID:       SystemRoleID(tenantID, "viewer"),
			Name:         RoleNameViewer,
			Description:  "Read-only access",
			Permissions:  PermissionStrings(ViewerBundle()),
			IsSystemRole: true,
			TenantID:     tenantID,
		},
	}
}

// UserRecord is the authorization-relevant view of a user directory record.
type UserRecord struct {
	UserID   string     `json:"user_id"`
	TenantID string     `json:"tenant_id"`
	Role     GlobalRole `json:"role"`
	IsActive bool       `json:"is_active"`
}

// ProjectRecord is the authorization-relevant view of a project directory
// record. Ownership grants the owner bundle independent of any membership.
type ProjectRecord struct {
	ProjectID string `json:"project_id"`
	TenantID  string `json:"tenant_id"`
	OwnerID   string `json:"owner_id"`
}
