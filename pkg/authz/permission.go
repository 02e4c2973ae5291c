package authz

import (
	"fmt"
	"strings"
)

// Resource represents a resource type in the system
type Resource string

const (
	ResourceProject Resource = "project"
	ResourceChat    Resource = "chat"
	ResourceReport  Resource = "report"
	ResourceUser    Resource = "user"
	ResourceAdmin   Resource = "admin"
)

// Action represents an action that can be performed on a resource
type Action string

const (
	ActionCreate        Action = "create"
	ActionRead          Action = "read"
	ActionUpdate        Action = "update"
	ActionDelete        Action = "delete"
	ActionWrite         Action = "write"
	ActionExport        Action = "export"
	ActionManageMembers Action = "manage_members"
	ActionManageRoles   Action = "manage_roles"
	ActionAccess        Action = "access"
)

// Permission represents a specific permission (resource + action)
type Permission struct {
	Resource Resource `json:"resource"`
	Action   Action   `json:"action"`
}

// String returns the canonical string encoding of the permission
func (p Permission) String() string {
	return string(p.Resource) + ":" + string(p.Action)
}

// The full permission catalog. The catalog is closed: these are the only
// permissions the system recognizes, and any permission string accepted from
// input must decode to one of them.
var (
	PermProjectCreate        = Permission{ResourceProject, ActionCreate}
	PermProjectRead          = Permission{ResourceProject, ActionRead}
	PermProjectUpdate        = Permission{ResourceProject, ActionUpdate}
	PermProjectDelete        = Permission{ResourceProject, ActionDelete}
	PermProjectManageMembers = Permission{ResourceProject, ActionManageMembers}

	PermChatRead   = Permission{ResourceChat, ActionRead}
	PermChatWrite  = Permission{ResourceChat, ActionWrite}
	PermChatDelete = Permission{ResourceChat, ActionDelete}
	PermChatExport = Permission{ResourceChat, ActionExport}

	PermReportCreate = Permission{ResourceReport, ActionCreate}
	PermReportRead   = Permission{ResourceReport, ActionRead}
	PermReportExport = Permission{ResourceReport, ActionExport}
	PermReportDelete = Permission{ResourceReport, ActionDelete}

	PermUserCreate      = Permission{ResourceUser, ActionCreate}
	PermUserRead        = Permission{ResourceUser, ActionRead}
	PermUserUpdate      = Permission{ResourceUser, ActionUpdate}
	PermUserDelete      = Permission{ResourceUser, ActionDelete}
	PermUserManageRoles = Permission{ResourceUser, ActionManageRoles}

	PermAdminAccess = Permission{ResourceAdmin, ActionAccess}
)

// catalog holds every permission in stable listing order.
var catalog = []Permission{
	PermProjectCreate,
	PermProjectRead,
	PermProjectUpdate,
	PermProjectDelete,
	PermProjectManageMembers,
	PermChatRead,
	PermChatWrite,
	PermChatDelete,
	PermChatExport,
	PermReportCreate,
	PermReportRead,
	PermReportExport,
	PermReportDelete,
	PermUserCreate,
	PermUserRead,
	PermUserUpdate,
	PermUserDelete,
	PermUserManageRoles,
	PermAdminAccess,
}

// catalogByString is the decode table, keyed by canonical encoding.
var catalogByString = func() map[string]Permission {
	m := make(map[string]Permission, len(catalog))
	for _, p := range catalog {
		m[p.String()] = p
	}
	return m
}()

// AllPermissions returns every permission in the catalog in stable order.
// The returned slice is a copy; callers may modify it freely.
func AllPermissions() []Permission {
	out := make([]Permission, len(catalog))
	copy(out, catalog)
	return out
}

// AllPermissionStrings returns the canonical encoding of every permission in
// the catalog, in stable order.
func AllPermissionStrings() []string {
	return PermissionStrings(catalog)
}

// PermissionStrings encodes a list of permissions to their canonical strings.
func PermissionStrings(perms []Permission) []string {
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = p.String()
	}
	return out
}

// ParsePermission decodes a permission string against the catalog. Unknown
// strings are rejected; the catalog is the sole validity check.
func ParsePermission(s string) (Permission, error) {
	p, ok := catalogByString[s]
	if !ok {
		return Permission{}, fmt.Errorf("unknown permission: %q", s)
	}
	return p, nil
}

// ValidatePermissions checks every entry of a permission list against the
// catalog. It returns a single ValidationError naming all offending values,
// so callers can surface the complete list to clients in one response.
func ValidatePermissions(perms []string) error {
	var invalid []string
	for _, s := range perms {
		if _, ok := catalogByString[s]; !ok {
			invalid = append(invalid, s)
		}
	}
	if len(invalid) > 0 {
		return &ValidationError{
			Field:   "permissions",
			Message: "unknown permission(s): " + strings.Join(invalid, ", "),
			Values:  invalid,
		}
	}
	return nil
}
