package authz

import (
	"errors"
	"fmt"
)

// Sentinel errors for the common failure shapes. Handlers translate these to
// HTTP statuses; callers inside the service layer match with errors.Is/As.
var (
	// ErrRoleNotFound is returned when a role does not exist.
	ErrRoleNotFound = errors.New("role not found")

	// ErrMembershipNotFound is returned when no membership exists for a
	// (user, project) pair.
	ErrMembershipNotFound = errors.New("membership not found")

	// ErrUserNotFound is returned when the user directory has no record for
	// the requested user.
	ErrUserNotFound = errors.New("user not found")

	// ErrProjectNotFound is returned when the project directory has no record
	// for the requested project.
	ErrProjectNotFound = errors.New("project not found")

	// ErrSystemRoleImmutable is returned when a caller attempts to update or
	// delete a seeded system role.
	ErrSystemRoleImmutable = errors.New("system roles cannot be modified or deleted")

	// ErrTenantMismatch is returned when a resource exists but belongs to a
	// different tenant than the caller. Handlers must render this with the
	// same shape as a not-found response so cross-tenant probes cannot
	// distinguish "absent" from "forbidden".
	ErrTenantMismatch = errors.New("resource does not belong to this tenant")

	// ErrPermissionDenied is returned by permission assertions when the
	// resolved permission set does not satisfy the requirement.
	ErrPermissionDenied = errors.New("insufficient permissions")
)

// ValidationError reports client-supplied input that failed validation, with
// the offending values preserved for the response body.
type ValidationError struct {
	Field   string
	Message string
	Values  []string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// RoleInUseError is returned when deleting a role that memberships still
// reference. Deletion is disallowed while in use; callers must revoke first.
type RoleInUseError struct {
	RoleID      string
	Memberships int64
}

func (e *RoleInUseError) Error() string {
	return fmt.Sprintf("cannot delete role %s: %d membership(s) still reference it", e.RoleID, e.Memberships)
}

// internalError wraps a store or directory transport failure. Permission
// checks that hit one of these must fail closed: the caller treats the error
// as a denial, never as a grant.
type internalError struct {
	op  string
	err error
}

func (e *internalError) Error() string {
	return e.op + ": " + e.err.Error()
}

func (e *internalError) Unwrap() error {
	return e.err
}

// Internal wraps err as an internal (infrastructure) failure for op.
func Internal(op string, err error) error {
	return &internalError{op: op, err: err}
}

// IsInternal reports whether err is an infrastructure failure rather than a
// domain error.
func IsInternal(err error) bool {
	var ie *internalError
	return errors.As(err, &ie)
}
