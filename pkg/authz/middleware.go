package authz

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/meridianhq/meridian/pkg/auth"
	"github.com/meridianhq/meridian/pkg/httputil"
)

// projectIDVar is the mux route variable carrying the project scope.
const projectIDVar = "project_id"

// RequirePermission gates a handler on a single permission, resolved in the
// scope of the {project_id} route variable when present, global scope
// otherwise.
func (r *Resolver) RequirePermission(p Permission) mux.MiddlewareFunc {
	return r.requireFunc(func(resolved *ResolvedPermissions) bool {
		return resolved.Has(p)
	})
}

// RequireAny gates a handler on holding at least one of the permissions.
func (r *Resolver) RequireAny(perms ...Permission) mux.MiddlewareFunc {
	return r.requireFunc(func(resolved *ResolvedPermissions) bool {
		return resolved.HasAny(perms...)
	})
}

// RequireAll gates a handler on holding every one of the permissions.
func (r *Resolver) RequireAll(perms ...Permission) mux.MiddlewareFunc {
	return r.requireFunc(func(resolved *ResolvedPermissions) bool {
		return resolved.HasAll(perms...)
	})
}

func (r *Resolver) requireFunc(allowed func(*ResolvedPermissions) bool) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			principal, err := auth.FromContext(req.Context())
			if err != nil {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			projectID := mux.Vars(req)[projectIDVar]

			resolved, err := r.ResolvePermissions(req.Context(), principal.UserID, projectID)
			if err != nil {
				// Fail closed: an unresolved permission set is never a grant.
				r.logger.WithError(err).WithField("user_id", principal.UserID).Error("permission resolution failed")
				httputil.WriteForbidden(w, "insufficient permissions")
				return
			}
			if !allowed(resolved) {
				httputil.WriteForbidden(w, "insufficient permissions")
				return
			}

			next.ServeHTTP(w, req)
		})
	}
}
