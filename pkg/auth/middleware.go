package auth

import (
	"net/http"

	"github.com/meridianhq/meridian/pkg/httputil"
)

// Identity headers set by the gateway after token validation. Requests reach
// this service only through the gateway, which strips these headers from
// anything inbound.
const (
	HeaderUserID   = "X-Meridian-User-Id"
	HeaderTenantID = "X-Meridian-Tenant-Id"
)

// PrincipalMiddleware extracts the gateway-verified identity headers and
// attaches the principal to the request context. Requests without both
// headers are rejected.
func PrincipalMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(HeaderUserID)
		tenantID := r.Header.Get(HeaderTenantID)
		if userID == "" || tenantID == "" {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}

		principal := &Principal{
			UserID:   userID,
			TenantID: tenantID,
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	})
}
