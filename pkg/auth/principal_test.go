package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrincipalContextRoundTrip(t *testing.T) {
	t.Run("present", func(t *testing.T) {
		ctx := WithPrincipal(context.Background(), &Principal{UserID: "u1", TenantID: "t1"})

		principal, err := FromContext(ctx)
		require.NoError(t, err)
		assert.Equal(t, "u1", principal.UserID)
		assert.Equal(t, "t1", principal.TenantID)
	})

	t.Run("absent", func(t *testing.T) {
		_, err := FromContext(context.Background())
		assert.ErrorIs(t, err, ErrNoPrincipal)
	})
}

func TestPrincipalMiddleware(t *testing.T) {
	handler := PrincipalMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := FromContext(r.Context())
		require.NoError(t, err)
		assert.Equal(t, "u1", principal.UserID)
		assert.Equal(t, "t1", principal.TenantID)
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("both headers present", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set(HeaderUserID, "u1")
		req.Header.Set(HeaderTenantID, "t1")

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("missing user header", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set(HeaderTenantID, "t1")

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("missing tenant header", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set(HeaderUserID, "u1")

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
