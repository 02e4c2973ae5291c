// Package auth defines the authenticated principal and its context plumbing.
// Token validation is the gateway's job; by the time a request reaches a
// handler the principal has already been verified and attached upstream.
package auth

import (
	"context"
	"errors"

	"github.com/meridianhq/meridian/pkg/contextkeys"
)

// ErrNoPrincipal is returned when a request context carries no
// authenticated principal.
var ErrNoPrincipal = errors.New("no authenticated principal in context")

// Principal is the authenticated identity attached to a request.
type Principal struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
}

// WithPrincipal attaches a principal to the context.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return contextkeys.WithPrincipal(ctx, p)
}

// FromContext retrieves the principal from the context.
func FromContext(ctx context.Context) (*Principal, error) {
	p, ok := ctx.Value(contextkeys.PrincipalKey).(*Principal)
	if !ok || p == nil {
		return nil, ErrNoPrincipal
	}
	return p, nil
}
