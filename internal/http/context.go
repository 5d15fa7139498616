package http

import (
	"context"

	"github.com/example/activities-management/internal/application"
)

type principalKey struct{}

// ContextWithPrincipal records the API client that RequireAPIKey authenticated.
func ContextWithPrincipal(ctx context.Context, principal application.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, principal)
}

// PrincipalFromContext returns the authenticated API client. Handlers use its
// name as the actor on created and updated records.
func PrincipalFromContext(ctx context.Context) (application.Principal, bool) {
	principal, ok := ctx.Value(principalKey{}).(application.Principal)
	return principal, ok
}
