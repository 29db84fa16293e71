package middleware

import (
	"context"

	"github.com/pharmalink/pharmalink-backend/pkg/auth"
	pkgerrors "github.com/pharmalink/pharmalink-backend/pkg/errors"
)

type contextKey string

const ctxPrincipal contextKey = "principal"

// PrincipalFromContext returns the caller attached by Auth.
func PrincipalFromContext(ctx context.Context) (auth.Principal, bool) {
	if ctx == nil {
		return auth.Principal{}, false
	}
	p, ok := ctx.Value(ctxPrincipal).(auth.Principal)
	return p, ok
}

// RequirePrincipal is PrincipalFromContext for handlers behind Auth.
func RequirePrincipal(ctx context.Context) (auth.Principal, error) {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return auth.Principal{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials")
	}
	return p, nil
}

// WithPrincipal injects the caller into the context.
func WithPrincipal(ctx context.Context, p auth.Principal) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxPrincipal, p)
}

func UserIDFromContext(ctx context.Context) string {
	if p, ok := PrincipalFromContext(ctx); ok {
		return p.UserID.String()
	}
	return ""
}

func PharmacyIDFromContext(ctx context.Context) string {
	if p, ok := PrincipalFromContext(ctx); ok && p.PharmacyID != nil {
		return p.PharmacyID.String()
	}
	return ""
}
