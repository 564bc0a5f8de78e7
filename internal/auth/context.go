package auth

import "context"

type principalKey struct{}

// WithPrincipal returns a context carrying p as the caller identity. In-process
// calls use it directly; gRPC servers get it from the interceptor.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the caller, or Anonymous.
func PrincipalFromContext(ctx context.Context) Principal {
	if p, ok := ctx.Value(principalKey{}).(Principal); ok {
		return p
	}
	return Anonymous
}
