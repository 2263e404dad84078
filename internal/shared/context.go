package shared

import "context"

// Scope identifies the tenant and actor of a request.
type Scope struct {
	StoreID string
	ActorID string
}

type scopeContextKey struct{}

// ContextWithScope stores the scope in context.
func ContextWithScope(ctx context.Context, scope Scope) context.Context {
	return context.WithValue(ctx, scopeContextKey{}, scope)
}

// ScopeFromContext extracts the scope from context.
func ScopeFromContext(ctx context.Context) Scope {
	scope, _ := ctx.Value(scopeContextKey{}).(Scope)
	return scope
}
