// Package tenant carries the organization/association scope that every
// core operation must be keyed by. The scope is supplied by the upstream
// visibility layer; this package only transports and validates it.
package tenant

import (
	"context"
	"errors"
)

// Scope identifies the tenant on whose behalf an operation runs.
type Scope struct {
	OrganizationID int64
	AssociationID  int64
	ActorID        int64
	IsStaff        bool
}

// ErrMissingScope indicates an operation was invoked without tenant identity.
var ErrMissingScope = errors.New("tenant: scope required")

// Validate ensures the scope carries a usable tenant identity.
func (s Scope) Validate() error {
	if s.OrganizationID == 0 || s.AssociationID == 0 {
		return ErrMissingScope
	}
	return nil
}

type scopeContextKey struct{}

// ContextWithScope stores the scope in context.
func ContextWithScope(ctx context.Context, scope Scope) context.Context {
	return context.WithValue(ctx, scopeContextKey{}, scope)
}

// ScopeFromContext extracts the scope from context.
func ScopeFromContext(ctx context.Context) (Scope, bool) {
	scope, ok := ctx.Value(scopeContextKey{}).(Scope)
	return scope, ok
}
