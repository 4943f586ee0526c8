// ABOUTME: Caller context for tracking which class a request authenticated as
// ABOUTME: Provides WithClass/ClassFromContext for handlers and request logging

package auth

import (
	"context"
)

// classContextKey is the key type for storing the caller class in context.Context.
type classContextKey struct{}

// WithClass returns a new context recording the authenticated caller class.
func WithClass(ctx context.Context, class Class) context.Context {
	return context.WithValue(ctx, classContextKey{}, class)
}

// ClassFromContext returns the caller class, or "" for unauthenticated requests.
func ClassFromContext(ctx context.Context) Class {
	class, _ := ctx.Value(classContextKey{}).(Class)
	return class
}
