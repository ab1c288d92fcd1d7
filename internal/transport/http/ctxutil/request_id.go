// Package ctxutil provides context utility functions for storing and
// retrieving request-scoped values such as auth context, request IDs, and
// trace/span IDs.
package ctxutil

import (
	"context"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// GetRequestID retrieves the request ID set by chi's RequestID middleware.
// Returns an empty string if no request ID is present.
func GetRequestID(ctx context.Context) string {
	return chiMiddleware.GetReqID(ctx)
}

// SetRequestID returns a new context with the given request ID, using the
// same context key chi's RequestID middleware reads from. Intended for
// tests that need to populate a request ID without going through HTTP.
func SetRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, chiMiddleware.RequestIDKey, requestID)
}
