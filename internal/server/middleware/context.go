package middleware

import "context"

type contextKey string

const (
	// RequestIDKey is the context key for the request ID.
	RequestIDKey contextKey = "request_id"
	// apiContextKey is the context key for the verified API identity.
	apiContextKey contextKey = "api_context"
	// apiHolderKey carries a mutable slot seeded by the Logger middleware so
	// authentication happening further down the chain is visible to the
	// request log line written on the way back up.
	apiHolderKey contextKey = "api_context_holder"
)

type apiContextHolder struct {
	apiCtx *APIContext
}

// APIContext is the verified, request-scoped identity produced by successful
// authentication. It is owned by the request being processed and discarded
// at request end.
type APIContext struct {
	TenantID string
	KeyID    string
	Scopes   []string
}

// WithAPIContext returns a context carrying the verified identity. Used by
// the auth middleware and by handler tests that bypass it.
func WithAPIContext(ctx context.Context, apiCtx *APIContext) context.Context {
	return context.WithValue(ctx, apiContextKey, apiCtx)
}

// GetAPIContext extracts the verified identity from the context. Returns nil
// for unauthenticated requests.
func GetAPIContext(ctx context.Context) *APIContext {
	if c, ok := ctx.Value(apiContextKey).(*APIContext); ok {
		return c
	}
	return nil
}

// GetRequestID extracts the request ID from the context. Returns an empty
// string if no request ID is present.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}
