package models

import "context"

type requestContextKey struct{}

// WithRequestContext attaches the request context so lower layers can check
// caller identity and permissions without explicit plumbing.
func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rc)
}

// RequestContextFrom returns the attached request context, or nil.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rc, _ := ctx.Value(requestContextKey{}).(*RequestContext)
	return rc
}
