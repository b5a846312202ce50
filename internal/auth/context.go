// ABOUTME: Authentication context for tracking caller identity through request handlers
// ABOUTME: Provides WithSubject/SubjectFromContext for propagating identity via context

package auth

import "context"

type subjectContextKey struct{}

// WithSubject returns a new context carrying the authenticated caller identity.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectContextKey{}, subject)
}

// SubjectFromContext returns the caller identity, or "" for anonymous requests.
func SubjectFromContext(ctx context.Context) string {
	sub, _ := ctx.Value(subjectContextKey{}).(string)
	return sub
}
