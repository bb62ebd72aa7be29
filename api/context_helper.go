package api

import (
	"context"
	"time"

	"github.com/shaj13/go-guardian/auth"
)

// QueryTimeout is the default timeout for database queries
const QueryTimeout = 10 * time.Second

// WithQueryTimeout creates a context with query timeout
func WithQueryTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, QueryTimeout)
}

type contextKey string

const identityContextKey contextKey = "identity"

// ContextWithIdentity stores the resolved identity in the context
func ContextWithIdentity(parent context.Context, info auth.Info) context.Context {
	return context.WithValue(parent, identityContextKey, info)
}

// IdentityFromContext returns the identity resolved by the guard middleware
func IdentityFromContext(ctx context.Context) (auth.Info, bool) {
	info, ok := ctx.Value(identityContextKey).(auth.Info)
	return info, ok
}
