package xpub

import (
	"context"
)

// ctxKey is the base for all context keys in xpub (prevents collisions).
type ctxKey string

const correlationCtxKey ctxKey = "xpub:correlation_id"

// WithCorrelationID attaches a correlation id that publishers and readers
// add to their log fields and events for the duration of one call.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationCtxKey, id)
}

// CorrelationIDFromContext returns the id attached by WithCorrelationID.
func CorrelationIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(correlationCtxKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
