package tracing

import "context"

type contextKey string

const objectNameKey contextKey = "object_name"

// ObjectNameFromContext returns the object name set by ContextWithObjectName,
// or "" when there is none.
func ObjectNameFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(objectNameKey).(string); ok {
		return v
	}
	return ""
}

// ContextWithObjectName records the managed object an operation targets so
// spans opened further down can be tagged with it. An empty name returns ctx
// unchanged.
func ContextWithObjectName(ctx context.Context, name string) context.Context {
	if name == "" {
		return ctx
	}
	return context.WithValue(ctx, objectNameKey, name)
}
