package logging

import (
	"context"
)

type ctxKey string

const (
	TraceIDKey       ctxKey = "trace_id"
	RequestIDKey     ctxKey = "request_id"
	MessageIDKey     ctxKey = "message_id"
	ServiceNameKey   ctxKey = "service_name"
	ActorKey         ctxKey = "actor"
	DeclarationIDKey ctxKey = "declaration_id"
)

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func WithMessageID(ctx context.Context, messageID string) context.Context {
	return context.WithValue(ctx, MessageIDKey, messageID)
}

func WithServiceName(ctx context.Context, serviceName string) context.Context {
	return context.WithValue(ctx, ServiceNameKey, serviceName)
}

// WithActor records the authenticated officer (or "system") performing the
// current operation.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, ActorKey, actor)
}

func WithDeclarationID(ctx context.Context, declarationID string) context.Context {
	return context.WithValue(ctx, DeclarationIDKey, declarationID)
}

func stringValue(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

func GetTraceID(ctx context.Context) string       { return stringValue(ctx, TraceIDKey) }
func GetRequestID(ctx context.Context) string     { return stringValue(ctx, RequestIDKey) }
func GetMessageID(ctx context.Context) string     { return stringValue(ctx, MessageIDKey) }
func GetServiceName(ctx context.Context) string   { return stringValue(ctx, ServiceNameKey) }
func GetActor(ctx context.Context) string         { return stringValue(ctx, ActorKey) }
func GetDeclarationID(ctx context.Context) string { return stringValue(ctx, DeclarationIDKey) }

// GetLogFields returns the context values as zap key/value pairs. Empty
// values are skipped.
func GetLogFields(ctx context.Context) []interface{} {
	fields := make([]interface{}, 0, 12)
	for _, key := range []ctxKey{TraceIDKey, RequestIDKey, MessageIDKey, ServiceNameKey, ActorKey, DeclarationIDKey} {
		if v := stringValue(ctx, key); v != "" {
			fields = append(fields, string(key), v)
		}
	}
	return fields
}
