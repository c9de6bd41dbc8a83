package logging

import (
	"context"
)

type contextKey string

const (
	TransportKey   contextKey = "transport"
	WorkItemIDKey  contextKey = "work_item_id"
	ServiceNameKey contextKey = "service_name"
	TraceIDKey     contextKey = "trace_id"
)

func WithTransport(ctx context.Context, transport string) context.Context {
	return context.WithValue(ctx, TransportKey, transport)
}

func WithWorkItemID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, WorkItemIDKey, id)
}

func WithServiceName(ctx context.Context, serviceName string) context.Context {
	return context.WithValue(ctx, ServiceNameKey, serviceName)
}

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

func GetTransport(ctx context.Context) string {
	return stringValue(ctx, TransportKey)
}

func GetWorkItemID(ctx context.Context) string {
	return stringValue(ctx, WorkItemIDKey)
}

func GetServiceName(ctx context.Context) string {
	return stringValue(ctx, ServiceNameKey)
}

func GetTraceID(ctx context.Context) string {
	return stringValue(ctx, TraceIDKey)
}

func stringValue(ctx context.Context, key contextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

func GetLogFields(ctx context.Context) []interface{} {
	fields := make([]interface{}, 0, 8)

	if traceID := GetTraceID(ctx); traceID != "" {
		fields = append(fields, "trace_id", traceID)
	}

	if transport := GetTransport(ctx); transport != "" {
		fields = append(fields, "transport", transport)
	}

	if id := GetWorkItemID(ctx); id != "" {
		fields = append(fields, "work_item_id", id)
	}

	if serviceName := GetServiceName(ctx); serviceName != "" {
		fields = append(fields, "service_name", serviceName)
	}

	return fields
}
