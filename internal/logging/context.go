package logging

import (
	"context"
	"regexp"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	if requestID := RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request.id", requestID))
	}
	if principal := PrincipalFromContext(ctx); principal != "" {
		fields = append(fields, zap.String("principal", principal))
	}
	if class := EndpointClassFromContext(ctx); class != "" {
		fields = append(fields, zap.String("endpoint.class", class))
	}

	return fields
}

type requestCtxKey struct{}
type principalCtxKey struct{}
type classCtxKey struct{}
type loggerCtxKey struct{}

const maxIDLen = 128

// idPattern allows alphanumeric, hyphen, underscore.
var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

func validID(id string) bool {
	return id != "" && len(id) <= maxIDLen && utf8.ValidString(id) && idPattern.MatchString(id)
}

// WithRequestID adds request ID to context. Request IDs may come from a
// client supplied X-Request-ID header, so invalid values are dropped
// rather than logged.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if !validID(requestID) {
		return ctx
	}
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

// RequestIDFromContext extracts request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if r, ok := ctx.Value(requestCtxKey{}).(string); ok {
		return r
	}
	return ""
}

// WithPrincipal records the authenticated principal name.
func WithPrincipal(ctx context.Context, principal string) context.Context {
	if principal == "" {
		return ctx
	}
	return context.WithValue(ctx, principalCtxKey{}, principal)
}

// PrincipalFromContext extracts the principal name from context.
func PrincipalFromContext(ctx context.Context) string {
	if p, ok := ctx.Value(principalCtxKey{}).(string); ok {
		return p
	}
	return ""
}

// WithEndpointClass records the rate limit class of the current request.
func WithEndpointClass(ctx context.Context, class string) context.Context {
	if class == "" {
		return ctx
	}
	return context.WithValue(ctx, classCtxKey{}, class)
}

// EndpointClassFromContext extracts the endpoint class from context.
func EndpointClassFromContext(ctx context.Context) string {
	if c, ok := ctx.Value(classCtxKey{}).(string); ok {
		return c
	}
	return ""
}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context.
// Returns a nop logger if not found.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}
