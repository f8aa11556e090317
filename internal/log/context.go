// SPDX-License-Identifier: MIT

package log

import (
	"context"

	"github.com/rs/zerolog"
)

type ctxKey string

const (
	requestIDKey ctxKey = "request_id"
	webhookIDKey ctxKey = "webhook_id"
)

// ContextWithRequestID stores the provided request ID in the context.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// ContextWithWebhookID stores the webhook ID handled by this request in the context.
func ContextWithWebhookID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, webhookIDKey, id)
}

// RequestIDFromContext extracts the request ID from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// WebhookIDFromContext extracts the webhook ID from context if present.
func WebhookIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(webhookIDKey).(string); ok {
		return v
	}
	return ""
}

// WithComponentFromContext builds a component logger enriched with any
// request-scoped identifiers carried by ctx.
func WithComponentFromContext(ctx context.Context, component string) zerolog.Logger {
	builder := logger().With().Str(FieldComponent, component)
	if id := RequestIDFromContext(ctx); id != "" {
		builder = builder.Str(FieldRequestID, id)
	}
	if id := WebhookIDFromContext(ctx); id != "" {
		builder = builder.Str(FieldWebhookID, id)
	}
	return builder.Logger()
}

// FromContext returns a request-scoped logger without a component annotation.
func FromContext(ctx context.Context) zerolog.Logger {
	builder := logger().With()
	if id := RequestIDFromContext(ctx); id != "" {
		builder = builder.Str(FieldRequestID, id)
	}
	return builder.Logger()
}
