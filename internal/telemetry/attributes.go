// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the application.
const (
	// HTTP attributes
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"
	HTTPURLKey        = "http.url"
	HTTPUserAgentKey  = "http.user_agent"

	// Capture attributes
	WebhookIDKey   = "webhook.id"
	EventIDKey     = "event.id"
	ContentTypeKey = "event.content_type"
	PayloadSizeKey = "event.payload_bytes"

	// Delivery attributes
	DeliveryTargetHostKey = "delivery.target_host"
	DeliveryAttemptsKey   = "delivery.attempts"
	DeliveryStatusKey     = "delivery.status_code"
	DeliveryKindKey       = "delivery.kind"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route, url string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.String(HTTPURLKey, url),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// EventAttributes creates capture-related span attributes.
func EventAttributes(webhookID, eventID, contentType string, size int64) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 4)
	if webhookID != "" {
		attrs = append(attrs, attribute.String(WebhookIDKey, webhookID))
	}
	if eventID != "" {
		attrs = append(attrs, attribute.String(EventIDKey, eventID))
	}
	if contentType != "" {
		attrs = append(attrs, attribute.String(ContentTypeKey, contentType))
	}
	attrs = append(attrs, attribute.Int64(PayloadSizeKey, size))
	return attrs
}

// DeliveryAttributes creates outbound delivery span attributes.
func DeliveryAttributes(kind, targetHost string, attempts, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(DeliveryKindKey, kind),
		attribute.String(DeliveryTargetHostKey, targetHost),
		attribute.Int(DeliveryAttemptsKey, attempts),
		attribute.Int(DeliveryStatusKey, statusCode),
	}
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(_ error, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
