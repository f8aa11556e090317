// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID = "request_id"
	FieldWebhookID = "webhook_id"
	FieldEventID   = "event_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// HTTP fields
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldStatus     = "status"
	FieldRemoteIP   = "remote_ip"
	FieldUserAgent  = "user_agent"
	FieldDurationMS = "duration_ms"

	// Forwarding fields
	FieldTargetURL  = "target_url"
	FieldTargetHost = "target_host"
	FieldAttempt    = "attempt"
	FieldAttempts   = "attempts"

	// Storage fields
	FieldKey     = "key"
	FieldBackend = "backend"
	FieldCount   = "count"
)
