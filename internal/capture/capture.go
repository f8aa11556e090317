// SPDX-License-Identifier: MIT

// Package capture defines the record written for every inbound webhook
// request: the event model, identifier generation and header masking.
package capture

import (
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// ID prefixes. Webhook IDs are issued by the webhook manager; event IDs are
// allocated per captured request.
const (
	WebhookIDPrefix = "wh-"
	EventIDPrefix   = "evt-"
)

// TypeForwardError marks capture rows written by the forwarder on terminal
// delivery failure. Regular captures carry an empty type.
const TypeForwardError = "forward_error"

// Event is one persisted inbound request. Created by the ingestion pipeline,
// owned by the log repository, immutable after insertion.
type Event struct {
	ID                string            `json:"id"`
	WebhookID         string            `json:"webhookId"`
	Timestamp         int64             `json:"timestamp"` // unix milliseconds
	Type              string            `json:"type,omitempty"`
	Method            string            `json:"method"`
	RequestURL        string            `json:"requestUrl"`
	Headers           map[string]string `json:"headers"`
	Query             map[string]string `json:"query,omitempty"`
	Body              any               `json:"body,omitempty"`
	ContentType       string            `json:"contentType,omitempty"`
	Size              int64             `json:"size"`
	ProcessingTime    int64             `json:"processingTime"` // milliseconds
	StatusCode        int               `json:"statusCode"`
	RemoteIP          string            `json:"remoteIp,omitempty"`
	UserAgent         string            `json:"userAgent,omitempty"`
	RequestID         string            `json:"requestId,omitempty"`
	SignatureValid    *bool             `json:"signatureValid,omitempty"`
	SignatureProvider string            `json:"signatureProvider,omitempty"`
	SignatureError    string            `json:"signatureError,omitempty"`

	// Forward-error extras, set only when Type == TypeForwardError.
	Attempts   int    `json:"attempts,omitempty"`
	LastError  string `json:"lastError,omitempty"`
	TargetHost string `json:"targetHost,omitempty"`
}

// NewEventID allocates a unique event identifier.
func NewEventID() string {
	return EventIDPrefix + randomHex()
}

// NewWebhookID allocates a unique webhook identifier.
func NewWebhookID() string {
	return WebhookIDPrefix + randomHex()
}

// randomHex returns 32 hex characters of uuid-derived entropy.
func randomHex() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// MaskedValue replaces the value of sensitive headers in stored captures.
const MaskedValue = "[MASKED]"

// sensitiveHeaders is the documented set masked before persisting a capture.
// The same boundary feeds the forwarder's strip list: a masked header is
// never sent outbound.
var sensitiveHeaders = map[string]struct{}{
	"authorization":       {},
	"proxy-authorization": {},
	"cookie":              {},
	"set-cookie":          {},
	"x-api-key":           {},
	"x-auth-token":        {},
	"x-csrf-token":        {},
	"x-webhook-secret":    {},
}

// IsSensitiveHeader reports whether the given header name (any case) is in
// the masked set.
func IsSensitiveHeader(name string) bool {
	_, ok := sensitiveHeaders[strings.ToLower(name)]
	return ok
}

// MaskHeaders lowercases all header names and masks sensitive values.
// The first value wins for repeated headers. When mask is false the values
// are kept but names are still lowercased.
func MaskHeaders(headers map[string][]string, mask bool) map[string]string {
	out := make(map[string]string, len(headers))
	for name, values := range headers {
		if len(values) == 0 {
			continue
		}
		lower := strings.ToLower(name)
		if _, exists := out[lower]; exists {
			continue
		}
		if mask && IsSensitiveHeader(lower) {
			out[lower] = MaskedValue
			continue
		}
		out[lower] = values[0]
	}
	return out
}

// IsMasked reports whether a stored header value is the mask literal.
func IsMasked(value string) bool {
	return value == MaskedValue
}
