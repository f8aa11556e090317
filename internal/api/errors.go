// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/log"
)

// errorEnvelope is the uniform JSON error shape returned by every
// endpoint. The requestId field lets a caller quote the exact line in
// the server log.
type errorEnvelope struct {
	Status    int    `json:"status"`
	RequestID string `json:"requestId"`
	Error     string `json:"error"`
	Message   string `json:"message"`
}

// Shared error messages used by more than one handler.
const (
	msgWebhookNotFound = "Webhook not found"
	msgLogNotFound     = "Log not found"
	msgPayloadNotFound = "Payload not found"
	msgForbiddenIP     = "Request origin not allowed"
	msgRateLimited     = "Rate limit exceeded. Please try again later."
	msgPayloadTooLarge = "Payload exceeds the configured size limit"
	msgInvalidJSON     = "Invalid JSON payload"
	msgUnauthorized    = "Valid bearer token required"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// respondError writes the error envelope. The message may be empty, in
// which case the status text doubles as the message.
func respondError(w http.ResponseWriter, r *http.Request, code int, message string) {
	if message == "" {
		message = http.StatusText(code)
	}
	writeJSON(w, code, errorEnvelope{
		Status:    code,
		RequestID: log.RequestIDFromContext(r.Context()),
		Error:     http.StatusText(code),
		Message:   message,
	})
}

// respondUnauthorized renders a minimal HTML page for browsers and the
// JSON envelope for everything else, so a human poking a protected URL
// is told what to do instead of staring at raw JSON.
func respondUnauthorized(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="webhookd"`)
	if !acceptsHTML(r) {
		respondError(w, r, http.StatusUnauthorized, msgUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>401 Unauthorized</title></head>
<body style="font-family:sans-serif;margin:3em">
<h1>401 Unauthorized</h1>
<p>This endpoint requires a bearer token. Send it in the
<code>Authorization: Bearer &lt;key&gt;</code> header.</p>
</body>
</html>
`))
}

// acceptsHTML reports whether the client is (most likely) a browser.
func acceptsHTML(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "text/html") || strings.Contains(accept, "application/xhtml+xml")
}
