// SPDX-License-Identifier: MIT

package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/log"
)

// HeaderRequestID is the canonical request correlation header.
const HeaderRequestID = "X-Request-Id"

// RequestID assigns a correlation ID to every request. An inbound
// X-Request-Id is honored when it is a valid UUID (an optional "req-"
// prefix is tolerated and stripped); anything else is replaced with a
// fresh UUID so log fields stay injection-free. The final ID is stored
// in the request context and echoed on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := sanitizeRequestID(r.Header.Get(HeaderRequestID))
		if id == "" {
			id = uuid.NewString()
		}

		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(log.ContextWithRequestID(r.Context(), id)))
	})
}

func sanitizeRequestID(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "req-")
	if raw == "" {
		return ""
	}
	if _, err := uuid.Parse(raw); err != nil {
		return ""
	}
	return raw
}
