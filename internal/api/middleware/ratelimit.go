// SPDX-License-Identifier: MIT

package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/log"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/ratelimit"
)

// ManagementRateLimit caps management-plane traffic per client IP using
// a sliding window. Ingestion traffic is excluded; it runs through the
// per-webhook limiter inside the ingest pipeline instead.
func ManagementRateLimit(requestsPerWindow int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerWindow,
		window,
		httprate.WithKeyFuncs(keyByClientIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			requestID := log.RequestIDFromContext(r.Context())
			logger := log.WithComponent("api")
			logger.Warn().
				Str("event", "api.ratelimit.blocked").
				Str(log.FieldRequestID, requestID).
				Str(log.FieldPath, r.URL.Path).
				Str(log.FieldRemoteIP, ratelimit.GetClientIP(r)).
				Msg("management rate limit exceeded")

			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(window.Seconds())))
			w.WriteHeader(http.StatusTooManyRequests)
			body := fmt.Sprintf(`{"status":429,"requestId":%q,"error":"Too Many Requests","message":"Rate limit exceeded. Please try again later."}`, requestID)
			_, _ = w.Write([]byte(body))
		}),
	)
}

// keyByClientIP keys the window on the proxy-aware client address so a
// deployment behind a load balancer does not collapse every caller into
// one bucket.
func keyByClientIP(r *http.Request) (string, error) {
	if ip := ratelimit.GetClientIP(r); ip != "" {
		return ip, nil
	}
	return httprate.KeyByIP(r)
}
