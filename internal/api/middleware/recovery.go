// SPDX-License-Identifier: MIT

package middleware

import (
	"encoding/json"
	"net/http"
	"runtime/debug"

	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/log"
)

// Recoverer converts handler panics into a 500 envelope instead of
// tearing down the connection. It sits outermost so every later stage,
// including other middleware, is covered.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				// Deliberate connection abort, nothing to report.
				panic(rec)
			}

			requestID := log.RequestIDFromContext(r.Context())
			logger := log.WithComponent("api")
			logger.Error().
				Str("event", "api.panic").
				Str(log.FieldRequestID, requestID).
				Str(log.FieldMethod, r.Method).
				Str(log.FieldPath, r.URL.Path).
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("handler panic recovered")

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status":    http.StatusInternalServerError,
				"requestId": requestID,
				"error":     http.StatusText(http.StatusInternalServerError),
				"message":   "internal server error",
			})
		}()

		next.ServeHTTP(w, r)
	})
}
