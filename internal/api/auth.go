// SPDX-License-Identifier: MIT

package api

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/log"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/ratelimit"
)

// requireAuth guards the management plane. When no auth key is
// configured the instance runs open and the middleware is a no-op.
// Comparison is constant-time over SHA-256 digests so neither key
// length nor prefix leaks through timing.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := s.holder.Get().AuthKey
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}

		token := bearerToken(r)
		if token == "" || !tokenMatches(token, key) {
			logger := log.WithComponent("api")
			logger.Warn().
				Str("event", "api.auth.denied").
				Str(log.FieldRequestID, log.RequestIDFromContext(r.Context())).
				Str(log.FieldPath, r.URL.Path).
				Str(log.FieldRemoteIP, ratelimit.GetClientIP(r)).
				Msg("management request rejected")
			respondUnauthorized(w, r)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(auth[len(prefix):])
}

func tokenMatches(token, key string) bool {
	a := sha256.Sum256([]byte(token))
	b := sha256.Sum256([]byte(key))
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}
