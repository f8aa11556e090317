// SPDX-License-Identifier: MIT

package middleware

import (
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/log"
)

func TestMain(m *testing.M) {
	log.SetLevel("fatal")
	os.Exit(m.Run())
}

func TestRequestID(t *testing.T) {
	const valid = "6ba7b810-9dad-11d1-80b4-00c04fd430c8"

	tests := []struct {
		name    string
		inbound string
		want    string // empty means "a fresh UUID"
	}{
		{"valid uuid honored", valid, valid},
		{"req prefix stripped", "req-" + valid, valid},
		{"garbage replaced", "drop table logs", ""},
		{"missing generated", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var fromContext string
			h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fromContext = log.RequestIDFromContext(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.inbound != "" {
				req.Header.Set(HeaderRequestID, tt.inbound)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			echoed := rec.Header().Get(HeaderRequestID)
			require.NotEmpty(t, echoed)
			require.Equal(t, echoed, fromContext, "context and response header must agree")

			if tt.want != "" {
				require.Equal(t, tt.want, echoed)
				return
			}
			_, err := uuid.Parse(echoed)
			require.NoError(t, err, "replacement id must be a UUID")
			require.NotEqual(t, tt.inbound, echoed)
		})
	}
}
