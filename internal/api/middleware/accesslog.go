// SPDX-License-Identifier: MIT

package middleware

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/log"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/ratelimit"
)

// AccessLog emits one structured line per completed request. Probe and
// scrape endpoints are skipped; they would drown everything else.
func AccessLog(next http.Handler) http.Handler {
	logger := log.WithComponent("http")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/healthz", "/readyz", "/metrics":
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		lw := &logWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(lw, r)

		evt := logger.WithLevel(levelFor(lw.statusCode)).
			Str("event", "http.request").
			Str(log.FieldRequestID, log.RequestIDFromContext(r.Context())).
			Str(log.FieldMethod, r.Method).
			Str(log.FieldPath, r.URL.Path).
			Int(log.FieldStatus, lw.statusCode).
			Int64(log.FieldDurationMS, time.Since(start).Milliseconds()).
			Str(log.FieldRemoteIP, ratelimit.GetClientIP(r))
		if ua := r.UserAgent(); ua != "" {
			evt = evt.Str(log.FieldUserAgent, ua)
		}
		evt.Msg("request completed")
	})
}

func levelFor(status int) zerolog.Level {
	switch {
	case status >= 500:
		return zerolog.ErrorLevel
	case status >= 400:
		return zerolog.WarnLevel
	default:
		return zerolog.InfoLevel
	}
}

type logWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (lw *logWriter) WriteHeader(statusCode int) {
	if !lw.written {
		lw.statusCode = statusCode
		lw.written = true
	}
	lw.ResponseWriter.WriteHeader(statusCode)
}

func (lw *logWriter) Write(b []byte) (int, error) {
	if !lw.written {
		lw.WriteHeader(http.StatusOK)
	}
	return lw.ResponseWriter.Write(b)
}

func (lw *logWriter) Flush() {
	if f, ok := lw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (lw *logWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hj, ok := lw.ResponseWriter.(http.Hijacker); ok {
		return hj.Hijack()
	}
	return nil, nil, errors.New("response writer does not support hijacking")
}
