// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/capture"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/config"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/logstore"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/payload"
)

const waitFor = 3 * time.Second

// waitForLogs polls the repository until the webhook has n captures.
func (e *testEnv) waitForLogs(t *testing.T, webhookID string, n int) []capture.Event {
	t.Helper()
	var items []capture.Event
	require.Eventually(t, func() bool {
		var err error
		items, _, err = e.store.FindLogs(context.Background(), logstore.Filter{WebhookID: webhookID})
		return err == nil && len(items) == n
	}, waitFor, 10*time.Millisecond, "expected %d captures for %s", n, webhookID)
	return items
}

func hmacHex(secret, data string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestIngestCapturesRequest(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.addWebhook(t, "")

	body := `{"order":"ord_123","total":42}`
	req := httptest.NewRequest(http.MethodPost, "/webhook/"+id+"?source=ci", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer super-secret")
	req.Header.Set("X-GitHub-Event", "push")
	req.Header.Set("User-Agent", "GitHub-Hookshot/abc123")

	rec := env.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "OK", rec.Body.String())
	require.Contains(t, rec.Header().Get("Content-Type"), "text/plain")

	items := env.waitForLogs(t, id, 1)
	ev := items[0]
	require.Equal(t, http.MethodPost, ev.Method)
	require.Equal(t, "/webhook/"+id+"?source=ci", ev.RequestURL)
	require.Equal(t, "application/json", ev.ContentType)
	require.Equal(t, int64(len(body)), ev.Size)
	require.Equal(t, "192.0.2.1", ev.RemoteIP)
	require.Equal(t, "GitHub-Hookshot/abc123", ev.UserAgent)
	require.NotEmpty(t, ev.RequestID)
	require.Equal(t, http.StatusOK, ev.StatusCode)

	// Sensitive headers are masked, ordinary ones kept, names lowercased.
	require.Equal(t, capture.MaskedValue, ev.Headers["authorization"])
	require.Equal(t, "push", ev.Headers["x-github-event"])
	require.Equal(t, "ci", ev.Query["source"])

	// JSON bodies are stored parsed.
	parsed, ok := ev.Body.(map[string]any)
	require.True(t, ok, "body stored as %T", ev.Body)
	require.Equal(t, "ord_123", parsed["order"])
}

func TestIngestAcceptsAnyMethod(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.addWebhook(t, "")

	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
		rec := env.do(httptest.NewRequest(method, "/webhook/"+id, nil))
		require.Equal(t, http.StatusOK, rec.Code, "method %s", method)
	}
	env.waitForLogs(t, id, 3)
}

func TestIngestUnknownWebhook(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(httptest.NewRequest(http.MethodPost, "/webhook/wh-nope", strings.NewReader("x")))
	require.Equal(t, http.StatusNotFound, rec.Code)
	envlp := decodeEnvelope(t, rec)
	require.Equal(t, "Webhook not found", envlp.Message)
}

func TestIngestAdmissionPrecedence(t *testing.T) {
	// Webhook existence outranks the allowlist, and the allowlist
	// outranks the size cap.
	env := newTestEnv(t, func(c *config.Config) {
		c.AllowedIPs = []string{"203.0.113.0/24"}
		c.MaxPayloadSize = 4
	})
	id := env.addWebhook(t, "")

	rec := env.do(httptest.NewRequest(http.MethodPost, "/webhook/wh-nope", strings.NewReader("way past the cap")))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodPost, "/webhook/"+id, strings.NewReader("way past the cap")))
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "Request origin not allowed", decodeEnvelope(t, rec).Message)
}

func TestIngestAllowlist(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.AllowedIPs = []string{"203.0.113.0/24"}
	})
	id := env.addWebhook(t, "")

	rec := env.do(httptest.NewRequest(http.MethodPost, "/webhook/"+id, strings.NewReader("x")))
	require.Equal(t, http.StatusForbidden, rec.Code)

	// The client IP honors X-Forwarded-For, so a proxied caller inside
	// the range is admitted.
	req := httptest.NewRequest(http.MethodPost, "/webhook/"+id, strings.NewReader("x"))
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	rec = env.do(req)
	require.Equal(t, http.StatusOK, rec.Code)

	items := env.waitForLogs(t, id, 1)
	require.Equal(t, "203.0.113.7", items[0].RemoteIP)
}

func TestIngestRateLimit(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.RateLimitPerMinute = 2 })
	id := env.addWebhook(t, "")

	for i := 0; i < 2; i++ {
		rec := env.do(httptest.NewRequest(http.MethodPost, "/webhook/"+id, strings.NewReader("x")))
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
	}

	rec := env.do(httptest.NewRequest(http.MethodPost, "/webhook/"+id, strings.NewReader("x")))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	retry, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	require.NoError(t, err)
	require.GreaterOrEqual(t, retry, 1)
	require.Equal(t, "Rate limit exceeded. Please try again later.", decodeEnvelope(t, rec).Message)
}

func TestIngestPayloadTooLarge(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.MaxPayloadSize = 16 })
	id := env.addWebhook(t, "")

	rec := env.do(httptest.NewRequest(http.MethodPost, "/webhook/"+id,
		strings.NewReader(strings.Repeat("a", 64))))
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	require.Equal(t, "Payload exceeds the configured size limit", decodeEnvelope(t, rec).Message)
}

func TestIngestSignatureRecordedNotEnforced(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.Signature = config.SignatureConfig{Provider: "github", Secret: "shhh"}
	})
	id := env.addWebhook(t, "")

	// No signature header at all: the capture is still accepted, the
	// failure is recorded on the event.
	rec := env.do(httptest.NewRequest(http.MethodPost, "/webhook/"+id, strings.NewReader("payload")))
	require.Equal(t, http.StatusOK, rec.Code)

	items := env.waitForLogs(t, id, 1)
	ev := items[0]
	require.NotNil(t, ev.SignatureValid)
	require.False(t, *ev.SignatureValid)
	require.Equal(t, "github", ev.SignatureProvider)
	require.Equal(t, "MISSING_HEADER", ev.SignatureError)
}

func TestIngestSignatureReject(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.Signature = config.SignatureConfig{Provider: "github", Secret: "shhh", Reject: true}
	})
	id := env.addWebhook(t, "")

	req := httptest.NewRequest(http.MethodPost, "/webhook/"+id, strings.NewReader("payload"))
	req.Header.Set("X-Hub-Signature-256", "sha256="+hmacHex("wrong-secret", "payload"))
	rec := env.do(req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "Signature verification failed", decodeEnvelope(t, rec).Message)

	// Rejection happens before anything is queued.
	n, err := env.store.CountLogs(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestIngestSignatureValid(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.Signature = config.SignatureConfig{Provider: "github", Secret: "shhh", Reject: true}
	})
	id := env.addWebhook(t, "")

	req := httptest.NewRequest(http.MethodPost, "/webhook/"+id, strings.NewReader("payload"))
	req.Header.Set("X-Hub-Signature-256", "sha256="+hmacHex("shhh", "payload"))
	rec := env.do(req)
	require.Equal(t, http.StatusOK, rec.Code)

	items := env.waitForLogs(t, id, 1)
	require.NotNil(t, items[0].SignatureValid)
	require.True(t, *items[0].SignatureValid)
	require.Empty(t, items[0].SignatureError)
}

func TestIngestStatusOverride(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		contentType string
		want        int
	}{
		{"server error override", `{"__status": 503}`, "application/json", 503},
		{"string override", `{"__status": "404"}`, "application/json", 404},
		{"fractional ignored", `{"__status": 250.5}`, "application/json", 200},
		{"redirect ignored", `{"__status": 302}`, "application/json", 200},
		{"non-json ignored", `{"__status": 503}`, "text/plain", 200},
	}

	env := newTestEnv(t, nil)
	id := env.addWebhook(t, "")

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/webhook/"+id, strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			rec := env.do(req)
			require.Equal(t, tt.want, rec.Code)
			require.Equal(t, "OK", rec.Body.String())
		})
	}
}

func TestIngestOffloadsLargeBody(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.OffloadThresholdBytes = 8 })
	id := env.addWebhook(t, "")

	raw := strings.Repeat("x", 64)
	req := httptest.NewRequest(http.MethodPost, "/webhook/"+id, strings.NewReader(raw))
	req.Header.Set("Content-Type", "text/plain")
	require.Equal(t, http.StatusOK, env.do(req).Code)

	items := env.waitForLogs(t, id, 1)
	ev := items[0]
	key, ok := capture.AsOffloadDescriptor(ev.Body)
	require.True(t, ok, "body stored as %T: %v", ev.Body, ev.Body)
	require.Equal(t, payload.KeyFor(ev.ID), key)
	require.Equal(t, int64(64), ev.Size)

	stored, err := env.payloads.Get(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, raw, string(stored))
}

func TestIngestForwards(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.addWebhook(t, "https://hooks.example.com/receive")

	body := `{"event":"created"}`
	req := httptest.NewRequest(http.MethodPost, "/webhook/"+id, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer super-secret")
	req.Header.Set("X-GitHub-Event", "push")
	require.Equal(t, http.StatusOK, env.do(req).Code)

	require.Eventually(t, func() bool { return env.outbound.callCount() == 1 },
		waitFor, 10*time.Millisecond, "delivery never left")

	env.outbound.mu.Lock()
	defer env.outbound.mu.Unlock()
	out := env.outbound.reqs[0]
	require.Equal(t, http.MethodPost, out.Method)
	require.Equal(t, "hooks.example.com", out.Host)
	require.Equal(t, "webhookd", out.Header.Get("X-Forwarded-By"))
	require.Equal(t, "push", out.Header.Get("X-Github-Event"))
	require.Empty(t, out.Header.Get("Authorization"), "masked header must not leave")
	require.Equal(t, body, string(env.outbound.bodies[0]))
}

func TestIngestSchemaValidation(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.JSONSchema = `{"type": "object", "required": ["name"]}`
	})
	id := env.addWebhook(t, "")

	post := func(body, contentType string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhook/"+id, strings.NewReader(body))
		req.Header.Set("Content-Type", contentType)
		return env.do(req)
	}

	rec := post(`{"age": 3}`, "application/json")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = post(`{"broken`, "application/json")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Invalid JSON payload", decodeEnvelope(t, rec).Message)

	// Non-JSON content is not the schema's business.
	require.Equal(t, http.StatusOK, post("name=missing", "application/x-www-form-urlencoded").Code)

	require.Equal(t, http.StatusOK, post(`{"name": "ok"}`, "application/json").Code)
}

func TestIngestScriptErrorDoesNotBlock(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.CustomScript = `error("boom")`
	})
	id := env.addWebhook(t, "")

	rec := env.do(httptest.NewRequest(http.MethodPost, "/webhook/"+id, strings.NewReader("x")))
	require.Equal(t, http.StatusOK, rec.Code)
	env.waitForLogs(t, id, 1)
}

func TestIngestClientGoneDuringDelay(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.ResponseDelayMs = 50 })
	id := env.addWebhook(t, "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/webhook/"+id, strings.NewReader("gone")).WithContext(ctx)
	rec := env.do(req)

	// The client hung up mid-delay: no body goes out, the capture is
	// recorded regardless.
	require.Zero(t, rec.Body.Len())
	items := env.waitForLogs(t, id, 1)
	require.Equal(t, int64(4), items[0].Size)
}
