// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/capture"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/replay"
)

func TestReplayDelivers(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.addWebhook(t, "")

	require.NoError(t, env.store.InsertLog(context.Background(), capture.Event{
		ID:        "evt-replay",
		WebhookID: id,
		Timestamp: time.Now().UnixMilli(),
		Headers: map[string]string{
			"content-type":   "application/json",
			"x-github-event": "push",
			"authorization":  capture.MaskedValue,
		},
		Body:        `{"n":1}`,
		ContentType: "application/json",
	}))

	rec := env.do(httptest.NewRequest(http.MethodPost,
		"/replay/"+id+"/evt-replay?url=https://hooks.example.com/replay", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var res replay.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Equal(t, replay.StatusReplayed, res.Status)
	require.Equal(t, "https://hooks.example.com/replay", res.TargetURL)
	require.Equal(t, "ok", res.TargetResponseBody)
	require.Contains(t, res.StrippedHeaders, "authorization")
	require.Contains(t, rec.Header().Get("X-Apify-Replay-Warning"), "authorization")

	require.Equal(t, 1, env.outbound.callCount())
	env.outbound.mu.Lock()
	defer env.outbound.mu.Unlock()
	out := env.outbound.reqs[0]
	require.Equal(t, "hooks.example.com", out.Host)
	require.Equal(t, "webhookd", out.Header.Get("X-Forwarded-By"))
	require.Equal(t, "push", out.Header.Get("X-Github-Event"))
	require.Empty(t, out.Header.Get("Authorization"))
	require.Equal(t, `{"n":1}`, string(env.outbound.bodies[0]))
}

func TestReplayByTimestamp(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.addWebhook(t, "")

	at, err := time.Parse(time.RFC3339, "2026-08-25T12:00:00Z")
	require.NoError(t, err)
	require.NoError(t, env.store.InsertLog(context.Background(), capture.Event{
		ID:        "evt-ts",
		WebhookID: id,
		Timestamp: at.UnixMilli(),
		Body:      "by-time",
	}))

	rec := env.do(httptest.NewRequest(http.MethodGet,
		"/replay/"+id+"/2026-08-25T12:00:00Z?url=https://hooks.example.com/x", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, env.outbound.callCount())
	env.outbound.mu.Lock()
	defer env.outbound.mu.Unlock()
	require.Equal(t, "by-time", string(env.outbound.bodies[0]))
}

func TestReplayMissingTarget(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.addWebhook(t, "")
	seedLogs(t, env, id, 1)

	rec := env.do(httptest.NewRequest(http.MethodPost, "/replay/"+id+"/evt-0000", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Missing targetUrl", decodeEnvelope(t, rec).Message)
}

func TestReplayUnknownEvent(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.addWebhook(t, "")

	rec := env.do(httptest.NewRequest(http.MethodPost,
		"/replay/"+id+"/evt-nope?url=https://hooks.example.com/x", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "Event not found", decodeEnvelope(t, rec).Message)
}

func TestReplayBlockedTarget(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.addWebhook(t, "")
	seedLogs(t, env, id, 1)

	rec := env.do(httptest.NewRequest(http.MethodPost,
		"/replay/"+id+"/evt-0000?url=http://169.254.169.254/latest/meta-data", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, decodeEnvelope(t, rec).Message, "target url blocked")
	require.Zero(t, env.outbound.callCount(), "blocked target must never be contacted")
}

func TestReplayOffloadedPayloadGone(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.addWebhook(t, "")

	require.NoError(t, env.store.InsertLog(context.Background(), capture.Event{
		ID:        "evt-gone",
		WebhookID: id,
		Timestamp: time.Now().UnixMilli(),
		Body:      capture.NewOffloadDescriptor("payload:evt-gone"),
	}))

	rec := env.do(httptest.NewRequest(http.MethodPost,
		"/replay/"+id+"/evt-gone?url=https://hooks.example.com/x", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "Payload not found", decodeEnvelope(t, rec).Message)
}
