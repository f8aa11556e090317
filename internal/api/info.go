// SPDX-License-Identifier: MIT

package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/version"
)

// headerReadinessProbe short-circuits the landing page for load
// balancer probes that cannot set a path.
const headerReadinessProbe = "X-Readiness-Probe"

const docsURL = "https://github.com/ar27111994/webhook-debugger-logger-sub001#readme"

// handleLanding renders a short usage page: HTML for browsers, plain
// text for curl. Probe requests get a bare OK.
func (s *Server) handleLanding(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get(headerReadinessProbe) != "" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
		return
	}

	if acceptsHTML(r) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, landingHTML, version.Version)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, landingText, version.Version)
}

const landingHTML = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>webhookd</title></head>
<body style="font-family:sans-serif;margin:3em;max-width:42em">
<h1>webhookd %s</h1>
<p>Webhook debugger, logger and forwarding suite.</p>
<ul>
<li><code>ANY /webhook/{id}</code> &mdash; ingestion endpoint</li>
<li><code>GET /logs</code> &mdash; query captured events</li>
<li><code>GET /log-stream</code> &mdash; live event stream (SSE)</li>
<li><code>GET /info</code> &mdash; instance info</li>
</ul>
</body>
</html>
`

const landingText = `webhookd %s

Webhook debugger, logger and forwarding suite.

  ANY /webhook/{id}   ingestion endpoint
  GET /logs           query captured events
  GET /log-stream     live event stream (SSE)
  GET /info           instance info
`

// infoResponse is the /info document.
type infoResponse struct {
	Version   string            `json:"version"`
	Status    string            `json:"status"`
	System    infoSystem        `json:"system"`
	Features  map[string]any    `json:"features"`
	Endpoints map[string]string `json:"endpoints"`
	Docs      string            `json:"docs"`
}

type infoSystem struct {
	AuthActive      bool     `json:"authActive"`
	RetentionHours  int      `json:"retentionHours"`
	MaxPayloadLimit int64    `json:"maxPayloadLimit"`
	WebhookCount    int      `json:"webhookCount"`
	ActiveWebhooks  []string `json:"activeWebhooks"`
	UptimeSeconds   int64    `json:"uptimeSeconds"`
}

// handleInfo reports the instance configuration at a glance. Secrets
// never appear here, only whether each feature is on.
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	cfg := s.holder.Get()

	active := s.webhooks.AllActive()
	ids := make([]string, len(active))
	for i, wh := range active {
		ids[i] = wh.ID
	}

	writeJSON(w, http.StatusOK, infoResponse{
		Version: version.Version,
		Status:  "running",
		System: infoSystem{
			AuthActive:      cfg.AuthEnabled(),
			RetentionHours:  cfg.RetentionHours,
			MaxPayloadLimit: cfg.MaxPayloadSize,
			WebhookCount:    s.webhooks.Count(),
			ActiveWebhooks:  ids,
			UptimeSeconds:   int64(time.Since(s.started).Seconds()),
		},
		Features: map[string]any{
			"forwarding":            cfg.ForwardURL != "",
			"signatureVerification": cfg.Signature.Enabled(),
			"customScript":          cfg.CustomScript != "",
			"jsonSchema":            cfg.JSONSchema != "",
			"ipAllowlist":           len(cfg.AllowedIPs) > 0,
			"headerMasking":         cfg.MaskSensitiveData,
			"jsonParsing":           cfg.EnableJSONParsing,
			"responseDelayMs":       cfg.ResponseDelayMs,
		},
		Endpoints: map[string]string{
			"ingest":  "/webhook/{id}",
			"logs":    "/logs",
			"log":     "/logs/{id}",
			"payload": "/logs/{id}/payload",
			"replay":  "/replay/{webhookId}/{eventId}",
			"stream":  "/log-stream",
			"metrics": "/system/metrics",
		},
		Docs: docsURL,
	})
}
