// SPDX-License-Identifier: MIT

// Package api exposes the HTTP surface: webhook ingestion, the log
// query API, replay, live event streaming and operator endpoints.
package api

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/api/middleware"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/config"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/forward"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/health"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/log"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/logstore"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/payload"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/ratelimit"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/replay"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/schema"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/script"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/stream"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/tasks"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/webhooks"
)

// Deps carries the long-lived services the server routes requests to.
// Everything here is constructed once in main and outlives reloads.
type Deps struct {
	Holder    *config.Holder
	Webhooks  *webhooks.Manager
	Logs      *logstore.Store
	Payloads  *payload.Store
	Forwarder *forward.Service
	Replayer  *replay.Controller
	Stream    *stream.Broadcaster
	Pool      *tasks.Pool
	Health    *health.Manager
}

// Server owns the HTTP handlers and the per-reload runtime state
// (rate limiter, compiled script, compiled schema).
type Server struct {
	holder    *config.Holder
	webhooks  *webhooks.Manager
	logs      *logstore.Store
	payloads  *payload.Store
	forwarder *forward.Service
	replayer  *replay.Controller
	stream    *stream.Broadcaster
	pool      *tasks.Pool
	health    *health.Manager

	logger  zerolog.Logger
	started time.Time

	mu      sync.Mutex // serializes ApplyConfig
	applied config.Config
	runtime atomic.Pointer[runtimeState]
}

// runtimeState bundles everything rebuilt on a config reload so one
// request always observes a coherent generation of the three.
type runtimeState struct {
	limiter *ratelimit.Limiter
	script  *script.Runner
	schema  *schema.Validator
}

// NewServer wires the handlers. The initial runtime state is built
// from the current snapshot; a broken script or schema at boot is
// reported but does not prevent startup, matching reload semantics.
func NewServer(d Deps) (*Server, error) {
	s := &Server{
		holder:    d.Holder,
		webhooks:  d.Webhooks,
		logs:      d.Logs,
		payloads:  d.Payloads,
		forwarder: d.Forwarder,
		replayer:  d.Replayer,
		stream:    d.Stream,
		pool:      d.Pool,
		health:    d.Health,
		logger:    log.WithComponent("api"),
		started:   time.Now(),
	}

	cfg := d.Holder.Get()
	rt, err := s.buildRuntime(cfg)
	if err != nil {
		return nil, err
	}
	s.runtime.Store(rt)
	s.applied = cfg
	return s, nil
}

// rateLimitMaxEntries bounds the limiter key table; oldest buckets are
// evicted beyond this.
const rateLimitMaxEntries = 10000

// buildRuntime constructs the reload-scoped pieces from a snapshot.
// The limiter is mandatory; script and schema degrade to nil with a
// logged error because a bad user script must never stop ingestion.
func (s *Server) buildRuntime(cfg config.Config) (*runtimeState, error) {
	limiter, err := ratelimit.New(cfg.RateLimitPerMinute, time.Minute, rateLimitMaxEntries)
	if err != nil {
		return nil, err
	}

	rt := &runtimeState{limiter: limiter}

	if cfg.CustomScript != "" {
		runner, err := script.Compile(cfg.CustomScript)
		if err != nil {
			s.logger.Error().
				Str("event", "api.script.compile_failed").
				Err(err).
				Msg("custom script rejected, ingestion continues without it")
		} else {
			rt.script = runner
		}
	}

	if cfg.JSONSchema != "" {
		validator, err := schema.Compile(cfg.JSONSchema)
		if err != nil {
			s.logger.Error().
				Str("event", "api.schema.compile_failed").
				Err(err).
				Msg("json schema rejected, ingestion continues without it")
		} else {
			rt.schema = validator
		}
	}

	return rt, nil
}

// ApplyConfig swaps the runtime state after a hot reload. Only the
// pieces whose inputs changed are rebuilt; webhook retention updates
// are pushed through to the manager.
func (s *Server) ApplyConfig(ctx context.Context, cfg config.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.applied

	if cfg.RateLimitPerMinute != prev.RateLimitPerMinute ||
		cfg.CustomScript != prev.CustomScript ||
		cfg.JSONSchema != prev.JSONSchema {
		rt, err := s.buildRuntime(cfg)
		if err != nil {
			s.logger.Error().
				Str("event", "api.reload.runtime_failed").
				Err(err).
				Msg("runtime rebuild failed, keeping previous generation")
		} else {
			s.runtime.Store(rt)
		}
	}

	if cfg.LogLevel != prev.LogLevel {
		log.SetLevel(cfg.LogLevel)
	}

	if cfg.RetentionHours != prev.RetentionHours {
		updated := s.webhooks.UpdateRetention(ctx, float64(cfg.RetentionHours))
		s.logger.Info().
			Str("event", "api.reload.retention").
			Int("retention_hours", cfg.RetentionHours).
			Int(log.FieldCount, updated).
			Msg("webhook retention updated")
	}

	s.applied = cfg
}

// limiterNow returns the current per-webhook rate limiter generation.
func (s *Server) limiterNow() *ratelimit.Limiter { return s.runtime.Load().limiter }

// Router assembles the chi mux. Order matters: the recoverer runs
// outermost, request IDs exist before anything logs, and the
// management group alone carries the rate limit and auth gates so
// ingestion latency stays unaffected.
func (s *Server) Router() http.Handler {
	cfg := s.holder.Get()

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.SecurityHeaders)
	if cfg.Telemetry.Enabled {
		r.Use(middleware.OTelHTTP("webhookd"))
	}
	r.Use(middleware.AccessLog)
	r.Use(middleware.Metrics())

	// Public plane: landing, probes, scrape, ingestion.
	r.Get("/", s.handleLanding)
	r.Get("/healthz", s.health.ServeHealth)
	r.Get("/readyz", s.health.ServeReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.HandleFunc("/webhook/{id}", s.handleIngest)

	// Management plane: rate limited per client IP, bearer-gated.
	r.Group(func(g chi.Router) {
		g.Use(middleware.ManagementRateLimit(cfg.MgmtRateLimitPerMinute, time.Minute))
		g.Use(s.requireAuth)

		g.Get("/info", s.handleInfo)
		g.Get("/logs", s.handleListLogs)
		g.Get("/logs/{id}", s.handleGetLog)
		g.Get("/logs/{id}/payload", s.handleGetPayload)
		g.Get("/replay/{webhookID}/{eventID}", s.handleReplay)
		g.Post("/replay/{webhookID}/{eventID}", s.handleReplay)
		g.Get("/log-stream", s.handleLogStream)
		g.Get("/webhooks", s.handleListWebhooks)
		g.Post("/webhooks", s.handleGenerateWebhooks)
		g.Get("/system/metrics", s.handleSystemMetrics)
	})

	return r
}

// handleLogStream hands the connection to the broadcaster, which owns
// SSE framing, heartbeats and slow-client eviction.
func (s *Server) handleLogStream(w http.ResponseWriter, r *http.Request) {
	s.stream.ServeHTTP(w, r)
}
