// SPDX-License-Identifier: MIT

// Command webhookd runs the webhook debugger, logger and forwarding
// daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/api"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/config"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/daemon"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/forward"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/health"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/log"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/logstore"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/payload"
	platformnet "github.com/ar27111994/webhook-debugger-logger-sub001/internal/platform/net"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/replay"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/resilience"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/storage"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/stream"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/tasks"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/telemetry"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/version"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/webhooks"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to a YAML or JSON config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("webhookd %s (commit %s, built %s)\n", version.Version, version.Commit, version.Date)
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Configuration from defaults, file and environment. The
	// keyed-storage INPUT document joins once the store is open.
	loader := &config.Loader{Path: *configPath}
	cfg, err := loader.Load(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "webhookd: %v\n", err)
		return 1
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "webhookd: invalid configuration: %v\n", err)
		return 1
	}

	log.Configure(log.Config{Level: cfg.LogLevel, Service: "webhookd"})
	logger := log.WithComponent("main")
	logger.Info().
		Str("event", "main.starting").
		Str("version", version.Version).
		Str("commit", version.Commit).
		Str("listen", cfg.Listen).
		Str(log.FieldBackend, cfg.Storage).
		Msg("starting webhookd")

	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		logger.Error().Err(err).Str("event", "main.datadir_failed").Msg("data directory not usable")
		return 1
	}

	// Keyed storage, then a reload so the INPUT document takes effect.
	kv, err := storage.Open(storage.Options{
		Backend:   cfg.Storage,
		DataDir:   cfg.DataDir,
		RedisAddr: cfg.RedisAddr,
	})
	if err != nil {
		logger.Error().Err(err).Str("event", "main.storage_failed").Msg("keyed storage unavailable")
		return 1
	}

	loader.Input = kv
	holder := config.NewHolder(cfg, loader)
	if err := holder.Reload(ctx); err != nil {
		logger.Warn().Err(err).
			Str("event", "main.input_merge_failed").
			Msg("INPUT merge failed, continuing with file/env configuration")
	}
	cfg = holder.Get()
	log.SetLevel(cfg.LogLevel)

	var tel *telemetry.Provider
	if cfg.Telemetry.Enabled {
		tel, err = telemetry.NewProvider(ctx, telemetry.Config{
			Enabled:        true,
			ServiceName:    "webhookd",
			ServiceVersion: version.Version,
			ExporterType:   cfg.Telemetry.Exporter,
			Endpoint:       cfg.Telemetry.Endpoint,
			SamplingRate:   cfg.Telemetry.SamplingRate,
		})
		if err != nil {
			logger.Error().Err(err).Str("event", "main.telemetry_failed").Msg("trace exporter setup failed")
			return 1
		}
	}

	// Webhook identities: restore the persisted set, mint the initial
	// ones on first boot.
	webhookMgr := webhooks.NewManager(kv)
	webhookMgr.Init(ctx)
	if webhookMgr.Count() == 0 && cfg.URLCount > 0 {
		ids, err := webhookMgr.Generate(ctx, cfg.URLCount, float64(cfg.RetentionHours), "")
		if err != nil {
			logger.Error().Err(err).Str("event", "main.generate_failed").Msg("initial webhook generation failed")
			return 1
		}
		for _, id := range ids {
			logger.Info().
				Str("event", "main.webhook_ready").
				Str(log.FieldWebhookID, id).
				Str("path", "/webhook/"+id).
				Msg("ingestion endpoint ready")
		}
	}

	store, err := logstore.Open(logstore.Options{
		Path:          filepath.Join(cfg.DataDir, "logs.db"),
		FixedMemoryMB: fixedMemoryMB(cfg),
	})
	if err != nil {
		logger.Error().Err(err).Str("event", "main.logstore_failed").Msg("log repository unavailable")
		return 1
	}
	payloads := payload.NewStore(kv)

	// Core services.
	validator := platformnet.NewValidator()
	breaker := resilience.NewBreaker(5, 30*time.Second)
	forwarder := forward.NewService(validator, breaker, store,
		forward.WithEgressLimit(cfg.EgressRPS, int(cfg.EgressRPS)*2))
	broadcaster := stream.NewBroadcaster(stream.WithHeartbeat(cfg.HeartbeatInterval()))
	pool := tasks.New(cfg.BackgroundWorkers, cfg.BackgroundTaskTimeout())
	replayer := replay.NewController(store, payloads, forwarder)

	healthMgr := health.NewManager(version.Version)
	healthMgr.RegisterChecker(health.NewWritableDirChecker("data_dir", cfg.DataDir))
	healthMgr.RegisterChecker(health.NewKVChecker("keyed_storage", kv))
	healthMgr.RegisterChecker(health.NewRepositoryChecker("log_repository", store))

	srv, err := api.NewServer(api.Deps{
		Holder:    holder,
		Webhooks:  webhookMgr,
		Logs:      store,
		Payloads:  payloads,
		Forwarder: forwarder,
		Replayer:  replayer,
		Stream:    broadcaster,
		Pool:      pool,
		Health:    healthMgr,
	})
	if err != nil {
		logger.Error().Err(err).Str("event", "main.server_failed").Msg("server construction failed")
		return 1
	}

	lifecycle := daemon.New(daemon.Options{
		Listen:          cfg.Listen,
		Handler:         srv.Router(),
		ShutdownTimeout: cfg.ShutdownTimeout(),
	})

	// Watcher goroutines live on their own context so the drain hook,
	// not signal delivery, decides when they stop.
	watchCtx, stopWatchers := context.WithCancel(context.Background())
	defer stopWatchers()

	// Hooks are registered in reverse drain order: the webhook set is
	// persisted first and storage closes last.
	if tel != nil {
		lifecycle.RegisterShutdownHook("telemetry", tel.Shutdown)
	}
	lifecycle.RegisterShutdownHook("keyed_storage", func(context.Context) error { return kv.Close() })
	lifecycle.RegisterShutdownHook("log_repository", func(context.Context) error { return store.Close() })
	lifecycle.RegisterShutdownHook("http_listener", lifecycle.ListenerHook())
	lifecycle.RegisterShutdownHook("task_pool", pool.Close)
	lifecycle.RegisterShutdownHook("event_stream", func(context.Context) error {
		broadcaster.Close()
		return nil
	})
	lifecycle.RegisterShutdownHook("config_watchers", func(context.Context) error {
		stopWatchers()
		holder.Stop()
		return nil
	})
	lifecycle.RegisterShutdownHook("webhook_persist", webhookMgr.Persist)

	// Reload propagation into the request path.
	reloadCh := make(chan config.Config, 1)
	holder.RegisterListener(reloadCh)
	go func() {
		for {
			select {
			case <-watchCtx.Done():
				return
			case next := <-reloadCh:
				srv.ApplyConfig(watchCtx, next)
			}
		}
	}()

	// SIGHUP forces a reload of every config source.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-watchCtx.Done():
				return
			case <-hup:
				logger.Info().Str("event", "main.sighup").Msg("SIGHUP received, reloading configuration")
				if err := holder.Reload(watchCtx); err != nil {
					logger.Error().Err(err).Str("event", "main.sighup_failed").Msg("reload failed, keeping previous configuration")
				}
			}
		}
	}()

	if err := holder.StartWatcher(watchCtx); err != nil {
		logger.Warn().Err(err).Str("event", "main.watcher_failed").Msg("config file watcher unavailable")
	}
	holder.StartInputPoll(watchCtx, cfg.InputPollInterval())

	go cleanupLoop(watchCtx, cfg.CleanupInterval(), webhookMgr, store, payloads)

	if cfg.TestAndExitSec > 0 {
		logger.Info().
			Str("event", "main.test_mode").
			Int("seconds", cfg.TestAndExitSec).
			Msg("test mode: automatic shutdown armed")
		timer := time.AfterFunc(time.Duration(cfg.TestAndExitSec)*time.Second, stop)
		defer timer.Stop()
	}

	if err := lifecycle.Start(ctx); err != nil {
		logger.Error().Err(err).Str("event", "main.exit").Msg("daemon terminated with error")
		return 1
	}
	logger.Info().Str("event", "main.exit").Msg("daemon stopped")
	return 0
}

// cleanupLoop sweeps expired webhooks together with their logs and
// offloaded payloads.
func cleanupLoop(ctx context.Context, interval time.Duration, mgr *webhooks.Manager, logs *logstore.Store, payloads *payload.Store) {
	logger := log.WithComponent("cleanup")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := mgr.Cleanup(ctx, logs, payloads); removed > 0 {
				logger.Info().
					Str("event", "cleanup.swept").
					Int(log.FieldCount, removed).
					Msg("expired webhooks removed")
			}
		}
	}
}

// fixedMemoryMB translates the fixed-memory toggle into the SQLite
// cache bound.
func fixedMemoryMB(cfg config.Config) int {
	if !cfg.UseFixedMemory {
		return 0
	}
	return cfg.FixedMemoryMbytes
}
