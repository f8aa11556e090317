// SPDX-License-Identifier: MIT

// Package daemon owns the process lifecycle: serving HTTP, watching for
// termination and draining every component in a fixed order.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/log"
)

// DefaultShutdownRetries is how often a failed drain is retried before
// the process gives up and force-exits.
const DefaultShutdownRetries = 3

// ShutdownHook is one cleanup step. Hooks run in reverse registration
// order (LIFO); a failed hook is retried on the next attempt while
// completed hooks are not run again.
type ShutdownHook func(ctx context.Context) error

type namedHook struct {
	name string
	hook ShutdownHook
}

// ErrForcedExit marks a shutdown that could not complete within its
// retry and deadline budget. The caller should exit nonzero.
var ErrForcedExit = errors.New("daemon: shutdown incomplete, forcing exit")

// Options configures the lifecycle manager.
type Options struct {
	Listen  string
	Handler http.Handler

	// ShutdownTimeout bounds the whole drain including retries.
	ShutdownTimeout time.Duration
	// ShutdownRetries caps drain attempts. Zero means the default.
	ShutdownRetries int
}

// Manager serves HTTP and coordinates ordered shutdown.
type Manager struct {
	opts   Options
	logger zerolog.Logger

	mu       sync.Mutex
	server   *http.Server
	hooks    []namedHook
	started  bool
	stopping bool
}

// New creates a lifecycle manager.
func New(opts Options) *Manager {
	if opts.ShutdownRetries <= 0 {
		opts.ShutdownRetries = DefaultShutdownRetries
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 30 * time.Second
	}
	return &Manager{
		opts:   opts,
		logger: log.WithComponent("daemon"),
	}
}

// RegisterShutdownHook appends a drain step. Registration order is the
// reverse of execution order.
func (m *Manager) RegisterShutdownHook(name string, hook ShutdownHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, namedHook{name: name, hook: hook})
}

// ListenerHook returns the drain step that stops accepting connections
// and waits for in-flight requests. It is handed out rather than
// auto-registered so the caller controls where in the drain order the
// listener closes.
func (m *Manager) ListenerHook() ShutdownHook {
	return func(ctx context.Context) error {
		m.mu.Lock()
		srv := m.server
		m.mu.Unlock()
		if srv == nil {
			return nil
		}
		return srv.Shutdown(ctx)
	}
}

// Start binds the listener and blocks until the context is canceled or
// the server fails, then drains. The returned error is nil only for a
// clean drain.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return errors.New("daemon: already started")
	}
	m.started = true

	srv := &http.Server{
		Addr:              m.opts.Listen,
		Handler:           m.opts.Handler,
		ReadHeaderTimeout: 10 * time.Second,
		// No WriteTimeout: the live event stream holds responses open
		// indefinitely.
		IdleTimeout: 2 * time.Minute,
	}
	m.server = srv
	m.mu.Unlock()

	ln, err := net.Listen("tcp", m.opts.Listen)
	if err != nil {
		return fmt.Errorf("daemon: listen on %s: %w", m.opts.Listen, err)
	}

	m.logger.Info().
		Str("event", "daemon.started").
		Str("listen", ln.Addr().String()).
		Msg("listening")

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		m.logger.Info().
			Str("event", "daemon.stopping").
			Str("reason", "signal").
			Msg("shutdown requested")
		return m.Shutdown(ctx)
	case err := <-errChan:
		m.logger.Error().
			Str("event", "daemon.server_failed").
			Err(err).
			Msg("http server failed")
		if shutdownErr := m.Shutdown(ctx); shutdownErr != nil {
			return errors.Join(err, shutdownErr)
		}
		return err
	}
}

// Shutdown drains every registered hook in LIFO order under one bounded
// deadline that survives caller cancellation. Failed hooks are retried;
// after the retry budget the remaining failures are reported as
// ErrForcedExit.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.stopping {
		m.mu.Unlock()
		return nil
	}
	m.stopping = true
	remaining := make([]namedHook, 0, len(m.hooks))
	for i := len(m.hooks) - 1; i >= 0; i-- {
		remaining = append(remaining, m.hooks[i])
	}
	m.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.ShutdownTimeout)
	defer cancel()

	started := time.Now()
	var errs []error
	for attempt := 1; attempt <= m.opts.ShutdownRetries; attempt++ {
		remaining, errs = m.runHooks(shutdownCtx, remaining, attempt)
		if len(remaining) == 0 {
			m.logger.Info().
				Str("event", "daemon.stopped").
				Int("attempts", attempt).
				Int64(log.FieldDurationMS, time.Since(started).Milliseconds()).
				Msg("shutdown complete")
			return nil
		}
		if shutdownCtx.Err() != nil {
			break
		}
		select {
		case <-shutdownCtx.Done():
		case <-time.After(250 * time.Millisecond):
		}
	}

	if err := shutdownCtx.Err(); err != nil {
		errs = append(errs, err)
	}
	m.logger.Error().
		Str("event", "daemon.shutdown_failed").
		Int("unfinished_hooks", len(remaining)).
		Int64(log.FieldDurationMS, time.Since(started).Milliseconds()).
		Msg("shutdown did not complete")
	return fmt.Errorf("%w: %w", ErrForcedExit, errors.Join(errs...))
}

// runHooks executes one drain attempt and returns the hooks that still
// need to run, preserving their order.
func (m *Manager) runHooks(ctx context.Context, hooks []namedHook, attempt int) ([]namedHook, []error) {
	var failed []namedHook
	var errs []error
	for _, h := range hooks {
		if ctx.Err() != nil {
			failed = append(failed, h)
			continue
		}
		start := time.Now()
		if err := h.hook(ctx); err != nil {
			m.logger.Error().
				Str("event", "daemon.hook_failed").
				Str("hook", h.name).
				Int("attempt", attempt).
				Err(err).
				Msg("shutdown hook failed")
			failed = append(failed, h)
			errs = append(errs, fmt.Errorf("hook %s: %w", h.name, err))
			continue
		}
		m.logger.Debug().
			Str("event", "daemon.hook_done").
			Str("hook", h.name).
			Int64(log.FieldDurationMS, time.Since(start).Milliseconds()).
			Msg("shutdown hook completed")
	}
	return failed, errs
}
