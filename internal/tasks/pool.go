// SPDX-License-Identifier: MIT

// Package tasks runs post-response work (persist, broadcast, forward) on a
// bounded pool so a burst of deliveries cannot spawn unbounded goroutines.
package tasks

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/log"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/metrics"
)

const (
	DefaultWorkers = 64
	DefaultTimeout = 30 * time.Second

	// platformLimitHint is attached to failures caused by hosting-platform
	// resource limits, which operators can fix and retries cannot.
	platformLimitHint = "raise the memory or storage limits of the deployment, or lower offloadThresholdBytes"
)

// Task is a unit of background work. The context carries the per-task
// deadline; implementations must honor it.
type Task func(ctx context.Context) error

// Pool bounds concurrent background tasks with a weighted semaphore.
// Tasks run on the pool's own context, not the request context, so an
// already-answered delivery keeps persisting after the client is gone.
type Pool struct {
	sem     *semaphore.Weighted
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	log zerolog.Logger
}

// New builds a pool with the given worker bound and per-task deadline.
// Non-positive values fall back to the defaults.
func New(workers int, timeout time.Duration) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		sem:     semaphore.NewWeighted(int64(workers)),
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
		log:     log.WithComponent("tasks"),
	}
}

// Go schedules fn under the pool bound and returns immediately. Failures
// are logged and counted; they never reach the caller.
func (p *Pool) Go(name string, fn Task) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.log.Warn().
			Str("event", "tasks.rejected").
			Str("task", name).
			Msg("pool closed, task dropped")
		return
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()

		if err := p.sem.Acquire(p.ctx, 1); err != nil {
			p.log.Warn().
				Str("event", "tasks.rejected").
				Str("task", name).
				Msg("pool shut down before task started")
			return
		}
		defer p.sem.Release(1)

		ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
		defer cancel()

		start := time.Now()
		err := run(ctx, fn)
		if err == nil {
			return
		}

		metrics.RecordBackgroundFailure(name)
		evt := p.log.Warn()
		if isPlatformLimit(err) {
			evt = p.log.Error().Str("hint", platformLimitHint)
		}
		evt.Err(err).
			Str("event", "tasks.failed").
			Str("task", name).
			Int64(log.FieldDurationMS, time.Since(start).Milliseconds()).
			Msg("background task failed")
	}()
}

// Close rejects new tasks and waits for in-flight ones until ctx expires,
// then cancels whatever is still running.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		return ctx.Err()
	}
}

// run isolates task panics; a buggy script hook or store must not take the
// daemon down.
func run(ctx context.Context, fn Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return fn(ctx)
}

func isPlatformLimit(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "platform limit")
}
