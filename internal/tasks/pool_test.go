// SPDX-License-Identifier: MIT

package tasks

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/metrics"
)

func closePool(t *testing.T, p *Pool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestPoolRunsEveryTask(t *testing.T) {
	p := New(4, time.Second)
	var ran atomic.Int64
	for i := 0; i < 20; i++ {
		p.Go("persist", func(context.Context) error {
			ran.Add(1)
			return nil
		})
	}
	closePool(t, p)
	if got := ran.Load(); got != 20 {
		t.Fatalf("ran = %d, want 20", got)
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	p := New(2, time.Second)
	var inflight, peak atomic.Int64
	for i := 0; i < 12; i++ {
		p.Go("forward", func(context.Context) error {
			n := inflight.Add(1)
			for {
				cur := peak.Load()
				if n <= cur || peak.CompareAndSwap(cur, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			inflight.Add(-1)
			return nil
		})
	}
	closePool(t, p)
	if got := peak.Load(); got > 2 {
		t.Fatalf("peak concurrency = %d, want <= 2", got)
	}
}

func TestPoolEnforcesTaskDeadline(t *testing.T) {
	p := New(1, 20*time.Millisecond)
	errs := make(chan error, 1)
	p.Go("persist", func(ctx context.Context) error {
		<-ctx.Done()
		errs <- ctx.Err()
		return ctx.Err()
	})
	closePool(t, p)

	select {
	case err := <-errs:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("ctx error = %v, want DeadlineExceeded", err)
		}
	default:
		t.Fatal("task never observed its deadline")
	}
}

func TestPoolCountsFailures(t *testing.T) {
	c := metrics.BackgroundFailureTotal.WithLabelValues("broadcast-test")
	before := metrics.CounterValue(c)

	p := New(1, time.Second)
	p.Go("broadcast-test", func(context.Context) error {
		return errors.New("sink unavailable")
	})
	closePool(t, p)

	if got := metrics.CounterValue(c); got != before+1 {
		t.Fatalf("failure counter = %v, want %v", got, before+1)
	}
}

func TestPoolRecoversPanic(t *testing.T) {
	p := New(1, time.Second)
	p.Go("script", func(context.Context) error {
		panic("boom")
	})

	// The pool keeps working after a panicking task.
	var ran atomic.Bool
	p.Go("script", func(context.Context) error {
		ran.Store(true)
		return nil
	})
	closePool(t, p)
	if !ran.Load() {
		t.Fatal("task after panic did not run")
	}
}

func TestPoolRejectsAfterClose(t *testing.T) {
	p := New(1, time.Second)
	closePool(t, p)

	var ran atomic.Bool
	p.Go("persist", func(context.Context) error {
		ran.Store(true)
		return nil
	})
	time.Sleep(20 * time.Millisecond)
	if ran.Load() {
		t.Fatal("task ran after Close")
	}
}

func TestPoolCloseDeadlineCancelsStragglers(t *testing.T) {
	p := New(1, time.Minute)
	released := make(chan struct{})
	p.Go("forward", func(ctx context.Context) error {
		<-ctx.Done()
		close(released)
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Close = %v, want DeadlineExceeded", err)
	}

	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("straggler was not canceled after Close gave up")
	}
}

func TestIsPlatformLimit(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "ordinary failure", err: errors.New("disk full"), want: false},
		{name: "exact phrase", err: errors.New("platform limit exceeded: memory"), want: true},
		{name: "case insensitive", err: errors.New("Platform Limit reached"), want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isPlatformLimit(tt.err); got != tt.want {
				t.Fatalf("isPlatformLimit(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
