// SPDX-License-Identifier: MIT

// Package resilience guards outbound forwarding with a per-host circuit
// breaker. Repeated delivery failures against a host open its circuit for a
// cool-down period; a success closes it again.
package resilience

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/log"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/metrics"
	platformnet "github.com/ar27111994/webhook-debugger-logger-sub001/internal/platform/net"
)

// Defaults applied by NewBreaker when the caller passes zero values.
const (
	DefaultThreshold     = 5
	DefaultResetTimeout  = 30 * time.Second
	DefaultPruneInterval = 60 * time.Second
	DefaultMaxSize       = 1000
)

// clock abstracts time operations for testability.
type clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// hostState tracks the failure account for one hostname.
type hostState struct {
	failures    int
	nextAttempt time.Time
}

// Breaker is a per-host circuit breaker. Hosts are tracked by lowercased
// hostname; scheme and port are ignored. All methods are safe for
// concurrent use, and unparseable URLs are no-ops.
type Breaker struct {
	mu            sync.Mutex
	threshold     int
	resetTimeout  time.Duration
	pruneInterval time.Duration
	maxSize       int
	clock         clock
	hosts         map[string]*hostState
	order         []string
	lastPrune     time.Time
	log           zerolog.Logger
}

// Option configuration pattern
type Option func(*Breaker)

func WithClock(c clock) Option {
	return func(b *Breaker) { b.clock = c }
}

func WithMaxSize(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.maxSize = n
		}
	}
}

func WithPruneInterval(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.pruneInterval = d
		}
	}
}

// NewBreaker creates a breaker with the given failure threshold and
// cool-down. Non-positive values fall back to the defaults.
func NewBreaker(threshold int, resetTimeout time.Duration, opts ...Option) *Breaker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if resetTimeout <= 0 {
		resetTimeout = DefaultResetTimeout
	}

	b := &Breaker{
		threshold:     threshold,
		resetTimeout:  resetTimeout,
		pruneInterval: DefaultPruneInterval,
		maxSize:       DefaultMaxSize,
		clock:         realClock{},
		hosts:         make(map[string]*hostState),
		log:           log.WithComponent("breaker"),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.lastPrune = b.clock.Now()
	return b
}

// RecordFailure charges a failure to the URL's host and pushes the next
// allowed attempt out by the reset timeout.
func (b *Breaker) RecordFailure(rawURL string) {
	host := platformnet.HostOf(rawURL)
	if host == "" {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	b.maybePrune(now)

	st, ok := b.hosts[host]
	if !ok {
		if len(b.hosts) >= b.maxSize {
			b.evictOldest()
		}
		st = &hostState{}
		b.hosts[host] = st
		b.order = append(b.order, host)
	}
	st.failures++
	st.nextAttempt = now.Add(b.resetTimeout)

	if st.failures == b.threshold {
		metrics.RecordCircuitTransition("open")
		b.log.Warn().
			Str("event", "breaker.open").
			Str(log.FieldTargetHost, host).
			Int("failures", st.failures).
			Time("next_attempt", st.nextAttempt).
			Msg("circuit opened for host")
	}
	metrics.SetOpenCircuits(float64(b.openCountLocked(now)))
}

// RecordSuccess clears the failure account for the URL's host.
func (b *Breaker) RecordSuccess(rawURL string) {
	host := platformnet.HostOf(rawURL)
	if host == "" {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if st, ok := b.hosts[host]; ok {
		if st.failures >= b.threshold {
			metrics.RecordCircuitTransition("closed")
			b.log.Info().
				Str("event", "breaker.close").
				Str(log.FieldTargetHost, host).
				Msg("circuit closed for host")
		}
		delete(b.hosts, host)
	}
	metrics.SetOpenCircuits(float64(b.openCountLocked(b.clock.Now())))
}

// IsOpen reports whether the URL's host is currently blocked. Once the
// cool-down elapses the host is admitted again (half-open) but its failure
// account survives, so the next failure re-opens the circuit immediately.
func (b *Breaker) IsOpen(rawURL string) bool {
	host := platformnet.HostOf(rawURL)
	if host == "" {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	b.maybePrune(now)

	st, ok := b.hosts[host]
	if !ok {
		return false
	}
	return st.failures >= b.threshold && now.Before(st.nextAttempt)
}

// Size reports the number of tracked hosts.
func (b *Breaker) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.hosts)
}

// OpenCount reports how many hosts are currently blocked.
func (b *Breaker) OpenCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.openCountLocked(b.clock.Now())
}

func (b *Breaker) openCountLocked(now time.Time) int {
	n := 0
	for _, st := range b.hosts {
		if st.failures >= b.threshold && now.Before(st.nextAttempt) {
			n++
		}
	}
	return n
}

// evictOldest removes the first-inserted host that is still live.
// Caller must hold the lock.
func (b *Breaker) evictOldest() {
	for len(b.order) > 0 {
		host := b.order[0]
		b.order = b.order[1:]
		if _, ok := b.hosts[host]; ok {
			delete(b.hosts, host)
			return
		}
	}
}

// maybePrune drops settled entries and enforces the size bound. It runs at
// most once per prune interval. Caller must hold the lock.
func (b *Breaker) maybePrune(now time.Time) {
	if now.Sub(b.lastPrune) < b.pruneInterval {
		return
	}
	b.lastPrune = now

	removed := 0
	order := b.order[:0]
	for _, host := range b.order {
		st, ok := b.hosts[host]
		if !ok {
			continue
		}
		if st.failures == 0 && now.After(st.nextAttempt) {
			delete(b.hosts, host)
			removed++
			continue
		}
		order = append(order, host)
	}
	b.order = order

	for len(b.hosts) > b.maxSize {
		before := len(b.hosts)
		b.evictOldest()
		if len(b.hosts) == before {
			break
		}
		removed++
	}

	if removed > 0 {
		b.log.Debug().
			Str("event", "breaker.prune").
			Int(log.FieldCount, removed).
			Int("remaining", len(b.hosts)).
			Msg("pruned breaker entries")
	}
}
