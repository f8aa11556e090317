// SPDX-License-Identifier: MIT

// Package ratelimit implements a fixed-window request limiter keyed by
// (webhook id, client IP) pairs. Each key tracks the hit timestamps inside
// the current window; the key set itself is bounded and evicts in insertion
// order once full.
package ratelimit

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/log"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/metrics"
)

// clock abstracts time operations for testability.
type clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Decision is the outcome of a single admission check.
type Decision struct {
	Allowed   bool
	Remaining int
	// Reset is how long until the oldest hit in the window expires. When
	// the window is empty it equals the full window length.
	Reset time.Duration
}

type entry struct {
	hits []time.Time
}

// Limiter is a bounded fixed-window limiter. All methods are safe for
// concurrent use.
type Limiter struct {
	mu         sync.Mutex
	limit      int
	window     time.Duration
	maxEntries int
	clock      clock
	entries    map[string]*entry
	order      []string
	lastSweep  time.Time
	log        zerolog.Logger
}

// Option configuration pattern
type Option func(*Limiter)

func WithClock(c clock) Option {
	return func(l *Limiter) { l.clock = c }
}

// New validates the limiter parameters and builds the limiter.
func New(limit int, window time.Duration, maxEntries int, opts ...Option) (*Limiter, error) {
	if limit < 1 {
		return nil, fmt.Errorf("ratelimit: limit must be at least 1, got %d", limit)
	}
	if window <= 0 {
		return nil, fmt.Errorf("ratelimit: window must be positive, got %s", window)
	}
	if maxEntries < 1 {
		return nil, fmt.Errorf("ratelimit: maxEntries must be at least 1, got %d", maxEntries)
	}

	l := &Limiter{
		limit:      limit,
		window:     window,
		maxEntries: maxEntries,
		clock:      realClock{},
		entries:    make(map[string]*entry),
		log:        log.WithComponent("ratelimit"),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.lastSweep = l.clock.Now()
	return l, nil
}

// Check records a hit for the (webhookID, clientIP) key if the window still
// has room and reports the decision. An empty clientIP is a distinct key,
// not a wildcard.
func (l *Limiter) Check(webhookID, clientIP string) Decision {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.maybeSweep(now)

	key := webhookID + "|" + clientIP
	e, ok := l.entries[key]
	if !ok {
		if len(l.entries) >= l.maxEntries {
			l.evictOldest()
		}
		e = &entry{}
		l.entries[key] = e
		l.order = append(l.order, key)
	}

	// Drop hits that fell out of the window. A recorded hit after now means
	// the wall clock jumped backwards; reset the window instead of locking
	// the caller out until the clock catches up.
	kept := e.hits[:0]
	for _, hit := range e.hits {
		if hit.After(now) {
			kept = e.hits[:0]
			break
		}
		if now.Sub(hit) < l.window {
			kept = append(kept, hit)
		}
	}
	e.hits = kept

	reset := l.window
	if len(e.hits) > 0 {
		reset = l.window - now.Sub(e.hits[0])
	}
	if len(e.hits) >= l.limit {
		metrics.RecordRateLimitBlocked()
		return Decision{Allowed: false, Remaining: 0, Reset: reset}
	}

	e.hits = append(e.hits, now)
	return Decision{Allowed: true, Remaining: l.limit - len(e.hits), Reset: reset}
}

// Size reports the number of tracked keys.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// evictOldest removes the first-inserted key that is still live.
// Caller must hold the lock.
func (l *Limiter) evictOldest() {
	for len(l.order) > 0 {
		key := l.order[0]
		l.order = l.order[1:]
		if _, ok := l.entries[key]; ok {
			delete(l.entries, key)
			return
		}
	}
}

// maybeSweep drops keys whose hits have all expired. It runs at most once
// per window. Caller must hold the lock.
func (l *Limiter) maybeSweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.window {
		return
	}
	l.lastSweep = now

	cutoff := now.Add(-l.window)
	removed := 0
	order := l.order[:0]
	for _, key := range l.order {
		e, ok := l.entries[key]
		if !ok {
			continue
		}
		if len(e.hits) == 0 || !e.hits[len(e.hits)-1].After(cutoff) {
			delete(l.entries, key)
			removed++
			continue
		}
		order = append(order, key)
	}
	l.order = order

	if removed > 0 {
		l.log.Debug().
			Str("event", "ratelimit.sweep").
			Int(log.FieldCount, removed).
			Int("remaining", len(l.entries)).
			Msg("pruned idle limiter entries")
	}
}

// GetClientIP extracts the real client IP from the request. X-Forwarded-For
// wins (first hop), then X-Real-IP, then the socket address.
func GetClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
