// SPDX-License-Identifier: MIT

// Package stream fans captured events out to live SSE subscribers. One
// process-wide Broadcaster serializes each event once and writes the frame to
// every subscriber; slow or broken subscribers are evicted, never waited on.
package stream

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/log"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/metrics"
)

const (
	// DefaultBuffer is the per-subscriber frame buffer. A subscriber whose
	// buffer is full when a frame arrives is dropped.
	DefaultBuffer = 64

	// DefaultHeartbeat is how often the shared ticker writes a comment frame
	// so proxies keep idle connections open.
	DefaultHeartbeat = 30 * time.Second
)

var (
	connectedFrame = []byte(": connected\n\n")
	heartbeatFrame = []byte(": heartbeat\n\n")
)

type subscriber struct {
	ch     chan []byte
	mu     sync.Mutex
	closed bool
}

// send enqueues a frame without blocking. False means the subscriber is
// closed or its buffer is full and it must be evicted.
func (s *subscriber) send(frame []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- frame:
		return true
	default:
		return false
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// Broadcaster is the process-wide subscriber registry.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	closed bool

	buffer    int
	heartbeat time.Duration
	done      chan struct{}
	stopOnce  sync.Once

	log zerolog.Logger
}

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithBuffer overrides the per-subscriber frame buffer.
func WithBuffer(n int) Option {
	return func(b *Broadcaster) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// WithHeartbeat overrides the comment-frame interval. Zero or negative
// disables the heartbeat.
func WithHeartbeat(d time.Duration) Option {
	return func(b *Broadcaster) { b.heartbeat = d }
}

// NewBroadcaster builds the registry and starts the shared heartbeat ticker.
func NewBroadcaster(opts ...Option) *Broadcaster {
	b := &Broadcaster{
		subs:      make(map[*subscriber]struct{}),
		buffer:    DefaultBuffer,
		heartbeat: DefaultHeartbeat,
		done:      make(chan struct{}),
		log:       log.WithComponent("stream"),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.heartbeat > 0 {
		go b.heartbeatLoop()
	}
	return b
}

// Subscription is one live consumer. Frames returns pre-serialized SSE
// frames; the channel closes when the subscriber is evicted or the
// broadcaster shuts down.
type Subscription struct {
	sub *subscriber
	b   *Broadcaster
}

// Frames is the subscriber's event channel.
func (s *Subscription) Frames() <-chan []byte { return s.sub.ch }

// Cancel removes the subscriber from the registry.
func (s *Subscription) Cancel() { s.b.remove(s.sub) }

// Subscribe registers a new consumer. On a closed broadcaster the returned
// subscription's channel is already closed.
func (b *Broadcaster) Subscribe() *Subscription {
	sub := &subscriber{ch: make(chan []byte, b.buffer)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.close()
		return &Subscription{sub: sub, b: b}
	}
	b.subs[sub] = struct{}{}
	count := len(b.subs)
	b.mu.Unlock()

	metrics.IncStreamSubscribers()
	b.log.Debug().
		Str("event", "stream.subscribe").
		Int(log.FieldCount, count).
		Msg("subscriber connected")
	return &Subscription{sub: sub, b: b}
}

// Broadcast serializes the event once and fans the frame out. Subscribers
// whose buffer is full are evicted as slow consumers.
func (b *Broadcaster) Broadcast(event any) {
	data, err := json.Marshal(event)
	if err != nil {
		b.log.Error().Err(err).
			Str("event", "stream.marshal_failed").
			Msg("event not broadcast")
		return
	}
	frame := make([]byte, 0, len(data)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, data...)
	frame = append(frame, "\n\n"...)

	metrics.RecordStreamEvent()
	b.fanout(frame, "slow_consumer")
}

// Count returns the number of connected subscribers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close evicts every subscriber and stops the heartbeat. Safe to call more
// than once.
func (b *Broadcaster) Close() {
	b.stopOnce.Do(func() { close(b.done) })

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*subscriber, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	clear(b.subs)
	b.mu.Unlock()

	for _, s := range subs {
		s.close()
		metrics.DecStreamSubscribers()
	}
	b.log.Info().
		Str("event", "stream.close").
		Int(log.FieldCount, len(subs)).
		Msg("broadcaster shut down")
}

// fanout snapshots the registry, then sends outside the lock.
func (b *Broadcaster) fanout(frame []byte, evictCause string) {
	b.mu.RLock()
	subs := make([]*subscriber, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		if !s.send(frame) {
			metrics.RecordStreamEviction(evictCause)
			b.remove(s)
		}
	}
}

func (b *Broadcaster) remove(sub *subscriber) {
	b.mu.Lock()
	_, present := b.subs[sub]
	if present {
		delete(b.subs, sub)
	}
	b.mu.Unlock()

	if present {
		sub.close()
		metrics.DecStreamSubscribers()
	}
}

func (b *Broadcaster) heartbeatLoop() {
	t := time.NewTicker(b.heartbeat)
	defer t.Stop()
	for {
		select {
		case <-b.done:
			return
		case <-t.C:
			b.fanout(heartbeatFrame, "slow_consumer")
		}
	}
}

// ServeHTTP streams frames to one client until it disconnects or is evicted.
// Auth is enforced by the router middleware in front of this handler.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	h.Set("Content-Encoding", "identity")
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write(connectedFrame); err != nil {
		return
	}
	flusher.Flush()

	sub := b.Subscribe()
	defer sub.Cancel()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, open := <-sub.Frames():
			if !open {
				return
			}
			if _, err := w.Write(frame); err != nil {
				metrics.RecordStreamEviction("write_error")
				b.log.Debug().Err(err).
					Str("event", "stream.write_failed").
					Msg("subscriber write failed")
				return
			}
			flusher.Flush()
		}
	}
}
