// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StreamSubscribers tracks currently connected SSE subscribers.
	StreamSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "webhookd_stream_subscribers",
		Help: "Current number of connected live-stream subscribers.",
	})

	// StreamEventsTotal counts broadcast events.
	StreamEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhookd_stream_events_total",
		Help: "Total number of events broadcast to live-stream subscribers.",
	})

	// StreamEvictionsTotal counts subscribers dropped on write failure or overflow.
	StreamEvictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhookd_stream_evictions_total",
		Help: "Total number of subscribers evicted, by cause (write_error, slow_consumer).",
	}, []string{"cause"})
)

// IncStreamSubscribers increments the subscriber gauge.
func IncStreamSubscribers() {
	StreamSubscribers.Inc()
}

// DecStreamSubscribers decrements the subscriber gauge.
func DecStreamSubscribers() {
	StreamSubscribers.Dec()
}

// RecordStreamEvent increments the broadcast counter.
func RecordStreamEvent() {
	StreamEventsTotal.Inc()
}

// RecordStreamEviction increments the eviction counter.
func RecordStreamEviction(cause string) {
	StreamEvictionsTotal.WithLabelValues(cause).Inc()
}
