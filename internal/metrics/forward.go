// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ForwardAttemptTotal counts outbound delivery attempts by outcome.
	ForwardAttemptTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhookd_forward_attempt_total",
		Help: "Total number of outbound forwarding attempts, by outcome (success, transient, permanent).",
	}, []string{"outcome"})

	// ForwardDeliveryTotal counts terminal forwarding results.
	ForwardDeliveryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhookd_forward_delivery_total",
		Help: "Total number of forwarding operations, by terminal result (delivered, exhausted, blocked, ssrf).",
	}, []string{"result"})

	// CircuitBreakerTransitions counts breaker state transitions.
	CircuitBreakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhookd_circuit_breaker_transitions_total",
		Help: "Total number of circuit breaker transitions, by new state.",
	}, []string{"state"})

	// OpenCircuits tracks the number of hosts currently open.
	OpenCircuits = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "webhookd_open_circuits",
		Help: "Current number of hosts with an open circuit.",
	})

	// ReplayTotal counts replay operations by result.
	ReplayTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhookd_replay_total",
		Help: "Total number of replay operations, by result.",
	}, []string{"result"})
)

// RecordForwardAttempt increments the attempt counter.
func RecordForwardAttempt(outcome string) {
	ForwardAttemptTotal.WithLabelValues(outcome).Inc()
}

// RecordForwardDelivery increments the terminal result counter.
func RecordForwardDelivery(result string) {
	ForwardDeliveryTotal.WithLabelValues(result).Inc()
}

// RecordCircuitTransition increments the breaker transition counter.
func RecordCircuitTransition(state string) {
	CircuitBreakerTransitions.WithLabelValues(state).Inc()
}

// SetOpenCircuits sets the open-circuit gauge.
func SetOpenCircuits(count float64) {
	OpenCircuits.Set(count)
}

// RecordReplay increments the replay counter.
func RecordReplay(result string) {
	ReplayTotal.WithLabelValues(result).Inc()
}
