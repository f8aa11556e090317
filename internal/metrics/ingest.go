// SPDX-License-Identifier: MIT

// Package metrics provides Prometheus metrics for the webhook daemon.
// No cardinality explosion: no webhook_id, request_id or target host in labels.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

var (
	// IngestTotal counts ingestion requests by outcome (captured, rejected).
	IngestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhookd_ingest_total",
		Help: "Total number of ingestion requests, by outcome.",
	}, []string{"outcome"})

	// IngestRejectTotal counts admission rejections by reason.
	IngestRejectTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhookd_ingest_reject_total",
		Help: "Total number of rejected ingestion requests, by reason.",
	}, []string{"reason"})

	// CapturePersistTotal counts capture rows written by status.
	CapturePersistTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhookd_capture_persist_total",
		Help: "Total number of capture rows persisted, by status.",
	}, []string{"status"})

	// PayloadOffloadTotal counts bodies moved to the payload store.
	PayloadOffloadTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhookd_payload_offload_total",
		Help: "Total number of request bodies offloaded to the payload store.",
	})

	// BackgroundFailureTotal counts background task failures by task kind.
	BackgroundFailureTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhookd_background_failure_total",
		Help: "Total number of background task failures, by task.",
	}, []string{"task"})

	// ScriptRunTotal counts sandboxed script executions by result.
	ScriptRunTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhookd_script_run_total",
		Help: "Total number of custom script executions, by result.",
	}, []string{"result"})

	// RateLimitBlockedTotal counts requests blocked by the per-webhook limiter.
	RateLimitBlockedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhookd_ratelimit_blocked_total",
		Help: "Total number of ingestion requests blocked by the rate limiter.",
	})

	// IngestDuration observes wall-clock request handling time in seconds.
	IngestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "webhookd_ingest_duration_seconds",
		Help:    "Ingestion handling latency from admission to response send.",
		Buckets: prometheus.DefBuckets,
	})
)

// RecordIngest increments the ingestion counter for an outcome.
func RecordIngest(outcome string) {
	IngestTotal.WithLabelValues(outcome).Inc()
}

// RecordIngestReject increments the rejection counter.
func RecordIngestReject(reason string) {
	IngestRejectTotal.WithLabelValues(reason).Inc()
}

// RecordCapturePersist increments the persistence counter.
func RecordCapturePersist(status string) {
	CapturePersistTotal.WithLabelValues(status).Inc()
}

// RecordPayloadOffload increments the offload counter.
func RecordPayloadOffload() {
	PayloadOffloadTotal.Inc()
}

// RecordBackgroundFailure increments the background failure counter.
func RecordBackgroundFailure(task string) {
	BackgroundFailureTotal.WithLabelValues(task).Inc()
}

// RecordScriptRun increments the script execution counter.
func RecordScriptRun(result string) {
	ScriptRunTotal.WithLabelValues(result).Inc()
}

// RecordRateLimitBlocked increments the limiter block counter.
func RecordRateLimitBlocked() {
	RateLimitBlockedTotal.Inc()
}

// ObserveIngestDuration records one ingestion latency sample.
func ObserveIngestDuration(seconds float64) {
	IngestDuration.Observe(seconds)
}

// CounterValue reads the current value of a counter (for testing).
func CounterValue(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}
