// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/log"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/version"
)

// metricsPrefix selects the application series for the operator view;
// Go runtime and process collectors stay on /metrics only.
const metricsPrefix = "webhookd_"

// systemMetricsResponse is the operator-friendly JSON rendering of the
// instance counters. Prometheus scrapes /metrics; this endpoint exists
// for humans and the dashboard.
type systemMetricsResponse struct {
	Status        string             `json:"status"`
	Version       string             `json:"version"`
	UptimeSeconds int64              `json:"uptimeSeconds"`
	Goroutines    int                `json:"goroutines"`
	MemAllocBytes uint64             `json:"memAllocBytes"`
	Webhooks      systemWebhookStats `json:"webhooks"`
	Subscribers   int                `json:"subscribers"`
	Counters      map[string]float64 `json:"counters"`
}

type systemWebhookStats struct {
	Total  int `json:"total"`
	Active int `json:"active"`
}

// handleSystemMetrics gathers the default registry and flattens every
// application series into "name{label=value}" keys.
func (s *Server) handleSystemMetrics(w http.ResponseWriter, r *http.Request) {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		s.logger.Error().
			Str("event", "api.sysmetrics.gather_failed").
			Str(log.FieldRequestID, log.RequestIDFromContext(r.Context())).
			Err(err).
			Msg("metrics gather failed")
		respondError(w, r, http.StatusInternalServerError, "Metrics gather failed")
		return
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	writeJSON(w, http.StatusOK, systemMetricsResponse{
		Status:        "ok",
		Version:       version.Version,
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Goroutines:    runtime.NumGoroutine(),
		MemAllocBytes: mem.Alloc,
		Webhooks: systemWebhookStats{
			Total:  s.webhooks.Count(),
			Active: len(s.webhooks.AllActive()),
		},
		Subscribers: s.stream.Count(),
		Counters:    flattenFamilies(families),
	})
}

// flattenFamilies extracts counter and gauge values from the gathered
// families, one entry per label combination.
func flattenFamilies(families []*dto.MetricFamily) map[string]float64 {
	out := make(map[string]float64)
	for _, fam := range families {
		name := fam.GetName()
		if !strings.HasPrefix(name, metricsPrefix) {
			continue
		}
		for _, m := range fam.GetMetric() {
			var value float64
			switch fam.GetType() {
			case dto.MetricType_COUNTER:
				value = m.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				value = m.GetGauge().GetValue()
			case dto.MetricType_HISTOGRAM:
				value = float64(m.GetHistogram().GetSampleCount())
			default:
				continue
			}
			out[seriesKey(name, m.GetLabel())] = value
		}
	}
	return out
}

// seriesKey renders name{a=x,b=y} with labels sorted for stable output.
func seriesKey(name string, labels []*dto.LabelPair) string {
	if len(labels) == 0 {
		return name
	}
	parts := make([]string, len(labels))
	for i, lp := range labels {
		parts[i] = lp.GetName() + "=" + lp.GetValue()
	}
	sort.Strings(parts)
	return name + "{" + strings.Join(parts, ",") + "}"
}
