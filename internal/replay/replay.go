// SPDX-License-Identifier: MIT

// Package replay resolves a stored capture and re-delivers its payload to a
// caller-chosen target through the forwarding engine.
package replay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/capture"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/forward"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/log"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/logstore"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/metrics"
	platformnet "github.com/ar27111994/webhook-debugger-logger-sub001/internal/platform/net"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/telemetry"
)

// StatusReplayed is the success marker in the replay response body.
const StatusReplayed = "Replayed"

// Error is a replay failure carrying the HTTP status the API should send.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string { return e.Message }

func failure(status int, msg string) *Error {
	return &Error{Status: status, Message: msg}
}

// Result is the success payload returned to the replay caller.
type Result struct {
	Status             string   `json:"status"`
	TargetURL          string   `json:"targetUrl"`
	TargetResponseBody string   `json:"targetResponseBody"`
	StrippedHeaders    []string `json:"strippedHeaders"`
}

// Finder pages through stored captures. Satisfied by *logstore.Store.
type Finder interface {
	FindLogs(ctx context.Context, f logstore.Filter) ([]capture.Event, int, error)
}

// Rehydrator restores offloaded payload bytes. Satisfied by *payload.Store.
type Rehydrator interface {
	Rehydrate(ctx context.Context, body any) (data []byte, offloaded bool, err error)
}

// Forwarder dispatches the delivery. Satisfied by *forward.Service.
type Forwarder interface {
	Forward(ctx context.Context, d forward.Delivery) (forward.Result, error)
}

// Options carries the per-replay delivery tuning from the configuration.
type Options struct {
	MaxRetries     int
	Timeout        time.Duration
	ForwardHeaders bool
}

// Controller implements replay resolution and dispatch.
type Controller struct {
	logs     Finder
	payloads Rehydrator
	fwd      Forwarder
	log      zerolog.Logger
}

// NewController wires the replay dependencies.
func NewController(logs Finder, payloads Rehydrator, fwd Forwarder) *Controller {
	return &Controller{
		logs:     logs,
		payloads: payloads,
		fwd:      fwd,
		log:      log.WithComponent("replay"),
	}
}

// Replay looks up eventID under webhookID, rehydrates the stored payload and
// re-delivers it to target. Failures come back as *Error with the HTTP
// status to report.
func (c *Controller) Replay(ctx context.Context, webhookID, eventID, target string, opts Options) (Result, error) {
	var res Result

	tracer := telemetry.Tracer("webhookd.replay")
	ctx, span := tracer.Start(ctx, "replay.dispatch", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()
	span.SetAttributes(telemetry.EventAttributes(webhookID, eventID, "", 0)...)

	ev, err := c.findEvent(ctx, webhookID, eventID)
	if err != nil {
		metrics.RecordReplay("error")
		c.log.Error().Err(err).
			Str("event", "replay.lookup_failed").
			Str(log.FieldWebhookID, webhookID).
			Msg("capture lookup failed")
		return res, failure(http.StatusInternalServerError, "Replay failed")
	}
	if ev == nil {
		metrics.RecordReplay("not_found")
		return res, failure(http.StatusNotFound, "Event not found")
	}

	if strings.TrimSpace(target) == "" {
		metrics.RecordReplay("bad_request")
		return res, failure(http.StatusBadRequest, "Missing targetUrl")
	}

	body, rerr := c.bodyBytes(ctx, ev)
	if rerr != nil {
		metrics.RecordReplay("error")
		return res, rerr
	}

	fres, err := c.fwd.Forward(ctx, forward.Delivery{
		Event:          ev,
		Body:           body,
		TargetURL:      target,
		ForwardHeaders: opts.ForwardHeaders,
		MaxRetries:     opts.MaxRetries,
		Timeout:        opts.Timeout,
	})
	switch {
	case errors.Is(err, forward.ErrBlocked):
		metrics.RecordReplay("blocked")
		return res, failure(http.StatusBadRequest, err.Error())
	case errors.Is(err, forward.ErrExhausted):
		metrics.RecordReplay("exhausted")
		return res, failure(http.StatusGatewayTimeout, "Replay failed")
	case err != nil:
		metrics.RecordReplay("error")
		return res, failure(http.StatusInternalServerError, "Replay failed")
	}

	metrics.RecordReplay("replayed")
	c.log.Info().
		Str("event", "replay.dispatched").
		Str(log.FieldWebhookID, webhookID).
		Str(log.FieldEventID, ev.ID).
		Str(log.FieldTargetHost, fres.TargetHost).
		Int(log.FieldStatus, fres.StatusCode).
		Msg("event replayed")

	return Result{
		Status:             StatusReplayed,
		TargetURL:          platformnet.EnsureScheme(strings.TrimSpace(target)),
		TargetResponseBody: string(fres.ResponseBody),
		StrippedHeaders:    stripped(fres.Stripped),
	}, nil
}

// findEvent scans the webhook's captures newest-first in fixed pages. An
// exact id match anywhere wins; otherwise the first row whose timestamp
// equals an ISO-8601 eventID is used.
func (c *Controller) findEvent(ctx context.Context, webhookID, eventID string) (*capture.Event, error) {
	wantTS, tsOK := parseISOMillis(eventID)

	var candidate *capture.Event
	for offset := 0; ; offset += logstore.MaxItemsForBatch {
		items, total, err := c.logs.FindLogs(ctx, logstore.Filter{
			WebhookID: webhookID,
			Limit:     logstore.MaxItemsForBatch,
			Offset:    offset,
		})
		if err != nil {
			return nil, err
		}
		for i := range items {
			if items[i].ID == eventID {
				return &items[i], nil
			}
			if tsOK && candidate == nil && items[i].Timestamp == wantTS {
				ev := items[i]
				candidate = &ev
			}
		}
		if len(items) == 0 || offset+logstore.MaxItemsForBatch >= total {
			break
		}
	}
	return candidate, nil
}

// bodyBytes turns the stored body back into raw payload bytes, fetching
// offloaded payloads from the payload store.
func (c *Controller) bodyBytes(ctx context.Context, ev *capture.Event) ([]byte, *Error) {
	data, offloaded, err := c.payloads.Rehydrate(ctx, ev.Body)
	if err != nil {
		c.log.Error().Err(err).
			Str("event", "replay.rehydrate_failed").
			Str(log.FieldEventID, ev.ID).
			Msg("payload fetch failed")
		return nil, failure(http.StatusInternalServerError, "Replay failed")
	}
	if offloaded {
		if data == nil {
			return nil, failure(http.StatusNotFound, "Payload not found")
		}
		return data, nil
	}

	switch b := ev.Body.(type) {
	case nil:
		return nil, nil
	case string:
		return []byte(b), nil
	case []byte:
		return b, nil
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			return nil, failure(http.StatusInternalServerError, "Replay failed")
		}
		return raw, nil
	}
}

// NormalizeTarget extracts the target URL from a decoded request value.
// Accepts a plain string or the array form, where the first element wins.
func NormalizeTarget(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case []any:
		if len(t) > 0 {
			if s, ok := t[0].(string); ok {
				return strings.TrimSpace(s)
			}
		}
	case []string:
		if len(t) > 0 {
			return strings.TrimSpace(t[0])
		}
	}
	return ""
}

// parseISOMillis interprets s as an ISO-8601 timestamp and returns its unix
// millisecond value.
func parseISOMillis(s string) (int64, bool) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UnixMilli(), true
		}
	}
	return 0, false
}

func stripped(names []string) []string {
	if names == nil {
		return []string{}
	}
	return names
}
