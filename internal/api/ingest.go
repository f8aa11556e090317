// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/capture"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/config"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/forward"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/log"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/metrics"
	platformnet "github.com/ar27111994/webhook-debugger-logger-sub001/internal/platform/net"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/payload"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/ratelimit"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/script"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/signature"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/webhooks"
)

// statusOverrideKey lets a JSON payload pick the response status.
const statusOverrideKey = "__status"

// ingestState carries one request through the admission stages.
type ingestState struct {
	w   http.ResponseWriter
	r   *http.Request
	cfg config.Config

	webhookID string
	eventID   string
	clientIP  string
	webhook   webhooks.Webhook
	raw       []byte
	parsed    any // set once the body has been decoded as JSON
	verifier  *signature.StreamVerifier
	outcome   *signature.Outcome
	started   time.Time
}

// reject is a terminal admission decision. A nil reject means the
// stage passed and the next one runs.
type reject struct {
	status  int
	message string
	headers map[string]string
}

// admissionStage is one named step of the ingest pipeline. Stages run
// strictly in slice order; the first reject wins and nothing later
// executes, which is what makes the precedence testable.
type admissionStage struct {
	name string
	run  func(s *Server, st *ingestState) *reject
}

var admissionStages = []admissionStage{
	{"client_ip", (*Server).stageClientIP},
	{"webhook_valid", (*Server).stageWebhookValid},
	{"ip_allowlist", (*Server).stageAllowlist},
	{"rate_limit", (*Server).stageRateLimit},
	{"read_body", (*Server).stageReadBody},
	{"signature", (*Server).stageSignature},
	{"script", (*Server).stageScript},
	{"schema", (*Server).stageSchema},
}

// handleIngest accepts a delivery on any HTTP method, runs the
// admission stages, answers "OK" and defers everything slow (persist,
// offload, broadcast, forward) to the background pool. The response
// never waits on storage.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	st := &ingestState{
		w:         w,
		r:         r,
		cfg:       s.holder.Get(),
		webhookID: chi.URLParam(r, "id"),
		eventID:   capture.NewEventID(),
		started:   started,
	}

	for _, stage := range admissionStages {
		rej := stage.run(s, st)
		if rej == nil {
			continue
		}
		metrics.RecordIngest("rejected")
		metrics.RecordIngestReject(stage.name)
		s.logger.Warn().
			Str("event", "ingest.rejected").
			Str(log.FieldRequestID, log.RequestIDFromContext(r.Context())).
			Str(log.FieldWebhookID, st.webhookID).
			Str(log.FieldRemoteIP, st.clientIP).
			Str("stage", stage.name).
			Int(log.FieldStatus, rej.status).
			Msg(rej.message)
		for k, v := range rej.headers {
			w.Header().Set(k, v)
		}
		respondError(w, r, rej.status, rej.message)
		return
	}

	ev := s.buildCapture(st)

	status := http.StatusOK
	if override, ok := statusOverride(st.parsed); ok {
		status = override
	}

	// The artificial delay is part of the response, not the capture: a
	// client that hangs up while waiting still gets its event recorded.
	interrupted := false
	if delay := st.cfg.ResponseDelay(); delay > 0 {
		select {
		case <-r.Context().Done():
			interrupted = true
		case <-time.After(delay):
		}
	}

	ev.StatusCode = status
	ev.ProcessingTime = time.Since(started).Milliseconds()

	if !interrupted {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, "OK")
	}

	metrics.RecordIngest("captured")
	metrics.ObserveIngestDuration(time.Since(started).Seconds())

	s.dispatchBackground(st, ev)
}

func (s *Server) stageClientIP(st *ingestState) *reject {
	st.clientIP = ratelimit.GetClientIP(st.r)
	if st.clientIP == "" {
		return &reject{status: http.StatusBadRequest, message: "Unable to determine client IP address"}
	}
	return nil
}

func (s *Server) stageWebhookValid(st *ingestState) *reject {
	if !s.webhooks.IsValid(st.webhookID) {
		return &reject{status: http.StatusNotFound, message: msgWebhookNotFound}
	}
	st.webhook, _ = s.webhooks.Data(st.webhookID)
	return nil
}

func (s *Server) stageAllowlist(st *ingestState) *reject {
	allowed := st.cfg.AllowedIPs
	if len(allowed) == 0 {
		return nil
	}
	if !platformnet.CheckIPInRanges(st.clientIP, allowed) {
		return &reject{status: http.StatusForbidden, message: msgForbiddenIP}
	}
	return nil
}

func (s *Server) stageRateLimit(st *ingestState) *reject {
	dec := s.limiterNow().Check(st.webhookID, st.clientIP)
	if dec.Allowed {
		return nil
	}
	metrics.RecordRateLimitBlocked()
	retry := int(math.Ceil(dec.Reset.Seconds()))
	if retry < 1 {
		retry = 1
	}
	return &reject{
		status:  http.StatusTooManyRequests,
		message: msgRateLimited,
		headers: map[string]string{
			"Retry-After":           strconv.Itoa(retry),
			"X-RateLimit-Remaining": "0",
		},
	}
}

// stageReadBody buffers the payload under the size cap. When signature
// verification is configured the bytes are fed through the HMAC while
// they stream in, so verification adds no second pass.
func (s *Server) stageReadBody(st *ingestState) *reject {
	limit := st.cfg.MaxPayloadSize
	if st.r.ContentLength > limit {
		return &reject{status: http.StatusRequestEntityTooLarge, message: msgPayloadTooLarge}
	}

	src := io.Reader(http.MaxBytesReader(st.w, st.r.Body, limit))
	if st.cfg.Signature.Enabled() {
		st.verifier = signature.NewStreamVerifier(signatureConfig(st.cfg.Signature), st.r.Header)
		src = io.TeeReader(src, st.verifier)
	}

	raw, err := io.ReadAll(src)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return &reject{status: http.StatusRequestEntityTooLarge, message: msgPayloadTooLarge}
		}
		return &reject{status: http.StatusBadRequest, message: "Could not read request body"}
	}
	st.raw = raw
	return nil
}

// stageSignature finalizes the HMAC. By default a failed check is
// recorded on the capture and the request is still accepted; only the
// reject flag turns it into a 401.
func (s *Server) stageSignature(st *ingestState) *reject {
	if st.verifier == nil {
		return nil
	}
	outcome := st.verifier.Finalize()
	st.outcome = &outcome
	if !outcome.Valid && st.cfg.Signature.Reject {
		return &reject{status: http.StatusUnauthorized, message: "Signature verification failed"}
	}
	return nil
}

// stageScript runs the user transform. Script failures are logged and
// counted but never block admission.
func (s *Server) stageScript(st *ingestState) *reject {
	runner := s.runtime.Load().script
	if runner == nil {
		return nil
	}
	in := script.Input{
		ID:          st.eventID,
		WebhookID:   st.webhookID,
		Method:      st.r.Method,
		Path:        st.r.URL.Path,
		ContentType: st.r.Header.Get("Content-Type"),
		RemoteIP:    st.clientIP,
		Headers:     capture.MaskHeaders(st.r.Header, st.cfg.MaskSensitiveData),
		Query:       firstValues(st.r.URL.Query()),
		Body:        string(st.raw),
	}
	if err := runner.Run(st.r.Context(), in); err != nil {
		metrics.RecordScriptRun("error")
	} else {
		metrics.RecordScriptRun("ok")
	}
	return nil
}

// stageSchema validates JSON payloads against the configured schema.
// Non-JSON content passes untouched.
func (s *Server) stageSchema(st *ingestState) *reject {
	validator := s.runtime.Load().schema
	if validator == nil || len(st.raw) == 0 || !isJSONContent(st.r.Header.Get("Content-Type")) {
		return nil
	}
	var parsed any
	if err := json.Unmarshal(st.raw, &parsed); err != nil {
		return &reject{status: http.StatusBadRequest, message: msgInvalidJSON}
	}
	if err := validator.Validate(parsed); err != nil {
		return &reject{status: http.StatusBadRequest, message: err.Error()}
	}
	st.parsed = parsed
	return nil
}

// buildCapture assembles the stored event from the admitted request.
func (s *Server) buildCapture(st *ingestState) capture.Event {
	r := st.r
	contentType := r.Header.Get("Content-Type")

	if st.parsed == nil && st.cfg.EnableJSONParsing && len(st.raw) > 0 && isJSONContent(contentType) {
		var parsed any
		if err := json.Unmarshal(st.raw, &parsed); err == nil {
			st.parsed = parsed
		}
	}

	var body any
	switch {
	case st.parsed != nil:
		body = st.parsed
	case len(st.raw) > 0:
		body = string(st.raw)
	}

	ev := capture.Event{
		ID:          st.eventID,
		WebhookID:   st.webhookID,
		Timestamp:   st.started.UnixMilli(),
		Method:      r.Method,
		RequestURL:  r.URL.RequestURI(),
		Headers:     capture.MaskHeaders(r.Header, st.cfg.MaskSensitiveData),
		Query:       firstValues(r.URL.Query()),
		Body:        body,
		ContentType: contentType,
		Size:        int64(len(st.raw)),
		RemoteIP:    st.clientIP,
		UserAgent:   r.UserAgent(),
		RequestID:   log.RequestIDFromContext(r.Context()),
	}
	if st.outcome != nil {
		valid := st.outcome.Valid
		ev.SignatureValid = &valid
		ev.SignatureProvider = st.outcome.Provider
		ev.SignatureError = st.outcome.Err
	}
	return ev
}

// dispatchBackground queues persistence, live broadcast and forwarding
// after the response went out. Each task is independent: a failed
// insert does not stop the broadcast and vice versa.
func (s *Server) dispatchBackground(st *ingestState, ev capture.Event) {
	raw := st.raw
	offload := int64(len(raw)) > st.cfg.OffloadThresholdBytes

	stored := ev
	if offload {
		stored.Body = capture.NewOffloadDescriptor(payload.KeyFor(ev.ID))
	}

	s.pool.Go("capture_persist", func(ctx context.Context) error {
		if offload {
			if _, err := s.payloads.Offload(ctx, ev.ID, raw); err != nil {
				metrics.RecordCapturePersist("error")
				return err
			}
		}
		if err := s.logs.InsertLog(ctx, stored); err != nil {
			metrics.RecordCapturePersist("error")
			return err
		}
		metrics.RecordCapturePersist("ok")
		return nil
	})

	s.pool.Go("stream_broadcast", func(ctx context.Context) error {
		s.stream.Broadcast(stored)
		return nil
	})

	target := st.webhook.ForwardURL
	if target == "" {
		target = st.cfg.ForwardURL
	}
	if target == "" {
		return
	}
	cfg := st.cfg
	s.pool.Go("forward", func(ctx context.Context) error {
		_, err := s.forwarder.Forward(ctx, forward.Delivery{
			Event:          &stored,
			Body:           raw,
			TargetURL:      target,
			ForwardHeaders: cfg.ForwardHeaders,
			MaxRetries:     cfg.MaxForwardRetries,
		})
		return err
	})
}

// statusOverride extracts a __status response override from a parsed
// JSON object. Only 2xx, 4xx and 5xx integers are honored.
func statusOverride(parsed any) (int, bool) {
	obj, ok := parsed.(map[string]any)
	if !ok {
		return 0, false
	}
	v, ok := obj[statusOverrideKey]
	if !ok {
		return 0, false
	}

	var status int
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		status = int(n)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, false
		}
		status = parsed
	default:
		return 0, false
	}

	if (status >= 200 && status < 300) || (status >= 400 && status < 600) {
		return status, true
	}
	return 0, false
}

func signatureConfig(sc config.SignatureConfig) signature.Config {
	return signature.Config{
		Provider:     sc.Provider,
		Secret:       sc.Secret,
		HeaderName:   sc.HeaderName,
		TimestampKey: sc.TimestampKey,
		Tolerance:    sc.Tolerance(),
	}
}

func firstValues(values map[string][]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

func isJSONContent(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}
