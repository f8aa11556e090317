// SPDX-License-Identifier: MIT

// Package forward delivers captured webhook payloads to outbound targets
// with SSRF validation, per-host circuit breaking, bounded retries and a
// process-wide egress budget.
package forward

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/capture"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/log"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/metrics"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/platform/httpx"
	platformnet "github.com/ar27111994/webhook-debugger-logger-sub001/internal/platform/net"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/resilience"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/telemetry"
)

// ForwardedBy is the sentinel added to every outbound delivery so receivers
// can tell relayed traffic from the original sender.
const ForwardedBy = "webhookd"

const (
	DefaultMaxRetries     = 3
	MaxRetryCap           = 10
	DefaultAttemptTimeout = 10 * time.Second

	defaultBackoffBase = 500 * time.Millisecond
	defaultBackoffMax  = 30 * time.Second

	defaultEgressRPS   = 50
	defaultEgressBurst = 100

	// maxResponseBytes caps how much of the target's reply is retained for
	// replay reporting.
	maxResponseBytes = 64 << 10
)

// Canonical transient error codes. A delivery retries only on these.
const (
	CodeConnAborted = "ECONNABORTED"
	CodeConnReset   = "ECONNRESET"
	CodeTimedOut    = "ETIMEDOUT"
	CodeNetUnreach  = "ENETUNREACH"
	CodeHostUnreach = "EHOSTUNREACH"
	CodeDNSAgain    = "EAI_AGAIN"
	CodeDNSNotFound = "ENOTFOUND"
)

// Terminal delivery errors. Callers match with errors.Is to decide how to
// report a failed delivery.
var (
	ErrBlocked     = errors.New("target url blocked")
	ErrCircuitOpen = errors.New("target circuit open")
	ErrExhausted   = errors.New("delivery retries exhausted")
)

// strippedOutbound lists transmission-specific headers never copied to the
// outbound request. Masked capture values are stripped as well.
var strippedOutbound = map[string]struct{}{
	"host":              {},
	"content-length":    {},
	"content-encoding":  {},
	"connection":        {},
	"keep-alive":        {},
	"upgrade":           {},
	"transfer-encoding": {},
}

// Recorder persists forward_error capture rows. Satisfied by
// *logstore.Store; nil disables error records.
type Recorder interface {
	InsertLog(ctx context.Context, e capture.Event) error
}

// Delivery describes one outbound delivery.
type Delivery struct {
	// Event is the source capture; its stored headers feed the outbound
	// header set. Required.
	Event *capture.Event
	// Body is the raw payload to POST.
	Body []byte
	// TargetURL may omit the scheme; http:// is assumed.
	TargetURL string
	// ForwardHeaders copies the capture headers (minus the strip list) when
	// true; otherwise only content-type is sent.
	ForwardHeaders bool
	// MaxRetries bounds delivery attempts. Non-positive means the default.
	MaxRetries int
	// Timeout bounds each attempt. Non-positive means the default.
	Timeout time.Duration
}

// Result reports the terminal state of a delivery. Attempts and Stripped are
// populated even when Forward returns an error.
type Result struct {
	StatusCode   int
	ResponseBody []byte
	Attempts     int
	TargetHost   string
	Stripped     []string
}

// Service is the outbound delivery engine shared by ingestion forwarding and
// replay.
type Service struct {
	client    *http.Client
	validator *platformnet.Validator
	breaker   *resilience.Breaker
	recorder  Recorder
	egress    *rate.Limiter

	backoffBase time.Duration
	backoffMax  time.Duration
	sleep       func(ctx context.Context, d time.Duration) error

	mu  sync.Mutex
	rnd *rand.Rand

	log zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClient replaces the outbound HTTP client.
func WithClient(c *http.Client) Option {
	return func(s *Service) {
		if c != nil {
			s.client = c
		}
	}
}

// WithEgressLimit sets the process-wide outbound budget. Non-positive rps
// disables the budget.
func WithEgressLimit(rps float64, burst int) Option {
	return func(s *Service) {
		if rps <= 0 {
			s.egress = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst <= 0 {
			burst = int(rps)
			if burst < 1 {
				burst = 1
			}
		}
		s.egress = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithBackoff overrides the retry backoff curve, used by tests.
func WithBackoff(base, max time.Duration) Option {
	return func(s *Service) {
		if base > 0 {
			s.backoffBase = base
		}
		if max > 0 {
			s.backoffMax = max
		}
	}
}

// WithSleep replaces the backoff sleeper, used by tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Service) {
		if fn != nil {
			s.sleep = fn
		}
	}
}

// NewService builds the delivery engine. recorder may be nil, in which case
// no forward_error rows are written.
func NewService(validator *platformnet.Validator, breaker *resilience.Breaker, recorder Recorder, opts ...Option) *Service {
	s := &Service{
		client:      httpx.NewForwardClient(),
		validator:   validator,
		breaker:     breaker,
		recorder:    recorder,
		egress:      rate.NewLimiter(rate.Limit(defaultEgressRPS), defaultEgressBurst),
		backoffBase: defaultBackoffBase,
		backoffMax:  defaultBackoffMax,
		sleep:       sleepWithContext,
		rnd:         rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404 -- jitter only
		log:         log.WithComponent("forward"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Forward validates the target, then POSTs the payload with bounded retries.
// Transient transport failures back off and retry; anything else fails the
// delivery immediately. Terminal failures write a forward_error capture row
// and trip the breaker account for the host.
func (s *Service) Forward(ctx context.Context, d Delivery) (Result, error) {
	var res Result
	if d.Event == nil {
		return res, errors.New("forward: delivery event required")
	}

	tracer := telemetry.Tracer("webhookd.forward")
	ctx, span := tracer.Start(ctx, "forward.deliver", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(telemetry.EventAttributes(d.Event.WebhookID, d.Event.ID, d.Event.ContentType, int64(len(d.Body)))...)

	target := platformnet.EnsureScheme(d.TargetURL)
	check := s.validator.Validate(ctx, target)
	if !check.Safe {
		s.log.Warn().
			Str("event", "forward.blocked").
			Str(log.FieldWebhookID, d.Event.WebhookID).
			Str(log.FieldTargetURL, platformnet.SanitizeURL(target)).
			Str("reason", string(check.Reason)).
			Msg(check.Message)
		metrics.RecordForwardDelivery("blocked")
		span.SetStatus(codes.Error, "target blocked")
		s.recordError(ctx, d, target, check.Host, 0, fmt.Sprintf("target blocked: %s", check.Message))
		return res, fmt.Errorf("%w: %s", ErrBlocked, check.Message)
	}
	target = check.Href
	res.TargetHost = check.Host

	if s.breaker.IsOpen(target) {
		s.log.Warn().
			Str("event", "forward.short_circuit").
			Str(log.FieldWebhookID, d.Event.WebhookID).
			Str(log.FieldTargetHost, check.Host).
			Msg("circuit open, delivery skipped")
		metrics.RecordForwardDelivery("circuit_open")
		span.SetStatus(codes.Error, "circuit open")
		s.recordError(ctx, d, target, check.Host, 0, "circuit open for host "+check.Host)
		return res, fmt.Errorf("%w: %s", ErrCircuitOpen, check.Host)
	}

	headers, stripped := BuildHeaders(d.Event, d.ForwardHeaders)
	res.Stripped = stripped

	hostHeader := ""
	if u, err := url.Parse(target); err == nil {
		hostHeader = u.Host
	}

	retries := d.MaxRetries
	if retries <= 0 {
		retries = DefaultMaxRetries
	}
	if retries > MaxRetryCap {
		retries = MaxRetryCap
	}
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultAttemptTimeout
	}

	var lastErr error
	var lastCode string
	for attempt := 1; attempt <= retries; attempt++ {
		if err := s.egress.Wait(ctx); err != nil {
			// Canceled while queued for egress budget: nothing was sent, so
			// neither the breaker nor the error log should see a failure.
			return res, err
		}
		res.Attempts = attempt

		status, respBody, err := s.attempt(ctx, target, hostHeader, headers, d.Body, timeout)
		if err == nil && status >= 200 && status < 300 {
			s.breaker.RecordSuccess(target)
			metrics.RecordForwardAttempt("success")
			metrics.RecordForwardDelivery("delivered")
			res.StatusCode = status
			res.ResponseBody = respBody
			span.SetAttributes(telemetry.DeliveryAttributes("forward", check.Host, attempt, status)...)
			span.SetStatus(codes.Ok, "")
			s.log.Info().
				Str("event", "forward.delivered").
				Str(log.FieldWebhookID, d.Event.WebhookID).
				Str(log.FieldEventID, d.Event.ID).
				Str(log.FieldTargetHost, check.Host).
				Int(log.FieldStatus, status).
				Int(log.FieldAttempt, attempt).
				Msg("payload delivered")
			return res, nil
		}

		if err == nil {
			res.StatusCode = status
			res.ResponseBody = respBody
			lastErr = fmt.Errorf("target responded %d", status)
			metrics.RecordForwardAttempt("permanent")
			break
		}

		code, transient := classify(err)
		lastErr = err
		lastCode = code
		if !transient {
			metrics.RecordForwardAttempt("permanent")
			break
		}
		metrics.RecordForwardAttempt("transient")
		s.log.Warn().
			Err(err).
			Str("event", "forward.attempt_failed").
			Str(log.FieldWebhookID, d.Event.WebhookID).
			Str(log.FieldTargetHost, check.Host).
			Str("code", code).
			Int(log.FieldAttempt, attempt).
			Msg("transient delivery failure")

		if attempt < retries {
			if err := s.sleep(ctx, s.backoffFor(attempt)); err != nil {
				lastErr = err
				break
			}
		}
	}

	s.breaker.RecordFailure(target)
	msg := "delivery failed"
	if lastErr != nil {
		msg = lastErr.Error()
	}
	span.SetAttributes(telemetry.DeliveryAttributes("forward", check.Host, res.Attempts, res.StatusCode)...)
	if lastErr != nil {
		span.RecordError(lastErr)
	}
	span.SetStatus(codes.Error, msg)
	s.recordError(ctx, d, target, check.Host, res.Attempts, msg)
	s.log.Error().
		Str("event", "forward.failed").
		Str(log.FieldWebhookID, d.Event.WebhookID).
		Str(log.FieldEventID, d.Event.ID).
		Str(log.FieldTargetHost, check.Host).
		Int(log.FieldAttempts, res.Attempts).
		Str("error", msg).
		Msg("delivery gave up")

	if lastCode != "" {
		metrics.RecordForwardDelivery("exhausted")
		return res, fmt.Errorf("%w: %s after %d attempts: %v", ErrExhausted, lastCode, res.Attempts, lastErr)
	}
	metrics.RecordForwardDelivery("failed")
	return res, fmt.Errorf("delivery failed: %w", lastErr)
}

func (s *Service) attempt(ctx context.Context, target, hostHeader string, headers http.Header, body []byte, timeout time.Duration) (int, []byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header = headers.Clone()
	if hostHeader != "" {
		req.Host = hostHeader
	}
	otel.GetTextMapPropagator().Inject(attemptCtx, propagation.HeaderCarrier(req.Header))

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		respBody = nil
	}
	return resp.StatusCode, respBody, nil
}

// recordError persists a forward_error capture row. Persistence failures are
// logged and swallowed so a broken repository cannot mask the delivery error.
func (s *Service) recordError(ctx context.Context, d Delivery, target, host string, attempts int, msg string) {
	if s.recorder == nil {
		return
	}

	sanitized := platformnet.SanitizeURL(target)
	ev := capture.Event{
		ID:         capture.NewEventID(),
		WebhookID:  d.Event.WebhookID,
		Timestamp:  time.Now().UnixMilli(),
		Type:       capture.TypeForwardError,
		Method:     http.MethodPost,
		RequestURL: sanitized,
		Body:       map[string]any{"error": msg, "targetUrl": sanitized},
		Attempts:   attempts,
		LastError:  msg,
		TargetHost: host,
	}

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.recorder.InsertLog(persistCtx, ev); err != nil {
		metrics.RecordCapturePersist("error")
		s.log.Error().
			Err(err).
			Str("event", "forward.error_record_failed").
			Str(log.FieldWebhookID, d.Event.WebhookID).
			Str(log.FieldTargetHost, host).
			Msg("could not persist forward_error capture")
	}
}

func (s *Service) backoffFor(attempt int) time.Duration {
	wait := s.backoffBase << (attempt - 1)
	if wait <= 0 || wait > s.backoffMax {
		wait = s.backoffMax
	}
	// Uniform jitter in [0.75w, 1.25w].
	span := int64(wait / 2)
	if span <= 0 {
		return wait
	}
	return wait - wait/4 + time.Duration(s.randInt63n(span+1))
}

func (s *Service) randInt63n(n int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rnd.Int63n(n)
}

// BuildHeaders derives the outbound header set from a capture and reports
// which stored header names were withheld. Transmission-specific headers and
// masked values never leave the process; replay surfaces the withheld names
// to the caller.
func BuildHeaders(ev *capture.Event, forwardAll bool) (http.Header, []string) {
	h := http.Header{}
	var stripped []string

	if !forwardAll {
		for name, value := range ev.Headers {
			lower := strings.ToLower(name)
			if lower == "content-type" && !capture.IsMasked(value) {
				continue
			}
			stripped = append(stripped, lower)
		}
		sort.Strings(stripped)
		if ev.ContentType != "" {
			h.Set("Content-Type", ev.ContentType)
		} else if ct, ok := ev.Headers["content-type"]; ok && !capture.IsMasked(ct) {
			h.Set("Content-Type", ct)
		}
		h.Set("X-Forwarded-By", ForwardedBy)
		return h, stripped
	}

	for name, value := range ev.Headers {
		lower := strings.ToLower(name)
		if _, drop := strippedOutbound[lower]; drop {
			stripped = append(stripped, lower)
			continue
		}
		if capture.IsMasked(value) {
			stripped = append(stripped, lower)
			continue
		}
		h.Set(lower, value)
	}
	sort.Strings(stripped)
	h.Set("X-Forwarded-By", ForwardedBy)
	return h, stripped
}

// classify canonicalizes a transport error to the delivery policy's code
// set. transient=false means the delivery must not be retried.
func classify(err error) (code string, transient bool) {
	if err == nil {
		return "", false
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsNotFound {
			return CodeDNSNotFound, true
		}
		return CodeDNSAgain, true
	}

	switch {
	case errors.Is(err, syscall.ECONNABORTED):
		return CodeConnAborted, true
	case errors.Is(err, syscall.ECONNRESET):
		return CodeConnReset, true
	case errors.Is(err, syscall.ETIMEDOUT):
		return CodeTimedOut, true
	case errors.Is(err, syscall.ENETUNREACH):
		return CodeNetUnreach, true
	case errors.Is(err, syscall.EHOSTUNREACH):
		return CodeHostUnreach, true
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimedOut, true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CodeTimedOut, true
	}
	return "", false
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
