// SPDX-License-Identifier: MIT

// Package signature verifies provider HMAC signatures on inbound webhook
// payloads. It supports GitHub, Shopify, Stripe, Slack and custom-header
// schemes, in both an eager (buffered payload) and a streaming form that
// consumes body bytes as they arrive.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Supported provider names.
const (
	ProviderGitHub  = "github"
	ProviderShopify = "shopify"
	ProviderStripe  = "stripe"
	ProviderSlack   = "slack"
	ProviderCustom  = "custom"
)

// Error codes carried in Outcome.Err.
const (
	ErrNoSecret            = "NO_SECRET"
	ErrMissingHeader       = "MISSING_HEADER"
	ErrInvalidFormat       = "INVALID_FORMAT"
	ErrTimestampTolerance  = "TIMESTAMP_TOLERANCE"
	ErrUnsupportedProvider = "UNSUPPORTED_PROVIDER"
)

// DefaultTolerance bounds how far a signed timestamp may drift from now.
const DefaultTolerance = 300 * time.Second

// Config selects the provider scheme and its secret.
type Config struct {
	Provider     string
	Secret       string
	HeaderName   string        // custom provider: signature header
	TimestampKey string        // custom provider: optional timestamp header
	Tolerance    time.Duration // 0 means DefaultTolerance
}

func (c Config) tolerance() time.Duration {
	if c.Tolerance <= 0 {
		return DefaultTolerance
	}
	return c.Tolerance
}

// Outcome is the result of a verification. Verification never panics or
// returns a Go error: every failure mode is captured in Err.
type Outcome struct {
	Valid    bool
	Provider string
	Err      string
}

func failure(provider, code string) Outcome {
	return Outcome{Valid: false, Provider: provider, Err: code}
}

// Verify computes the provider HMAC over the buffered payload and compares
// it in constant time against the signature header.
func Verify(cfg Config, payload []byte, headers http.Header) Outcome {
	sv := NewStreamVerifier(cfg, headers)
	_, _ = sv.Write(payload)
	return sv.Finalize()
}

// StreamVerifier accumulates the HMAC while the request body is read.
// Feed it through an io.TeeReader or explicit Write calls, then call
// Finalize once the body is consumed.
type StreamVerifier struct {
	provider string
	mac      hash.Hash
	expected [][]byte
	err      string
}

var _ interface{ Write([]byte) (int, error) } = (*StreamVerifier)(nil)

// NewStreamVerifier prepares the HMAC state and extracts the expected
// signature from the headers. Setup failures (missing secret, missing or
// malformed headers, timestamp drift) are deferred to Finalize so callers
// can keep streaming the body regardless.
func NewStreamVerifier(cfg Config, headers http.Header) *StreamVerifier {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	sv := &StreamVerifier{provider: provider}

	if cfg.Secret == "" {
		sv.err = ErrNoSecret
		return sv
	}

	switch provider {
	case ProviderGitHub:
		sv.setupGitHub(cfg, headers)
	case ProviderShopify:
		sv.setupShopify(cfg, headers)
	case ProviderStripe:
		sv.setupStripe(cfg, headers)
	case ProviderSlack:
		sv.setupSlack(cfg, headers)
	case ProviderCustom:
		sv.setupCustom(cfg, headers)
	default:
		sv.err = ErrUnsupportedProvider
	}
	return sv
}

// Write feeds body bytes into the HMAC. It never fails; after a setup
// error the bytes are discarded.
func (sv *StreamVerifier) Write(p []byte) (int, error) {
	if sv.err == "" && sv.mac != nil {
		sv.mac.Write(p)
	}
	return len(p), nil
}

// Finalize completes the HMAC and compares it against the expected
// signature(s) in constant time.
func (sv *StreamVerifier) Finalize() Outcome {
	if sv.err != "" {
		return failure(sv.provider, sv.err)
	}
	if sv.mac == nil || len(sv.expected) == 0 {
		return failure(sv.provider, ErrInvalidFormat)
	}
	sum := sv.mac.Sum(nil)
	for _, want := range sv.expected {
		if hmac.Equal(sum, want) {
			return Outcome{Valid: true, Provider: sv.provider}
		}
	}
	return Outcome{Valid: false, Provider: sv.provider}
}

func (sv *StreamVerifier) setupGitHub(cfg Config, headers http.Header) {
	value := headers.Get("X-Hub-Signature-256")
	if value == "" {
		sv.err = ErrMissingHeader
		return
	}
	hexSig, ok := strings.CutPrefix(value, "sha256=")
	if !ok {
		sv.err = ErrInvalidFormat
		return
	}
	raw, err := hex.DecodeString(hexSig)
	if err != nil || len(raw) == 0 {
		sv.err = ErrInvalidFormat
		return
	}
	sv.mac = hmac.New(sha256.New, []byte(cfg.Secret))
	sv.expected = [][]byte{raw}
}

func (sv *StreamVerifier) setupShopify(cfg Config, headers http.Header) {
	value := headers.Get("X-Shopify-Hmac-SHA256")
	if value == "" {
		sv.err = ErrMissingHeader
		return
	}
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil || len(raw) == 0 {
		sv.err = ErrInvalidFormat
		return
	}
	if ts := headers.Get("X-Shopify-Triggered-At"); ts != "" {
		at, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			sv.err = ErrInvalidFormat
			return
		}
		if !withinTolerance(at, cfg.tolerance()) {
			sv.err = ErrTimestampTolerance
			return
		}
	}
	sv.mac = hmac.New(sha256.New, []byte(cfg.Secret))
	sv.expected = [][]byte{raw}
}

func (sv *StreamVerifier) setupStripe(cfg Config, headers http.Header) {
	value := headers.Get("Stripe-Signature")
	if value == "" {
		sv.err = ErrMissingHeader
		return
	}

	var tsPart string
	var sigs [][]byte
	for _, part := range strings.Split(value, ",") {
		key, val, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			tsPart = val
		case "v1":
			if raw, err := hex.DecodeString(val); err == nil && len(raw) > 0 {
				sigs = append(sigs, raw)
			}
		}
	}
	if tsPart == "" || len(sigs) == 0 {
		sv.err = ErrInvalidFormat
		return
	}
	seconds, err := strconv.ParseInt(tsPart, 10, 64)
	if err != nil {
		sv.err = ErrInvalidFormat
		return
	}
	if !withinTolerance(time.Unix(seconds, 0), cfg.tolerance()) {
		sv.err = ErrTimestampTolerance
		return
	}

	// Stripe signs "<t>.<body>".
	sv.mac = hmac.New(sha256.New, []byte(cfg.Secret))
	fmt.Fprintf(sv.mac, "%s.", tsPart)
	sv.expected = sigs
}

func (sv *StreamVerifier) setupSlack(cfg Config, headers http.Header) {
	value := headers.Get("X-Slack-Signature")
	tsValue := headers.Get("X-Slack-Request-Timestamp")
	if value == "" || tsValue == "" {
		sv.err = ErrMissingHeader
		return
	}
	hexSig, ok := strings.CutPrefix(value, "v0=")
	if !ok {
		sv.err = ErrInvalidFormat
		return
	}
	raw, err := hex.DecodeString(hexSig)
	if err != nil || len(raw) == 0 {
		sv.err = ErrInvalidFormat
		return
	}
	seconds, err := strconv.ParseInt(tsValue, 10, 64)
	if err != nil {
		sv.err = ErrInvalidFormat
		return
	}
	if !withinTolerance(time.Unix(seconds, 0), cfg.tolerance()) {
		sv.err = ErrTimestampTolerance
		return
	}

	// Slack signs "v0:<timestamp>:<body>".
	sv.mac = hmac.New(sha256.New, []byte(cfg.Secret))
	fmt.Fprintf(sv.mac, "v0:%s:", tsValue)
	sv.expected = [][]byte{raw}
}

func (sv *StreamVerifier) setupCustom(cfg Config, headers http.Header) {
	if cfg.HeaderName == "" {
		sv.err = ErrInvalidFormat
		return
	}
	value := headers.Get(cfg.HeaderName)
	if value == "" {
		sv.err = ErrMissingHeader
		return
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(value, "sha256="))
	if err != nil || len(raw) == 0 {
		sv.err = ErrInvalidFormat
		return
	}
	if cfg.TimestampKey != "" {
		tsValue := headers.Get(cfg.TimestampKey)
		if tsValue == "" {
			sv.err = ErrMissingHeader
			return
		}
		seconds, err := strconv.ParseInt(tsValue, 10, 64)
		if err != nil {
			sv.err = ErrInvalidFormat
			return
		}
		if !withinTolerance(time.Unix(seconds, 0), cfg.tolerance()) {
			sv.err = ErrTimestampTolerance
			return
		}
	}
	sv.mac = hmac.New(sha256.New, []byte(cfg.Secret))
	sv.expected = [][]byte{raw}
}

func withinTolerance(at time.Time, tolerance time.Duration) bool {
	drift := time.Since(at)
	if drift < 0 {
		drift = -drift
	}
	return drift <= tolerance
}
