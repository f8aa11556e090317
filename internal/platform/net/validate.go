// SPDX-License-Identifier: MIT

// Package net validates outbound target URLs before the daemon will connect
// to them. Forwarding and replay both route every user-supplied URL through
// Validate, which blocks internal and reserved address ranges.
package net

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/log"
	"golang.org/x/net/idna"
)

// Reason classifies why a URL was rejected.
type Reason string

const (
	ReasonInvalidURL            Reason = "INVALID_URL"
	ReasonProtocolNotAllowed    Reason = "PROTOCOL_NOT_ALLOWED"
	ReasonCredentialsNotAllowed Reason = "CREDENTIALS_NOT_ALLOWED"
	ReasonInternalIP            Reason = "INTERNAL_IP"
	ReasonResolutionFailed      Reason = "HOSTNAME_RESOLUTION_FAILED"
	ReasonInvalidIP             Reason = "INVALID_IP"
	ReasonValidationFailed      Reason = "VALIDATION_FAILED"
)

// Result is the outcome of a target URL validation. When Safe is false,
// Reason and Message describe the rejection; Validate never returns an error.
type Result struct {
	Safe    bool
	Href    string
	Host    string
	Reason  Reason
	Message string
}

// blockedRanges covers loopback, RFC1918, link-local (incl. the
// 169.254.0.0/16 metadata range), carrier-grade NAT, multicast, reserved,
// unique-local and unspecified addresses for both families.
var blockedRanges = mustParseCIDRs([]string{
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16",
	"100.64.0.0/10",
	"224.0.0.0/4",
	"240.0.0.0/4",
	"0.0.0.0/8",
	"::1/128",
	"fe80::/10",
	"fc00::/7",
	"ff00::/8",
	"::/128",
})

func mustParseCIDRs(entries []string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(entries))
	for _, entry := range entries {
		_, ipnet, err := net.ParseCIDR(entry)
		if err != nil {
			panic(fmt.Sprintf("bad builtin CIDR %q: %v", entry, err))
		}
		nets = append(nets, ipnet)
	}
	return nets
}

// Resolver is the DNS lookup dependency, satisfied by *net.Resolver.
type Resolver interface {
	LookupIP(ctx context.Context, network, host string) ([]net.IP, error)
}

// Validator checks target URLs. The zero value is not usable; construct with
// NewValidator.
type Validator struct {
	resolver Resolver
	timeout  time.Duration
}

// Option configures a Validator.
type Option func(*Validator)

// WithResolver injects a DNS resolver, used by tests.
func WithResolver(r Resolver) Option {
	return func(v *Validator) { v.resolver = r }
}

// WithResolveTimeout bounds the combined A/AAAA resolution.
func WithResolveTimeout(d time.Duration) Option {
	return func(v *Validator) {
		if d > 0 {
			v.timeout = d
		}
	}
}

// NewValidator builds a Validator with the system resolver and a 5 s
// resolution deadline.
func NewValidator(opts ...Option) *Validator {
	v := &Validator{
		resolver: net.DefaultResolver,
		timeout:  5 * time.Second,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func unsafe(reason Reason, format string, args ...any) Result {
	return Result{Safe: false, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// Validate parses, normalizes and resolves rawURL and evaluates every
// address it maps to against the blocked ranges. Failures are classified
// into the Result; Validate never panics and never returns an error value.
func (v *Validator) Validate(ctx context.Context, rawURL string) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			logger := log.WithComponent("ssrf")
			logger.Error().
				Str(log.FieldTargetURL, rawURL).
				Interface("panic_value", r).
				Msg("unexpected failure while validating target url")
			res = unsafe(ReasonValidationFailed, "validation failed: %v", r)
		}
	}()

	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return unsafe(ReasonInvalidURL, "url is empty")
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return unsafe(ReasonInvalidURL, "invalid url: %v", err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return unsafe(ReasonProtocolNotAllowed, "protocol %q not allowed", u.Scheme)
	}

	if u.User != nil {
		return unsafe(ReasonCredentialsNotAllowed, "embedded credentials not allowed")
	}

	hostname := u.Hostname()
	if hostname == "" {
		return unsafe(ReasonInvalidURL, "url has no host")
	}

	// IP literals (v4, bracketed v6, IPv4-mapped v6) are checked directly.
	if ip := net.ParseIP(hostname); ip != nil {
		if isBlocked(ip) {
			return unsafe(ReasonInternalIP, "ip %s is in a blocked range", ip)
		}
		return safeResult(u, strings.ToLower(ip.String()))
	}

	host, err := normalizeHostname(hostname)
	if err != nil {
		return unsafe(ReasonInvalidURL, "invalid host %q: %v", hostname, err)
	}

	ips, reason, msg := v.resolveBothFamilies(ctx, host)
	if reason != "" {
		return unsafe(reason, "%s", msg)
	}

	for _, ip := range ips {
		if ip == nil {
			return unsafe(ReasonInvalidIP, "resolver returned an unparseable address for %s", host)
		}
		if isBlocked(ip) {
			return unsafe(ReasonInternalIP, "host %s resolves to blocked ip %s", host, ip)
		}
	}

	return safeResult(u, host)
}

func safeResult(u *url.URL, host string) Result {
	normalized := *u
	normalized.Scheme = strings.ToLower(u.Scheme)
	if port := u.Port(); port != "" {
		normalized.Host = joinHostPort(host, port)
	} else {
		normalized.Host = joinHostPort(host, "")
	}
	return Result{Safe: true, Href: normalized.String(), Host: host}
}

// resolveBothFamilies runs the A and AAAA lookups concurrently under one
// deadline. Either lookup may fail; at least one non-empty success is
// required.
func (v *Validator) resolveBothFamilies(ctx context.Context, host string) ([]net.IP, Reason, string) {
	if ctx == nil {
		ctx = context.Background()
	}
	lookupCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	type outcome struct {
		ips []net.IP
		err error
	}

	results := make(chan outcome, 2)
	for _, network := range []string{"ip4", "ip6"} {
		go func(network string) {
			ips, err := v.resolver.LookupIP(lookupCtx, network, host)
			results <- outcome{ips: ips, err: err}
		}(network)
	}

	var ips []net.IP
	var errs []error
	for i := 0; i < 2; i++ {
		out := <-results
		if out.err != nil {
			errs = append(errs, out.err)
			continue
		}
		ips = append(ips, out.ips...)
	}

	if len(ips) == 0 {
		detail := "no addresses"
		if len(errs) > 0 {
			detail = errs[0].Error()
		}
		return nil, ReasonResolutionFailed, fmt.Sprintf("could not resolve %s: %s", host, detail)
	}
	return ips, "", ""
}

// normalizeHostname lowercases and IDNA-encodes a hostname.
func normalizeHostname(raw string) (string, error) {
	host := strings.TrimSuffix(strings.TrimSpace(raw), ".")
	if host == "" {
		return "", fmt.Errorf("host is empty")
	}
	if strings.Contains(host, "%") {
		return "", fmt.Errorf("zone identifiers not allowed")
	}
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", err
	}
	return strings.ToLower(ascii), nil
}

// isBlocked evaluates a parsed IP against the builtin blocked ranges.
// IPv4-mapped IPv6 addresses are unwrapped to their v4 form first.
func isBlocked(ip net.IP) bool {
	if ip == nil {
		return true
	}
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	for _, ipnet := range blockedRanges {
		if ipnet.Contains(ip) {
			return true
		}
	}
	return false
}

// CheckIPInRanges reports whether ip falls inside any of the given ranges.
// Entries may be CIDRs or exact IPs; malformed entries are skipped. An
// empty or unparseable ip yields false. Pure function.
func CheckIPInRanges(ip string, ranges []string) bool {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return false
	}
	if v4 := parsed.To4(); v4 != nil {
		parsed = v4
	}
	for _, entry := range ranges {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if _, ipnet, err := net.ParseCIDR(entry); err == nil {
			if ipnet.Contains(parsed) {
				return true
			}
			continue
		}
		if exact := net.ParseIP(entry); exact != nil && exact.Equal(parsed) {
			return true
		}
	}
	return false
}

func joinHostPort(host, port string) string {
	if port == "" {
		if strings.Contains(host, ":") {
			return "[" + host + "]"
		}
		return host
	}
	return net.JoinHostPort(host, port)
}
