// SPDX-License-Identifier: MIT

package config

import (
	"encoding/json"
	"fmt"
	"net"
)

var signatureProviders = map[string]bool{
	"github":  true,
	"shopify": true,
	"stripe":  true,
	"slack":   true,
	"custom":  true,
}

// Validate checks a candidate configuration. A failed validation keeps the
// previous snapshot in place during hot reload.
func Validate(cfg Config) error {
	if cfg.Listen == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if _, _, err := net.SplitHostPort(cfg.Listen); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", cfg.Listen, err)
	}
	if cfg.DataDir == "" {
		return fmt.Errorf("dataDir must not be empty")
	}

	switch cfg.Storage {
	case "badger":
	case "redis":
		if cfg.RedisAddr == "" {
			return fmt.Errorf("storage %q requires redisAddr", cfg.Storage)
		}
	default:
		return fmt.Errorf("unsupported storage backend %q (supported: badger, redis)", cfg.Storage)
	}

	if cfg.URLCount < 0 {
		return fmt.Errorf("urlCount must be >= 0, got %d", cfg.URLCount)
	}
	if cfg.RetentionHours < 1 {
		return fmt.Errorf("retentionHours must be >= 1, got %d", cfg.RetentionHours)
	}
	if cfg.MaxPayloadSize < 1 {
		return fmt.Errorf("maxPayloadSize must be >= 1, got %d", cfg.MaxPayloadSize)
	}
	if cfg.RateLimitPerMinute < 1 {
		return fmt.Errorf("rateLimitPerMinute must be >= 1, got %d", cfg.RateLimitPerMinute)
	}
	if cfg.MgmtRateLimitPerMinute < 1 {
		return fmt.Errorf("mgmtRateLimitPerMinute must be >= 1, got %d", cfg.MgmtRateLimitPerMinute)
	}

	if err := validateCIDRList("allowedIps", cfg.AllowedIPs); err != nil {
		return err
	}

	if cfg.MaxForwardRetries < 1 || cfg.MaxForwardRetries > 10 {
		return fmt.Errorf("maxForwardRetries must be in [1,10], got %d", cfg.MaxForwardRetries)
	}
	if cfg.ReplayMaxRetries < 1 || cfg.ReplayMaxRetries > 10 {
		return fmt.Errorf("replayMaxRetries must be in [1,10], got %d", cfg.ReplayMaxRetries)
	}
	if cfg.ReplayTimeoutMs < 1 {
		return fmt.Errorf("replayTimeoutMs must be >= 1, got %d", cfg.ReplayTimeoutMs)
	}
	if cfg.ResponseDelayMs < 0 || cfg.ResponseDelayMs > 30000 {
		return fmt.Errorf("responseDelayMs must be in [0,30000], got %d", cfg.ResponseDelayMs)
	}

	if cfg.Signature.Provider != "" {
		if !signatureProviders[cfg.Signature.Provider] {
			return fmt.Errorf("unsupported signature provider %q", cfg.Signature.Provider)
		}
		if cfg.Signature.Secret == "" {
			return fmt.Errorf("signature provider %q requires a secret", cfg.Signature.Provider)
		}
		if cfg.Signature.Provider == "custom" && cfg.Signature.HeaderName == "" {
			return fmt.Errorf("signature provider custom requires headerName")
		}
		if cfg.Signature.ToleranceSec < 0 {
			return fmt.Errorf("signature tolerance must be >= 0, got %d", cfg.Signature.ToleranceSec)
		}
	}

	if cfg.JSONSchema != "" && !json.Valid([]byte(cfg.JSONSchema)) {
		return fmt.Errorf("jsonSchema is not valid JSON")
	}

	if cfg.OffloadThresholdBytes < 1 {
		return fmt.Errorf("offloadThresholdBytes must be >= 1, got %d", cfg.OffloadThresholdBytes)
	}
	if cfg.BackgroundTaskTimeoutMs < 10 {
		return fmt.Errorf("backgroundTaskTimeoutMs must be >= 10, got %d", cfg.BackgroundTaskTimeoutMs)
	}
	if cfg.BackgroundWorkers < 1 {
		return fmt.Errorf("backgroundWorkers must be >= 1, got %d", cfg.BackgroundWorkers)
	}
	if cfg.InputPollIntervalMs < 100 {
		return fmt.Errorf("inputPollIntervalMs must be >= 100, got %d", cfg.InputPollIntervalMs)
	}
	if cfg.CleanupIntervalMs < 1000 {
		return fmt.Errorf("cleanupIntervalMs must be >= 1000, got %d", cfg.CleanupIntervalMs)
	}
	if cfg.HeartbeatIntervalMs < 1000 {
		return fmt.Errorf("heartbeatIntervalMs must be >= 1000, got %d", cfg.HeartbeatIntervalMs)
	}
	if cfg.ShutdownTimeoutMs < 1000 {
		return fmt.Errorf("shutdownTimeoutMs must be >= 1000, got %d", cfg.ShutdownTimeoutMs)
	}
	if cfg.DefaultPageLimit < 1 {
		return fmt.Errorf("defaultPageLimit must be >= 1, got %d", cfg.DefaultPageLimit)
	}
	if cfg.MaxPageLimit < cfg.DefaultPageLimit {
		return fmt.Errorf("maxPageLimit (%d) must be >= defaultPageLimit (%d)", cfg.MaxPageLimit, cfg.DefaultPageLimit)
	}
	if cfg.TestAndExitSec < 0 {
		return fmt.Errorf("testAndExitSec must be >= 0, got %d", cfg.TestAndExitSec)
	}
	if cfg.EgressRPS <= 0 {
		return fmt.Errorf("egressRps must be > 0, got %v", cfg.EgressRPS)
	}

	if cfg.Telemetry.Enabled {
		switch cfg.Telemetry.Exporter {
		case "grpc", "http":
		default:
			return fmt.Errorf("unsupported telemetry exporter %q (supported: grpc, http)", cfg.Telemetry.Exporter)
		}
		if cfg.Telemetry.Endpoint == "" {
			return fmt.Errorf("telemetry requires an endpoint when enabled")
		}
		if cfg.Telemetry.SamplingRate < 0 || cfg.Telemetry.SamplingRate > 1 {
			return fmt.Errorf("telemetry samplingRate must be in [0,1], got %v", cfg.Telemetry.SamplingRate)
		}
	}

	return nil
}

// validateCIDRList validates a list of CIDR/IP entries and blocks forbidden networks.
func validateCIDRList(key string, entries []string) error {
	for _, entry := range entries {
		if entry == "" {
			continue
		}

		ip, ipnet, err := net.ParseCIDR(entry)
		if err == nil {
			if err := checkForbiddenNetwork(key, entry, ip, ipnet); err != nil {
				return err
			}
			continue
		}

		ip = net.ParseIP(entry)
		if ip == nil {
			return fmt.Errorf("invalid %s: invalid entry %q (must be CIDR or IP)", key, entry)
		}

		if err := checkForbiddenIP(key, entry, ip); err != nil {
			return err
		}
	}
	return nil
}

// checkForbiddenNetwork checks if a CIDR network is forbidden (e.g., 0.0.0.0/0, ::/0).
func checkForbiddenNetwork(key, entry string, ip net.IP, ipnet *net.IPNet) error {
	ones, bits := ipnet.Mask.Size()

	if ones == 0 {
		if bits == 32 {
			return fmt.Errorf("%s contains forbidden CIDR %q (allow-all IPv4 is not allowed)", key, entry)
		}
		if bits == 128 {
			return fmt.Errorf("%s contains forbidden CIDR %q (allow-all IPv6 is not allowed)", key, entry)
		}
	}

	if ip.IsUnspecified() {
		if (bits == 32 && ones == 32) || (bits == 128 && ones == 128) {
			return fmt.Errorf("%s contains unspecified address %q (not allowed)", key, entry)
		}
	}

	return nil
}

// checkForbiddenIP checks if a single IP is forbidden (e.g., 0.0.0.0, ::).
func checkForbiddenIP(key, entry string, ip net.IP) error {
	if ip.IsUnspecified() {
		return fmt.Errorf("%s contains unspecified address %q (not allowed)", key, entry)
	}
	return nil
}
