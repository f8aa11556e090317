// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/log"
	"github.com/rs/zerolog"
)

// ParseString reads a string from environment variable or returns default value.
// It logs the source (environment or default) for observability.
func ParseString(key, defaultValue string) string {
	return parseStringWithLogger(log.WithComponent("config"), key, defaultValue)
}

func parseStringWithLogger(logger zerolog.Logger, key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		lowerKey := strings.ToLower(key)
		switch {
		case strings.Contains(lowerKey, "key") || strings.Contains(lowerKey, "secret") || strings.Contains(lowerKey, "token"):
			// For sensitive vars, just log that it was set
			logger.Debug().
				Str("key", key).
				Str("source", "environment").
				Bool("sensitive", true).
				Msg("using environment variable")
		case value == "":
			logger.Debug().
				Str("key", key).
				Str("default", defaultValue).
				Str("source", "default").
				Msg("using default value (environment variable is empty)")
			return defaultValue
		default:
			logger.Debug().
				Str("key", key).
				Str("value", value).
				Str("source", "environment").
				Msg("using environment variable")
		}
		return value
	}
	logger.Debug().
		Str("key", key).
		Str("default", defaultValue).
		Str("source", "default").
		Msg("using default value")
	return defaultValue
}

// ParseInt reads an integer from environment variable or returns default value.
// It validates the input and falls back to default on parse errors.
func ParseInt(key string, defaultValue int) int {
	logger := log.WithComponent("config")
	if v, ok := os.LookupEnv(key); ok {
		if v == "" {
			return defaultValue
		}
		if i, err := strconv.Atoi(v); err == nil {
			logger.Debug().
				Str("key", key).
				Int("value", i).
				Str("source", "environment").
				Msg("using environment variable")
			return i
		}
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Int("default", defaultValue).
			Msg("invalid integer in environment variable, using default")
	}
	return defaultValue
}

// ParseInt64 reads a 64-bit integer from environment variable.
func ParseInt64(key string, defaultValue int64) int64 {
	logger := log.WithComponent("config")
	if v, ok := os.LookupEnv(key); ok {
		if v == "" {
			return defaultValue
		}
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Int64("default", defaultValue).
			Msg("invalid integer in environment variable, using default")
	}
	return defaultValue
}

// ParseBool reads a boolean from environment variable.
func ParseBool(key string, defaultValue bool) bool {
	logger := log.WithComponent("config")
	if v, ok := os.LookupEnv(key); ok {
		if v == "" {
			return defaultValue
		}
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Bool("default", defaultValue).
			Msg("invalid boolean in environment variable, using default")
	}
	return defaultValue
}

// ParseFloat reads a float from environment variable.
func ParseFloat(key string, defaultValue float64) float64 {
	logger := log.WithComponent("config")
	if v, ok := os.LookupEnv(key); ok {
		if v == "" {
			return defaultValue
		}
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Float64("default", defaultValue).
			Msg("invalid float in environment variable, using default")
	}
	return defaultValue
}

// ParseStringList reads a comma-separated list from environment variable.
func ParseStringList(key string, defaultValue []string) []string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}

// applyEnv overlays WDL_* environment variables onto cfg.
func applyEnv(cfg Config) Config {
	cfg.Listen = ParseString("WDL_LISTEN", cfg.Listen)
	cfg.DataDir = ParseString("WDL_DATA_DIR", cfg.DataDir)
	cfg.LogLevel = ParseString("WDL_LOG_LEVEL", cfg.LogLevel)
	cfg.Storage = ParseString("WDL_STORAGE", cfg.Storage)
	cfg.RedisAddr = ParseString("WDL_REDIS_ADDR", cfg.RedisAddr)

	cfg.AuthKey = ParseString("WDL_AUTH_KEY", cfg.AuthKey)
	cfg.URLCount = ParseInt("WDL_URL_COUNT", cfg.URLCount)
	cfg.RetentionHours = ParseInt("WDL_RETENTION_HOURS", cfg.RetentionHours)
	cfg.MaxPayloadSize = ParseInt64("WDL_MAX_PAYLOAD_SIZE", cfg.MaxPayloadSize)
	cfg.RateLimitPerMinute = ParseInt("WDL_RATE_LIMIT_PER_MINUTE", cfg.RateLimitPerMinute)
	cfg.AllowedIPs = ParseStringList("WDL_ALLOWED_IPS", cfg.AllowedIPs)
	cfg.ForwardURL = ParseString("WDL_FORWARD_URL", cfg.ForwardURL)
	cfg.ForwardHeaders = ParseBool("WDL_FORWARD_HEADERS", cfg.ForwardHeaders)
	cfg.MaxForwardRetries = ParseInt("WDL_MAX_FORWARD_RETRIES", cfg.MaxForwardRetries)
	cfg.ReplayMaxRetries = ParseInt("WDL_REPLAY_MAX_RETRIES", cfg.ReplayMaxRetries)
	cfg.ReplayTimeoutMs = ParseInt("WDL_REPLAY_TIMEOUT_MS", cfg.ReplayTimeoutMs)
	cfg.ResponseDelayMs = ParseInt("WDL_RESPONSE_DELAY_MS", cfg.ResponseDelayMs)
	cfg.MaskSensitiveData = ParseBool("WDL_MASK_SENSITIVE_DATA", cfg.MaskSensitiveData)
	cfg.CustomScript = ParseString("WDL_CUSTOM_SCRIPT", cfg.CustomScript)
	cfg.JSONSchema = ParseString("WDL_JSON_SCHEMA", cfg.JSONSchema)
	cfg.EnableJSONParsing = ParseBool("WDL_ENABLE_JSON_PARSING", cfg.EnableJSONParsing)
	cfg.UseFixedMemory = ParseBool("WDL_USE_FIXED_MEMORY", cfg.UseFixedMemory)
	cfg.FixedMemoryMbytes = ParseInt("WDL_FIXED_MEMORY_MBYTES", cfg.FixedMemoryMbytes)

	cfg.Signature.Provider = ParseString("WDL_SIGNATURE_PROVIDER", cfg.Signature.Provider)
	cfg.Signature.Secret = ParseString("WDL_SIGNATURE_SECRET", cfg.Signature.Secret)
	cfg.Signature.HeaderName = ParseString("WDL_SIGNATURE_HEADER", cfg.Signature.HeaderName)
	cfg.Signature.TimestampKey = ParseString("WDL_SIGNATURE_TIMESTAMP_KEY", cfg.Signature.TimestampKey)
	cfg.Signature.ToleranceSec = ParseInt("WDL_SIGNATURE_TOLERANCE", cfg.Signature.ToleranceSec)
	cfg.Signature.Reject = ParseBool("WDL_SIGNATURE_REJECT", cfg.Signature.Reject)

	cfg.OffloadThresholdBytes = ParseInt64("WDL_OFFLOAD_THRESHOLD_BYTES", cfg.OffloadThresholdBytes)
	cfg.BackgroundTaskTimeoutMs = ParseInt("WDL_BACKGROUND_TASK_TIMEOUT_MS", cfg.BackgroundTaskTimeoutMs)
	cfg.BackgroundWorkers = ParseInt("WDL_BACKGROUND_WORKERS", cfg.BackgroundWorkers)
	cfg.MgmtRateLimitPerMinute = ParseInt("WDL_MGMT_RATE_LIMIT_PER_MINUTE", cfg.MgmtRateLimitPerMinute)
	cfg.InputPollIntervalMs = ParseInt("WDL_INPUT_POLL_INTERVAL_MS", cfg.InputPollIntervalMs)
	cfg.CleanupIntervalMs = ParseInt("WDL_CLEANUP_INTERVAL_MS", cfg.CleanupIntervalMs)
	cfg.HeartbeatIntervalMs = ParseInt("WDL_HEARTBEAT_INTERVAL_MS", cfg.HeartbeatIntervalMs)
	cfg.ShutdownTimeoutMs = ParseInt("WDL_SHUTDOWN_TIMEOUT_MS", cfg.ShutdownTimeoutMs)
	cfg.DefaultPageLimit = ParseInt("WDL_DEFAULT_PAGE_LIMIT", cfg.DefaultPageLimit)
	cfg.MaxPageLimit = ParseInt("WDL_MAX_PAGE_LIMIT", cfg.MaxPageLimit)
	cfg.TestAndExitSec = ParseInt("WDL_TEST_AND_EXIT_SEC", cfg.TestAndExitSec)
	cfg.EgressRPS = ParseFloat("WDL_EGRESS_RPS", cfg.EgressRPS)

	cfg.Telemetry.Enabled = ParseBool("WDL_OTEL_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.Exporter = ParseString("WDL_OTEL_EXPORTER", cfg.Telemetry.Exporter)
	cfg.Telemetry.Endpoint = ParseString("WDL_OTEL_ENDPOINT", cfg.Telemetry.Endpoint)
	cfg.Telemetry.SamplingRate = ParseFloat("WDL_OTEL_SAMPLING_RATE", cfg.Telemetry.SamplingRate)

	return cfg
}
