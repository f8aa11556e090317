// SPDX-License-Identifier: MIT

// Package config defines the runtime configuration snapshot and its
// loading, validation and hot-reload machinery.
package config

import "time"

// SignatureConfig describes provider signature verification for inbound
// webhook payloads.
type SignatureConfig struct {
	Provider     string `json:"provider" yaml:"provider"`
	Secret       string `json:"secret" yaml:"secret"`
	HeaderName   string `json:"headerName,omitempty" yaml:"headerName,omitempty"`
	TimestampKey string `json:"timestampKey,omitempty" yaml:"timestampKey,omitempty"`
	ToleranceSec int    `json:"tolerance,omitempty" yaml:"tolerance,omitempty"`
	Reject       bool   `json:"reject,omitempty" yaml:"reject,omitempty"`
}

// Enabled reports whether signature verification is configured.
func (s SignatureConfig) Enabled() bool {
	return s.Provider != ""
}

// Tolerance returns the timestamp tolerance as a duration.
func (s SignatureConfig) Tolerance() time.Duration {
	if s.ToleranceSec <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(s.ToleranceSec) * time.Second
}

// TelemetryConfig controls the optional OpenTelemetry trace exporter.
type TelemetryConfig struct {
	Enabled      bool    `json:"enabled" yaml:"enabled"`
	Exporter     string  `json:"exporter,omitempty" yaml:"exporter,omitempty"` // "grpc" or "http"
	Endpoint     string  `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	SamplingRate float64 `json:"samplingRate,omitempty" yaml:"samplingRate,omitempty"`
}

// Config is the full runtime snapshot. Readers take one reference per
// request; hot reload swaps the snapshot atomically through Holder.
type Config struct {
	// Process settings (boot-only).
	Listen    string `json:"listen" yaml:"listen"`
	DataDir   string `json:"dataDir" yaml:"dataDir"`
	LogLevel  string `json:"logLevel" yaml:"logLevel"`
	Storage   string `json:"storage" yaml:"storage"` // "badger" or "redis"
	RedisAddr string `json:"redisAddr,omitempty" yaml:"redisAddr,omitempty"`

	// Webhook suite settings.
	AuthKey            string          `json:"authKey,omitempty" yaml:"authKey,omitempty"`
	URLCount           int             `json:"urlCount" yaml:"urlCount"`
	RetentionHours     int             `json:"retentionHours" yaml:"retentionHours"`
	MaxPayloadSize     int64           `json:"maxPayloadSize" yaml:"maxPayloadSize"`
	RateLimitPerMinute int             `json:"rateLimitPerMinute" yaml:"rateLimitPerMinute"`
	AllowedIPs         []string        `json:"allowedIps,omitempty" yaml:"allowedIps,omitempty"`
	ForwardURL         string          `json:"forwardUrl,omitempty" yaml:"forwardUrl,omitempty"`
	ForwardHeaders     bool            `json:"forwardHeaders" yaml:"forwardHeaders"`
	MaxForwardRetries  int             `json:"maxForwardRetries" yaml:"maxForwardRetries"`
	ReplayMaxRetries   int             `json:"replayMaxRetries" yaml:"replayMaxRetries"`
	ReplayTimeoutMs    int             `json:"replayTimeoutMs" yaml:"replayTimeoutMs"`
	ResponseDelayMs    int             `json:"responseDelayMs" yaml:"responseDelayMs"`
	MaskSensitiveData  bool            `json:"maskSensitiveData" yaml:"maskSensitiveData"`
	CustomScript       string          `json:"customScript,omitempty" yaml:"customScript,omitempty"`
	JSONSchema         string          `json:"jsonSchema,omitempty" yaml:"jsonSchema,omitempty"`
	Signature          SignatureConfig `json:"signatureVerification,omitempty" yaml:"signatureVerification,omitempty"`
	EnableJSONParsing  bool            `json:"enableJsonParsing" yaml:"enableJsonParsing"`
	UseFixedMemory     bool            `json:"useFixedMemory" yaml:"useFixedMemory"`
	FixedMemoryMbytes  int             `json:"fixedMemoryMbytes" yaml:"fixedMemoryMbytes"`

	// Operational tuning.
	OffloadThresholdBytes   int64           `json:"offloadThresholdBytes" yaml:"offloadThresholdBytes"`
	BackgroundTaskTimeoutMs int             `json:"backgroundTaskTimeoutMs" yaml:"backgroundTaskTimeoutMs"`
	BackgroundWorkers       int             `json:"backgroundWorkers" yaml:"backgroundWorkers"`
	MgmtRateLimitPerMinute  int             `json:"mgmtRateLimitPerMinute" yaml:"mgmtRateLimitPerMinute"`
	InputPollIntervalMs     int             `json:"inputPollIntervalMs" yaml:"inputPollIntervalMs"`
	CleanupIntervalMs       int             `json:"cleanupIntervalMs" yaml:"cleanupIntervalMs"`
	HeartbeatIntervalMs     int             `json:"heartbeatIntervalMs" yaml:"heartbeatIntervalMs"`
	ShutdownTimeoutMs       int             `json:"shutdownTimeoutMs" yaml:"shutdownTimeoutMs"`
	DefaultPageLimit        int             `json:"defaultPageLimit" yaml:"defaultPageLimit"`
	MaxPageLimit            int             `json:"maxPageLimit" yaml:"maxPageLimit"`
	TestAndExitSec          int             `json:"testAndExitSec,omitempty" yaml:"testAndExitSec,omitempty"`
	EgressRPS               float64         `json:"egressRps" yaml:"egressRps"`
	Telemetry               TelemetryConfig `json:"telemetry,omitempty" yaml:"telemetry,omitempty"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Listen:                  ":8080",
		DataDir:                 "./data",
		LogLevel:                "info",
		Storage:                 "badger",
		URLCount:                1,
		RetentionHours:          24,
		MaxPayloadSize:          1 << 20,
		RateLimitPerMinute:      60,
		ForwardHeaders:          true,
		MaxForwardRetries:       3,
		ReplayMaxRetries:        3,
		ReplayTimeoutMs:         10000,
		MaskSensitiveData:       true,
		EnableJSONParsing:       true,
		FixedMemoryMbytes:       256,
		OffloadThresholdBytes:   256 << 10,
		BackgroundTaskTimeoutMs: 30000,
		BackgroundWorkers:       64,
		MgmtRateLimitPerMinute:  120,
		InputPollIntervalMs:     5000,
		CleanupIntervalMs:       600000,
		HeartbeatIntervalMs:     30000,
		ShutdownTimeoutMs:       30000,
		DefaultPageLimit:        100,
		MaxPageLimit:            500,
		EgressRPS:               50,
	}
}

// ReplayTimeout returns the per-attempt replay timeout.
func (c Config) ReplayTimeout() time.Duration {
	return time.Duration(c.ReplayTimeoutMs) * time.Millisecond
}

// ResponseDelay returns the configured artificial response delay.
func (c Config) ResponseDelay() time.Duration {
	return time.Duration(c.ResponseDelayMs) * time.Millisecond
}

// BackgroundTaskTimeout returns the per-task deadline for background work.
func (c Config) BackgroundTaskTimeout() time.Duration {
	return time.Duration(c.BackgroundTaskTimeoutMs) * time.Millisecond
}

// InputPollInterval returns the keyed-storage INPUT poll interval.
func (c Config) InputPollInterval() time.Duration {
	return time.Duration(c.InputPollIntervalMs) * time.Millisecond
}

// CleanupInterval returns the expired-webhook sweep interval.
func (c Config) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalMs) * time.Millisecond
}

// HeartbeatInterval returns the SSE heartbeat interval.
func (c Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalMs) * time.Millisecond
}

// ShutdownTimeout returns the bounded total shutdown deadline.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutMs) * time.Millisecond
}

// AuthEnabled reports whether management endpoints require a bearer key.
func (c Config) AuthEnabled() bool {
	return c.AuthKey != ""
}
