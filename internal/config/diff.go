// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"strings"
)

// Change describes one reloaded configuration field, with sensitive values
// already masked.
type Change struct {
	Field string
	Old   string
	New   string
}

// Diff returns the changed hot-reloadable fields between two snapshots.
func Diff(old, newCfg Config) []Change {
	var changes []Change
	add := func(field, oldVal, newVal string) {
		if oldVal != newVal {
			changes = append(changes, Change{Field: field, Old: oldVal, New: newVal})
		}
	}

	add("retentionHours", fmt.Sprint(old.RetentionHours), fmt.Sprint(newCfg.RetentionHours))
	add("maxPayloadSize", fmt.Sprint(old.MaxPayloadSize), fmt.Sprint(newCfg.MaxPayloadSize))
	add("rateLimitPerMinute", fmt.Sprint(old.RateLimitPerMinute), fmt.Sprint(newCfg.RateLimitPerMinute))
	add("allowedIps", strings.Join(old.AllowedIPs, ","), strings.Join(newCfg.AllowedIPs, ","))
	add("forwardUrl", maskURL(old.ForwardURL), maskURL(newCfg.ForwardURL))
	add("forwardHeaders", fmt.Sprint(old.ForwardHeaders), fmt.Sprint(newCfg.ForwardHeaders))
	add("maxForwardRetries", fmt.Sprint(old.MaxForwardRetries), fmt.Sprint(newCfg.MaxForwardRetries))
	add("replayMaxRetries", fmt.Sprint(old.ReplayMaxRetries), fmt.Sprint(newCfg.ReplayMaxRetries))
	add("replayTimeoutMs", fmt.Sprint(old.ReplayTimeoutMs), fmt.Sprint(newCfg.ReplayTimeoutMs))
	add("responseDelayMs", fmt.Sprint(old.ResponseDelayMs), fmt.Sprint(newCfg.ResponseDelayMs))
	add("maskSensitiveData", fmt.Sprint(old.MaskSensitiveData), fmt.Sprint(newCfg.MaskSensitiveData))
	add("authKey", maskSecret(old.AuthKey), maskSecret(newCfg.AuthKey))
	add("customScript", digest(old.CustomScript), digest(newCfg.CustomScript))
	add("jsonSchema", digest(old.JSONSchema), digest(newCfg.JSONSchema))
	add("signatureVerification.provider", old.Signature.Provider, newCfg.Signature.Provider)
	add("signatureVerification.secret", maskSecret(old.Signature.Secret), maskSecret(newCfg.Signature.Secret))
	add("signatureVerification.reject", fmt.Sprint(old.Signature.Reject), fmt.Sprint(newCfg.Signature.Reject))
	add("enableJsonParsing", fmt.Sprint(old.EnableJSONParsing), fmt.Sprint(newCfg.EnableJSONParsing))
	add("offloadThresholdBytes", fmt.Sprint(old.OffloadThresholdBytes), fmt.Sprint(newCfg.OffloadThresholdBytes))
	add("backgroundTaskTimeoutMs", fmt.Sprint(old.BackgroundTaskTimeoutMs), fmt.Sprint(newCfg.BackgroundTaskTimeoutMs))
	add("logLevel", old.LogLevel, newCfg.LogLevel)

	return changes
}

// logChanges logs the differences between old and new configuration.
func (h *Holder) logChanges(old, newCfg Config) {
	for _, c := range Diff(old, newCfg) {
		h.logger.Info().
			Str("old", c.Old).
			Str("new", c.New).
			Msgf("config changed: %s", c.Field)
	}
}

// maskSecret hides a secret value while revealing whether it is set.
func maskSecret(v string) string {
	if v == "" {
		return ""
	}
	return "***set***"
}

// maskURL redacts a URL that may carry credentials or tokens.
func maskURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	return "***redacted***"
}

// digest summarizes a long inline value (script, schema) for change logs.
func digest(v string) string {
	if v == "" {
		return ""
	}
	return fmt.Sprintf("len=%d", len(v))
}
