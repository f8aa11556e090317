// SPDX-License-Identifier: MIT
package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
)

func TestContextWithRequestID(t *testing.T) {
	tests := []struct {
		name      string
		ctx       context.Context
		requestID string
		want      string
	}{
		{
			name:      "nil context",
			ctx:       nil,
			requestID: "test-id-123",
			want:      "test-id-123",
		},
		{
			name:      "background context",
			ctx:       context.Background(),
			requestID: "req-456",
			want:      "req-456",
		},
		{
			name:      "empty request ID",
			ctx:       context.Background(),
			requestID: "",
			want:      "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := ContextWithRequestID(tt.ctx, tt.requestID)
			got := RequestIDFromContext(ctx)
			if got != tt.want {
				t.Errorf("RequestIDFromContext() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRequestIDFromContextMissing(t *testing.T) {
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Errorf("RequestIDFromContext() = %q, want empty", got)
	}
	if got := RequestIDFromContext(nil); got != "" {
		t.Errorf("RequestIDFromContext(nil) = %q, want empty", got)
	}
}

func TestWithComponentFromContext(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "req-789")
	ctx = ContextWithWebhookID(ctx, "wh-abc")

	logger := WithComponentFromContext(ctx, "ingest")

	var buf bytes.Buffer
	logger = logger.Output(&buf)
	logger.Info().Msg("test")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output: %v", err)
	}
	if entry[FieldComponent] != "ingest" {
		t.Errorf("component = %v, want ingest", entry[FieldComponent])
	}
	if entry[FieldRequestID] != "req-789" {
		t.Errorf("request_id = %v, want req-789", entry[FieldRequestID])
	}
	if entry[FieldWebhookID] != "wh-abc" {
		t.Errorf("webhook_id = %v, want wh-abc", entry[FieldWebhookID])
	}
}
