// SPDX-License-Identifier: MIT

package schema

import (
	"strings"
	"testing"
)

const eventSchema = `{
	"type": "object",
	"required": ["action"],
	"properties": {
		"action": {"type": "string"},
		"count":  {"type": "integer", "minimum": 1}
	}
}`

func TestCompileRejectsBadDocuments(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "not json", doc: `{"type":`},
		{name: "wrong type kind", doc: `{"type": 42}`},
		{name: "bad keyword value", doc: `{"type": "objekt"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Compile(tt.doc); err == nil {
				t.Fatalf("Compile(%q) should fail", tt.doc)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	v, err := Compile(eventSchema)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	tests := []struct {
		name    string
		value   any
		wantErr string
	}{
		{
			name:  "conforming",
			value: map[string]any{"action": "opened", "count": float64(3)},
		},
		{
			name:  "optional field absent",
			value: map[string]any{"action": "closed"},
		},
		{
			name:    "missing required",
			value:   map[string]any{"count": float64(1)},
			wantErr: "action",
		},
		{
			name:    "wrong type",
			value:   map[string]any{"action": float64(7)},
			wantErr: "string",
		},
		{
			name:    "below minimum",
			value:   map[string]any{"action": "opened", "count": float64(0)},
			wantErr: "1",
		},
		{
			name:    "not an object",
			value:   "just text",
			wantErr: "object",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.value)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("want validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}
