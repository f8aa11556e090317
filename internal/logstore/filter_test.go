// SPDX-License-Identifier: MIT

package logstore

import (
	"strings"
	"testing"
)

func TestCursorRoundTrip(t *testing.T) {
	c := EncodeCursor(1700000000123, "evt-abc")
	ts, id, ok := decodeCursor(c)
	if !ok {
		t.Fatal("decode failed for valid cursor")
	}
	if ts != 1700000000123 || id != "evt-abc" {
		t.Fatalf("decoded (%d, %q)", ts, id)
	}

	for _, bad := range []string{"", "!!!", "bm9jb2xvbg", EncodeCursor(1, "")} {
		if _, _, ok := decodeCursor(bad); ok {
			t.Fatalf("cursor %q should not decode", bad)
		}
	}
}

func TestBuildWhereOperators(t *testing.T) {
	where, args := buildWhere(Filter{
		WebhookID:  "wh-1",
		StatusCode: &Condition{Gte: 400, Lt: 500},
	})
	if !strings.Contains(where, "webhook_id = ?") {
		t.Fatalf("missing equality: %s", where)
	}
	if !strings.Contains(where, "status_code >= ?") || !strings.Contains(where, "status_code < ?") {
		t.Fatalf("missing range operators: %s", where)
	}
	if len(args) != 3 {
		t.Fatalf("args = %v, want 3", args)
	}

	// An empty condition set matches everything.
	where, args = buildWhere(Filter{StatusCode: &Condition{}})
	if where != "" || args != nil {
		t.Fatalf("empty condition should emit nothing, got %q %v", where, args)
	}
}

func TestBuildWhereCIDRStaysOutOfSQL(t *testing.T) {
	where, args := buildWhere(Filter{RemoteIP: "10.0.0.0/8"})
	if strings.Contains(where, "remote_ip") {
		t.Fatalf("CIDR must not reach SQL: %s", where)
	}
	if len(args) != 0 {
		t.Fatalf("args = %v, want none", args)
	}

	where, _ = buildWhere(Filter{RemoteIP: "10.0.0.1"})
	if !strings.Contains(where, "remote_ip = ?") {
		t.Fatalf("exact IP should reach SQL: %s", where)
	}
}

func TestBuildJSONProbeShapes(t *testing.T) {
	conds, args := buildJSONProbe("body", "needle")
	if len(conds) != 1 || !strings.Contains(conds[0], "LIKE") {
		t.Fatalf("string probe wrong: %v", conds)
	}
	if args[0] != "%needle%" {
		t.Fatalf("pattern = %v", args[0])
	}

	conds, args = buildJSONProbe("headers", map[string]any{"X-Event": "push", "a": 1})
	if len(conds) != 2 {
		t.Fatalf("map probe conds = %v", conds)
	}
	// Deterministic order: sorted keys, header paths lowercased.
	if args[0] != "$.x-event" && args[0] != "$.a" {
		t.Fatalf("first path = %v", args[0])
	}
	for i := 0; i < len(args); i += 2 {
		if strings.HasPrefix(args[i].(string), "$.X") {
			t.Fatalf("header path not lowercased: %v", args[i])
		}
	}

	if conds, _ := buildJSONProbe("body", 42); conds != nil {
		t.Fatalf("unsupported probe type should be ignored, got %v", conds)
	}
}

func TestBuildOrderAllowList(t *testing.T) {
	if got := buildOrder(nil); got != " ORDER BY timestamp DESC, id DESC" {
		t.Fatalf("default order = %q", got)
	}
	got := buildOrder([]SortField{
		{Field: "statusCode", Desc: true},
		{Field: "nope; DELETE", Desc: false},
		{Field: "id"},
	})
	if got != " ORDER BY status_code DESC, id ASC" {
		t.Fatalf("order = %q", got)
	}
}
