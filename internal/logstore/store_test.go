// SPDX-License-Identifier: MIT

package logstore

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/capture"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Options{Path: filepath.Join(t.TempDir(), "logs.db")})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testEvent(id string, ts int64) capture.Event {
	return capture.Event{
		ID:             id,
		WebhookID:      "wh-test",
		Timestamp:      ts,
		Method:         "POST",
		RequestURL:     "/webhook/wh-test",
		Headers:        map[string]string{"content-type": "application/json", "x-github-event": "push"},
		Query:          map[string]string{"source": "ci"},
		ContentType:    "application/json",
		Size:           42,
		ProcessingTime: 3,
		StatusCode:     200,
		RemoteIP:       "203.0.113.7",
		UserAgent:      "curl/8.0",
		RequestID:      "req-1",
	}
}

func TestInsertAndGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	valid := true
	e := testEvent("evt-round", 1700000000000)
	e.Body = map[string]any{"action": "opened", "number": float64(7)}
	e.SignatureValid = &valid
	e.SignatureProvider = "github"

	if err := s.InsertLog(ctx, e); err != nil {
		t.Fatalf("InsertLog: %v", err)
	}

	got, err := s.GetLogByID(ctx, "evt-round")
	if err != nil {
		t.Fatalf("GetLogByID: %v", err)
	}
	if got == nil {
		t.Fatal("GetLogByID returned nil for existing row")
	}
	if diff := cmp.Diff(e, *got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}

	missing, err := s.GetLogByID(ctx, "evt-unknown")
	if err != nil {
		t.Fatalf("GetLogByID missing: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for missing row, got %+v", missing)
	}
}

func TestBodyStringFallback(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	e := testEvent("evt-text", 1700000000001)
	e.ContentType = "text/plain"
	e.Body = "plain text payload, not json"
	if err := s.InsertLog(ctx, e); err != nil {
		t.Fatalf("InsertLog: %v", err)
	}

	got, err := s.GetLogByID(ctx, "evt-text")
	if err != nil {
		t.Fatalf("GetLogByID: %v", err)
	}
	if body, ok := got.Body.(string); !ok || body != e.Body {
		t.Fatalf("Body = %#v, want raw string back", got.Body)
	}
	if got.SignatureValid != nil {
		t.Fatalf("SignatureValid = %v, want nil tri-state", *got.SignatureValid)
	}
}

func TestFindLogsFilters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := int64(1700000000000)
	events := []capture.Event{}
	for i := 0; i < 5; i++ {
		e := testEvent(fmt.Sprintf("evt-%02d", i), base+int64(i)*1000)
		e.StatusCode = 200 + i*100 // 200..600
		e.RemoteIP = fmt.Sprintf("10.0.0.%d", i+1)
		e.RequestURL = fmt.Sprintf("/webhook/wh-test?try=%d", i)
		events = append(events, e)
	}
	other := testEvent("evt-other", base+9000)
	other.WebhookID = "wh-other"
	other.RemoteIP = "203.0.113.9"
	other.ContentType = "Application/XML"
	events = append(events, other)
	if err := s.BatchInsertLogs(ctx, events); err != nil {
		t.Fatalf("BatchInsertLogs: %v", err)
	}

	t.Run("webhook equality and total", func(t *testing.T) {
		items, total, err := s.FindLogs(ctx, Filter{WebhookID: "wh-test", Limit: 2})
		if err != nil {
			t.Fatalf("FindLogs: %v", err)
		}
		if total != 5 {
			t.Fatalf("total = %d, want 5", total)
		}
		if len(items) != 2 {
			t.Fatalf("len(items) = %d, want 2", len(items))
		}
		// Default order is newest first.
		if items[0].ID != "evt-04" || items[1].ID != "evt-03" {
			t.Fatalf("unexpected order: %s, %s", items[0].ID, items[1].ID)
		}
	})

	t.Run("offset pages", func(t *testing.T) {
		items, _, err := s.FindLogs(ctx, Filter{WebhookID: "wh-test", Limit: 2, Offset: 4})
		if err != nil {
			t.Fatalf("FindLogs: %v", err)
		}
		if len(items) != 1 || items[0].ID != "evt-00" {
			t.Fatalf("offset page wrong: %+v", items)
		}
	})

	t.Run("status range", func(t *testing.T) {
		items, total, err := s.FindLogs(ctx, Filter{
			WebhookID:  "wh-test",
			StatusCode: &Condition{Gte: 400, Lt: 600},
			Limit:      10,
		})
		if err != nil {
			t.Fatalf("FindLogs: %v", err)
		}
		if total != 2 || len(items) != 2 {
			t.Fatalf("total = %d len = %d, want 2/2", total, len(items))
		}
	})

	t.Run("timestamp range", func(t *testing.T) {
		_, total, err := s.FindLogs(ctx, Filter{
			Timestamp: &Condition{Gt: base, Lte: base + 2000},
			Limit:     10,
		})
		if err != nil {
			t.Fatalf("FindLogs: %v", err)
		}
		if total != 2 {
			t.Fatalf("total = %d, want 2", total)
		}
	})

	t.Run("search over id and url", func(t *testing.T) {
		_, total, err := s.FindLogs(ctx, Filter{Search: "TRY=3", Limit: 10})
		if err != nil {
			t.Fatalf("FindLogs: %v", err)
		}
		if total != 1 {
			t.Fatalf("url search total = %d, want 1", total)
		}
		_, total, err = s.FindLogs(ctx, Filter{Search: "EVT-OTHER", Limit: 10})
		if err != nil {
			t.Fatalf("FindLogs: %v", err)
		}
		if total != 1 {
			t.Fatalf("id search total = %d, want 1", total)
		}
	})

	t.Run("content type substring", func(t *testing.T) {
		_, total, err := s.FindLogs(ctx, Filter{ContentType: "xml", Limit: 10})
		if err != nil {
			t.Fatalf("FindLogs: %v", err)
		}
		if total != 1 {
			t.Fatalf("total = %d, want 1", total)
		}
	})

	t.Run("remote ip exact", func(t *testing.T) {
		_, total, err := s.FindLogs(ctx, Filter{RemoteIP: "10.0.0.3", Limit: 10})
		if err != nil {
			t.Fatalf("FindLogs: %v", err)
		}
		if total != 1 {
			t.Fatalf("total = %d, want 1", total)
		}
	})

	t.Run("remote ip cidr refined in go", func(t *testing.T) {
		items, total, err := s.FindLogs(ctx, Filter{RemoteIP: "10.0.0.0/8", Limit: 3})
		if err != nil {
			t.Fatalf("FindLogs: %v", err)
		}
		if total != 5 {
			t.Fatalf("total = %d, want 5", total)
		}
		if len(items) != 3 {
			t.Fatalf("len(items) = %d, want 3", len(items))
		}
		for _, e := range items {
			if e.WebhookID != "wh-test" {
				t.Fatalf("CIDR page leaked foreign row: %+v", e)
			}
		}
	})

	t.Run("sort allow list", func(t *testing.T) {
		items, _, err := s.FindLogs(ctx, Filter{
			WebhookID: "wh-test",
			Sort:      []SortField{{Field: "statusCode", Desc: false}},
			Limit:     10,
		})
		if err != nil {
			t.Fatalf("FindLogs: %v", err)
		}
		if items[0].StatusCode != 200 {
			t.Fatalf("ascending sort not applied: first status %d", items[0].StatusCode)
		}

		// Unknown sort fields fall back to the default newest-first.
		items, _, err = s.FindLogs(ctx, Filter{
			WebhookID: "wh-test",
			Sort:      []SortField{{Field: "DROP TABLE logs", Desc: true}},
			Limit:     10,
		})
		if err != nil {
			t.Fatalf("FindLogs: %v", err)
		}
		if items[0].ID != "evt-04" {
			t.Fatalf("fallback sort wrong, first id %s", items[0].ID)
		}
	})
}

func TestFindLogsJSONProbes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := testEvent("evt-a", 1700000001000)
	a.Body = map[string]any{"action": "opened", "repo": map[string]any{"name": "infra"}}
	b := testEvent("evt-b", 1700000002000)
	b.Body = map[string]any{"action": "closed", "repo": map[string]any{"name": "app"}}
	c := testEvent("evt-c", 1700000003000)
	c.ContentType = "text/plain"
	c.Body = "opened the gates"
	if err := s.BatchInsertLogs(ctx, []capture.Event{a, b, c}); err != nil {
		t.Fatalf("BatchInsertLogs: %v", err)
	}

	t.Run("body substring form", func(t *testing.T) {
		_, total, err := s.FindLogs(ctx, Filter{Body: "OPENED", Limit: 10})
		if err != nil {
			t.Fatalf("FindLogs: %v", err)
		}
		// Matches the JSON document and the plain-text body.
		if total != 2 {
			t.Fatalf("total = %d, want 2", total)
		}
	})

	t.Run("body path probe", func(t *testing.T) {
		items, total, err := s.FindLogs(ctx, Filter{
			Body:  map[string]any{"repo.name": "infra"},
			Limit: 10,
		})
		if err != nil {
			t.Fatalf("FindLogs: %v", err)
		}
		if total != 1 || items[0].ID != "evt-a" {
			t.Fatalf("path probe got total=%d items=%+v", total, items)
		}
	})

	t.Run("headers probe lowercases the path", func(t *testing.T) {
		_, total, err := s.FindLogs(ctx, Filter{
			Headers: map[string]any{"X-GitHub-Event": "push"},
			Limit:   10,
		})
		if err != nil {
			t.Fatalf("FindLogs: %v", err)
		}
		if total != 3 {
			t.Fatalf("total = %d, want 3", total)
		}
	})
}

func TestFindLogsCursorPagination(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Two timestamp ties force the id tiebreaker.
	events := []capture.Event{
		testEvent("evt-a", 1700000001000),
		testEvent("evt-b", 1700000002000),
		testEvent("evt-c", 1700000002000),
		testEvent("evt-d", 1700000003000),
		testEvent("evt-e", 1700000003000),
	}
	if err := s.BatchInsertLogs(ctx, events); err != nil {
		t.Fatalf("BatchInsertLogs: %v", err)
	}

	var seen []string
	cursor := ""
	for page := 0; page < 10; page++ {
		res, err := s.FindLogsCursor(ctx, Filter{Limit: 2, Cursor: cursor})
		if err != nil {
			t.Fatalf("FindLogsCursor: %v", err)
		}
		for _, e := range res.Items {
			seen = append(seen, e.ID)
		}
		if res.NextCursor == "" {
			break
		}
		cursor = res.NextCursor
	}

	want := []string{"evt-e", "evt-d", "evt-c", "evt-b", "evt-a"}
	if diff := cmp.Diff(want, seen); diff != "" {
		t.Fatalf("cursor walk mismatch (-want +got):\n%s", diff)
	}

	// A malformed cursor falls back to the first page.
	res, err := s.FindLogsCursor(ctx, Filter{Limit: 2, Cursor: "not base64!"})
	if err != nil {
		t.Fatalf("FindLogsCursor: %v", err)
	}
	if len(res.Items) != 2 || res.Items[0].ID != "evt-e" {
		t.Fatalf("malformed cursor should start over, got %+v", res.Items)
	}
}

func TestGetLogFieldsProjection(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	e := testEvent("evt-proj", 1700000001000)
	e.Body = map[string]any{"hello": "world"}
	if err := s.InsertLog(ctx, e); err != nil {
		t.Fatalf("InsertLog: %v", err)
	}

	t.Run("subset", func(t *testing.T) {
		got, err := s.GetLogFields(ctx, "evt-proj", []string{"id", "webhookId", "statusCode", "body", "bogus"})
		if err != nil {
			t.Fatalf("GetLogFields: %v", err)
		}
		if got["id"] != "evt-proj" || got["webhookId"] != "wh-test" {
			t.Fatalf("identity fields wrong: %+v", got)
		}
		if got["statusCode"] != 200 {
			t.Fatalf("statusCode = %#v, want int 200", got["statusCode"])
		}
		body, ok := got["body"].(map[string]any)
		if !ok || body["hello"] != "world" {
			t.Fatalf("body = %#v, want parsed JSON", got["body"])
		}
		if _, present := got["bogus"]; present {
			t.Fatal("unknown field should be dropped")
		}
		if _, present := got["signatureValid"]; present {
			t.Fatal("unrequested field leaked into projection")
		}
	})

	t.Run("null tri-state omitted", func(t *testing.T) {
		got, err := s.GetLogFields(ctx, "evt-proj", []string{"signatureValid"})
		if err != nil {
			t.Fatalf("GetLogFields: %v", err)
		}
		if _, present := got["signatureValid"]; present {
			t.Fatal("NULL signature_valid must stay absent")
		}
	})

	t.Run("empty fields selects everything", func(t *testing.T) {
		got, err := s.GetLogFields(ctx, "evt-proj", nil)
		if err != nil {
			t.Fatalf("GetLogFields: %v", err)
		}
		if got["method"] != "POST" || got["requestUrl"] != "/webhook/wh-test" {
			t.Fatalf("full projection incomplete: %+v", got)
		}
	})

	t.Run("missing row", func(t *testing.T) {
		got, err := s.GetLogFields(ctx, "evt-nope", []string{"id"})
		if err != nil {
			t.Fatalf("GetLogFields: %v", err)
		}
		if got != nil {
			t.Fatalf("expected nil for missing row, got %+v", got)
		}
	})
}

func TestBatchInsertTransactional(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.BatchInsertLogs(ctx, nil); err != nil {
		t.Fatalf("empty batch must be a no-op, got %v", err)
	}

	// A duplicate id fails the batch; nothing may stick.
	events := []capture.Event{
		testEvent("evt-dup", 1700000001000),
		testEvent("evt-ok", 1700000002000),
		testEvent("evt-dup", 1700000003000),
	}
	if err := s.BatchInsertLogs(ctx, events); err == nil {
		t.Fatal("expected constraint error")
	}
	n, err := s.CountLogs(ctx)
	if err != nil {
		t.Fatalf("CountLogs: %v", err)
	}
	if n != 0 {
		t.Fatalf("rows after failed batch = %d, want 0", n)
	}
}

func TestDeleteLogsByWebhookID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	keep := testEvent("evt-keep", 1700000001000)
	keep.WebhookID = "wh-keep"
	if err := s.BatchInsertLogs(ctx, []capture.Event{
		testEvent("evt-1", 1700000001000),
		testEvent("evt-2", 1700000002000),
		keep,
	}); err != nil {
		t.Fatalf("BatchInsertLogs: %v", err)
	}

	n, err := s.DeleteLogsByWebhookID(ctx, "wh-test")
	if err != nil {
		t.Fatalf("DeleteLogsByWebhookID: %v", err)
	}
	if n != 2 {
		t.Fatalf("deleted = %d, want 2", n)
	}
	left, err := s.CountLogs(ctx)
	if err != nil {
		t.Fatalf("CountLogs: %v", err)
	}
	if left != 1 {
		t.Fatalf("rows left = %d, want 1", left)
	}
}

func TestFindOffloadedPayloads(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sync := testEvent("evt-sync", 1700000001000)
	sync.Body = capture.NewOffloadDescriptor("payload:evt-sync")
	stream := testEvent("evt-stream", 1700000002000)
	stream.Body = capture.OffloadDescriptor{Data: capture.OffloadMarkerStream, Key: "payload:evt-stream"}
	inline := testEvent("evt-inline", 1700000003000)
	inline.Body = map[string]any{"data": "regular", "key": "not-an-offload"}
	raw := testEvent("evt-raw", 1700000004000)
	raw.ContentType = "text/plain"
	raw.Body = "just some text"

	if err := s.BatchInsertLogs(ctx, []capture.Event{sync, stream, inline, raw}); err != nil {
		t.Fatalf("BatchInsertLogs: %v", err)
	}

	keys, err := s.FindOffloadedPayloads(ctx, "wh-test")
	if err != nil {
		t.Fatalf("FindOffloadedPayloads: %v", err)
	}
	want := []string{"payload:evt-sync", "payload:evt-stream"}
	if diff := cmp.Diff(want, keys); diff != "" {
		t.Fatalf("keys mismatch (-want +got):\n%s", diff)
	}
}

func TestOpenWithFixedMemory(t *testing.T) {
	s, err := Open(Options{
		Path:          filepath.Join(t.TempDir(), "logs.db"),
		FixedMemoryMB: 16,
	})
	if err != nil {
		t.Fatalf("Open with fixed memory: %v", err)
	}
	defer func() { _ = s.Close() }()

	if err := s.InsertLog(context.Background(), testEvent("evt-mem", 1700000001000)); err != nil {
		t.Fatalf("InsertLog: %v", err)
	}
}
