// SPDX-License-Identifier: MIT

package api

import (
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/config"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/logstore"
)

func parseQuery(t *testing.T, rawQuery string) logstore.Filter {
	t.Helper()
	r := httptest.NewRequest("GET", "/logs?"+rawQuery, nil)
	return parseLogFilter(r, config.Default())
}

func TestParseLogFilter(t *testing.T) {
	def := config.Default()

	tests := []struct {
		name  string
		query string
		want  logstore.Filter
	}{
		{
			name:  "defaults",
			query: "",
			want:  logstore.Filter{Limit: def.DefaultPageLimit},
		},
		{
			name:  "direct fields",
			query: "webhookId=wh-1&method=post&search=acme&remoteIp=10.0.0.0/8&contentType=json&requestId=rid",
			want: logstore.Filter{
				WebhookID:   "wh-1",
				Method:      "post",
				Search:      "acme",
				RemoteIP:    "10.0.0.0/8",
				ContentType: "json",
				RequestID:   "rid",
				Limit:       def.DefaultPageLimit,
			},
		},
		{
			name:  "status code range",
			query: "statusCode[gte]=400&statusCode[lt]=500",
			want: logstore.Filter{
				StatusCode: &logstore.Condition{Gte: int64(400), Lt: int64(500)},
				Limit:      def.DefaultPageLimit,
			},
		},
		{
			name:  "plain numeric equality",
			query: "statusCode=204",
			want: logstore.Filter{
				StatusCode: &logstore.Condition{Eq: int64(204)},
				Limit:      def.DefaultPageLimit,
			},
		},
		{
			name:  "unknown operator dropped",
			query: "statusCode[like]=4",
			want:  logstore.Filter{Limit: def.DefaultPageLimit},
		},
		{
			name:  "unparseable numeric dropped",
			query: "size[gt]=huge",
			want:  logstore.Filter{Limit: def.DefaultPageLimit},
		},
		{
			name:  "time window",
			query: "startTime=2026-08-25T10:00:00Z&endTime=2026-08-25T11:00:00Z",
			want: logstore.Filter{
				Timestamp: &logstore.Condition{
					Gte: mustMillis(t, "2026-08-25T10:00:00Z"),
					Lte: mustMillis(t, "2026-08-25T11:00:00Z"),
				},
				Limit: def.DefaultPageLimit,
			},
		},
		{
			name:  "timestamp accepts rfc3339",
			query: "timestamp[gte]=2026-08-25T10:00:00Z",
			want: logstore.Filter{
				Timestamp: &logstore.Condition{Gte: mustMillis(t, "2026-08-25T10:00:00Z")},
				Limit:     def.DefaultPageLimit,
			},
		},
		{
			name:  "body path probes",
			query: "body[total]=42&body[paid]=true&body[customer]=acme",
			want: logstore.Filter{
				Body:  map[string]any{"total": int64(42), "paid": true, "customer": "acme"},
				Limit: def.DefaultPageLimit,
			},
		},
		{
			name:  "bare body substring",
			query: "body=needle",
			want: logstore.Filter{
				Body:  "needle",
				Limit: def.DefaultPageLimit,
			},
		},
		{
			name:  "header probe",
			query: "headers[X-GitHub-Event]=push",
			want: logstore.Filter{
				Headers: map[string]any{"X-GitHub-Event": "push"},
				Limit:   def.DefaultPageLimit,
			},
		},
		{
			name:  "signature flag",
			query: "signatureValid=false",
			want: logstore.Filter{
				SignatureValid: boolPtr(false),
				Limit:          def.DefaultPageLimit,
			},
		},
		{
			name:  "sort directions",
			query: "sort=timestamp:asc,size:desc",
			want: logstore.Filter{
				Sort: []logstore.SortField{
					{Field: "timestamp"},
					{Field: "size", Desc: true},
				},
				Limit: def.DefaultPageLimit,
			},
		},
		{
			name:  "paging",
			query: "limit=20&offset=3&cursor=abc",
			want:  logstore.Filter{Limit: 20, Offset: 3, Cursor: "abc"},
		},
		{
			name:  "limit capped",
			query: "limit=99999",
			want:  logstore.Filter{Limit: def.MaxPageLimit},
		},
		{
			name:  "garbage paging ignored",
			query: "limit=-2&offset=no",
			want:  logstore.Filter{Limit: def.DefaultPageLimit},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseQuery(t, tt.query)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("filter mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func mustMillis(t *testing.T, value string) int64 {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("parse %q: %v", value, err)
	}
	return ts.UnixMilli()
}

func boolPtr(b bool) *bool { return &b }

func TestNextPageURL(t *testing.T) {
	u, err := url.Parse("/logs?webhookId=wh-1&limit=2&offset=2")
	if err != nil {
		t.Fatal(err)
	}

	got := nextPageURL(u, 2, 4, "")
	want := "/logs?limit=2&offset=4&webhookId=wh-1"
	if got != want {
		t.Errorf("offset next = %q, want %q", got, want)
	}

	got = nextPageURL(u, 2, 0, "c3Vy")
	want = "/logs?cursor=c3Vy&limit=2&webhookId=wh-1"
	if got != want {
		t.Errorf("cursor next = %q, want %q", got, want)
	}
}
