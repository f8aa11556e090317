// SPDX-License-Identifier: MIT

package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type mockClock struct {
	now time.Time
}

func (m *mockClock) Now() time.Time { return m.now }

func newTestLimiter(t *testing.T, limit int, window time.Duration, maxEntries int, clk *mockClock) *Limiter {
	t.Helper()
	l, err := New(limit, window, maxEntries, WithClock(clk))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name       string
		limit      int
		window     time.Duration
		maxEntries int
	}{
		{name: "zero limit", limit: 0, window: time.Minute, maxEntries: 10},
		{name: "negative limit", limit: -1, window: time.Minute, maxEntries: 10},
		{name: "zero window", limit: 1, window: 0, maxEntries: 10},
		{name: "zero maxEntries", limit: 1, window: time.Minute, maxEntries: 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.limit, tc.window, tc.maxEntries); err == nil {
				t.Fatal("expected constructor error, got nil")
			}
		})
	}

	if _, err := New(1, time.Millisecond, 1); err != nil {
		t.Fatalf("minimal valid config rejected: %v", err)
	}
}

func TestCheckFixedWindow(t *testing.T) {
	clk := &mockClock{now: time.Now()}
	l := newTestLimiter(t, 3, time.Minute, 100, clk)

	for i := 0; i < 3; i++ {
		d := l.Check("wh-1", "1.2.3.4")
		if !d.Allowed {
			t.Fatalf("hit %d: expected allowed", i+1)
		}
		if want := 3 - (i + 1); d.Remaining != want {
			t.Fatalf("hit %d: Remaining = %d, want %d", i+1, d.Remaining, want)
		}
		clk.now = clk.now.Add(time.Second)
	}

	d := l.Check("wh-1", "1.2.3.4")
	if d.Allowed {
		t.Fatal("fourth hit should be blocked")
	}
	if d.Remaining != 0 {
		t.Fatalf("Remaining = %d, want 0", d.Remaining)
	}
	// Oldest hit is 3s old, so the window frees up in window-3s.
	if want := time.Minute - 3*time.Second; d.Reset != want {
		t.Fatalf("Reset = %s, want %s", d.Reset, want)
	}

	// Once the oldest hit leaves the window the key admits again.
	clk.now = clk.now.Add(58 * time.Second)
	if d := l.Check("wh-1", "1.2.3.4"); !d.Allowed {
		t.Fatalf("expected allowed after window expiry, got %+v", d)
	}
}

func TestCheckKeysAreIndependent(t *testing.T) {
	clk := &mockClock{now: time.Now()}
	l := newTestLimiter(t, 1, time.Minute, 100, clk)

	if d := l.Check("wh-1", "1.2.3.4"); !d.Allowed {
		t.Fatal("first key should be allowed")
	}
	if d := l.Check("wh-1", "1.2.3.4"); d.Allowed {
		t.Fatal("same key should now be blocked")
	}
	if d := l.Check("wh-1", "5.6.7.8"); !d.Allowed {
		t.Fatal("different IP should not share the window")
	}
	if d := l.Check("wh-2", "1.2.3.4"); !d.Allowed {
		t.Fatal("different webhook should not share the window")
	}
	// Unknown client IP is its own bucket, not a wildcard.
	if d := l.Check("wh-1", ""); !d.Allowed {
		t.Fatal("empty IP should be a distinct key")
	}
	if d := l.Check("wh-1", ""); d.Allowed {
		t.Fatal("empty IP key should be limited like any other")
	}
}

func TestCheckToleratesBackwardsClock(t *testing.T) {
	clk := &mockClock{now: time.Now()}
	l := newTestLimiter(t, 1, time.Minute, 100, clk)

	if d := l.Check("wh-1", "1.2.3.4"); !d.Allowed {
		t.Fatal("first hit should be allowed")
	}
	clk.now = clk.now.Add(-time.Hour)
	if d := l.Check("wh-1", "1.2.3.4"); !d.Allowed {
		t.Fatalf("backwards clock jump must not block, got %+v", d)
	}
}

func TestEvictionInsertionOrder(t *testing.T) {
	clk := &mockClock{now: time.Now()}
	l := newTestLimiter(t, 1, time.Minute, 2, clk)

	// Exhaust key A, then fill the map to the bound.
	l.Check("wh-a", "")
	l.Check("wh-b", "")
	if got := l.Size(); got != 2 {
		t.Fatalf("Size = %d, want 2", got)
	}

	// Inserting a third key evicts the first-inserted (wh-a).
	l.Check("wh-c", "")
	if got := l.Size(); got != 2 {
		t.Fatalf("Size after eviction = %d, want 2", got)
	}
	if d := l.Check("wh-a", ""); !d.Allowed {
		t.Fatalf("evicted key should start a fresh window, got %+v", d)
	}
	// wh-b was not evicted, so its window is still full.
	if d := l.Check("wh-b", ""); d.Allowed {
		t.Fatal("surviving key should still be limited")
	}
}

func TestSweepDropsIdleKeys(t *testing.T) {
	clk := &mockClock{now: time.Now()}
	l := newTestLimiter(t, 5, time.Minute, 100, clk)

	l.Check("wh-old", "1.1.1.1")
	l.Check("wh-old", "2.2.2.2")

	// Past the window, the next check sweeps the idle keys away.
	clk.now = clk.now.Add(2 * time.Minute)
	l.Check("wh-new", "3.3.3.3")
	if got := l.Size(); got != 1 {
		t.Fatalf("Size after sweep = %d, want 1", got)
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{
			name:       "x-forwarded-for single",
			remoteAddr: "10.0.0.1:1234",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.9"},
			want:       "203.0.113.9",
		},
		{
			name:       "x-forwarded-for chain takes first hop",
			remoteAddr: "10.0.0.1:1234",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.9, 70.41.3.18, 150.172.238.178"},
			want:       "203.0.113.9",
		},
		{
			name:       "x-real-ip fallback",
			remoteAddr: "10.0.0.1:1234",
			headers:    map[string]string{"X-Real-IP": "198.51.100.2"},
			want:       "198.51.100.2",
		},
		{
			name:       "remote addr with port",
			remoteAddr: "192.0.2.7:5678",
			want:       "192.0.2.7",
		},
		{
			name:       "remote addr without port",
			remoteAddr: "192.0.2.7",
			want:       "192.0.2.7",
		},
		{
			name:       "blank forwarded-for falls through",
			remoteAddr: "192.0.2.7:5678",
			headers:    map[string]string{"X-Forwarded-For": "  "},
			want:       "192.0.2.7",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/webhook/wh-1", nil)
			r.RemoteAddr = tc.remoteAddr
			for k, v := range tc.headers {
				r.Header.Set(k, v)
			}
			if got := GetClientIP(r); got != tc.want {
				t.Fatalf("GetClientIP = %q, want %q", got, tc.want)
			}
		})
	}
}
