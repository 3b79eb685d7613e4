package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestIPRateLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	now := time.Unix(1_700_000_000, 0)
	rl := newIPRateLimiter(ctx, &rateLimiterConfig{enabled: true, requestsPerIP: 2, window: time.Minute})
	rl.now = func() time.Time { return now }

	if !rl.allow("1.1.1.1") || !rl.allow("1.1.1.1") {
		t.Fatal("first two requests should pass")
	}
	if rl.allow("1.1.1.1") {
		t.Error("third request within the window should be limited")
	}
	if !rl.allow("2.2.2.2") {
		t.Error("other IPs have their own bucket")
	}

	now = now.Add(30 * time.Second)
	if !rl.allow("1.1.1.1") {
		t.Error("a token should refill after window/requests")
	}
}

func TestIPRateLimiterDisabled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rl := newIPRateLimiter(ctx, &rateLimiterConfig{enabled: false, requestsPerIP: 1, window: time.Minute})
	for i := 0; i < 5; i++ {
		if !rl.allow("1.1.1.1") {
			t.Fatalf("request %d limited while disabled", i)
		}
	}
}

func TestIPRateLimiterCleanup(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	now := time.Unix(1_700_000_000, 0)
	rl := newIPRateLimiter(ctx, &rateLimiterConfig{enabled: true, requestsPerIP: 1, window: time.Minute})
	rl.now = func() time.Time { return now }
	rl.allow("1.1.1.1")

	now = now.Add(90 * time.Second)
	rl.allow("2.2.2.2")
	now = now.Add(40 * time.Second)
	rl.cleanup()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.visitors["1.1.1.1"]; ok {
		t.Error("stale visitor should be removed")
	}
	if _, ok := rl.visitors["2.2.2.2"]; !ok {
		t.Error("recent visitor should be kept")
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
		want       string
	}{
		{"remote with port", "10.0.0.1:5555", "", "10.0.0.1"},
		{"ipv6 remote", "[::1]:5555", "", "::1"},
		{"forwarded list", "10.0.0.1:5555", "203.0.113.7, 10.0.0.2", "203.0.113.7"},
		{"forwarded single", "10.0.0.1:5555", " 203.0.113.8 ", "203.0.113.8"},
		{"no port", "10.0.0.9", "", "10.0.0.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if got := clientIP(req); got != tt.want {
				t.Errorf("clientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
