package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestClientLimiter_Allow(t *testing.T) {
	limiter := NewClientLimiter(10, 10)

	for i := 0; i < 10; i++ {
		if !limiter.Allow("192.168.1.1") {
			t.Errorf("request %d should be allowed", i+1)
		}
	}
	if limiter.Allow("192.168.1.1") {
		t.Error("11th request should be denied")
	}
	if !limiter.Allow("192.168.1.2") {
		t.Error("different client should be allowed")
	}
	if limiter.Clients() != 2 {
		t.Errorf("expected 2 clients, got %d", limiter.Clients())
	}
}

func TestClientLimiter_SweepsIdleClients(t *testing.T) {
	limiter := NewClientLimiter(1, 1)
	now := time.Unix(1_700_000_000, 0)
	limiter.now = func() time.Time { return now }

	limiter.Allow("10.0.0.1")
	limiter.Allow("10.0.0.2")
	if limiter.Clients() != 2 {
		t.Fatalf("expected 2 clients, got %d", limiter.Clients())
	}

	now = now.Add(2 * defaultIdleTTL)
	limiter.Allow("10.0.0.3")

	if limiter.Clients() != 1 {
		t.Errorf("expected idle clients swept, got %d", limiter.Clients())
	}
}

func TestClientLimiter_Concurrent(t *testing.T) {
	limiter := NewClientLimiter(100, 100)
	now := time.Unix(1_700_000_000, 0)
	limiter.now = func() time.Time { return now }

	var wg sync.WaitGroup
	allowed := make(chan bool, 200)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed <- limiter.Allow("10.0.0.1")
		}()
	}
	wg.Wait()
	close(allowed)

	count := 0
	for a := range allowed {
		if a {
			count++
		}
	}
	if count != 100 {
		t.Errorf("expected 100 allowed requests, got %d", count)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	handler := RateLimit(NewClientLimiter(5, 5), zap.NewNop())(okHandler())

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.RemoteAddr = "192.168.1.100:12345"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("request %d: expected 200, got %d", i+1, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = "192.168.1.100:12345"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "1" {
		t.Error("expected Retry-After header")
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		xff    string
		xri    string
		remote string
		want   string
	}{
		{name: "forwarded for", xff: "203.0.113.195, 70.41.3.18", remote: "10.0.0.1:80", want: "203.0.113.195"},
		{name: "malformed forwarded for", xff: "not-an-ip", xri: "198.51.100.178", remote: "10.0.0.1:80", want: "198.51.100.178"},
		{name: "real ip", xri: "198.51.100.178", remote: "10.0.0.1:80", want: "198.51.100.178"},
		{name: "remote addr", remote: "10.0.0.1:80", want: "10.0.0.1"},
		{name: "remote without port", remote: "10.0.0.1", want: "10.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				req.Header.Set("X-Real-IP", tt.xri)
			}
			if got := ClientIP(req); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
