package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// defaultIdleTTL is how long an idle client keeps its bucket
const defaultIdleTTL = 10 * time.Minute

// ClientLimiter hands out one token bucket per client IP.
// Every discovery request fans out into many node calls, so inbound requests
// are limited before they reach the shared node scheduler.
type ClientLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*clientBucket
	limit     rate.Limit
	burst     int
	idleTTL   time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewClientLimiter creates a limiter allowing ratePerSecond requests per client with the given burst
func NewClientLimiter(ratePerSecond float64, burst int) *ClientLimiter {
	if burst < 1 {
		burst = 1
	}
	return &ClientLimiter{
		buckets: make(map[string]*clientBucket),
		limit:   rate.Limit(ratePerSecond),
		burst:   burst,
		idleTTL: defaultIdleTTL,
		now:     time.Now,
	}
}

// Allow reports whether the client may issue a request now.
// Idle buckets are swept at most once per idle TTL, on the calling goroutine.
func (cl *ClientLimiter) Allow(client string) bool {
	cl.mu.Lock()
	now := cl.now()
	if now.Sub(cl.lastSweep) >= cl.idleTTL {
		cl.sweepLocked(now)
	}
	b, ok := cl.buckets[client]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(cl.limit, cl.burst)}
		cl.buckets[client] = b
	}
	b.lastSeen = now
	cl.mu.Unlock()

	return b.limiter.AllowN(now, 1)
}

func (cl *ClientLimiter) sweepLocked(now time.Time) {
	cutoff := now.Add(-cl.idleTTL)
	for client, b := range cl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(cl.buckets, client)
		}
	}
	cl.lastSweep = now
}

// Clients returns the number of tracked clients
func (cl *ClientLimiter) Clients() int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return len(cl.buckets)
}

// RateLimit returns a middleware answering 429 to clients over their request rate
func RateLimit(limiter *ClientLimiter, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)
			if !limiter.Allow(ip) {
				logger.Warn("client rate limit exceeded",
					zap.String("ip", ip),
					zap.String("path", r.URL.Path),
				)
				w.Header().Set("Retry-After", "1")
				WriteError(w, http.StatusTooManyRequests, "too many requests, please retry later")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP extracts the client address, preferring a well-formed
// X-Forwarded-For or X-Real-IP over the connection address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); net.ParseIP(ip) != nil {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" && net.ParseIP(xri) != nil {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
