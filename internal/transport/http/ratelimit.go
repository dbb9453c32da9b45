package http

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter manages token buckets per caller key
type RateLimiter struct {
	buckets         map[string]*rate.Limiter
	mu              sync.RWMutex
	rps             rate.Limit
	burst           int
	cleanupInterval time.Duration
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	rl := &RateLimiter{
		buckets:         make(map[string]*rate.Limiter),
		rps:             rate.Limit(rps),
		burst:           burst,
		cleanupInterval: 10 * time.Minute,
	}

	// Start background cleanup (simplified for now, avoiding goroutine leak in tests)
	go rl.cleanup()

	return rl
}

// GetLimiter returns a limiter for a caller key
func (rl *RateLimiter) GetLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, exists := rl.buckets[key]
	if !exists {
		limiter = rate.NewLimiter(rl.rps, rl.burst)
		rl.buckets[key] = limiter
	}

	return limiter
}

// cleanup removes old entries (simplified: just clear all every interval for now to prevent memory leak)
// In production, we'd track last access time per key
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.cleanupInterval)
	for range ticker.C {
		rl.mu.Lock()
		// Simple strategy: reset map to free memory from drive-by callers
		// Active callers will get a new limiter on next request
		rl.buckets = make(map[string]*rate.Limiter)
		rl.mu.Unlock()
	}
}

// RateLimitMiddleware creates a middleware for rate limiting
func RateLimitMiddleware(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limiter := rl.GetLimiter(callerKey(r))
			if !limiter.Allow() {
				respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// callerKey selects the rate-limit bucket for a request: the claimed
// principal when the service-key headers carry one, else the client IP.
// The claim is not verified here; AuthMiddleware does that later.
func callerKey(r *http.Request) string {
	if pid := r.Header.Get("X-Principal-ID"); pid != "" {
		return "principal:" + pid
	}
	return "ip:" + getClientIP(r)
}

// getClientIP extracts IP from request (handling proxies)
func getClientIP(r *http.Request) string {
	// Check X-Forwarded-For
	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded != "" {
		return forwarded
	}
	// Fallback to RemoteAddr
	return r.RemoteAddr
}
