package api

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter keeps a token-bucket limiter per caller.
type RateLimiter struct {
	mu                sync.Mutex
	limiters          map[string]*rate.Limiter
	requestsPerSecond int
	burstSize         int
}

// NewRateLimiter creates a limiter with service defaults.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		limiters:          make(map[string]*rate.Limiter),
		requestsPerSecond: 100,
		burstSize:         200,
	}
}

// Allow reports whether the caller may proceed.
func (rl *RateLimiter) Allow(caller string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Bound the map so unauthenticated churn cannot grow it forever.
	if len(rl.limiters) >= 10000 {
		rl.limiters = make(map[string]*rate.Limiter)
	}

	limiter, exists := rl.limiters[caller]
	if !exists {
		limiter = rate.NewLimiter(
			rate.Limit(rl.requestsPerSecond),
			rl.burstSize,
		)
		rl.limiters[caller] = limiter
	}

	return limiter.Allow()
}

// rateLimitMiddleware rejects callers over their per-identity budget.
// Runs after requireJWT so the key is the caller id.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := callerID(r.Context())
		if caller == "" {
			caller = r.RemoteAddr
		}
		if !s.limiter.Allow(caller) {
			s.metrics.RateLimitHits.WithLabelValues(caller).Inc()
			respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
