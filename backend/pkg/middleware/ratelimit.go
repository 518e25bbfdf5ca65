package middleware

import (
	"github.com/gin-gonic/gin"
	
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
	
)

// RateLimiter implements per-IP rate limiting
type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	rate     rate.Limit
	burst    int
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(requestsPerSecond),
		burst:    burst,
	}
}

// getLimiter returns the rate limiter for a given caller key (IP, API key, etc).
func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, exists := rl.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[key] = limiter
	}

	return limiter
}

// Consume attempts to take one token from the bucket belonging to key and
// reports whether the token was actually taken. Unlike a bare Allow() call
// at a gin layer, this is the primitive non-HTTP callers (C3's registry
// client, C7's submit path) use directly, so the "did it actually decrement"
// invariant is observable outside of a request context too.
func (rl *RateLimiter) Consume(key string) bool {
	return rl.getLimiter(key).Allow()
}

// Middleware returns a gin middleware for rate limiting
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	// Cleanup old limiters periodically
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()

		for range ticker.C {
			rl.mu.Lock()
			// Simple cleanup: remove all limiters
			// In production, you might want more sophisticated cleanup
			rl.limiters = make(map[string]*rate.Limiter)
			rl.mu.Unlock()
		}
	}()

	return func(c *gin.Context) {
		if !rl.Consume(c.ClientIP()) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
