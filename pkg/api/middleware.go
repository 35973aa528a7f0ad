package api

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// CORSMiddleware handles CORS headers for browser-based dashboards
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Origin, Cache-Control")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// rateLimiter tracks request counts per client IP over a fixed window
type rateLimiter struct {
	counts map[string]*windowCount
	limit  int
	window time.Duration
	mu     sync.Mutex
}

type windowCount struct {
	count   int
	resetAt time.Time
}

func newRateLimiter(requestsPerMinute int) *rateLimiter {
	return &rateLimiter{
		counts: make(map[string]*windowCount),
		limit:  requestsPerMinute,
		window: time.Minute,
	}
}

// allow counts one request for ip and reports whether it fits the
// window. Stale entries are reaped inline, the map stays small.
func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for k, wc := range rl.counts {
		if now.After(wc.resetAt) {
			delete(rl.counts, k)
		}
	}

	wc, ok := rl.counts[ip]
	if !ok {
		rl.counts[ip] = &windowCount{count: 1, resetAt: now.Add(rl.window)}
		return true
	}
	if wc.count >= rl.limit {
		return false
	}
	wc.count++
	return true
}

// RateLimitMiddleware applies per-IP rate limiting
func RateLimitMiddleware(requestsPerMinute int) gin.HandlerFunc {
	limiter := newRateLimiter(requestsPerMinute)

	return func(c *gin.Context) {
		if !limiter.allow(c.ClientIP()) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   "Rate limit exceeded",
				"message": fmt.Sprintf("Maximum %d requests per minute", requestsPerMinute),
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// LoggingMiddleware logs one line per request
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		fmt.Printf("%d | %s | %s %s | %v\n",
			c.Writer.Status(),
			c.ClientIP(),
			c.Request.Method,
			c.Request.URL.Path,
			time.Since(start),
		)
	}
}

// ErrorResponse is a standard error response
type ErrorResponse struct {
	Error string `json:"error"`
}
