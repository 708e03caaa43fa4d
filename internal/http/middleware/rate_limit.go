package middleware

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/premisehq/visitor-gate/internal/http/response"
	"github.com/premisehq/visitor-gate/pkg/logger"
)

// RateLimitConfig defines rate limiting parameters
type RateLimitConfig struct {
	Requests int                          // Max requests per window
	Window   time.Duration                // Time window duration
	KeyFunc  func(r *http.Request) string // Function to generate the rate limit key
	SkipFunc func(r *http.Request) bool   // Function to skip rate limiting
}

// RateLimiter throttles kiosk code entry so codes cannot be brute
// forced from the floor. Fixed window counters in redis: INCR + EXPIRE.
type RateLimiter struct {
	client *redis.Client
	config RateLimitConfig
}

func NewRateLimiter(client *redis.Client, config RateLimitConfig) *RateLimiter {
	if config.KeyFunc == nil {
		config.KeyFunc = ClientIPKey
	}
	return &RateLimiter{client: client, config: config}
}

// ClientIPKey keys the limit on the caller's IP.
func ClientIPKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware returns the rate limiting middleware
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rl.config.SkipFunc != nil && rl.config.SkipFunc(r) {
				next.ServeHTTP(w, r)
				return
			}

			key := fmt.Sprintf("ratelimit:%s:%d", rl.config.KeyFunc(r), time.Now().Unix()/int64(rl.config.Window.Seconds()))

			count, err := rl.client.Incr(r.Context(), key).Result()
			if err != nil {
				// Redis being down must not take the kiosk with it.
				logger.ErrorContext(r.Context(), "Rate limit check failed", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if count == 1 {
				rl.client.Expire(r.Context(), key, rl.config.Window)
			}

			if count > int64(rl.config.Requests) {
				response.RateLimit(w, "Too many requests. Try again later.")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
