package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// HTTPRateLimitConfig holds the global per-IP request budget. This is a
// coarse transport-level limit; the per-action registration and login limits
// are enforced separately by the rate limit service.
type HTTPRateLimitConfig struct {
	RequestsPerMinute int
}

// DefaultAPIRateLimit returns the default per-IP budget for API endpoints
func DefaultAPIRateLimit() HTTPRateLimitConfig {
	return HTTPRateLimitConfig{
		RequestsPerMinute: 60,
	}
}

// RateLimitByIP creates a middleware that rate limits requests by client IP
func RateLimitByIP(config HTTPRateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		1*time.Minute,
		httprate.WithKeyByRealIP(),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate_limit_exceeded","message":"Too many requests"}`))
		}),
	)
}
