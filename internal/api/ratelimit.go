package api

import (
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"
	"golang.org/x/time/rate"
)

// RateLimiter is a process-wide token bucket in front of the send endpoint.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter allows r requests/second with bursts of up to burst requests.
func NewRateLimiter(r rate.Limit, burst int) *RateLimiter {
	return &RateLimiter{limiter: rate.NewLimiter(r, burst)}
}

// Limit is the middleware handler that enforces the rate limit.
func (rl *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.limiter.Allow() {
			response.WriteJSONError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}
