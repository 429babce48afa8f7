package utils

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter paces outgoing requests to the remote endpoint
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter allows one request per interval. A zero interval never blocks.
func NewRateLimiter(interval time.Duration) *RateLimiter {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &RateLimiter{limiter: rate.NewLimiter(limit, 1)}
}

// Wait blocks until the next request may go out or ctx is done
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}
