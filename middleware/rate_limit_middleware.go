package middleware

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimit rejects invocations beyond a token-bucket budget of r tokens per
// second with bursts up to burst. The limiter lives in the outer closure so
// every invocation draws from the same bucket.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *Call) error {
			if !limiter.Allow() {
				return ErrRateLimited
			}
			return next(ctx, call)
		}
	}
}
