package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"wirerpc/message"
)

// RateLimit rejects calls beyond the given sustained rate and burst with an
// application error of kind "rate_limited". Rejected calls are answered, not
// dropped, so the caller fails fast instead of timing out.
func RateLimit(r rate.Limit, burst int) Middleware {
	limiter := rate.NewLimiter(r, burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			if !limiter.Allow() {
				return errorResponse(req, message.StatusApplicationError, "rate_limited", "request rate limit exceeded")
			}
			return next(ctx, req)
		}
	}
}
