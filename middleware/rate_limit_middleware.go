package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"h2rpc/message"
	"h2rpc/request"
)

// RateLimitMiddleware admits r calls per second with the given burst using a
// token bucket shared by every method.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *request.Request[[]byte]) *message.Reply {
			if !limiter.Allow() {
				return message.Fail(serviceMethod(req), "rate limit exceeded")
			}
			return next(ctx, req)
		}
	}
}
