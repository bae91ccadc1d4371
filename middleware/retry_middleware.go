package middleware

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"

	"h2rpc/message"
	"h2rpc/request"
)

type retryableReply struct {
	reply *message.Reply
}

func (r retryableReply) Error() string { return r.reply.Error }

// RetryMiddleware re-runs the handler when it fails with a transient error
// ("timeout", "unavailable", "connection refused"), backing off exponentially
// from baseDelay. Each attempt gets its own clone of the envelope because the
// handler consumes what it is given.
func RetryMiddleware(maxRetries uint, baseDelay time.Duration, logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *request.Request[[]byte]) *message.Reply {
			method := serviceMethod(req)
			reply, err := retry.DoWithData(
				func() (*message.Reply, error) {
					reply := next(ctx, req.Clone())
					if reply.Error != "" && isTransient(reply.Error) {
						return nil, retryableReply{reply: reply}
					}
					return reply, nil
				},
				retry.Attempts(maxRetries+1),
				retry.Delay(baseDelay),
				retry.DelayType(retry.BackOffDelay),
				retry.Context(ctx),
				retry.LastErrorOnly(true),
				retry.OnRetry(func(n uint, err error) {
					logger.Info("retrying handler",
						zap.String("method", method),
						zap.Uint("attempt", n+1),
						zap.Error(err))
				}),
			)
			if err != nil {
				var last retryableReply
				if errors.As(err, &last) {
					return last.reply
				}
				return message.Fail(method, err.Error())
			}
			return reply
		}
	}
}

func isTransient(msg string) bool {
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "timed out") ||
		strings.Contains(msg, "unavailable") ||
		strings.Contains(msg, "connection refused")
}
