package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"h2rpc/message"
	"h2rpc/request"
)

// Observer receives one latency sample per call. *metrics.Recorder implements it.
type Observer interface {
	Observe(method string, d time.Duration, failed bool) error
}

// MetricsMiddleware records the latency and outcome of every call. Samples the
// observer rejects are logged and dropped.
func MetricsMiddleware(obs Observer, logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *request.Request[[]byte]) *message.Reply {
			method := serviceMethod(req)
			start := time.Now()
			reply := next(ctx, req)
			if err := obs.Observe(method, time.Since(start), reply.Error != ""); err != nil {
				logger.Warn("metrics sample dropped", zap.String("method", method), zap.Error(err))
			}
			return reply
		}
	}
}
